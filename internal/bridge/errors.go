package bridge

import "errors"

var (
	// ErrDuplicateHandler means a message type was registered twice. This is
	// a startup-time contract violation; initialization should abort.
	ErrDuplicateHandler = errors.New("bridge: handler type already registered")

	// ErrInvalidHandler covers nil handlers and empty type names.
	ErrInvalidHandler = errors.New("bridge: invalid handler registration")

	// ErrUnrecognizedType means a request arrived for a type no handler
	// serves. Protocol violation by the peer; surfaced, never swallowed.
	ErrUnrecognizedType = errors.New("bridge: no handler for message type")

	// ErrUnknownTransaction means a response arrived for a transaction that
	// is not pending: never sent, already settled, or abandoned. Protocol
	// violation; surfaced, never swallowed.
	ErrUnknownTransaction = errors.New("bridge: no pending transaction for response")

	// ErrRemote wraps the error text a peer attached to a failed response.
	ErrRemote = errors.New("bridge: remote handler failed")

	// ErrSenderUnavailable reports a sender probe miss inside the resolver
	// poll loop. Callers of AcquireSender only see it once polling stops.
	ErrSenderUnavailable = errors.New("bridge: sender not ready")
)
