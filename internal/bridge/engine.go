package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/transport"
	"github.com/danmuck/bridgectl/internal/wire"
)

// FaultHook observes a handler failure after the error response was
// attempted. The error is the handler's own, unwrapped.
type FaultHook func(from transport.Peer, msgType string, err error)

// EngineConfig configures one engine instance.
type EngineConfig struct {
	Handlers        *HandlerRegistry
	Transactions    *TransactionTable
	ResolveInterval time.Duration
	Logger          zerolog.Logger
	OnFault         FaultHook
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ResolveInterval: DefaultResolveInterval,
	}
}

// Engine correlates requests with responses over a fire-and-forget envelope
// channel. One instance owns its handler registry and transaction table for
// the life of the process.
type Engine struct {
	handlers *HandlerRegistry
	txns     *TransactionTable
	resolver *SenderResolver
	log      zerolog.Logger
	onFault  FaultHook
}

func NewEngine(senders transport.SenderTable, cfg EngineConfig) *Engine {
	if cfg.Handlers == nil {
		cfg.Handlers = NewHandlerRegistry()
	}
	if cfg.Transactions == nil {
		cfg.Transactions = NewTransactionTable()
	}
	return &Engine{
		handlers: cfg.Handlers,
		txns:     cfg.Transactions,
		resolver: NewSenderResolver(senders, cfg.ResolveInterval),
		log:      cfg.Logger,
		onFault:  cfg.OnFault,
	}
}

// Handlers exposes the registry for startup-time registration.
func (e *Engine) Handlers() *HandlerRegistry {
	return e.handlers
}

// Outstanding reports how many calls are awaiting a response.
func (e *Engine) Outstanding() int {
	return e.txns.Len()
}

// Call sends a request to the pane at addr and blocks until its response
// settles the transaction. No timeout is imposed here; callers needing
// bounded latency bound ctx. Cancelling ctx abandons the transaction, so a
// late response is reported as an unknown transaction when it arrives.
func (e *Engine) Call(ctx context.Context, to transport.Addr, msgType string, payload any) (json.RawMessage, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	id := e.txns.Allocate()
	env := wire.Envelope{Type: msgType, TxnID: id, Payload: body}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	sender, err := e.resolver.AcquireSender(ctx, to)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	done := e.txns.Register(id)
	observability.SetPendingTransactions(e.txns.Len())
	if err := sender.Send(ctx, env); err != nil {
		e.txns.Abandon(id)
		observability.SetPendingTransactions(e.txns.Len())
		return nil, err
	}
	e.log.Debug().Str("type", msgType).Uint64("txn_id", id).Str("to", string(to)).Msg("request sent")

	select {
	case out := <-done:
		observability.SetPendingTransactions(e.txns.Len())
		observability.ObserveCall(msgType, out.Err == nil, time.Since(start))
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Payload, nil
	case <-ctx.Done():
		e.txns.Abandon(id)
		observability.SetPendingTransactions(e.txns.Len())
		observability.ObserveCall(msgType, false, time.Since(start))
		return nil, ctx.Err()
	}
}

// Notify sends a request without registering a pending transaction. The
// envelope still carries a fresh ID so the receiver can reply, but any
// reply takes the unknown-transaction path. Used for one-way relays.
func (e *Engine) Notify(ctx context.Context, to transport.Addr, msgType string, payload any) error {
	body, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	env := wire.Envelope{Type: msgType, TxnID: e.txns.Allocate(), Payload: body}
	if err := env.Validate(); err != nil {
		return err
	}
	sender, err := e.resolver.AcquireSender(ctx, to)
	if err != nil {
		return err
	}
	return sender.Send(ctx, env)
}

// HandleEnvelope is the inbound entrypoint every transport pump feeds.
// Responses settle their pending transaction; requests are dispatched to
// their handler on a fresh goroutine. The returned error is one of the
// protocol-violation sentinels and must be surfaced by the pump, not
// swallowed.
func (e *Engine) HandleEnvelope(ctx context.Context, from transport.Peer, env wire.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if env.IsResponse {
		observability.RecordInbound(env.Type, "response")
		return e.settle(env)
	}

	observability.RecordInbound(env.Type, "request")
	h, ok := e.handlers.Lookup(env.Type)
	if !ok {
		observability.RecordFault("unrecognized_type")
		return fmt.Errorf("%w: %s", ErrUnrecognizedType, env.Type)
	}
	go e.invoke(ctx, h, from, env)
	return nil
}

func (e *Engine) settle(env wire.Envelope) error {
	var err error
	if env.Error != "" {
		err = e.txns.Reject(env.TxnID, fmt.Errorf("%w: %s: %s", ErrRemote, env.Type, env.Error))
	} else {
		err = e.txns.Resolve(env.TxnID, env.Payload)
	}
	if err != nil {
		observability.RecordFault("unknown_transaction")
		return err
	}
	observability.SetPendingTransactions(e.txns.Len())
	return nil
}

func (e *Engine) invoke(ctx context.Context, h Handler, from transport.Peer, env wire.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			// Reply before reporting so the remote caller is not left
			// hanging on a panicking handler.
			e.respond(ctx, from, env.ErrorResponse(fmt.Sprintf("panic: %v", r)))
			e.fault(from, env.Type, fmt.Errorf("handler panic: %v", r))
		}
	}()

	result, err := h(ctx, Request{Type: env.Type, Payload: env.Payload, From: from})
	if err != nil {
		e.respond(ctx, from, env.ErrorResponse(err.Error()))
		e.fault(from, env.Type, err)
		return
	}
	body, err := marshalPayload(result)
	if err != nil {
		e.respond(ctx, from, env.ErrorResponse(err.Error()))
		e.fault(from, env.Type, err)
		return
	}
	e.respond(ctx, from, env.Response(body))
}

// respond delivers one reply envelope, acquiring the sender through the
// resolver because the pane's channel may not be populated yet.
func (e *Engine) respond(ctx context.Context, to transport.Peer, env wire.Envelope) {
	sender, err := e.resolver.AcquireSender(ctx, to.Addr)
	if err != nil {
		e.log.Error().Err(err).
			Str("type", env.Type).
			Uint64("txn_id", env.TxnID).
			Str("to", string(to.Addr)).
			Msg("reply sender unavailable")
		return
	}
	if err := sender.Send(ctx, env); err != nil {
		e.log.Error().Err(err).
			Str("type", env.Type).
			Uint64("txn_id", env.TxnID).
			Str("to", string(to.Addr)).
			Msg("reply send failed")
		return
	}
	observability.RecordResponse(env.Type, env.Error == "")
}

// fault keeps a handler failure locally observable after the remote caller
// was answered: error log, fault counter, then the configured hook.
func (e *Engine) fault(from transport.Peer, msgType string, err error) {
	e.log.Error().Err(err).
		Str("type", msgType).
		Str("from", string(from.Addr)).
		Msg("handler fault")
	observability.RecordFault("handler")
	if e.onFault != nil {
		e.onFault(from, msgType, err)
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(v)
	}
}
