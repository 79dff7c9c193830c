package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Outcome is the terminal state of one transaction: a response payload or
// an error, never both.
type Outcome struct {
	Payload json.RawMessage
	Err     error
}

// TransactionTable tracks outbound requests awaiting a response. IDs are
// strictly increasing for the process lifetime. Each pending entry settles
// exactly once: the first Resolve/Reject removes it under the lock, so a
// second delivery finds nothing and reports ErrUnknownTransaction.
type TransactionTable struct {
	seq     atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan Outcome
}

func NewTransactionTable() *TransactionTable {
	return &TransactionTable{pending: make(map[uint64]chan Outcome)}
}

// Allocate returns a fresh transaction ID.
func (t *TransactionTable) Allocate() uint64 {
	return t.seq.Add(1)
}

// Register creates the pending entry for id and returns the channel its
// outcome will arrive on. The channel is buffered so settlement never
// blocks on a caller that is not receiving yet.
func (t *TransactionTable) Register(id uint64) <-chan Outcome {
	ch := make(chan Outcome, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	return ch
}

// Resolve settles id with a response payload.
func (t *TransactionTable) Resolve(id uint64, payload json.RawMessage) error {
	return t.settle(id, Outcome{Payload: payload})
}

// Reject settles id with a failure.
func (t *TransactionTable) Reject(id uint64, err error) error {
	return t.settle(id, Outcome{Err: err})
}

func (t *TransactionTable) settle(id uint64, out Outcome) error {
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: txn %d", ErrUnknownTransaction, id)
	}
	ch <- out
	return nil
}

// Abandon drops the pending entry for id without settling it. Used when a
// caller gives up on a transaction; a response arriving afterwards takes
// the unknown-transaction fault path.
func (t *TransactionTable) Abandon(id uint64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Len reports how many transactions are outstanding.
func (t *TransactionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
