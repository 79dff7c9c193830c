package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/bridgectl/internal/transport"
)

// Request is what a handler receives: the raw payload and the peer that
// sent it.
type Request struct {
	Type    string
	Payload json.RawMessage
	From    transport.Peer
}

// Handler services one message type. The returned value is marshalled into
// the response payload; a returned error becomes an error response. A
// handler that completes asynchronously simply blocks, the engine runs each
// invocation on its own goroutine.
type Handler func(ctx context.Context, req Request) (any, error)

// HandlerRegistry maps message-type names to exactly one handler each.
// Populated at startup; lookups dominate afterwards.
type HandlerRegistry struct {
	mu    sync.RWMutex
	items map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{items: make(map[string]Handler)}
}

// Register binds msgType to h. Binding a type twice is a programming
// error; the first registration stays active.
func (r *HandlerRegistry) Register(msgType string, h Handler) error {
	msgType = strings.TrimSpace(msgType)
	if msgType == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidHandler)
	}
	if h == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrInvalidHandler, msgType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[msgType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, msgType)
	}
	r.items[msgType] = h
	return nil
}

// Lookup returns the handler bound to msgType.
func (r *HandlerRegistry) Lookup(msgType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.items[msgType]
	return h, ok
}

// Types returns the registered type names in deterministic order.
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]string, 0, len(r.items))
	for t := range r.items {
		list = append(list, t)
	}
	sort.Strings(list)
	return list
}
