// Package storage serves pane.storage, proxying panes onto the hub's
// key-value namespace.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/bridge"
)

// MsgType is the storage proxy request type panes send.
const MsgType = "pane.storage"

var (
	ErrInvalidRequest   = errors.New("storage: invalid request")
	ErrUnknownOperation = errors.New("storage: unknown operation")
	// ErrStoreFault wraps a persistence failure behind a storage operation.
	ErrStoreFault = errors.New("storage: store fault")
)

// Store is the namespace the proxy operates on. Get reports presence
// explicitly so an absent key and an empty value stay distinguishable.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
	Keys() []string
}

// Config wires one storage proxy handler.
type Config struct {
	Store  Store
	Logger zerolog.Logger
}

// Handler serves pane.storage requests. The contract is a positional
// array [operation, key, value?]; keys is the only key-less operation.
type Handler struct {
	store Store
	log   zerolog.Logger
}

func New(cfg Config) (*Handler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidRequest)
	}
	return &Handler{store: cfg.Store, log: cfg.Logger}, nil
}

func (h *Handler) Register(reg *bridge.HandlerRegistry) error {
	return reg.Register(MsgType, h.Handle)
}

// Handle services one storage operation.
//
// get returns the stored string decoded as structured data; a value that
// does not decode is reported as null with a warning, never as an error.
// set stores the value's serialized text. getRaw and setRaw move the
// stored string verbatim.
func (h *Handler) Handle(ctx context.Context, req bridge.Request) (any, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty operation array", ErrInvalidRequest)
	}
	var op string
	if err := json.Unmarshal(args[0], &op); err != nil {
		return nil, fmt.Errorf("%w: operation must be a string", ErrInvalidRequest)
	}

	if op == "keys" {
		return h.store.Keys(), nil
	}

	if len(args) < 2 {
		return nil, fmt.Errorf("%w: %s needs a key", ErrInvalidRequest, op)
	}
	var key string
	if err := json.Unmarshal(args[1], &key); err != nil {
		return nil, fmt.Errorf("%w: key must be a string", ErrInvalidRequest)
	}

	switch op {
	case "get":
		return h.get(key), nil
	case "getRaw":
		raw, ok := h.store.Get(key)
		if !ok {
			return json.RawMessage("null"), nil
		}
		return raw, nil
	case "has":
		_, ok := h.store.Get(key)
		return ok, nil
	case "remove":
		if err := h.store.Delete(key); err != nil {
			return nil, fmt.Errorf("%w: remove %q: %v", ErrStoreFault, key, err)
		}
		return nil, nil
	case "set":
		if len(args) < 3 {
			return nil, fmt.Errorf("%w: set needs a value", ErrInvalidRequest)
		}
		return nil, h.set(key, args[2])
	case "setRaw":
		if len(args) < 3 {
			return nil, fmt.Errorf("%w: setRaw needs a value", ErrInvalidRequest)
		}
		var value string
		if err := json.Unmarshal(args[2], &value); err != nil {
			return nil, fmt.Errorf("%w: setRaw value must be a string", ErrInvalidRequest)
		}
		if err := h.store.Set(key, value); err != nil {
			return nil, fmt.Errorf("%w: setRaw %q: %v", ErrStoreFault, key, err)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
}

func (h *Handler) get(key string) any {
	raw, ok := h.store.Get(key)
	if !ok {
		return json.RawMessage("null")
	}
	if !json.Valid([]byte(raw)) {
		h.log.Warn().Str("key", key).Msg("stored value does not decode, returning null")
		return json.RawMessage("null")
	}
	return json.RawMessage(raw)
}

// set stores the value's compact serialized text so get can decode it back.
func (h *Handler) set(key string, value json.RawMessage) error {
	var compact bytes.Buffer
	if err := json.Compact(&compact, value); err != nil {
		return fmt.Errorf("%w: set value does not serialize: %v", ErrInvalidRequest, err)
	}
	if err := h.store.Set(key, compact.String()); err != nil {
		return fmt.Errorf("%w: set %q: %v", ErrStoreFault, key, err)
	}
	return nil
}
