// Package broadcast serves pane.broadcast, relaying one payload to every
// reachable sibling pane and gathering their replies.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/bridgectl/internal/bridge"
	"github.com/danmuck/bridgectl/internal/transport"
)

const (
	// MsgType is the broadcast request type panes send.
	MsgType = "pane.broadcast"
	// DeliverMsgType is the relayed type each recipient pane receives.
	DeliverMsgType = "pane.deliver"
)

var ErrInvalidConfig = errors.New("broadcast: invalid config")

// Caller issues one correlated request and blocks for its reply. The
// engine satisfies this.
type Caller interface {
	Call(ctx context.Context, to transport.Addr, msgType string, payload any) (json.RawMessage, error)
}

// Config wires one broadcast handler.
type Config struct {
	Caller    Caller
	Directory transport.Directory
	Senders   transport.SenderTable
	Logger    zerolog.Logger
}

// Handler fans a payload out to sibling panes. Recipients are every pane
// in every window except the sender, panes whose privacy mode differs
// from the sender's, and panes with no usable channel yet.
type Handler struct {
	caller  Caller
	dir     transport.Directory
	senders transport.SenderTable
	log     zerolog.Logger
}

func New(cfg Config) (*Handler, error) {
	if cfg.Caller == nil {
		return nil, fmt.Errorf("%w: nil caller", ErrInvalidConfig)
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("%w: nil directory", ErrInvalidConfig)
	}
	if cfg.Senders == nil {
		return nil, fmt.Errorf("%w: nil sender table", ErrInvalidConfig)
	}
	return &Handler{
		caller:  cfg.Caller,
		dir:     cfg.Directory,
		senders: cfg.Senders,
		log:     cfg.Logger,
	}, nil
}

func (h *Handler) Register(reg *bridge.HandlerRegistry) error {
	return reg.Register(MsgType, h.Handle)
}

// Handle relays the payload concurrently and returns per-pane replies in
// directory enumeration order. The first relay failure cancels the rest
// and becomes the handler's error.
func (h *Handler) Handle(ctx context.Context, req bridge.Request) (any, error) {
	windows, err := h.dir.Windows(ctx)
	if err != nil {
		return nil, fmt.Errorf("broadcast: enumerate windows: %w", err)
	}

	var targets []transport.Peer
	for _, w := range windows {
		for _, p := range w.Panes {
			if p.Addr == req.From.Addr {
				continue
			}
			if p.Private != req.From.Private {
				continue
			}
			if _, ok := h.senders.SenderFor(p.Addr); !ok {
				continue
			}
			targets = append(targets, p)
		}
	}
	h.log.Debug().
		Str("from", string(req.From.Addr)).
		Int("recipients", len(targets)).
		Msg("broadcast fan-out")

	results := make([]json.RawMessage, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range targets {
		g.Go(func() error {
			res, err := h.caller.Call(gctx, p.Addr, DeliverMsgType, req.Payload)
			if err != nil {
				return fmt.Errorf("broadcast: pane %s: %w", p.Addr, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
