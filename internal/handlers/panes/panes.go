// Package panes serves pane.open and pane.private, the two handlers that
// reach back into the hosting window manager.
package panes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/bridge"
	"github.com/danmuck/bridgectl/internal/transport"
)

const (
	// MsgType is the batch-open request type panes send.
	MsgType = "pane.open"
	// PrivateMsgType is the privacy query type.
	PrivateMsgType = "pane.private"

	// fallbackOrdinal places a batch after any plausible sibling index
	// when the sender cannot be located among its siblings.
	fallbackOrdinal = 1 << 20
)

var ErrInvalidRequest = errors.New("panes: invalid request")

// OpenRequest asks the host to open an ordered batch of panes next to
// the sender. Exactly the url at FocusIndex opens foreground.
type OpenRequest struct {
	URLs       []string `json:"urls"`
	FocusIndex int      `json:"focusIndex"`
}

// Config wires the pane handlers.
type Config struct {
	Host   transport.Host
	Logger zerolog.Logger
}

type Handler struct {
	host transport.Host
	log  zerolog.Logger
}

func New(cfg Config) (*Handler, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("%w: nil host", ErrInvalidRequest)
	}
	return &Handler{host: cfg.Host, log: cfg.Logger}, nil
}

// Register binds both handler types.
func (h *Handler) Register(reg *bridge.HandlerRegistry) error {
	if err := reg.Register(MsgType, h.HandleOpen); err != nil {
		return err
	}
	return reg.Register(PrivateMsgType, h.HandlePrivate)
}

// HandleOpen opens the batch starting one slot after the sender's index
// among its siblings. An unlocatable sender appends the batch at the end
// rather than failing.
func (h *Handler) HandleOpen(ctx context.Context, req bridge.Request) (any, error) {
	var or OpenRequest
	if err := json.Unmarshal(req.Payload, &or); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(or.URLs) == 0 {
		return nil, fmt.Errorf("%w: empty url batch", ErrInvalidRequest)
	}
	for _, u := range or.URLs {
		if strings.TrimSpace(u) == "" {
			return nil, fmt.Errorf("%w: blank url in batch", ErrInvalidRequest)
		}
	}
	if or.FocusIndex < 0 || or.FocusIndex >= len(or.URLs) {
		return nil, fmt.Errorf("%w: focusIndex %d outside batch of %d", ErrInvalidRequest, or.FocusIndex, len(or.URLs))
	}

	base := fallbackOrdinal
	if idx, ok := h.host.PaneIndex(ctx, req.From.Addr); ok {
		base = idx + 1
	} else {
		h.log.Debug().Str("from", string(req.From.Addr)).Msg("sender index unknown, appending batch")
	}

	for i, url := range or.URLs {
		if err := h.host.OpenPane(ctx, url, base+i, i == or.FocusIndex); err != nil {
			return nil, fmt.Errorf("panes: open %q: %w", url, err)
		}
	}
	return nil, nil
}

// HandlePrivate answers whether the sender's context is a private one.
func (h *Handler) HandlePrivate(ctx context.Context, req bridge.Request) (any, error) {
	return req.From.Private, nil
}
