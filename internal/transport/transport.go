package transport

import (
	"context"

	"github.com/danmuck/bridgectl/internal/wire"
)

// Addr identifies one pane for the lifetime of its session. Opaque to the
// core; assigned by the hub at hello time.
type Addr string

// HubAddr is the privileged endpoint's well-known address. Panes reply to
// it; it never appears in window enumeration.
const HubAddr Addr = "hub"

// Receiver consumes one inbound envelope. Transports call it serially per
// origin, in send order; a non-nil error marks a protocol violation the
// transport logs and counts without dropping the session.
type Receiver func(ctx context.Context, from Peer, env wire.Envelope) error

// Peer describes the remote end an envelope came from or goes to.
type Peer struct {
	Addr    Addr
	Window  string
	Private bool
}

// Sender delivers envelopes to one pane, fire-and-forget, preserving the
// order of Send calls. A Sender never correlates replies; that is the
// bridge engine's job.
type Sender interface {
	Send(ctx context.Context, env wire.Envelope) error
}

// SenderTable resolves a pane address to its live sender. The second result
// is false while the pane's channel has not been populated yet; callers that
// must deliver poll through bridge.SenderResolver rather than failing.
type SenderTable interface {
	SenderFor(addr Addr) (Sender, bool)
}

// Window is one group of panes, in stable host order.
type Window struct {
	ID    string
	Panes []Peer
}

// Directory enumerates every window the host currently tracks.
type Directory interface {
	Windows(ctx context.Context) ([]Window, error)
}

// Host opens panes. Index is the absolute position to insert at; active
// marks the one foreground pane of a batch. PaneIndex reports a pane's
// position among its window siblings, false when the pane is unknown.
type Host interface {
	OpenPane(ctx context.Context, url string, index int, active bool) error
	PaneIndex(ctx context.Context, addr Addr) (int, bool)
}
