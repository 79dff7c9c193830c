package membus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/transport"
	"github.com/danmuck/bridgectl/internal/wire"
)

const transportName = "membus"

const inboxDepth = 256

var (
	ErrUnknownMember   = errors.New("membus: unknown member")
	ErrAlreadyAttached = errors.New("membus: receiver already attached")
	ErrMemberGone      = errors.New("membus: member detached")
)

type delivery struct {
	from transport.Peer
	env  wire.Envelope
}

type member struct {
	peer  transport.Peer
	url   string
	inbox chan delivery
	done  chan struct{}
}

// Bus wires one hub and many panes inside a single process.
type Bus struct {
	log zerolog.Logger

	mu       sync.Mutex
	members  map[transport.Addr]*member
	order    map[string][]transport.Addr
	windows  []string
	nextPane uint64
}

func New(log zerolog.Logger) *Bus {
	b := &Bus{
		log:     log,
		members: make(map[transport.Addr]*member),
		order:   make(map[string][]transport.Addr),
	}
	b.members[transport.HubAddr] = &member{peer: transport.Peer{Addr: transport.HubAddr}}
	return b
}

// JoinPane makes a new pane addressable and enumerable. The pane cannot
// receive until Attach populates its inbox.
func (b *Bus) JoinPane(window string, private bool) transport.Peer {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPane++
	addr := transport.Addr(fmt.Sprintf("pane.%d", b.nextPane))
	peer := transport.Peer{Addr: addr, Window: window, Private: private}
	b.members[addr] = &member{peer: peer}
	b.addToWindowLocked(window, addr, len(b.order[window]))
	b.log.Info().Str("pane", string(addr)).Str("window", window).Bool("private", private).Msg("pane joined")
	observability.SetPaneCount(transportName, len(b.members)-1)
	return peer
}

// Attach populates addr's receive channel and starts draining it, in
// order, until Leave or ctx cancellation.
func (b *Bus) Attach(ctx context.Context, addr transport.Addr, recv transport.Receiver) error {
	b.mu.Lock()
	m, ok := b.members[addr]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMember, addr)
	}
	if m.inbox != nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyAttached, addr)
	}
	m.inbox = make(chan delivery, inboxDepth)
	m.done = make(chan struct{})
	b.mu.Unlock()

	go b.pump(ctx, m, recv)
	return nil
}

func (b *Bus) pump(ctx context.Context, m *member, recv transport.Receiver) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case d := <-m.inbox:
			observability.RecordEnvelope(transportName, "in")
			if err := recv(ctx, d.from, d.env); err != nil {
				b.log.Error().
					Err(err).
					Str("to", string(m.peer.Addr)).
					Str("from", string(d.from.Addr)).
					Str("type", d.env.Type).
					Msg("inbound envelope rejected")
			}
		}
	}
}

// Leave detaches and forgets addr. In-flight sends to it fail with
// ErrMemberGone.
func (b *Bus) Leave(addr transport.Addr) {
	b.mu.Lock()
	m, ok := b.members[addr]
	if ok {
		delete(b.members, addr)
		b.removeFromWindowLocked(m.peer.Window, addr)
		if m.done != nil {
			close(m.done)
		}
	}
	b.mu.Unlock()
	if ok {
		b.log.Info().Str("pane", string(addr)).Msg("pane left")
		observability.SetPaneCount(transportName, b.paneCount())
	}
}

// Table returns the sender table as seen by self: senders it hands out
// stamp self as the origin peer on every delivery.
func (b *Bus) Table(self transport.Addr) transport.SenderTable {
	return &table{bus: b, self: self}
}

// Windows enumerates panes grouped by window, in join order.
func (b *Bus) Windows(ctx context.Context) ([]transport.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]transport.Window, 0, len(b.windows))
	for _, id := range b.windows {
		addrs := b.order[id]
		if len(addrs) == 0 {
			continue
		}
		w := transport.Window{ID: id, Panes: make([]transport.Peer, 0, len(addrs))}
		for _, addr := range addrs {
			if m, ok := b.members[addr]; ok {
				w.Panes = append(w.Panes, m.peer)
			}
		}
		out = append(out, w)
	}
	return out, nil
}

// OpenPane inserts a fresh, not-yet-attached pane into the default window
// at index. The pane becomes receivable once something attaches to it.
func (b *Bus) OpenPane(ctx context.Context, url string, index int, active bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextPane++
	addr := transport.Addr(fmt.Sprintf("pane.%d", b.nextPane))
	window := "main"
	if len(b.windows) > 0 {
		window = b.windows[0]
	}
	peer := transport.Peer{Addr: addr, Window: window}
	b.members[addr] = &member{peer: peer, url: url}
	b.addToWindowLocked(window, addr, index)
	b.log.Info().Str("pane", string(addr)).Str("url", url).Int("index", index).Bool("active", active).Msg("pane opened")
	observability.SetPaneCount(transportName, len(b.members)-1)
	return nil
}

// PaneIndex reports addr's position among its window siblings.
func (b *Bus) PaneIndex(ctx context.Context, addr transport.Addr) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.members[addr]
	if !ok {
		return 0, false
	}
	for i, sibling := range b.order[m.peer.Window] {
		if sibling == addr {
			return i, true
		}
	}
	return 0, false
}

// Peers lists every member except the hub, window by window. Admin surface.
func (b *Bus) Peers() []transport.Peer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]transport.Peer, 0, len(b.members))
	for _, id := range b.windows {
		for _, addr := range b.order[id] {
			if m, ok := b.members[addr]; ok {
				out = append(out, m.peer)
			}
		}
	}
	return out
}

func (b *Bus) paneCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.members) - 1
}

func (b *Bus) addToWindowLocked(window string, addr transport.Addr, index int) {
	if _, ok := b.order[window]; !ok {
		b.windows = append(b.windows, window)
	}
	siblings := b.order[window]
	if index < 0 {
		index = 0
	}
	if index > len(siblings) {
		index = len(siblings)
	}
	siblings = append(siblings, "")
	copy(siblings[index+1:], siblings[index:])
	siblings[index] = addr
	b.order[window] = siblings
}

func (b *Bus) removeFromWindowLocked(window string, addr transport.Addr) {
	siblings := b.order[window]
	for i, sibling := range siblings {
		if sibling == addr {
			b.order[window] = append(siblings[:i], siblings[i+1:]...)
			return
		}
	}
}

type table struct {
	bus  *Bus
	self transport.Addr
}

func (t *table) SenderFor(addr transport.Addr) (transport.Sender, bool) {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	from, ok := t.bus.members[t.self]
	if !ok {
		return nil, false
	}
	to, ok := t.bus.members[addr]
	if !ok || to.inbox == nil {
		return nil, false
	}
	return &sender{from: from.peer, to: to}, true
}

type sender struct {
	from transport.Peer
	to   *member
}

// Send enqueues one envelope for ordered delivery. Fire-and-forget: it
// returns once the envelope is queued, blocking only when the inbox is
// full.
func (s *sender) Send(ctx context.Context, env wire.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	select {
	case <-s.to.done:
		return fmt.Errorf("%w: %s", ErrMemberGone, s.to.peer.Addr)
	default:
	}
	select {
	case s.to.inbox <- delivery{from: s.from, env: env}:
		observability.RecordEnvelope(transportName, "out")
		return nil
	case <-s.to.done:
		return fmt.Errorf("%w: %s", ErrMemberGone, s.to.peer.Addr)
	case <-ctx.Done():
		return ctx.Err()
	}
}
