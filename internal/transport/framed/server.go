package framed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/auth"
	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/ratelimit"
	"github.com/danmuck/bridgectl/internal/transport"
	"github.com/danmuck/bridgectl/internal/wire"
)

const transportName = "framed"

// DefaultHelloTimeout bounds how long an accepted connection may sit
// silent before sending its hello.
const DefaultHelloTimeout = 10 * time.Second

var (
	ErrUnauthorized = errors.New("framed: unauthorized")
	ErrPaneGone     = errors.New("framed: pane disconnected")
)

// rateLimitedText is the error response body a pane sees when it exceeds
// its envelope budget.
const rateLimitedText = "rate limited"

// ServerConfig wires one hub-side listener.
type ServerConfig struct {
	// Token is the shared admission secret. Empty admits every pane.
	Token        string
	Limits       wire.Limits
	Limiter      *ratelimit.Limiter
	HelloTimeout time.Duration
	Logger       zerolog.Logger
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Limits:       wire.DefaultLimits(),
		HelloTimeout: DefaultHelloTimeout,
	}
}

// paneState is one known pane: connected, or reserved by OpenPane and
// awaiting its connection.
type paneState struct {
	peer transport.Peer
	url  string
	conn *paneConn
}

type paneConn struct {
	peer transport.Peer
	conn net.Conn
	bw   *bufio.Writer
	wmu  sync.Mutex
	done chan struct{}
}

// Server accepts pane connections and keeps the window directory. It is
// the hub's SenderTable, Directory, and Host.
type Server struct {
	cfg  ServerConfig
	recv transport.Receiver
	gate auth.Validator
	log  zerolog.Logger

	mu       sync.Mutex
	ln       net.Listener
	panes    map[transport.Addr]*paneState
	order    map[string][]transport.Addr
	windows  []string
	reserved map[string][]transport.Addr
	nextPane uint64

	shutdown atomic.Bool
	wg       sync.WaitGroup
}

func NewServer(recv transport.Receiver, cfg ServerConfig) *Server {
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = DefaultHelloTimeout
	}
	if cfg.Limits.MaxNameBytes == 0 || cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = wire.DefaultLimits()
	}
	return &Server{
		cfg:      cfg,
		recv:     recv,
		gate:     auth.StaticToken{Token: cfg.Token},
		log:      cfg.Logger,
		panes:    make(map[transport.Addr]*paneState),
		order:    make(map[string][]transport.Addr),
		reserved: make(map[string][]transport.Addr),
	}
}

// Serve accepts connections until the listener closes. Run it on its own
// goroutine; Close shuts it down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("framed transport listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("framed: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting, drops every pane connection, and waits for the
// connection handlers to drain.
func (s *Server) Close() error {
	s.shutdown.Store(true)
	s.mu.Lock()
	ln := s.ln
	conns := make([]*paneConn, 0, len(s.panes))
	for _, p := range s.panes {
		if p.conn != nil {
			conns = append(conns, p.conn)
		}
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, pc := range conns {
		_ = pc.conn.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	remote := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HelloTimeout))
	hello, err := wire.ReadHello(br)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", remote).Msg("hello failed")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if err := s.admit(hello); err != nil {
		s.log.Warn().Str("remote", remote).Str("window", hello.Window).Msg("pane rejected")
		_ = wire.WriteWelcome(bw, wire.Welcome{
			Status:      wire.WelcomeStatusRejected,
			Code:        401,
			Message:     "token rejected",
			TimestampMS: uint64(time.Now().UnixMilli()),
		})
		_ = bw.Flush()
		return
	}

	pc := &paneConn{conn: conn, bw: bw, done: make(chan struct{})}
	peer := s.join(hello, pc)

	if err := wire.WriteWelcome(bw, wire.Welcome{
		Status:      wire.WelcomeStatusAccepted,
		Addr:        string(peer.Addr),
		TimestampMS: uint64(time.Now().UnixMilli()),
	}); err != nil {
		s.log.Warn().Err(err).Str("remote", remote).Msg("welcome failed")
		s.leave(peer.Addr)
		return
	}
	if err := bw.Flush(); err != nil {
		s.leave(peer.Addr)
		return
	}
	s.log.Info().
		Str("pane", string(peer.Addr)).
		Str("window", peer.Window).
		Bool("private", peer.Private).
		Str("remote", remote).
		Msg("pane connected")

	s.readPump(ctx, br, pc)
	s.leave(peer.Addr)
	s.log.Info().Str("pane", string(peer.Addr)).Msg("pane disconnected")
}

// readPump drains one connection. Decode failures that leave the frame
// boundary intact are logged and skipped; stream-level failures end the
// session.
func (s *Server) readPump(ctx context.Context, br *bufio.Reader, pc *paneConn) {
	for {
		frame, err := wire.ReadFrame(br, s.cfg.Limits)
		if err != nil {
			if !s.shutdown.Load() && !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Str("pane", string(pc.peer.Addr)).Msg("read loop ended")
			}
			return
		}
		observability.RecordEnvelope(transportName, "in")
		env, err := wire.DecodeFrame(frame)
		if err != nil {
			s.log.Warn().Err(err).Str("pane", string(pc.peer.Addr)).Msg("undecodable frame skipped")
			continue
		}

		if !env.IsResponse && !s.cfg.Limiter.Allow(pc.peer.Addr, time.Now()) {
			s.log.Warn().Str("pane", string(pc.peer.Addr)).Str("type", env.Type).Msg("pane rate limited")
			if err := s.writeEnvelope(pc, env.ErrorResponse(rateLimitedText)); err != nil {
				return
			}
			continue
		}

		if err := s.recv(ctx, pc.peer, env); err != nil {
			s.log.Error().
				Err(err).
				Str("from", string(pc.peer.Addr)).
				Str("type", env.Type).
				Msg("inbound envelope rejected")
		}
	}
}

func (s *Server) admit(h wire.Hello) error {
	if err := s.gate.Validate(h.Token); err != nil {
		return ErrUnauthorized
	}
	return nil
}

// join binds the connection into the directory. A window with a pending
// OpenPane reservation hands the earliest reserved slot to the next
// arriving pane; otherwise the pane appends to its window.
func (s *Server) join(h wire.Hello, pc *paneConn) transport.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pending := s.reserved[h.Window]; len(pending) > 0 {
		addr := pending[0]
		s.reserved[h.Window] = pending[1:]
		if p, ok := s.panes[addr]; ok {
			p.peer.Private = h.Private
			pc.peer = p.peer
			p.conn = pc
			observability.SetPaneCount(transportName, s.connectedLocked())
			return p.peer
		}
	}

	s.nextPane++
	addr := transport.Addr(fmt.Sprintf("pane.%d", s.nextPane))
	peer := transport.Peer{Addr: addr, Window: h.Window, Private: h.Private}
	pc.peer = peer
	s.panes[addr] = &paneState{peer: peer, conn: pc}
	s.addToWindowLocked(h.Window, addr, len(s.order[h.Window]))
	observability.SetPaneCount(transportName, s.connectedLocked())
	return peer
}

func (s *Server) leave(addr transport.Addr) {
	s.mu.Lock()
	p, ok := s.panes[addr]
	if ok {
		delete(s.panes, addr)
		s.removeFromWindowLocked(p.peer.Window, addr)
		if p.conn != nil {
			close(p.conn.done)
		}
	}
	count := s.connectedLocked()
	s.mu.Unlock()
	if ok {
		observability.SetPaneCount(transportName, count)
	}
}

// SenderFor resolves a connected pane. Reserved panes have no sender yet.
func (s *Server) SenderFor(addr transport.Addr) (transport.Sender, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panes[addr]
	if !ok || p.conn == nil {
		return nil, false
	}
	return &paneSender{srv: s, pc: p.conn}, true
}

// Windows enumerates panes grouped by window, in join order.
func (s *Server) Windows(ctx context.Context) ([]transport.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Window, 0, len(s.windows))
	for _, id := range s.windows {
		addrs := s.order[id]
		if len(addrs) == 0 {
			continue
		}
		w := transport.Window{ID: id, Panes: make([]transport.Peer, 0, len(addrs))}
		for _, addr := range addrs {
			if p, ok := s.panes[addr]; ok {
				w.Panes = append(w.Panes, p.peer)
			}
		}
		out = append(out, w)
	}
	return out, nil
}

// OpenPane reserves a directory slot at index in the default window. The
// next pane to hello into that window adopts the slot, its address, and
// its position.
func (s *Server) OpenPane(ctx context.Context, url string, index int, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := "main"
	if len(s.windows) > 0 {
		window = s.windows[0]
	}
	s.nextPane++
	addr := transport.Addr(fmt.Sprintf("pane.%d", s.nextPane))
	s.panes[addr] = &paneState{peer: transport.Peer{Addr: addr, Window: window}, url: url}
	s.addToWindowLocked(window, addr, index)
	s.reserved[window] = append(s.reserved[window], addr)
	s.log.Info().
		Str("pane", string(addr)).
		Str("window", window).
		Str("url", url).
		Int("index", index).
		Bool("active", active).
		Msg("pane slot reserved")
	return nil
}

// PaneIndex reports addr's position among its window siblings.
func (s *Server) PaneIndex(ctx context.Context, addr transport.Addr) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panes[addr]
	if !ok {
		return 0, false
	}
	for i, sibling := range s.order[p.peer.Window] {
		if sibling == addr {
			return i, true
		}
	}
	return 0, false
}

// Peers lists every known pane, window by window. Admin surface.
func (s *Server) Peers() []transport.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Peer, 0, len(s.panes))
	for _, id := range s.windows {
		for _, addr := range s.order[id] {
			if p, ok := s.panes[addr]; ok {
				out = append(out, p.peer)
			}
		}
	}
	return out
}

func (s *Server) connectedLocked() int {
	n := 0
	for _, p := range s.panes {
		if p.conn != nil {
			n++
		}
	}
	return n
}

func (s *Server) addToWindowLocked(window string, addr transport.Addr, index int) {
	if _, ok := s.order[window]; !ok {
		s.windows = append(s.windows, window)
	}
	siblings := s.order[window]
	if index < 0 {
		index = 0
	}
	if index > len(siblings) {
		index = len(siblings)
	}
	siblings = append(siblings, "")
	copy(siblings[index+1:], siblings[index:])
	siblings[index] = addr
	s.order[window] = siblings
}

func (s *Server) removeFromWindowLocked(window string, addr transport.Addr) {
	siblings := s.order[window]
	for i, sibling := range siblings {
		if sibling == addr {
			s.order[window] = append(siblings[:i], siblings[i+1:]...)
			return
		}
	}
}

func (s *Server) writeEnvelope(pc *paneConn, env wire.Envelope) error {
	frame, err := wire.EncodeFrame(env)
	if err != nil {
		return err
	}
	pc.wmu.Lock()
	defer pc.wmu.Unlock()
	if err := wire.WriteFrame(pc.bw, frame, s.cfg.Limits); err != nil {
		return err
	}
	if err := pc.bw.Flush(); err != nil {
		return err
	}
	observability.RecordEnvelope(transportName, "out")
	return nil
}

type paneSender struct {
	srv *Server
	pc  *paneConn
}

// Send writes one envelope to the pane's connection. Fire-and-forget:
// success means the frame reached the socket, not the pane.
func (ps *paneSender) Send(ctx context.Context, env wire.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	select {
	case <-ps.pc.done:
		return fmt.Errorf("%w: %s", ErrPaneGone, ps.pc.peer.Addr)
	default:
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = ps.pc.conn.SetWriteDeadline(dl)
		defer ps.pc.conn.SetWriteDeadline(time.Time{})
	}
	if err := ps.srv.writeEnvelope(ps.pc, env); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPaneGone, ps.pc.peer.Addr, err)
	}
	return nil
}
