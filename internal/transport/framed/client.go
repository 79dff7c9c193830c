package framed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/transport"
	"github.com/danmuck/bridgectl/internal/wire"
)

var (
	ErrRejected        = errors.New("framed: hub rejected hello")
	ErrClientClosed    = errors.New("framed: client closed")
	ErrAlreadyAttached = errors.New("framed: receiver already attached")
)

// ClientConfig wires one pane-side connection.
type ClientConfig struct {
	Hello        wire.Hello
	Limits       wire.Limits
	HelloTimeout time.Duration
	Logger       zerolog.Logger
}

// Client is a pane's session with the hub: one connection, one read
// pump, an addr assigned by the welcome. Inbound envelopes queue on the
// socket until Attach starts the pump.
type Client struct {
	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	wmu    sync.Mutex
	limits wire.Limits
	log    zerolog.Logger
	addr   transport.Addr

	mu       sync.Mutex
	attached bool

	done chan struct{}
	once sync.Once
}

// Dial connects and performs the hello/welcome exchange. The returned
// client can send immediately; call Attach to start receiving.
func Dial(ctx context.Context, target string, cfg ClientConfig) (*Client, error) {
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = DefaultHelloTimeout
	}
	if cfg.Limits.MaxNameBytes == 0 || cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = wire.DefaultLimits()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("framed: dial %s: %w", target, err)
	}

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	_ = conn.SetDeadline(time.Now().Add(cfg.HelloTimeout))
	if err := wire.WriteHello(bw, cfg.Hello); err != nil {
		conn.Close()
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		conn.Close()
		return nil, err
	}
	welcome, err := wire.ReadWelcome(br)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	if welcome.Status != wire.WelcomeStatusAccepted {
		conn.Close()
		return nil, fmt.Errorf("%w: %d %s", ErrRejected, welcome.Code, welcome.Message)
	}

	c := &Client{
		conn:   conn,
		br:     br,
		bw:     bw,
		limits: cfg.Limits,
		log:    cfg.Logger,
		addr:   transport.Addr(welcome.Addr),
		done:   make(chan struct{}),
	}
	c.log.Info().Str("addr", string(c.addr)).Str("hub", target).Msg("pane session open")
	return c, nil
}

// Addr is the address the hub assigned at welcome.
func (c *Client) Addr() transport.Addr {
	return c.addr
}

// Attach starts draining hub envelopes into recv, in arrival order.
// One receiver per session.
func (c *Client) Attach(ctx context.Context, recv transport.Receiver) error {
	if recv == nil {
		return errors.New("framed: nil receiver")
	}
	c.mu.Lock()
	if c.attached {
		c.mu.Unlock()
		return ErrAlreadyAttached
	}
	c.attached = true
	c.mu.Unlock()
	go c.readPump(ctx, recv)
	return nil
}

// Close drops the session. The read pump exits on the closed socket.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Done closes when the session ends, locally or from the hub side.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Table resolves the hub's address to this session's sender. A pane
// talks only to the hub; every other address is absent.
func (c *Client) Table() transport.SenderTable {
	return clientTable{c: c}
}

func (c *Client) readPump(ctx context.Context, recv transport.Receiver) {
	defer c.Close()
	hub := transport.Peer{Addr: transport.HubAddr}
	for {
		frame, err := wire.ReadFrame(c.br, c.limits)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug().Err(err).Msg("hub session ended")
			}
			return
		}
		observability.RecordEnvelope(transportName, "in")
		env, err := wire.DecodeFrame(frame)
		if err != nil {
			c.log.Warn().Err(err).Msg("undecodable frame skipped")
			continue
		}
		if err := recv(ctx, hub, env); err != nil {
			c.log.Error().Err(err).Str("type", env.Type).Msg("inbound envelope rejected")
		}
	}
}

// Send writes one envelope to the hub.
func (c *Client) Send(ctx context.Context, env wire.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	frame, err := wire.EncodeFrame(env)
	if err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := wire.WriteFrame(c.bw, frame, c.limits); err != nil {
		return fmt.Errorf("%w: %v", ErrClientClosed, err)
	}
	if err := c.bw.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrClientClosed, err)
	}
	observability.RecordEnvelope(transportName, "out")
	return nil
}

type clientTable struct{ c *Client }

func (t clientTable) SenderFor(addr transport.Addr) (transport.Sender, bool) {
	if addr != transport.HubAddr {
		return nil, false
	}
	select {
	case <-t.c.done:
		return nil, false
	default:
	}
	return t.c, true
}
