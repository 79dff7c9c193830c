package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/bridge"
	"github.com/danmuck/bridgectl/internal/cache"
	hbroadcast "github.com/danmuck/bridgectl/internal/handlers/broadcast"
	hfetch "github.com/danmuck/bridgectl/internal/handlers/fetch"
	hpanes "github.com/danmuck/bridgectl/internal/handlers/panes"
	hstorage "github.com/danmuck/bridgectl/internal/handlers/storage"
	"github.com/danmuck/bridgectl/internal/logging"
	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/ratelimit"
	"github.com/danmuck/bridgectl/internal/storage"
	"github.com/danmuck/bridgectl/internal/transport"
	"github.com/danmuck/bridgectl/internal/transport/framed"
	"github.com/danmuck/bridgectl/internal/wire"
)

var (
	ErrMissingListenAddr        = errors.New("hub: missing listen addr")
	ErrInvalidHeartbeatInterval = errors.New("hub: invalid heartbeat interval")
)

// RateLimitConfig bounds inbound requests per pane. RPS zero disables
// limiting.
type RateLimitConfig struct {
	RPS     float64
	Burst   int
	IdleTTL time.Duration
}

// StorageConfig selects the pane storage backend. A blank path keeps
// state in memory; a passphrase seals the snapshot at rest.
type StorageConfig struct {
	Path       string
	Passphrase string
}

type FetchConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

// ServiceConfig configures the hub standalone runtime.
type ServiceConfig struct {
	HubID             string
	ListenAddr        string
	AdminListen       string
	Token             string
	CorsOrigins       []string
	CacheCapacity     int
	ForceCache        bool
	ResolveInterval   time.Duration
	HeartbeatInterval time.Duration
	RateLimit         RateLimitConfig
	Storage           StorageConfig
	Fetch             FetchConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		HubID:             "bridged.local",
		ListenAddr:        "127.0.0.1:7400",
		AdminListen:       "127.0.0.1:7410",
		CacheCapacity:     128,
		ResolveInterval:   bridge.DefaultResolveInterval,
		HeartbeatInterval: 5 * time.Second,
		RateLimit:         RateLimitConfig{IdleTTL: 10 * time.Minute},
		Fetch: FetchConfig{
			Timeout:      hfetch.DefaultTimeout,
			MaxBodyBytes: hfetch.DefaultMaxBodyBytes,
		},
	}
}

// Service runs the hub lifecycle as a standalone process.
type Service struct {
	cfg ServiceConfig
	log zerolog.Logger

	server *framed.Server
	engine *bridge.Engine
	cache  *cache.Cache
	store  hstorage.Store
	fetchH *hfetch.Handler
	admin  *adminServer

	appeared time.Time
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	if strings.TrimSpace(cfg.HubID) == "" {
		cfg.HubID = "bridged.local"
	}
	return &Service{
		cfg: cfg,
		log: logging.Component("hub"),
	}
}

// Run blocks until process signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := s.bootstrap(); err != nil {
		return err
	}
	return s.serve(ctx)
}

// bootstrap assembles the component graph. Nothing listens yet; serve
// owns the sockets.
func (s *Service) bootstrap() error {
	if strings.TrimSpace(s.cfg.ListenAddr) == "" {
		return ErrMissingListenAddr
	}
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}

	observability.RegisterMetrics()

	store, kind, err := s.buildStore()
	if err != nil {
		return err
	}
	s.store = store

	responseCache, err := cache.New(s.cfg.CacheCapacity, clock.New())
	if err != nil {
		return err
	}
	s.cache = responseCache

	serverCfg := framed.DefaultServerConfig()
	serverCfg.Token = s.cfg.Token
	serverCfg.Limiter = ratelimit.New(s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.cfg.RateLimit.IdleTTL)
	serverCfg.Logger = logging.Component("framed")
	s.server = framed.NewServer(func(ctx context.Context, from transport.Peer, env wire.Envelope) error {
		return s.engine.HandleEnvelope(ctx, from, env)
	}, serverCfg)

	engineCfg := bridge.DefaultEngineConfig()
	engineCfg.ResolveInterval = s.cfg.ResolveInterval
	engineCfg.Logger = logging.Component("bridge")
	s.engine = bridge.NewEngine(s.server, engineCfg)

	if err := s.registerHandlers(); err != nil {
		return err
	}

	s.appeared = time.Now()
	if strings.TrimSpace(s.cfg.AdminListen) != "" {
		s.admin = newAdminServer(s)
	}

	s.log.Info().
		Str("hub", s.cfg.HubID).
		Str("storage", kind).
		Int("cache_capacity", s.cfg.CacheCapacity).
		Bool("force_cache", s.cfg.ForceCache).
		Bool("rate_limited", serverCfg.Limiter != nil).
		Msg("hub ready")
	return nil
}

func (s *Service) buildStore() (hstorage.Store, string, error) {
	if strings.TrimSpace(s.cfg.Storage.Path) == "" {
		return storage.NewMemoryStore(), "memory", nil
	}
	fs, err := storage.NewFileStore(storage.FileConfig{
		Path:       s.cfg.Storage.Path,
		Passphrase: s.cfg.Storage.Passphrase,
		Logger:     logging.Component("storage"),
	})
	if err != nil {
		return nil, "", err
	}
	kind := "file"
	if strings.TrimSpace(s.cfg.Storage.Passphrase) != "" {
		kind = "file-sealed"
	}
	return fs, kind, nil
}

func (s *Service) registerHandlers() error {
	fetcher, err := hfetch.NewHTTPFetcher(hfetch.HTTPConfig{
		Timeout:      s.cfg.Fetch.Timeout,
		MaxBodyBytes: s.cfg.Fetch.MaxBodyBytes,
	})
	if err != nil {
		return err
	}
	fetchH, err := hfetch.New(hfetch.Config{
		Cache:      s.cache,
		Fetcher:    fetcher,
		ForceCache: s.cfg.ForceCache,
		Logger:     logging.Component("fetch"),
	})
	if err != nil {
		return err
	}
	if err := fetchH.Register(s.engine.Handlers()); err != nil {
		return err
	}
	s.fetchH = fetchH

	storeH, err := hstorage.New(hstorage.Config{
		Store:  s.store,
		Logger: logging.Component("storage"),
	})
	if err != nil {
		return err
	}
	if err := storeH.Register(s.engine.Handlers()); err != nil {
		return err
	}

	bcast, err := hbroadcast.New(hbroadcast.Config{
		Caller:    s.engine,
		Directory: s.server,
		Senders:   s.server,
		Logger:    logging.Component("broadcast"),
	})
	if err != nil {
		return err
	}
	if err := bcast.Register(s.engine.Handlers()); err != nil {
		return err
	}

	panesH, err := hpanes.New(hpanes.Config{
		Host:   s.server,
		Logger: logging.Component("panes"),
	})
	if err != nil {
		return err
	}
	return panesH.Register(s.engine.Handlers())
}

// serve owns the sockets: framed listener, optional admin surface, and
// the heartbeat loop. Returns when ctx is done or a listener fails.
func (s *Service) serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("hub: listen %s: %w", s.cfg.ListenAddr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(ctx, ln)
	}()
	defer func() {
		_ = s.server.Close()
	}()

	adminErr := make(chan error, 1)
	if s.admin != nil {
		go func() {
			adminErr <- s.admin.run(ctx)
		}()
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("hub shutdown")
			return nil
		case err := <-serveErr:
			if err != nil {
				return err
			}
		case err := <-adminErr:
			if err != nil {
				return err
			}
		case <-ticker.C:
			s.log.Info().
				Int("panes", len(s.server.Peers())).
				Int("outstanding", s.engine.Outstanding()).
				Int("cache_entries", s.cache.Len()).
				Msg("hub heartbeat")
		}
	}
}
