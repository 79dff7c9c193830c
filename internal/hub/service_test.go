package hub

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/bridgectl/internal/bridge"
	"github.com/danmuck/bridgectl/internal/cache"
	hstorage "github.com/danmuck/bridgectl/internal/handlers/storage"
	"github.com/danmuck/bridgectl/internal/testutil/testlog"
	"github.com/danmuck/bridgectl/internal/transport"
	"github.com/danmuck/bridgectl/internal/transport/framed"
	"github.com/danmuck/bridgectl/internal/wire"
)

func testConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.AdminListen = ""
	return cfg
}

func newBootstrappedService(t *testing.T, cfg ServiceConfig) *Service {
	t.Helper()
	svc := NewServiceWithConfig(cfg)
	if err := svc.bootstrap(); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	return svc
}

func TestServiceBootstrapRegistersHandlers(t *testing.T) {
	testlog.Start(t)
	svc := newBootstrappedService(t, testConfig())
	want := []string{"pane.broadcast", "pane.cache", "pane.fetch", "pane.open", "pane.private", "pane.storage"}
	got := svc.engine.Handlers().Types()
	if len(got) != len(want) {
		t.Fatalf("unexpected handler types: %v", got)
	}
	for i, typ := range want {
		if got[i] != typ {
			t.Fatalf("handler %d: want %s, got %s", i, typ, got[i])
		}
	}
}

func TestServiceBootstrapMissingListenAddr(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.ListenAddr = "  "
	svc := NewServiceWithConfig(cfg)
	if err := svc.bootstrap(); !errors.Is(err, ErrMissingListenAddr) {
		t.Fatalf("expected ErrMissingListenAddr, got %v", err)
	}
}

func TestServiceBootstrapInvalidHeartbeat(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.HeartbeatInterval = 0
	svc := NewServiceWithConfig(cfg)
	if err := svc.bootstrap(); !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("expected ErrInvalidHeartbeatInterval, got %v", err)
	}
}

func TestServiceBootstrapBadCacheCapacity(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.CacheCapacity = 0
	svc := NewServiceWithConfig(cfg)
	if err := svc.bootstrap(); !errors.Is(err, cache.ErrBadCapacity) {
		t.Fatalf("expected ErrBadCapacity, got %v", err)
	}
}

func TestServiceBootstrapFileStore(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "storage.json")
	svc := newBootstrappedService(t, cfg)
	if err := svc.store.Set("greeting", `"hello"`); err != nil {
		t.Fatalf("store set: %v", err)
	}
	got, ok := svc.store.Get("greeting")
	if !ok || got != `"hello"` {
		t.Fatalf("store get: %q ok=%v", got, ok)
	}
}

func TestServiceServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HeartbeatInterval = 10 * time.Millisecond
	svc := newBootstrappedService(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.serve(ctx); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
}

func TestServiceServesStorageOverSocket(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.ListenAddr = "127.0.0.1:7461"
	svc := newBootstrappedService(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.serve(ctx)
	}()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("serve exit err: %v", err)
		}
	}()

	var cli *framed.Client
	deadline := time.Now().Add(2 * time.Second)
	for {
		c, err := framed.Dial(ctx, cfg.ListenAddr, framed.ClientConfig{Hello: wire.Hello{Window: "main"}})
		if err == nil {
			cli = c
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial hub: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer cli.Close()

	paneEngine := bridge.NewEngine(cli.Table(), bridge.DefaultEngineConfig())
	if err := cli.Attach(ctx, paneEngine.HandleEnvelope); err != nil {
		t.Fatalf("attach: %v", err)
	}

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()
	if _, err := paneEngine.Call(callCtx, transport.HubAddr, hstorage.MsgType, []any{"set", "greeting", "hello"}); err != nil {
		t.Fatalf("storage set: %v", err)
	}
	res, err := paneEngine.Call(callCtx, transport.HubAddr, hstorage.MsgType, []any{"get", "greeting"})
	if err != nil {
		t.Fatalf("storage get: %v", err)
	}
	var got string
	if err := json.Unmarshal(res, &got); err != nil {
		t.Fatalf("decode storage get: %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected stored value: %q", got)
	}
}
