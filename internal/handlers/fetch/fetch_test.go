package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/bridge"
	"github.com/danmuck/bridgectl/internal/cache"
	"github.com/danmuck/bridgectl/internal/testutil/testlog"
)

// fakeFetcher serves canned results and counts how often the network
// path was taken.
type fakeFetcher struct {
	calls  int
	result Result
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	f.calls++
	if f.err != nil {
		return Result{}, f.err
	}
	return f.result, nil
}

func newTestHandler(t *testing.T, ff *fakeFetcher, force bool) *Handler {
	t.Helper()
	c, err := cache.New(8, clock.NewMock())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	h, err := New(Config{Cache: c, Fetcher: ff, ForceCache: force, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func fetchRequest(t *testing.T, fr Request) bridge.Request {
	t.Helper()
	payload, err := json.Marshal(fr)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bridge.Request{Type: MsgType, Payload: payload}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	c, err := cache.New(2, clock.NewMock())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if _, err := New(Config{Fetcher: &fakeFetcher{}}); err == nil {
		t.Fatal("expected error for nil cache")
	}
	if _, err := New(Config{Cache: c}); err == nil {
		t.Fatal("expected error for nil fetcher")
	}
}

func TestAggressiveCacheHitSkipsNetwork(t *testing.T) {
	testlog.Start(t)

	ff := &fakeFetcher{result: Result{Status: 200, ResponseText: "body", ResponseURL: "https://a.example/"}}
	h := newTestHandler(t, ff, false)
	req := fetchRequest(t, Request{URL: "https://a.example/", AggressiveCache: true})

	first, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if ff.calls != 1 {
		t.Fatalf("expected one network call, got %d", ff.calls)
	}
	if first.(Result) != second.(Result) {
		t.Fatalf("cached result drifted: %+v vs %+v", first, second)
	}
}

func TestNonOKResponseIsNotCached(t *testing.T) {
	testlog.Start(t)

	ff := &fakeFetcher{result: Result{Status: 404, ResponseText: "missing", ResponseURL: "https://a.example/gone"}}
	h := newTestHandler(t, ff, false)
	req := fetchRequest(t, Request{URL: "https://a.example/gone", AggressiveCache: true})

	for i := 0; i < 2; i++ {
		if _, err := h.Handle(context.Background(), req); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if ff.calls != 2 {
		t.Fatalf("404 must not be cached, got %d network calls", ff.calls)
	}
	if h.CacheLen() != 0 {
		t.Fatalf("expected empty cache, got %d entries", h.CacheLen())
	}
}

func TestEmptyBodyIsNotCached(t *testing.T) {
	testlog.Start(t)

	ff := &fakeFetcher{result: Result{Status: 200, ResponseText: "", ResponseURL: "https://a.example/empty"}}
	h := newTestHandler(t, ff, false)
	req := fetchRequest(t, Request{URL: "https://a.example/empty", AggressiveCache: true})

	for i := 0; i < 2; i++ {
		if _, err := h.Handle(context.Background(), req); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if ff.calls != 2 {
		t.Fatalf("empty body must not be cached, got %d network calls", ff.calls)
	}
}

func TestPlainFetchBypassesCache(t *testing.T) {
	testlog.Start(t)

	ff := &fakeFetcher{result: Result{Status: 200, ResponseText: "body", ResponseURL: "https://a.example/"}}
	h := newTestHandler(t, ff, false)
	req := fetchRequest(t, Request{URL: "https://a.example/"})

	for i := 0; i < 2; i++ {
		if _, err := h.Handle(context.Background(), req); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if ff.calls != 2 {
		t.Fatalf("uncached fetch must hit the network each time, got %d calls", ff.calls)
	}
	if h.CacheLen() != 0 {
		t.Fatalf("uncached fetch must not populate the cache, got %d entries", h.CacheLen())
	}
}

func TestForceCacheOverridesRequestFlag(t *testing.T) {
	testlog.Start(t)

	ff := &fakeFetcher{result: Result{Status: 200, ResponseText: "body", ResponseURL: "https://a.example/"}}
	h := newTestHandler(t, ff, true)
	req := fetchRequest(t, Request{URL: "https://a.example/"})

	for i := 0; i < 2; i++ {
		if _, err := h.Handle(context.Background(), req); err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
	}
	if ff.calls != 1 {
		t.Fatalf("force-cache must serve repeats from cache, got %d network calls", ff.calls)
	}
}

func TestNetworkFailureWrapsTransportFault(t *testing.T) {
	testlog.Start(t)

	ff := &fakeFetcher{err: fmt.Errorf("connection refused")}
	h := newTestHandler(t, ff, false)
	req := fetchRequest(t, Request{URL: "https://down.example/"})

	_, err := h.Handle(context.Background(), req)
	if !errors.Is(err, ErrTransportFault) {
		t.Fatalf("expected ErrTransportFault, got %v", err)
	}
}

func TestHandleRejectsBadPayload(t *testing.T) {
	ff := &fakeFetcher{}
	h := newTestHandler(t, ff, false)

	_, err := h.Handle(context.Background(), bridge.Request{Type: MsgType, Payload: []byte("{nope")})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	_, err = h.Handle(context.Background(), fetchRequest(t, Request{URL: "   "}))
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for blank url, got %v", err)
	}
	if ff.calls != 0 {
		t.Fatalf("invalid requests must not reach the network, got %d calls", ff.calls)
	}
}

func TestAdminClearEmptiesCache(t *testing.T) {
	testlog.Start(t)

	ff := &fakeFetcher{result: Result{Status: 200, ResponseText: "body", ResponseURL: "https://a.example/"}}
	h := newTestHandler(t, ff, false)
	if _, err := h.Handle(context.Background(), fetchRequest(t, Request{URL: "https://a.example/", AggressiveCache: true})); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}
	if h.CacheLen() != 1 {
		t.Fatalf("expected one cached entry, got %d", h.CacheLen())
	}

	payload, _ := json.Marshal(AdminRequest{Operation: "clear"})
	if _, err := h.HandleAdmin(context.Background(), bridge.Request{Type: AdminMsgType, Payload: payload}); err != nil {
		t.Fatalf("admin clear: %v", err)
	}
	if h.CacheLen() != 0 {
		t.Fatalf("expected empty cache after clear, got %d", h.CacheLen())
	}

	if _, err := h.Handle(context.Background(), fetchRequest(t, Request{URL: "https://a.example/", AggressiveCache: true})); err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if ff.calls != 2 {
		t.Fatalf("post-clear fetch must hit the network, got %d calls", ff.calls)
	}
}

func TestAdminRejectsUnknownOperation(t *testing.T) {
	h := newTestHandler(t, &fakeFetcher{}, false)

	payload, _ := json.Marshal(AdminRequest{Operation: "defrag"})
	_, err := h.HandleAdmin(context.Background(), bridge.Request{Type: AdminMsgType, Payload: payload})
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestRegisterBindsBothTypes(t *testing.T) {
	h := newTestHandler(t, &fakeFetcher{}, false)
	reg := bridge.NewHandlerRegistry()
	if err := h.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := reg.Lookup(MsgType); !ok {
		t.Fatalf("%s not registered", MsgType)
	}
	if _, ok := reg.Lookup(AdminMsgType); !ok {
		t.Fatalf("%s not registered", AdminMsgType)
	}
}
