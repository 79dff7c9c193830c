package panes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/bridge"
	"github.com/danmuck/bridgectl/internal/testutil/testlog"
	"github.com/danmuck/bridgectl/internal/transport"
)

type openCall struct {
	URL    string
	Index  int
	Active bool
}

// fakeHost records opens and answers PaneIndex from a fixed map.
type fakeHost struct {
	indexes map[transport.Addr]int
	opens   []openCall
	failAt  int
}

func (f *fakeHost) OpenPane(ctx context.Context, url string, index int, active bool) error {
	if f.failAt > 0 && len(f.opens)+1 == f.failAt {
		return fmt.Errorf("window manager refused")
	}
	f.opens = append(f.opens, openCall{URL: url, Index: index, Active: active})
	return nil
}

func (f *fakeHost) PaneIndex(ctx context.Context, addr transport.Addr) (int, bool) {
	idx, ok := f.indexes[addr]
	return idx, ok
}

func newTestHandler(t *testing.T, host *fakeHost) *Handler {
	t.Helper()
	h, err := New(Config{Host: host, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func openRequest(t *testing.T, from string, or OpenRequest) bridge.Request {
	t.Helper()
	payload, err := json.Marshal(or)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return bridge.Request{Type: MsgType, Payload: payload, From: transport.Peer{Addr: transport.Addr(from)}}
}

func TestOpenPlacesBatchAfterSender(t *testing.T) {
	testlog.Start(t)

	host := &fakeHost{indexes: map[transport.Addr]int{"pane.1": 2}}
	h := newTestHandler(t, host)

	_, err := h.HandleOpen(context.Background(), openRequest(t, "pane.1", OpenRequest{
		URLs:       []string{"https://a.example/", "https://b.example/", "https://c.example/"},
		FocusIndex: 1,
	}))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := []openCall{
		{URL: "https://a.example/", Index: 3, Active: false},
		{URL: "https://b.example/", Index: 4, Active: true},
		{URL: "https://c.example/", Index: 5, Active: false},
	}
	if len(host.opens) != len(want) {
		t.Fatalf("expected %d opens, got %d", len(want), len(host.opens))
	}
	for i := range want {
		if host.opens[i] != want[i] {
			t.Fatalf("open %d: expected %+v, got %+v", i, want[i], host.opens[i])
		}
	}
}

func TestOpenUnknownSenderAppendsAtEnd(t *testing.T) {
	testlog.Start(t)

	host := &fakeHost{}
	h := newTestHandler(t, host)

	_, err := h.HandleOpen(context.Background(), openRequest(t, "pane.9", OpenRequest{
		URLs:       []string{"https://a.example/", "https://b.example/"},
		FocusIndex: 0,
	}))
	if err != nil {
		t.Fatalf("open must not fail on unknown sender: %v", err)
	}
	if host.opens[0].Index != fallbackOrdinal || host.opens[1].Index != fallbackOrdinal+1 {
		t.Fatalf("expected fallback ordinals, got %d and %d", host.opens[0].Index, host.opens[1].Index)
	}
	if !host.opens[0].Active || host.opens[1].Active {
		t.Fatal("exactly the focused url must open foreground")
	}
}

func TestOpenRejectsBadBatches(t *testing.T) {
	h := newTestHandler(t, &fakeHost{})

	cases := []OpenRequest{
		{URLs: nil, FocusIndex: 0},
		{URLs: []string{"https://a.example/", "  "}, FocusIndex: 0},
		{URLs: []string{"https://a.example/"}, FocusIndex: 1},
		{URLs: []string{"https://a.example/"}, FocusIndex: -1},
	}
	for i, or := range cases {
		if _, err := h.HandleOpen(context.Background(), openRequest(t, "pane.1", or)); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}

	req := bridge.Request{Type: MsgType, Payload: []byte("{bad"), From: transport.Peer{Addr: "pane.1"}}
	if _, err := h.HandleOpen(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for bad payload, got %v", err)
	}
}

func TestOpenStopsAtFirstHostFailure(t *testing.T) {
	testlog.Start(t)

	host := &fakeHost{indexes: map[transport.Addr]int{"pane.1": 0}, failAt: 2}
	h := newTestHandler(t, host)

	_, err := h.HandleOpen(context.Background(), openRequest(t, "pane.1", OpenRequest{
		URLs:       []string{"https://a.example/", "https://b.example/", "https://c.example/"},
		FocusIndex: 0,
	}))
	if err == nil {
		t.Fatal("expected host failure to propagate")
	}
	if len(host.opens) != 1 {
		t.Fatalf("expected batch to stop after failure, got %d opens", len(host.opens))
	}
}

func TestPrivateReflectsSenderContext(t *testing.T) {
	h := newTestHandler(t, &fakeHost{})

	res, err := h.HandlePrivate(context.Background(), bridge.Request{
		Type: PrivateMsgType,
		From: transport.Peer{Addr: "pane.1", Private: true},
	})
	if err != nil || res.(bool) != true {
		t.Fatalf("expected true for private sender, got %v %v", res, err)
	}
	res, err = h.HandlePrivate(context.Background(), bridge.Request{
		Type: PrivateMsgType,
		From: transport.Peer{Addr: "pane.2"},
	})
	if err != nil || res.(bool) != false {
		t.Fatalf("expected false for plain sender, got %v %v", res, err)
	}
}

func TestRegisterBindsBothTypes(t *testing.T) {
	h := newTestHandler(t, &fakeHost{})
	reg := bridge.NewHandlerRegistry()
	if err := h.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, typ := range []string{MsgType, PrivateMsgType} {
		if _, ok := reg.Lookup(typ); !ok {
			t.Fatalf("%s not registered", typ)
		}
	}
}
