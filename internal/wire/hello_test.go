package wire

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/bridgectl/internal/testutil/testlog"
)

func TestHelloRoundTrip(t *testing.T) {
	testlog.Start(t)
	hello := Hello{Window: "w1", Private: true, Token: "s3cret"}
	var buf bytes.Buffer
	if err := WriteHello(&buf, hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	got, err := ReadHello(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if got.Window != "w1" || !got.Private || got.Token != "s3cret" {
		t.Fatalf("unexpected hello: %+v", got)
	}
}

func TestWelcomeRoundTrip(t *testing.T) {
	testlog.Start(t)
	welcome := Welcome{
		Status:      WelcomeStatusAccepted,
		Message:     "ok",
		Addr:        "pane.1",
		TimestampMS: 1700000000000,
	}
	var buf bytes.Buffer
	if err := WriteWelcome(&buf, welcome); err != nil {
		t.Fatalf("write welcome: %v", err)
	}
	got, err := ReadWelcome(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if got.Status != WelcomeStatusAccepted || got.Addr != "pane.1" {
		t.Fatalf("unexpected welcome: %+v", got)
	}
}

func TestHelloRequiresWindow(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteHello(&buf, Hello{}); !errors.Is(err, ErrInvalidHello) {
		t.Fatalf("expected ErrInvalidHello, got %v", err)
	}
}

func TestWelcomeAcceptedRequiresAddr(t *testing.T) {
	testlog.Start(t)
	w := Welcome{Status: WelcomeStatusAccepted, TimestampMS: 1}
	if err := w.Validate(); !errors.Is(err, ErrInvalidWelcome) {
		t.Fatalf("expected ErrInvalidWelcome, got %v", err)
	}
}

func TestReadWelcomeRejectsWrongControlType(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteHello(&buf, Hello{Window: "w1"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	if _, err := ReadWelcome(bufio.NewReader(&buf)); !errors.Is(err, ErrInvalidWelcome) {
		t.Fatalf("expected ErrInvalidWelcome, got %v", err)
	}
}
