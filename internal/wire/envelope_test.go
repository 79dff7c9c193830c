package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/bridgectl/internal/testutil/testlog"
)

func TestEnvelopeValidateRejectsMissingType(t *testing.T) {
	testlog.Start(t)
	err := Envelope{TxnID: 1}.Validate()
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestEnvelopeValidateRejectsErrorOnRequest(t *testing.T) {
	testlog.Start(t)
	err := Envelope{Type: "pane.echo", TxnID: 1, Error: "boom"}.Validate()
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestEnvelopeValidateRejectsPayloadWithError(t *testing.T) {
	testlog.Start(t)
	env := Envelope{Type: "pane.echo", TxnID: 1, IsResponse: true, Error: "boom", Payload: []byte(`"x"`)}
	if err := env.Validate(); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestEncodeDecodeFrameRequest(t *testing.T) {
	testlog.Start(t)
	in := Envelope{Type: "pane.fetch", TxnID: 7, Payload: []byte(`{"url":"https://example.com"}`)}
	f, err := EncodeFrame(in)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, f, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	rf, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	out, err := DecodeFrame(rf)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if out.Type != in.Type || out.TxnID != in.TxnID || out.IsResponse {
		t.Fatalf("unexpected envelope: %+v", out)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch: %s", out.Payload)
	}
}

func TestEncodeDecodeFrameErrorResponse(t *testing.T) {
	testlog.Start(t)
	in := Envelope{Type: "pane.fetch", TxnID: 9, IsResponse: true, Error: "fetch failed: boom"}
	f, err := EncodeFrame(in)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if f.Header.Flags&FlagError == 0 || f.Header.Flags&FlagResponse == 0 {
		t.Fatalf("unexpected flags: %#x", f.Header.Flags)
	}
	out, err := DecodeFrame(f)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if out.Error != in.Error || !out.IsResponse || len(out.Payload) != 0 {
		t.Fatalf("unexpected envelope: %+v", out)
	}
}

func TestDecodeFrameErrorFlagWithoutText(t *testing.T) {
	testlog.Start(t)
	f := Frame{
		Header: Header{TxnID: 1, Flags: FlagResponse | FlagError},
		Name:   []byte("pane.fetch"),
	}
	if _, err := DecodeFrame(f); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestEnvelopeResponseBuilders(t *testing.T) {
	testlog.Start(t)
	req := Envelope{Type: "pane.echo", TxnID: 3, Payload: []byte(`"x"`)}
	ok := req.Response([]byte(`"x"`))
	if !ok.IsResponse || ok.TxnID != 3 || ok.Type != "pane.echo" || ok.Error != "" {
		t.Fatalf("unexpected response: %+v", ok)
	}
	fail := req.ErrorResponse("boom")
	if !fail.IsResponse || fail.Error != "boom" || len(fail.Payload) != 0 {
		t.Fatalf("unexpected error response: %+v", fail)
	}
}
