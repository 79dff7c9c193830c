package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	in := Frame{
		Header:  Header{TxnID: 42, Flags: FlagResponse},
		Name:    []byte("pane.fetch"),
		Payload: []byte(`{"status":200}`),
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Version != Version {
		t.Fatalf("header mismatch: %+v", out.Header)
	}
	if out.Header.TxnID != 42 || out.Header.Flags != FlagResponse {
		t.Fatalf("header mismatch: %+v", out.Header)
	}
	if string(out.Name) != "pane.fetch" {
		t.Fatalf("name mismatch: %q", string(out.Name))
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameShortHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	h := Header{Magic: 0xDEADBEEF, Version: Version, HeaderLen: FixedHeaderLen + 4}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestReadFrameRejectsUnknownVersion(t *testing.T) {
	h := Header{Magic: Magic, Version: Version + 1, HeaderLen: FixedHeaderLen + 4}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestReadFrameRequiresName(t *testing.T) {
	h := Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrMissingName) {
		t.Fatalf("expected ErrMissingName, got %v", err)
	}
}

func TestWriteFrameEnforcesLimits(t *testing.T) {
	limits := Limits{MaxNameBytes: 4, MaxPayloadBytes: 4}
	var buf bytes.Buffer
	err := WriteFrame(&buf, Frame{Name: []byte("too-long")}, limits)
	if !errors.Is(err, ErrNameTooLarge) {
		t.Fatalf("expected ErrNameTooLarge, got %v", err)
	}
	err = WriteFrame(&buf, Frame{Name: []byte("ok"), Payload: []byte("too-long")}, limits)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	in := Frame{Name: []byte("pane.echo"), Payload: bytes.Repeat([]byte("x"), 64)}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	_, err := ReadFrame(&buf, Limits{MaxNameBytes: 1024, MaxPayloadBytes: 16})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
