package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic spells "BRDG" big-endian.
	Magic   uint32 = 0x42524447
	Version uint16 = 1

	FixedHeaderLen uint16 = 24

	FlagResponse uint32 = 0x01
	FlagError    uint32 = 0x02
)

var (
	ErrShortHeader       = errors.New("wire: short fixed header")
	ErrBadMagic          = errors.New("wire: bad magic")
	ErrBadVersion        = errors.New("wire: unsupported version")
	ErrHeaderLenTooSmall = errors.New("wire: header_len smaller than fixed header")
	ErrMissingName       = errors.New("wire: frame has no type name")
	ErrNameTooLarge      = errors.New("wire: type name too large")
	ErrPayloadTooLarge   = errors.New("wire: payload too large")
)

// Header is the fixed wire header. HeaderLen covers the fixed header plus
// the type-name bytes that follow it.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	TxnID      uint64
	Flags      uint32
	PayloadLen uint32
}

// Frame is one complete wire message: header, type name, opaque payload.
// When FlagError is set the payload region carries the error text instead.
type Frame struct {
	Header  Header
	Name    []byte
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxNameBytes    uint64
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxNameBytes:    1024,
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}

	if h.Magic != Magic {
		return Frame{}, ErrBadMagic
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}

	nameLen := uint64(h.HeaderLen - FixedHeaderLen)
	if nameLen == 0 {
		return Frame{}, ErrMissingName
	}
	if nameLen > limits.MaxNameBytes {
		return Frame{}, ErrNameTooLarge
	}
	if uint64(h.PayloadLen) > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Header: h, Name: name, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	nameLen := uint64(len(f.Name))
	payloadLen := uint64(len(f.Payload))
	if nameLen == 0 {
		return ErrMissingName
	}
	if nameLen > limits.MaxNameBytes {
		return ErrNameTooLarge
	}
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen + uint16(nameLen)
	h.PayloadLen = uint32(payloadLen)

	hb := EncodeHeader(h)
	if _, err := w.Write(hb); err != nil {
		return err
	}
	if _, err := w.Write(f.Name); err != nil {
		return err
	}
	if payloadLen > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.TxnID)
	binary.BigEndian.PutUint32(buf[16:20], h.Flags)
	binary.BigEndian.PutUint32(buf[20:24], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("wire: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		TxnID:      binary.BigEndian.Uint64(b[8:16]),
		Flags:      binary.BigEndian.Uint32(b[16:20]),
		PayloadLen: binary.BigEndian.Uint32(b[20:24]),
	}, nil
}
