package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEnvelope = errors.New("wire: invalid envelope")

// Envelope is the unit exchanged between the hub and a pane. Payload is
// opaque to the bridge layer. Error is populated only on failed responses,
// in which case Payload is empty.
type Envelope struct {
	Type       string          `json:"type"`
	TxnID      uint64          `json:"txn_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IsResponse bool            `json:"is_response,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	if !e.IsResponse && e.Error != "" {
		return fmt.Errorf("%w: error text on a request", ErrInvalidEnvelope)
	}
	if e.Error != "" && len(e.Payload) > 0 {
		return fmt.Errorf("%w: both payload and error", ErrInvalidEnvelope)
	}
	return nil
}

// Response builds the success reply for a request envelope.
func (e Envelope) Response(payload json.RawMessage) Envelope {
	return Envelope{
		Type:       e.Type,
		TxnID:      e.TxnID,
		Payload:    payload,
		IsResponse: true,
	}
}

// ErrorResponse builds the failure reply for a request envelope.
func (e Envelope) ErrorResponse(msg string) Envelope {
	return Envelope{
		Type:       e.Type,
		TxnID:      e.TxnID,
		IsResponse: true,
		Error:      msg,
	}
}

// EncodeFrame maps an envelope onto its frame representation. The type name
// fills the variable header region; the payload region carries either the
// payload bytes or, under FlagError, the error text.
func EncodeFrame(e Envelope) (Frame, error) {
	if err := e.Validate(); err != nil {
		return Frame{}, err
	}
	var flags uint32
	body := []byte(e.Payload)
	if e.IsResponse {
		flags |= FlagResponse
	}
	if e.Error != "" {
		flags |= FlagError
		body = []byte(e.Error)
	}
	return Frame{
		Header:  Header{TxnID: e.TxnID, Flags: flags},
		Name:    []byte(e.Type),
		Payload: body,
	}, nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(f Frame) (Envelope, error) {
	e := Envelope{
		Type:       string(f.Name),
		TxnID:      f.Header.TxnID,
		IsResponse: f.Header.Flags&FlagResponse != 0,
	}
	if f.Header.Flags&FlagError != 0 {
		e.Error = string(f.Payload)
		if e.Error == "" {
			return Envelope{}, fmt.Errorf("%w: error flag without error text", ErrInvalidEnvelope)
		}
	} else if len(f.Payload) > 0 {
		e.Payload = json.RawMessage(f.Payload)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
