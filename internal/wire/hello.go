package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	controlTypeHello   = "pane.hello"
	controlTypeWelcome = "pane.welcome"

	WelcomeStatusAccepted = "accepted"
	WelcomeStatusRejected = "rejected"
)

var (
	ErrInvalidHello           = errors.New("wire: invalid hello")
	ErrInvalidWelcome         = errors.New("wire: invalid welcome")
	ErrControlMessageTooLarge = errors.New("wire: control message too large")
)

// Hello is the pane->hub session-start payload. Token is the optional shared
// secret the hub may require at accept time.
type Hello struct {
	Window  string `json:"window"`
	Private bool   `json:"private"`
	Token   string `json:"token,omitempty"`
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.Window) == "" {
		return fmt.Errorf("%w: missing window", ErrInvalidHello)
	}
	return nil
}

// Welcome is the hub->pane hello response. Addr is the address the hub
// assigned to the pane; envelopes to and from the pane carry it.
type Welcome struct {
	Status      string `json:"status"`
	Code        uint32 `json:"code"`
	Message     string `json:"message,omitempty"`
	Addr        string `json:"addr,omitempty"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (w Welcome) Validate() error {
	status := strings.TrimSpace(w.Status)
	if status != WelcomeStatusAccepted && status != WelcomeStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidWelcome)
	}
	if status == WelcomeStatusAccepted && strings.TrimSpace(w.Addr) == "" {
		return fmt.Errorf("%w: accepted without addr", ErrInvalidWelcome)
	}
	if w.TimestampMS == 0 {
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidWelcome)
	}
	return nil
}

type controlEnvelope struct {
	Type    string   `json:"type"`
	Hello   *Hello   `json:"hello,omitempty"`
	Welcome *Welcome `json:"welcome,omitempty"`
}

func WriteHello(w io.Writer, hello Hello) error {
	if err := hello.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{
		Type:  controlTypeHello,
		Hello: &hello,
	})
}

func ReadHello(r *bufio.Reader) (Hello, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return Hello{}, err
	}
	if env.Type != controlTypeHello || env.Hello == nil {
		return Hello{}, fmt.Errorf("%w: unexpected control type", ErrInvalidHello)
	}
	if err := env.Hello.Validate(); err != nil {
		return Hello{}, err
	}
	return *env.Hello, nil
}

func WriteWelcome(w io.Writer, welcome Welcome) error {
	if err := welcome.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{
		Type:    controlTypeWelcome,
		Welcome: &welcome,
	})
}

func ReadWelcome(r *bufio.Reader) (Welcome, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return Welcome{}, err
	}
	if env.Type != controlTypeWelcome || env.Welcome == nil {
		return Welcome{}, fmt.Errorf("%w: unexpected control type", ErrInvalidWelcome)
	}
	if err := env.Welcome.Validate(); err != nil {
		return Welcome{}, err
	}
	return *env.Welcome, nil
}

func writeControlEnvelope(w io.Writer, env controlEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

func readControlEnvelope(r *bufio.Reader) (controlEnvelope, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return controlEnvelope{}, err
	}
	if len(line) > 128*1024 {
		return controlEnvelope{}, ErrControlMessageTooLarge
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return controlEnvelope{}, err
	}
	return env, nil
}
