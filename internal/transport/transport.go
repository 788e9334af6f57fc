// Package transport delivers a single message to a mail server or a
// development sink.
package transport

import (
	"context"
	"fmt"

	"github.com/sungwon/mailqueue/internal/mail"
)

// Transport hands one message to the outside world. A nil error means the
// message was accepted.
type Transport interface {
	Send(ctx context.Context, env *Envelope) error
	// Name identifies the transport in logs and errors (e.g. "smtp").
	Name() string
}

// Envelope is what a transport needs to deliver one message.
type Envelope struct {
	ID       string
	From     string
	To       string
	Subject  string
	Body     string
	HTMLBody string
}

// EnvelopeFor builds the envelope for a queued message.
func EnvelopeFor(msg *mail.Message) *Envelope {
	return &Envelope{
		ID:       msg.ID.String(),
		From:     msg.From,
		To:       msg.To,
		Subject:  msg.Subject,
		Body:     msg.Body,
		HTMLBody: msg.HTMLBody,
	}
}

// New creates the transport selected by cfg.Type.
func New(cfg Config) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	switch cfg.Type {
	case TypeSMTP:
		return NewSMTP(cfg), nil
	case TypeStdout:
		return NewStdout(cfg), nil
	case TypeFile:
		return NewFile(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}

func wrap(name string, err error) error {
	if err == nil {
		return nil
	}
	return &mail.TransportError{Transport: name, Err: err}
}
