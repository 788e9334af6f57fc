// Package mailer is the producer side of the queue. It turns a request for
// one email to many recipients into one queued message per recipient.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/queue"
	"github.com/sungwon/mailqueue/internal/transport"
)

// Request describes one email to any number of recipients.
type Request struct {
	Subject    string
	Body       string
	HTMLBody   string
	From       string
	Recipients []string
	// Priority is a symbolic name ("high", "medium", "low"). Empty means
	// the configured default.
	Priority string
	// Immediate sends through the transport now instead of queueing.
	Immediate bool
}

// Config holds producer defaults.
type Config struct {
	DefaultPriority mail.Priority
	// Immediate forces every request to bypass the queue.
	Immediate     bool
	Timeout       time.Duration
	ServerEmail   string
	SubjectPrefix string
	Admins        []string
	Managers      []string
}

// Mailer enqueues outgoing mail.
type Mailer struct {
	store     queue.Store
	transport transport.Transport
	log       zerolog.Logger
	cfg       Config
}

// New creates a Mailer. tr may be nil when immediate sending is never used.
func New(store queue.Store, tr transport.Transport, log zerolog.Logger, cfg Config) *Mailer {
	if cfg.DefaultPriority == 0 {
		cfg.DefaultPriority = mail.DefaultPriority
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Mailer{store: store, transport: tr, log: log, cfg: cfg}
}

// EnqueueMail stores one message per recipient and returns them in
// recipient order. Priority and every address are validated before anything
// is written. With no recipients it does nothing.
func (m *Mailer) EnqueueMail(ctx context.Context, req Request) ([]*mail.Message, error) {
	priority, err := m.priority(req.Priority)
	if err != nil {
		return nil, err
	}
	if len(req.Recipients) == 0 {
		return nil, nil
	}

	recipients := make([]string, len(req.Recipients))
	for i, rcpt := range req.Recipients {
		addr, err := NormalizeAddress(rcpt)
		if err != nil {
			return nil, err
		}
		recipients[i] = addr
	}

	msgs := make([]*mail.Message, len(recipients))
	for i, to := range recipients {
		msgs[i] = mail.NewMessage(to, req.From, req.Subject, req.Body, req.HTMLBody, priority)
	}

	if req.Immediate || m.cfg.Immediate {
		return msgs, m.sendNow(ctx, msgs)
	}

	for i, msg := range msgs {
		if err := m.store.Enqueue(ctx, msg); err != nil {
			m.log.Error().Err(err).
				Int("enqueued", i).
				Int("recipient_count", len(msgs)).
				Msg("failed to enqueue message")
			return msgs[:i], fmt.Errorf("enqueue message for %s: %w", msg.To, err)
		}
	}

	m.log.Info().
		Str("from", req.From).
		Str("priority", priority.String()).
		Int("recipient_count", len(msgs)).
		Msg("mail enqueued")

	return msgs, nil
}

// SendMail enqueues a plain-text message.
func (m *Mailer) SendMail(ctx context.Context, subject, body, from string, recipients []string, priority string) ([]*mail.Message, error) {
	return m.EnqueueMail(ctx, Request{
		Subject:    subject,
		Body:       body,
		From:       from,
		Recipients: recipients,
		Priority:   priority,
	})
}

// MailAdmins enqueues a message to the configured admins from ServerEmail.
// The subject gets SubjectPrefix.
func (m *Mailer) MailAdmins(ctx context.Context, subject, body, priority string) ([]*mail.Message, error) {
	return m.SendMail(ctx, m.cfg.SubjectPrefix+subject, body, m.cfg.ServerEmail, m.cfg.Admins, priority)
}

// MailManagers is MailAdmins for the configured managers.
func (m *Mailer) MailManagers(ctx context.Context, subject, body, priority string) ([]*mail.Message, error) {
	return m.SendMail(ctx, m.cfg.SubjectPrefix+subject, body, m.cfg.ServerEmail, m.cfg.Managers, priority)
}

func (m *Mailer) priority(name string) (mail.Priority, error) {
	if name == "" {
		return m.cfg.DefaultPriority, nil
	}
	p, err := mail.ParsePriority(name)
	if err != nil {
		return 0, err
	}
	if p.IsDeferred() {
		return 0, fmt.Errorf("%w: new mail cannot be deferred", mail.ErrInvalidPriority)
	}
	return p, nil
}

// sendNow hands every message to the transport. Nothing is queued or logged;
// a failure for one recipient does not stop the others.
func (m *Mailer) sendNow(ctx context.Context, msgs []*mail.Message) error {
	if m.transport == nil {
		return errors.New("immediate send requested but no transport is configured")
	}

	var errs []error
	for _, msg := range msgs {
		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
		err := m.transport.Send(sendCtx, transport.EnvelopeFor(msg))
		cancel()
		if err != nil {
			m.log.Warn().Err(err).Str("to", msg.To).Msg("immediate send failed")
			errs = append(errs, fmt.Errorf("send to %s: %w", msg.To, err))
			continue
		}
		m.log.Info().Str("to", msg.To).Str("transport", m.transport.Name()).Msg("mail sent immediately")
	}
	return errors.Join(errs...)
}
