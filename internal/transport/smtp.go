package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	netmail "net/mail"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"gopkg.in/gomail.v2"
)

// SMTP relays messages to a mail server. gomail renders the MIME message and
// go-smtp speaks the protocol. The connection is closed as soon as ctx is
// done, so a stalled server never outlives the send.
type SMTP struct {
	addr     string
	username string
	password string
	ssl      bool
	tls      *tls.Config
	// timeout caps a whole session, whatever deadline ctx carries.
	timeout time.Duration
}

func NewSMTP(cfg Config) *SMTP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SMTP{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		username: cfg.Username,
		password: cfg.Password,
		ssl:      cfg.SSL,
		tls: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		timeout: timeout,
	}
}

func (s *SMTP) Name() string { return TypeSMTP }

func (s *SMTP) Send(ctx context.Context, env *Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.deliver(ctx, env)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return wrap(s.Name(), err)
}

func (s *SMTP) deliver(ctx context.Context, env *Envelope) error {
	from, err := envelopeAddress(env.From)
	if err != nil {
		return err
	}
	to, err := envelopeAddress(env.To)
	if err != nil {
		return err
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	defer raw.Close()

	// Closing the socket unblocks whatever command is waiting on it.
	stop := context.AfterFunc(ctx, func() {
		_ = raw.Close()
	})
	defer stop()

	conn := raw
	if s.ssl {
		conn = tls.Client(raw, s.tls)
	}
	c := gosmtp.NewClient(conn)
	defer c.Close()

	if !s.ssl {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(s.tls); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if s.username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			return fmt.Errorf("auth %s: %w", s.username, err)
		}
	}

	if err := c.Mail(from, nil); err != nil {
		return fmt.Errorf("mail from %s: %w", from, err)
	}
	if err := c.Rcpt(to, nil); err != nil {
		return fmt.Errorf("rcpt to %s: %w", to, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := buildMessage(env).WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data: %w", err)
	}

	// The server has accepted the message; a failed QUIT changes nothing.
	_ = c.Quit()
	return nil
}

// envelopeAddress strips a display name for the MAIL FROM / RCPT TO commands.
func envelopeAddress(addr string) (string, error) {
	parsed, err := netmail.ParseAddress(addr)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", addr, err)
	}
	return parsed.Address, nil
}

func buildMessage(env *Envelope) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", env.From)
	m.SetHeader("To", env.To)
	m.SetHeader("Subject", env.Subject)
	m.SetBody("text/plain", env.Body)
	if env.HTMLBody != "" {
		m.AddAlternative("text/html", env.HTMLBody)
	}
	return m
}
