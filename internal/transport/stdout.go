package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stdout prints messages instead of delivering them. Intended for
// development.
type Stdout struct {
	writer io.Writer
}

func NewStdout(_ Config) *Stdout {
	return &Stdout{writer: os.Stdout}
}

func (s *Stdout) Name() string { return TypeStdout }

func (s *Stdout) Send(_ context.Context, env *Envelope) error {
	var b strings.Builder
	b.WriteString("--- stdout transport: message ---\n")
	fmt.Fprintf(&b, "ID:      %s\n", env.ID)
	fmt.Fprintf(&b, "From:    %s\n", env.From)
	fmt.Fprintf(&b, "To:      %s\n", env.To)
	fmt.Fprintf(&b, "Subject: %s\n", env.Subject)
	fmt.Fprintf(&b, "Body:    (%d bytes)\n", len(env.Body))
	if env.HTMLBody != "" {
		fmt.Fprintf(&b, "HTML:    (%d bytes)\n", len(env.HTMLBody))
	}
	b.WriteString("--- end ---\n")

	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return wrap(s.Name(), fmt.Errorf("write: %w", err))
	}
	return nil
}
