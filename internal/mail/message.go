// Package mail defines the queue's entities: messages, their priority tiers,
// delivery log entries and suppression entries.
package mail

import (
	"time"

	"github.com/google/uuid"
)

// Message is one queued email addressed to a single recipient.
type Message struct {
	ID        uuid.UUID
	To        string
	From      string
	Subject   string
	Body      string
	HTMLBody  string // empty when the message has no HTML alternative
	WhenAdded time.Time
	Priority  Priority
}

// TimePrecision is the resolution timestamps are stored at. PostgreSQL keeps
// microseconds, so every backend truncates to it.
const TimePrecision = time.Microsecond

// NewMessage creates a Message with a generated ID and the current time.
// A zero priority is replaced by DefaultPriority.
func NewMessage(to, from, subject, body, htmlBody string, priority Priority) *Message {
	if priority == 0 {
		priority = DefaultPriority
	}
	return &Message{
		ID:        uuid.New(),
		To:        to,
		From:      from,
		Subject:   subject,
		Body:      body,
		HTMLBody:  htmlBody,
		WhenAdded: time.Now().UTC().Truncate(TimePrecision),
		Priority:  priority,
	}
}

// HasHTML reports whether the message carries an HTML alternative.
func (m *Message) HasHTML() bool {
	return m.HTMLBody != ""
}

// Clone returns a copy of m that shares no state with it.
func (m *Message) Clone() *Message {
	c := *m
	return &c
}

// LogEntry records one delivery attempt. Its message fields are copied at
// attempt time and never change afterwards.
type LogEntry struct {
	ID            uuid.UUID
	MessageID     uuid.UUID
	To            string
	From          string
	Subject       string
	Body          string
	HTMLBody      string
	WhenAdded     time.Time
	Priority      Priority
	WhenAttempted time.Time
	Result        Result
	Note          string
}

// SuppressionEntry is an address that must never receive mail.
type SuppressionEntry struct {
	Address   string
	WhenAdded time.Time
}
