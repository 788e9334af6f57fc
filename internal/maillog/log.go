// Package maillog is the append-only record of delivery attempts.
package maillog

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/mailqueue/internal/mail"
)

// Log stores delivery log entries. Entries are never modified once appended;
// Delete exists only for retention purges.
type Log interface {
	Append(ctx context.Context, entry *mail.LogEntry) error
	Query(ctx context.Context, f Filter) ([]mail.LogEntry, error)
	Delete(ctx context.Context, f Filter) (int, error)
}

// Filter selects log entries. Zero-valued fields match everything.
type Filter struct {
	// Results restricts entries to the listed result codes.
	Results []mail.Result
	// Address matches the recipient exactly as stored.
	Address string
	// Since and Until bound WhenAttempted as [Since, Until).
	Since time.Time
	Until time.Time
	// Limit caps the number of entries returned by Query. Zero means no limit.
	Limit int
}

// Match reports whether e satisfies every predicate of f. Limit is ignored.
func (f Filter) Match(e *mail.LogEntry) bool {
	if len(f.Results) > 0 && !slices.Contains(f.Results, e.Result) {
		return false
	}
	if f.Address != "" && e.To != f.Address {
		return false
	}
	if !f.Since.IsZero() && e.WhenAttempted.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.WhenAttempted.Before(f.Until) {
		return false
	}
	return true
}

// Record snapshots msg into a new log entry. The entry copies every field, so
// later changes to msg do not affect it.
func Record(msg *mail.Message, result mail.Result, note string, now time.Time) *mail.LogEntry {
	return &mail.LogEntry{
		ID:            uuid.New(),
		MessageID:     msg.ID,
		To:            msg.To,
		From:          msg.From,
		Subject:       msg.Subject,
		Body:          msg.Body,
		HTMLBody:      msg.HTMLBody,
		WhenAdded:     msg.WhenAdded,
		Priority:      msg.Priority,
		WhenAttempted: now.UTC().Truncate(mail.TimePrecision),
		Result:        result,
		Note:          note,
	}
}
