package maillog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sungwon/mailqueue/internal/mail"
)

// Archiver receives purged entries before they are deleted. Purge reads the
// object back to confirm the write, and removes it again when it does not
// match.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// archivedEntry is the JSON-lines form of a purged entry.
type archivedEntry struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"message_id"`
	To            string    `json:"to_address"`
	From          string    `json:"from_address"`
	Subject       string    `json:"subject"`
	Body          string    `json:"message_body"`
	HTMLBody      string    `json:"message_html_body,omitempty"`
	WhenAdded     time.Time `json:"when_added"`
	Priority      string    `json:"priority"`
	WhenAttempted time.Time `json:"when_attempted"`
	Result        string    `json:"result"`
	Note          string    `json:"log_message,omitempty"`
}

// Purge deletes the entries matching f. When archive is non-nil, the entries
// are first written to it as JSON lines and read back; nothing is deleted
// unless the stored object matches. It returns the number of entries deleted.
func Purge(ctx context.Context, log Log, archive Archiver, f Filter) (int, error) {
	f.Limit = 0

	if archive != nil {
		entries, err := log.Query(ctx, f)
		if err != nil {
			return 0, fmt.Errorf("query entries to purge: %w", err)
		}
		if len(entries) == 0 {
			return 0, nil
		}

		data, err := encodeEntries(entries)
		if err != nil {
			return 0, err
		}
		if err := storeVerified(ctx, archive, archiveKey(f, entries), data); err != nil {
			return 0, err
		}
	}

	n, err := log.Delete(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("delete purged entries: %w", err)
	}
	return n, nil
}

func storeVerified(ctx context.Context, archive Archiver, key string, data []byte) error {
	if err := archive.Put(ctx, key, data); err != nil {
		return fmt.Errorf("archive purged entries: %w", err)
	}
	stored, err := archive.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read back archive %s: %w", key, err)
	}
	if !bytes.Equal(stored, data) {
		if err := archive.Delete(ctx, key); err != nil {
			return fmt.Errorf("archive %s is corrupt and could not be removed: %w", key, err)
		}
		return fmt.Errorf("archive %s: stored %d bytes, wrote %d", key, len(stored), len(data))
	}
	return nil
}

func encodeEntries(entries []mail.LogEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(archivedEntry{
			ID:            e.ID.String(),
			MessageID:     e.MessageID.String(),
			To:            e.To,
			From:          e.From,
			Subject:       e.Subject,
			Body:          e.Body,
			HTMLBody:      e.HTMLBody,
			WhenAdded:     e.WhenAdded,
			Priority:      e.Priority.String(),
			WhenAttempted: e.WhenAttempted,
			Result:        e.Result.String(),
			Note:          e.Note,
		}); err != nil {
			return nil, fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// archiveKey names the archive object after the attempt-time range it covers.
func archiveKey(f Filter, entries []mail.LogEntry) string {
	const layout = "20060102T150405Z"

	from := f.Since
	if from.IsZero() {
		from = entries[0].WhenAttempted
	}
	to := f.Until
	if to.IsZero() {
		to = entries[len(entries)-1].WhenAttempted
	}
	return fmt.Sprintf("maillog/%s_%s.jsonl", from.UTC().Format(layout), to.UTC().Format(layout))
}
