package maillog

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/sungwon/mailqueue/internal/mail"
)

// Memory is an in-process Log. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries []mail.LogEntry
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{}
}

// Append stores a copy of entry.
func (m *Memory) Append(_ context.Context, entry *mail.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

// Query returns matching entries ordered by attempt time.
func (m *Memory) Query(_ context.Context, f Filter) ([]mail.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []mail.LogEntry
	for i := range m.entries {
		if f.Match(&m.entries[i]) {
			out = append(out, m.entries[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WhenAttempted.Equal(out[j].WhenAttempted) {
			return out[i].WhenAttempted.Before(out[j].WhenAttempted)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Delete removes matching entries and returns how many were removed.
func (m *Memory) Delete(_ context.Context, f Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	removed := 0
	for _, e := range m.entries {
		if f.Match(&e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
