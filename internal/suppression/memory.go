package suppression

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sungwon/mailqueue/internal/mail"
)

// Memory is an in-process List.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) Contains(_ context.Context, address string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[address]
	return ok, nil
}

func (m *Memory) Add(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[address]; !ok {
		m.entries[address] = m.now().UTC()
	}
	return nil
}

func (m *Memory) Remove(_ context.Context, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[address]
	delete(m.entries, address)
	return ok, nil
}

func (m *Memory) List(_ context.Context) ([]mail.SuppressionEntry, error) {
	m.mu.RLock()
	out := make([]mail.SuppressionEntry, 0, len(m.entries))
	for addr, added := range m.entries {
		out = append(out, mail.SuppressionEntry{Address: addr, WhenAdded: added})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}
