package queue

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/maillog"
)

// memEntry is a queued message plus its insertion sequence, which breaks
// ties between messages added at the same instant.
type memEntry struct {
	msg *mail.Message
	seq uint64
}

// Memory is an in-process Store. Claims are committed together with the
// paired delivery log under a single lock, so the commit is atomic within
// the process.
type Memory struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*memEntry
	claimed  map[uuid.UUID]struct{}
	nextSeq  uint64
	log      maillog.Log
}

// NewMemory creates an empty in-memory queue whose claims write to log.
func NewMemory(log maillog.Log) *Memory {
	return &Memory{
		messages: make(map[uuid.UUID]*memEntry),
		claimed:  make(map[uuid.UUID]struct{}),
		log:      log,
	}
}

func (m *Memory) Enqueue(_ context.Context, msg *mail.Message) error {
	if msg.Priority == 0 {
		msg.Priority = mail.DefaultPriority
	}
	if !msg.Priority.Valid() {
		return fmt.Errorf("enqueue %s: %w: code %d", msg.ID, mail.ErrInvalidPriority, int(msg.Priority))
	}
	if msg.WhenAdded.IsZero() {
		msg.WhenAdded = time.Now().UTC()
	}
	msg.WhenAdded = msg.WhenAdded.Truncate(mail.TimePrecision)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messages[msg.ID]; exists {
		return fmt.Errorf("enqueue %s: duplicate message id", msg.ID)
	}
	m.nextSeq++
	m.messages[msg.ID] = &memEntry{msg: msg.Clone(), seq: m.nextSeq}

	MessagesEnqueuedTotal.Inc()
	return nil
}

func (m *Memory) Pending(_ context.Context, priorities ...mail.Priority) iter.Seq2[*mail.Message, error] {
	return func(yield func(*mail.Message, error) bool) {
		filter, err := ActiveFilter(priorities)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, msg := range m.snapshot(filter) {
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (m *Memory) Deferred(ctx context.Context) iter.Seq2[*mail.Message, error] {
	return m.Pending(ctx, mail.Deferred)
}

// snapshot copies the messages in the given tiers, sorted for dispatch.
func (m *Memory) snapshot(priorities []mail.Priority) []*mail.Message {
	m.mu.Lock()
	entries := make([]*memEntry, 0, len(m.messages))
	for _, e := range m.messages {
		if slices.Contains(priorities, e.msg.Priority) {
			entries = append(entries, &memEntry{msg: e.msg.Clone(), seq: e.seq})
		}
	}
	m.mu.Unlock()

	sortEntries(entries)

	out := make([]*mail.Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

func sortEntries(entries []*memEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.msg.Priority != b.msg.Priority {
			return a.msg.Priority.Less(b.msg.Priority)
		}
		if !a.msg.WhenAdded.Equal(b.msg.WhenAdded) {
			return a.msg.WhenAdded.Before(b.msg.WhenAdded)
		}
		return a.seq < b.seq
	})
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*mail.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.msg.Clone(), nil
}

func (m *Memory) Defer(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	e.msg.Priority = mail.Deferred
	return nil
}

func (m *Memory) Retry(_ context.Context, id uuid.UUID, newPriority mail.Priority) (bool, error) {
	if !newPriority.Valid() || newPriority.IsDeferred() {
		return false, fmt.Errorf("retry %s: %w: code %d", id, mail.ErrInvalidPriority, int(newPriority))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.messages[id]
	if !ok {
		return false, ErrNotFound
	}
	if !e.msg.Priority.IsDeferred() {
		return false, nil
	}
	e.msg.Priority = newPriority
	return true, nil
}

func (m *Memory) RetryAllDeferred(_ context.Context, newPriority mail.Priority) (int, error) {
	if !newPriority.Valid() || newPriority.IsDeferred() {
		return 0, fmt.Errorf("retry deferred: %w: code %d", mail.ErrInvalidPriority, int(newPriority))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, e := range m.messages {
		if e.msg.Priority.IsDeferred() {
			e.msg.Priority = newPriority
			count++
		}
	}
	return count, nil
}

func (m *Memory) Remove(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	delete(m.claimed, id)
	return nil
}

func (m *Memory) Count(_ context.Context) (map[mail.Priority]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[mail.Priority]int, 4)
	for _, e := range m.messages {
		counts[e.msg.Priority]++
	}
	return counts, nil
}

func (m *Memory) ClaimNext(_ context.Context, opts ClaimOptions) (Claim, error) {
	filter, err := ActiveFilter(opts.Priorities)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*memEntry
	for id, e := range m.messages {
		if _, taken := m.claimed[id]; taken {
			continue
		}
		if e.msg.Priority.IsDeferred() || !slices.Contains(filter, e.msg.Priority) {
			continue
		}
		if !opts.EnqueuedBefore.IsZero() && e.msg.WhenAdded.After(opts.EnqueuedBefore) {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, ErrEmpty
	}

	sortEntries(candidates)
	next := candidates[0]
	m.claimed[next.msg.ID] = struct{}{}

	return &memClaim{store: m, msg: next.msg.Clone()}, nil
}

// memClaim is a Claim on a Memory store.
type memClaim struct {
	store *Memory
	msg   *mail.Message
	done  bool
}

func (c *memClaim) Message() *mail.Message {
	return c.msg
}

func (c *memClaim) Complete(ctx context.Context, entry *mail.LogEntry) error {
	return c.finish(ctx, entry, func(m *Memory) {
		delete(m.messages, c.msg.ID)
	})
}

func (c *memClaim) Defer(ctx context.Context, entry *mail.LogEntry) error {
	return c.finish(ctx, entry, func(m *Memory) {
		if e, ok := m.messages[c.msg.ID]; ok {
			e.msg.Priority = mail.Deferred
		}
	})
}

func (c *memClaim) Release(ctx context.Context) error {
	return c.finish(ctx, nil, func(*Memory) {})
}

// finish writes entry (if any) and applies mutate while holding the store
// lock, then drops the claim. If the log write fails nothing is mutated and
// the claim is still dropped.
func (c *memClaim) finish(ctx context.Context, entry *mail.LogEntry, mutate func(*Memory)) error {
	m := c.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.done {
		return ErrClaimClosed
	}
	c.done = true
	delete(m.claimed, c.msg.ID)

	if entry != nil {
		if err := m.log.Append(ctx, entry); err != nil {
			return fmt.Errorf("append log entry for %s: %w: %w", c.msg.ID, mail.ErrPersistence, err)
		}
	}
	mutate(m)
	return nil
}
