// Package queue holds pending messages and hands them out to dispatchers in
// priority order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/mailqueue/internal/mail"
)

var (
	// ErrNotFound is returned when a message is not in the queue.
	ErrNotFound = errors.New("queue: message not found")

	// ErrEmpty is returned by ClaimNext when no message is eligible.
	ErrEmpty = errors.New("queue: no eligible message")

	// ErrClaimClosed is returned when a claim is used after it was finished.
	ErrClaimClosed = errors.New("queue: claim already finished")
)

// Store is the persistent collection of pending messages. A message's
// priority is the only record of whether it is active or deferred.
type Store interface {
	// Enqueue persists a new message. A zero priority becomes the default.
	Enqueue(ctx context.Context, msg *mail.Message) error

	// Pending yields messages ordered by priority, then insertion. With no
	// arguments it yields every active tier; deferred messages are only
	// included when mail.Deferred is passed explicitly.
	Pending(ctx context.Context, priorities ...mail.Priority) iter.Seq2[*mail.Message, error]

	// Deferred yields every deferred message in insertion order.
	Deferred(ctx context.Context) iter.Seq2[*mail.Message, error]

	Get(ctx context.Context, id uuid.UUID) (*mail.Message, error)

	// Defer moves a message to the deferred tier. It is idempotent.
	Defer(ctx context.Context, id uuid.UUID) error

	// Retry moves a deferred message to newPriority and reports true. A
	// message that is not deferred is left untouched and Retry reports false.
	Retry(ctx context.Context, id uuid.UUID, newPriority mail.Priority) (bool, error)

	// RetryAllDeferred retries every deferred message and returns the count.
	RetryAllDeferred(ctx context.Context, newPriority mail.Priority) (int, error)

	Remove(ctx context.Context, id uuid.UUID) error

	// Count returns the number of queued messages per priority.
	Count(ctx context.Context) (map[mail.Priority]int, error)

	// ClaimNext locks the most eligible active message for the caller.
	// It returns ErrEmpty when nothing is eligible.
	ClaimNext(ctx context.Context, opts ClaimOptions) (Claim, error)
}

// ClaimOptions narrows which messages ClaimNext may hand out.
type ClaimOptions struct {
	// Priorities restricts the claim to these tiers. Empty means every active
	// tier. Deferred is never claimable.
	Priorities []mail.Priority
	// EnqueuedBefore excludes messages added after this instant when set.
	EnqueuedBefore time.Time
}

// Claim is exclusive ownership of one pending message. Exactly one of
// Complete, Defer or Release must be called; each commits as a single unit.
// A failed Complete or Defer still ends the claim and leaves the message as
// it was before the claim.
type Claim interface {
	Message() *mail.Message

	// Complete appends entry to the delivery log and removes the message.
	Complete(ctx context.Context, entry *mail.LogEntry) error

	// Defer appends entry to the delivery log and moves the message to the
	// deferred tier.
	Defer(ctx context.Context, entry *mail.LogEntry) error

	// Release gives the message back without changing it.
	Release(ctx context.Context) error
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[*mail.Message, error]) ([]*mail.Message, error) {
	var out []*mail.Message
	for msg, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// ActiveFilter validates a Pending/ClaimNext priority filter and expands an
// empty one to every active tier.
func ActiveFilter(priorities []mail.Priority) ([]mail.Priority, error) {
	if len(priorities) == 0 {
		return mail.ActivePriorities(), nil
	}
	for _, p := range priorities {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: code %d", mail.ErrInvalidPriority, int(p))
		}
	}
	return priorities, nil
}
