// Package suppression tracks addresses that must never receive mail.
package suppression

import (
	"context"

	"github.com/sungwon/mailqueue/internal/mail"
)

// List is the set of suppressed recipient addresses. Addresses are compared
// exactly as stored.
type List interface {
	Contains(ctx context.Context, address string) (bool, error)

	// Add suppresses address. Adding an address twice keeps the first
	// WhenAdded.
	Add(ctx context.Context, address string) error

	// Remove reports whether the address was present.
	Remove(ctx context.Context, address string) (bool, error)

	// List returns every entry ordered by address.
	List(ctx context.Context) ([]mail.SuppressionEntry, error)
}
