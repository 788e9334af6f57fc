//go:build integration

package storage_test

import (
	"context"
	"testing"

	"github.com/sungwon/mailqueue/internal/storage"
)

func TestSuppressionStore(t *testing.T) {
	db := setupTestDB(t, storage.MailerSchema)
	s := storage.NewSuppressionStore(db, storage.MailerSchema)
	ctx := context.Background()

	if err := s.Add(ctx, "spam@example.com"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	first, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if err := s.Add(ctx, "spam@example.com"); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	second, _ := s.List(ctx)
	if len(second) != 1 || !second[0].WhenAdded.Equal(first[0].WhenAdded) {
		t.Errorf("List after duplicate Add = %+v, want original entry %+v", second, first)
	}

	ok, err := s.Contains(ctx, "spam@example.com")
	if err != nil || !ok {
		t.Errorf("Contains = %v, %v; want true", ok, err)
	}
	if ok, _ := s.Contains(ctx, "SPAM@example.com"); ok {
		t.Error("address comparison must be exact")
	}

	removed, err := s.Remove(ctx, "spam@example.com")
	if err != nil || !removed {
		t.Errorf("Remove = %v, %v; want true", removed, err)
	}
	if ok, _ := s.Contains(ctx, "spam@example.com"); ok {
		t.Error("address still suppressed after Remove")
	}
}
