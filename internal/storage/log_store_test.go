//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/maillog"
	"github.com/sungwon/mailqueue/internal/storage"
)

func TestLogStore_QueryFilters(t *testing.T) {
	db := setupTestDB(t, storage.DefaultSchema)
	s := storage.NewLogStore(db, storage.DefaultSchema)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []struct {
		to     string
		result mail.Result
	}{
		{"a@example.com", mail.ResultSuccess},
		{"b@example.com", mail.ResultFailure},
		{"spam@example.com", mail.ResultSuppressed},
		{"a@example.com", mail.ResultFailure},
	}
	for i, e := range seed {
		msg := mail.NewMessage(e.to, "from@example.org", "s", "b", "", mail.Medium)
		if err := s.Append(ctx, maillog.Record(msg, e.result, "", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter maillog.Filter
		want   int
	}{
		{name: "all", filter: maillog.Filter{}, want: 4},
		{name: "failures", filter: maillog.Filter{Results: []mail.Result{mail.ResultFailure}}, want: 2},
		{name: "address", filter: maillog.Filter{Address: "a@example.com"}, want: 2},
		{name: "half open range", filter: maillog.Filter{Since: base.Add(time.Minute), Until: base.Add(3 * time.Minute)}, want: 2},
		{name: "limit", filter: maillog.Filter{Limit: 3}, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Query returned %d entries, want %d", len(got), tt.want)
			}
		})
	}

	n, err := s.Delete(ctx, maillog.Filter{Results: []mail.Result{mail.ResultSuccess}})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Errorf("Delete removed %d entries, want 1", n)
	}
}
