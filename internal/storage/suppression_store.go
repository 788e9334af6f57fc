package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/suppression"
)

// SuppressionStore is the PostgreSQL suppression.List.
type SuppressionStore struct {
	db     *DB
	sb     sq.StatementBuilderType
	schema Schema
}

var _ suppression.List = (*SuppressionStore)(nil)

func NewSuppressionStore(db *DB, schema Schema) *SuppressionStore {
	return &SuppressionStore{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		schema: schema,
	}
}

func (s *SuppressionStore) Contains(ctx context.Context, address string) (bool, error) {
	q := s.sb.
		Select("1").
		Prefix("SELECT EXISTS (").
		From(s.schema.Suppressions).
		Where(sq.Eq{"to_address": address}).
		Suffix(")")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build suppression lookup: %w", err)
	}

	var exists bool
	if err := s.db.Pool.QueryRow(ctx, sqlStr, args...).Scan(&exists); err != nil {
		return false, persistErr(fmt.Sprintf("check suppression %s", address), err)
	}
	return exists, nil
}

func (s *SuppressionStore) Add(ctx context.Context, address string) error {
	q := s.sb.
		Insert(s.schema.Suppressions).
		Columns("to_address", "when_added").
		Values(address, time.Now().UTC()).
		Suffix("ON CONFLICT (to_address) DO NOTHING")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build suppression insert: %w", err)
	}
	if _, err := s.db.Pool.Exec(ctx, sqlStr, args...); err != nil {
		return persistErr(fmt.Sprintf("add suppression %s", address), err)
	}
	return nil
}

func (s *SuppressionStore) Remove(ctx context.Context, address string) (bool, error) {
	q := s.sb.Delete(s.schema.Suppressions).Where(sq.Eq{"to_address": address})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build suppression delete: %w", err)
	}
	tag, err := s.db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return false, persistErr(fmt.Sprintf("remove suppression %s", address), err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *SuppressionStore) List(ctx context.Context) ([]mail.SuppressionEntry, error) {
	q := s.sb.Select("to_address", "when_added").From(s.schema.Suppressions).OrderBy("to_address")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build suppression select: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, persistErr("list suppressions", err)
	}
	defer rows.Close()

	var out []mail.SuppressionEntry
	for rows.Next() {
		var e mail.SuppressionEntry
		if err := rows.Scan(&e.Address, &e.WhenAdded); err != nil {
			return nil, persistErr("scan suppression", err)
		}
		e.WhenAdded = e.WhenAdded.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate suppressions", err)
	}
	return out, nil
}
