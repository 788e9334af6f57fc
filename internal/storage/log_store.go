package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/maillog"
)

var logColumns = []string{
	"id",
	"message_id",
	"to_address",
	"from_address",
	"subject",
	"message_body",
	"message_body_html",
	"when_added",
	"priority",
	"when_attempted",
	"result",
	"log_message",
}

// LogStore is the PostgreSQL maillog.Log.
type LogStore struct {
	db     *DB
	sb     sq.StatementBuilderType
	schema Schema
}

var _ maillog.Log = (*LogStore)(nil)

func NewLogStore(db *DB, schema Schema) *LogStore {
	return &LogStore{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		schema: schema,
	}
}

func (s *LogStore) Append(ctx context.Context, entry *mail.LogEntry) error {
	return insertLogEntry(ctx, s.db.Pool, s.sb, s.schema.Log, entry)
}

func (s *LogStore) Query(ctx context.Context, f maillog.Filter) ([]mail.LogEntry, error) {
	q := s.sb.
		Select(logColumns...).
		From(s.schema.Log).
		OrderBy("when_attempted", "id")
	if cond := filterCondition(f); cond != nil {
		q = q.Where(cond)
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build log select: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, persistErr("query delivery log", err)
	}
	defer rows.Close()

	var out []mail.LogEntry
	for rows.Next() {
		var (
			e        mail.LogEntry
			priority int16
			result   int16
		)
		if err := rows.Scan(
			&e.ID,
			&e.MessageID,
			&e.To,
			&e.From,
			&e.Subject,
			&e.Body,
			&e.HTMLBody,
			&e.WhenAdded,
			&priority,
			&e.WhenAttempted,
			&result,
			&e.Note,
		); err != nil {
			return nil, persistErr("scan log entry", err)
		}
		if e.Priority, err = mail.PriorityFromCode(int(priority)); err != nil {
			return nil, err
		}
		if e.Result, err = mail.ResultFromCode(int(result)); err != nil {
			return nil, err
		}
		e.WhenAdded = e.WhenAdded.UTC()
		e.WhenAttempted = e.WhenAttempted.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate delivery log", err)
	}
	return out, nil
}

func (s *LogStore) Delete(ctx context.Context, f maillog.Filter) (int, error) {
	q := s.sb.Delete(s.schema.Log)
	if cond := filterCondition(f); cond != nil {
		q = q.Where(cond)
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build log delete: %w", err)
	}
	tag, err := s.db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, persistErr("delete log entries", err)
	}
	return int(tag.RowsAffected()), nil
}

// filterCondition translates f into a WHERE clause, or nil when f matches
// everything.
func filterCondition(f maillog.Filter) sq.Sqlizer {
	var and sq.And
	if len(f.Results) > 0 {
		codes := make([]int, len(f.Results))
		for i, r := range f.Results {
			codes[i] = r.Code()
		}
		and = append(and, sq.Eq{"result": codes})
	}
	if f.Address != "" {
		and = append(and, sq.Eq{"to_address": f.Address})
	}
	if !f.Since.IsZero() {
		and = append(and, sq.GtOrEq{"when_attempted": f.Since})
	}
	if !f.Until.IsZero() {
		and = append(and, sq.Lt{"when_attempted": f.Until})
	}
	if len(and) == 0 {
		return nil
	}
	return and
}

func insertLogEntry(ctx context.Context, q querier, sb sq.StatementBuilderType, table string, e *mail.LogEntry) error {
	ins := sb.
		Insert(table).
		Columns(logColumns...).
		Values(
			e.ID,
			e.MessageID,
			e.To,
			e.From,
			e.Subject,
			e.Body,
			e.HTMLBody,
			e.WhenAdded,
			e.Priority.Code(),
			e.WhenAttempted,
			e.Result.Code(),
			e.Note,
		)

	sqlStr, args, err := ins.ToSql()
	if err != nil {
		return fmt.Errorf("build log insert: %w", err)
	}
	if _, err := q.Exec(ctx, sqlStr, args...); err != nil {
		return persistErr(fmt.Sprintf("insert log entry for %s", e.MessageID), err)
	}
	return nil
}
