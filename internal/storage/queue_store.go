package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/queue"
)

const defaultPageSize = 100

var messageColumns = []string{
	"id",
	"to_address",
	"from_address",
	"subject",
	"message_body",
	"message_body_html",
	"when_added",
	"priority",
	"seq",
}

// QueueStore is the PostgreSQL queue.Store. Claims hold a transaction with a
// FOR UPDATE SKIP LOCKED row lock until they are finished.
type QueueStore struct {
	db       *DB
	sb       sq.StatementBuilderType
	schema   Schema
	pageSize int
}

var _ queue.Store = (*QueueStore)(nil)

// NewQueueStore creates a QueueStore over the schema's message and log
// tables. pageSize bounds how many rows Pending fetches per round trip.
func NewQueueStore(db *DB, schema Schema, pageSize int) *QueueStore {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &QueueStore{
		db:       db,
		sb:       sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		schema:   schema,
		pageSize: pageSize,
	}
}

func (s *QueueStore) Enqueue(ctx context.Context, msg *mail.Message) error {
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

	q := s.sb.
		Insert(s.schema.Messages).
		Columns(messageColumns[:8]...).
		Values(msg.ID, msg.To, msg.From, msg.Subject, msg.Body, msg.HTMLBody, msg.WhenAdded, msg.Priority.Code())

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build message insert: %w", err)
	}
	if _, err := s.db.Pool.Exec(ctx, sqlStr, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("enqueue %s: duplicate message id", msg.ID)
		}
		return persistErr("insert message", err)
	}

	queue.MessagesEnqueuedTotal.Inc()
	return nil
}

// Pending pages through the table with a keyset on (priority, when_added,
// seq), so each page is a short query and no cursor is held while the
// caller processes messages.
func (s *QueueStore) Pending(ctx context.Context, priorities ...mail.Priority) iter.Seq2[*mail.Message, error] {
	return func(yield func(*mail.Message, error) bool) {
		filter, err := queue.ActiveFilter(priorities)
		if err != nil {
			yield(nil, err)
			return
		}

		var after *pageKey
		for {
			page, last, err := s.fetchPage(ctx, filter, after)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, msg := range page {
				if !yield(msg, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = last
		}
	}
}

func (s *QueueStore) Deferred(ctx context.Context) iter.Seq2[*mail.Message, error] {
	return s.Pending(ctx, mail.Deferred)
}

type pageKey struct {
	priority  int
	whenAdded time.Time
	seq       int64
}

func (s *QueueStore) fetchPage(ctx context.Context, priorities []mail.Priority, after *pageKey) ([]*mail.Message, *pageKey, error) {
	q := s.sb.
		Select(messageColumns...).
		From(s.schema.Messages).
		Where(sq.Eq{"priority": priorityCodes(priorities)}).
		OrderBy("priority", "when_added", "seq").
		Limit(uint64(s.pageSize))
	if after != nil {
		q = q.Where(sq.Expr("(priority, when_added, seq) > (?, ?, ?)", after.priority, after.whenAdded, after.seq))
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, nil, fmt.Errorf("build pending select: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, nil, persistErr("query pending messages", err)
	}
	defer rows.Close()

	page := make([]*mail.Message, 0, s.pageSize)
	var last pageKey
	for rows.Next() {
		msg, seq, err := scanMessage(rows)
		if err != nil {
			return nil, nil, err
		}
		page = append(page, msg)
		last = pageKey{priority: msg.Priority.Code(), whenAdded: msg.WhenAdded, seq: seq}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, persistErr("iterate pending messages", err)
	}
	return page, &last, nil
}

func (s *QueueStore) Get(ctx context.Context, id uuid.UUID) (*mail.Message, error) {
	q := s.sb.Select(messageColumns...).From(s.schema.Messages).Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build message select: %w", err)
	}

	msg, _, err := scanMessage(s.db.Pool.QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	return msg, err
}

func (s *QueueStore) Defer(ctx context.Context, id uuid.UUID) error {
	n, err := s.exec(ctx, "defer message", s.sb.
		Update(s.schema.Messages).
		Set("priority", mail.Deferred.Code()).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	if n == 0 {
		return queue.ErrNotFound
	}
	return nil
}

func (s *QueueStore) Retry(ctx context.Context, id uuid.UUID, newPriority mail.Priority) (bool, error) {
	if !newPriority.Valid() || newPriority.IsDeferred() {
		return false, fmt.Errorf("retry %s: %w: code %d", id, mail.ErrInvalidPriority, int(newPriority))
	}

	n, err := s.exec(ctx, "retry message", s.sb.
		Update(s.schema.Messages).
		Set("priority", newPriority.Code()).
		Where(sq.Eq{"id": id, "priority": mail.Deferred.Code()}))
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// Nothing updated: either the message is active or it does not exist.
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *QueueStore) RetryAllDeferred(ctx context.Context, newPriority mail.Priority) (int, error) {
	if !newPriority.Valid() || newPriority.IsDeferred() {
		return 0, fmt.Errorf("retry deferred: %w: code %d", mail.ErrInvalidPriority, int(newPriority))
	}
	n, err := s.exec(ctx, "retry deferred messages", s.sb.
		Update(s.schema.Messages).
		Set("priority", newPriority.Code()).
		Where(sq.Eq{"priority": mail.Deferred.Code()}))
	return int(n), err
}

func (s *QueueStore) Remove(ctx context.Context, id uuid.UUID) error {
	n, err := s.exec(ctx, "delete message", s.sb.Delete(s.schema.Messages).Where(sq.Eq{"id": id}))
	if err != nil {
		return err
	}
	if n == 0 {
		return queue.ErrNotFound
	}
	return nil
}

func (s *QueueStore) Count(ctx context.Context) (map[mail.Priority]int, error) {
	q := s.sb.Select("priority", "COUNT(*)").From(s.schema.Messages).GroupBy("priority")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count select: %w", err)
	}

	rows, err := s.db.Pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, persistErr("count messages", err)
	}
	defer rows.Close()

	counts := make(map[mail.Priority]int, 4)
	for rows.Next() {
		var (
			code  int16
			count int64
		)
		if err := rows.Scan(&code, &count); err != nil {
			return nil, persistErr("scan message count", err)
		}
		p, err := mail.PriorityFromCode(int(code))
		if err != nil {
			return nil, err
		}
		counts[p] = int(count)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate message counts", err)
	}
	return counts, nil
}

// ClaimNext opens a transaction and locks the first eligible row. Rows
// locked by other dispatchers are skipped rather than waited on.
func (s *QueueStore) ClaimNext(ctx context.Context, opts queue.ClaimOptions) (queue.Claim, error) {
	filter, err := queue.ActiveFilter(opts.Priorities)
	if err != nil {
		return nil, err
	}

	q := s.sb.
		Select(messageColumns...).
		From(s.schema.Messages).
		Where(sq.Lt{"priority": mail.Deferred.Code()}).
		Where(sq.Eq{"priority": priorityCodes(filter)}).
		OrderBy("priority", "when_added", "seq").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED")
	if !opts.EnqueuedBefore.IsZero() {
		q = q.Where(sq.LtOrEq{"when_added": opts.EnqueuedBefore})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim select: %w", err)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, persistErr("begin claim", err)
	}

	msg, _, err := scanMessage(tx.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrEmpty
		}
		return nil, err
	}

	return &pgClaim{store: s, tx: tx, msg: msg}, nil
}

func (s *QueueStore) exec(ctx context.Context, op string, b sq.Sqlizer) (int64, error) {
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build %s: %w", op, err)
	}
	tag, err := s.db.Pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, persistErr(op, err)
	}
	return tag.RowsAffected(), nil
}

// pgClaim owns the transaction that locks its message row.
type pgClaim struct {
	store *QueueStore
	tx    pgx.Tx
	msg   *mail.Message
	done  bool
}

func (c *pgClaim) Message() *mail.Message {
	return c.msg
}

func (c *pgClaim) Complete(ctx context.Context, entry *mail.LogEntry) error {
	return c.commit(ctx, entry, c.store.sb.Delete(c.store.schema.Messages).Where(sq.Eq{"id": c.msg.ID}))
}

func (c *pgClaim) Defer(ctx context.Context, entry *mail.LogEntry) error {
	return c.commit(ctx, entry, c.store.sb.
		Update(c.store.schema.Messages).
		Set("priority", mail.Deferred.Code()).
		Where(sq.Eq{"id": c.msg.ID}))
}

func (c *pgClaim) Release(ctx context.Context) error {
	if c.done {
		return queue.ErrClaimClosed
	}
	c.done = true
	if err := c.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return persistErr("release claim", err)
	}
	return nil
}

// commit writes the log entry and applies mutation in the claim transaction.
// On any error the transaction is rolled back and the message is untouched.
func (c *pgClaim) commit(ctx context.Context, entry *mail.LogEntry, mutation sq.Sqlizer) error {
	if c.done {
		return queue.ErrClaimClosed
	}
	c.done = true

	if err := c.apply(ctx, entry, mutation); err != nil {
		_ = c.tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	if err := c.tx.Commit(ctx); err != nil {
		return persistErr(fmt.Sprintf("commit claim %s", c.msg.ID), err)
	}
	return nil
}

func (c *pgClaim) apply(ctx context.Context, entry *mail.LogEntry, mutation sq.Sqlizer) error {
	if err := insertLogEntry(ctx, c.tx, c.store.sb, c.store.schema.Log, entry); err != nil {
		return err
	}

	sqlStr, args, err := mutation.ToSql()
	if err != nil {
		return fmt.Errorf("build claim mutation: %w", err)
	}
	if _, err := c.tx.Exec(ctx, sqlStr, args...); err != nil {
		return persistErr(fmt.Sprintf("update claimed message %s", c.msg.ID), err)
	}
	return nil
}

func priorityCodes(priorities []mail.Priority) []int {
	codes := make([]int, len(priorities))
	for i, p := range priorities {
		codes[i] = p.Code()
	}
	return codes
}

// scanMessage reads one row selected with messageColumns.
func scanMessage(row pgx.Row) (*mail.Message, int64, error) {
	var (
		msg  mail.Message
		code int16
		seq  int64
	)
	err := row.Scan(
		&msg.ID,
		&msg.To,
		&msg.From,
		&msg.Subject,
		&msg.Body,
		&msg.HTMLBody,
		&msg.WhenAdded,
		&code,
		&seq,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, err
	}
	if err != nil {
		return nil, 0, persistErr("scan message", err)
	}

	msg.WhenAdded = msg.WhenAdded.UTC()
	msg.Priority, err = mail.PriorityFromCode(int(code))
	if err != nil {
		return nil, 0, err
	}
	return &msg, seq, nil
}
