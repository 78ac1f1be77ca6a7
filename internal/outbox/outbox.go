package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/store"
)

// Queue is the persistent mutation queue.
type Queue struct {
	st  *store.Store
	now func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source used for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates a Queue over st.
func New(st *store.Store, opts ...Option) *Queue {
	q := &Queue{st: st, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates m and appends it to the queue. The returned mutation
// carries the assigned key and timestamp. The write is durable once Enqueue
// returns.
func (q *Queue) Enqueue(ctx context.Context, m ir.Mutation) (ir.Mutation, error) {
	if err := m.Validate(); err != nil {
		return ir.Mutation{}, err
	}

	payload, err := ir.MarshalRecord(m.Payload)
	if err != nil {
		return ir.Mutation{}, fmt.Errorf("enqueue %s %s: %w", m.Op, m.Table, err)
	}

	m.CreatedAt = q.now().UTC().Truncate(time.Millisecond)
	m.Status = ir.StatusPending
	m.Attempts = 0
	m.LastError = ""

	err = q.st.RunInTx(ctx, store.CollectionOutbox, store.ReadWrite, func(tx *store.Tx) error {
		res, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (table_name, op, payload, created_at, status)
			VALUES (?, ?, ?, ?, ?)
		`, tx.Ident()), string(m.Table), string(m.Op), string(payload), m.CreatedAt.UnixMilli(), string(m.Status))
		if err != nil {
			return err
		}
		m.Key, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return ir.Mutation{}, fmt.Errorf("enqueue %s %s: %w", m.Op, m.Table, err)
	}
	return m, nil
}

// List returns every queued mutation, rejected ones included, in key order.
func (q *Queue) List(ctx context.Context) ([]ir.Mutation, error) {
	return q.query(ctx, "")
}

// Pending returns the mutations the next push will replay, in key order.
func (q *Queue) Pending(ctx context.Context) ([]ir.Mutation, error) {
	return q.query(ctx, ir.StatusPending)
}

func (q *Queue) query(ctx context.Context, status ir.MutationStatus) ([]ir.Mutation, error) {
	var out []ir.Mutation
	err := q.st.RunInTx(ctx, store.CollectionOutbox, store.ReadOnly, func(tx *store.Tx) error {
		query := `SELECT key, table_name, op, payload, created_at, status, attempts, last_error FROM ` + tx.Ident()
		var args []any
		if status != "" {
			query += ` WHERE status = ?`
			args = append(args, string(status))
		}
		query += ` ORDER BY key ASC`

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMutation(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	if out == nil {
		out = []ir.Mutation{}
	}
	return out, nil
}

func scanMutation(rows *sql.Rows) (ir.Mutation, error) {
	var (
		m         ir.Mutation
		table, op string
		payload   string
		createdAt int64
		status    string
	)
	if err := rows.Scan(&m.Key, &table, &op, &payload, &createdAt, &status, &m.Attempts, &m.LastError); err != nil {
		return ir.Mutation{}, fmt.Errorf("scan mutation: %w", err)
	}

	rec, err := ir.DecodeRecord([]byte(payload))
	if err != nil {
		return ir.Mutation{}, fmt.Errorf("mutation %d: %w", m.Key, err)
	}

	m.Table = ir.Table(table)
	m.Op = ir.Op(op)
	m.Payload = rec
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	m.Status = ir.MutationStatus(status)
	return m, nil
}

// Len returns the number of queued mutations, rejected ones included.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.st.RunInTx(ctx, store.CollectionOutbox, store.ReadOnly, func(tx *store.Tx) error {
		return tx.QueryRow(ctx, `SELECT COUNT(*) FROM `+tx.Ident()).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

// PendingLen returns the number of mutations the next push will replay.
func (q *Queue) PendingLen(ctx context.Context) (int, error) {
	var n int
	err := q.st.RunInTx(ctx, store.CollectionOutbox, store.ReadOnly, func(tx *store.Tx) error {
		return tx.QueryRow(ctx, `SELECT COUNT(*) FROM `+tx.Ident()+` WHERE status = ?`, string(ir.StatusPending)).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context) error {
	err := q.st.RunInTx(ctx, store.CollectionOutbox, store.ReadWrite, func(tx *store.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM `+tx.Ident())
		return err
	})
	if err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	return nil
}

// Remove deletes exactly the given keys in one transaction. Keys that are
// not queued are ignored. Mutations enqueued after the caller read the queue
// have keys outside the set and survive.
func (q *Queue) Remove(ctx context.Context, keys []int64) error {
	if len(keys) == 0 {
		return nil
	}
	err := q.st.RunInTx(ctx, store.CollectionOutbox, store.ReadWrite, func(tx *store.Tx) error {
		for _, chunk := range chunkKeys(keys, maxKeysPerStatement) {
			query := `DELETE FROM ` + tx.Ident() + ` WHERE key IN (` + placeholders(len(chunk)) + `)`
			if _, err := tx.Exec(ctx, query, keyArgs(chunk)...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove from outbox: %w", err)
	}
	return nil
}

// MarkRejected flags a mutation the remote refused. It stays queued but is
// no longer replayed until Retry.
func (q *Queue) MarkRejected(ctx context.Context, key int64, reason string) error {
	return q.update(ctx, "mark rejected", key, `
		UPDATE %s SET status = ?, attempts = attempts + 1, last_error = ? WHERE key = ?
	`, string(ir.StatusRejected), reason, key)
}

// RecordAttempt notes a failed send that will be retried by a later push.
func (q *Queue) RecordAttempt(ctx context.Context, key int64, reason string) error {
	return q.update(ctx, "record attempt", key, `
		UPDATE %s SET attempts = attempts + 1, last_error = ? WHERE key = ?
	`, reason, key)
}

// update runs a single-row statement; query has one %s for the table.
func (q *Queue) update(ctx context.Context, verb string, key int64, query string, args ...any) error {
	err := q.st.RunInTx(ctx, store.CollectionOutbox, store.ReadWrite, func(tx *store.Tx) error {
		res, err := tx.Exec(ctx, fmt.Sprintf(query, tx.Ident()), args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s %d: %w", verb, key, err)
	}
	return nil
}

// Retry returns rejected mutations to pending. With no keys every rejected
// mutation is retried. It returns how many mutations changed state.
func (q *Queue) Retry(ctx context.Context, keys ...int64) (int, error) {
	var total int64
	err := q.st.RunInTx(ctx, store.CollectionOutbox, store.ReadWrite, func(tx *store.Tx) error {
		base := `UPDATE ` + tx.Ident() + ` SET status = 'pending', last_error = '' WHERE status = 'rejected'`
		if len(keys) == 0 {
			res, err := tx.Exec(ctx, base)
			if err != nil {
				return err
			}
			total, err = res.RowsAffected()
			return err
		}
		for _, chunk := range chunkKeys(keys, maxKeysPerStatement) {
			res, err := tx.Exec(ctx, base+` AND key IN (`+placeholders(len(chunk))+`)`, keyArgs(chunk)...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("retry outbox: %w", err)
	}
	return int(total), nil
}

// SQLite limits host parameters per statement; stay well below it.
const maxKeysPerStatement = 500

func chunkKeys(keys []int64, size int) [][]int64 {
	var chunks [][]int64
	for len(keys) > size {
		chunks = append(chunks, keys[:size])
		keys = keys[size:]
	}
	if len(keys) > 0 {
		chunks = append(chunks, keys)
	}
	return chunks
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func keyArgs(keys []int64) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}
