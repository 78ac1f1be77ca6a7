package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/store"
)

// Repository reads and writes records in the local store.
type Repository struct {
	st  *store.Store
	now func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides the time source used for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		r.now = now
	}
}

// New creates a Repository over st.
func New(st *store.Store, opts ...Option) *Repository {
	r := &Repository{st: st, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PutMany upserts items in a single transaction. Either every item is
// written or none is.
func (r *Repository) PutMany(ctx context.Context, table ir.Table, items []ir.Record) error {
	if len(items) == 0 {
		return nil
	}

	bodies := make([]string, len(items))
	ids := make([]string, len(items))
	for i, item := range items {
		id, ok := item.ID()
		if !ok {
			return fmt.Errorf("put %s: item %d has no id", table, i)
		}
		body, err := ir.MarshalRecord(item)
		if err != nil {
			return fmt.Errorf("put %s/%s: %w", table, id, err)
		}
		ids[i] = id
		bodies[i] = string(body)
	}

	stamp := r.now().UnixMilli()
	return r.st.RunInTx(ctx, store.RecordCollection(table), store.ReadWrite, func(tx *store.Tx) error {
		query := fmt.Sprintf(`
			INSERT INTO %s (id, body, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
		`, tx.Ident())
		for i := range items {
			if _, err := tx.Exec(ctx, query, ids[i], bodies[i], stamp); err != nil {
				return fmt.Errorf("upsert %s: %w", ids[i], err)
			}
		}
		return nil
	})
}

// PutOne upserts a single record.
func (r *Repository) PutOne(ctx context.Context, table ir.Table, item ir.Record) error {
	return r.PutMany(ctx, table, []ir.Record{item})
}

// GetOne returns the record with the given id.
// Returns an error wrapping store.ErrNotFound if it does not exist.
func (r *Repository) GetOne(ctx context.Context, table ir.Table, id string) (ir.Record, error) {
	var body string
	err := r.st.RunInTx(ctx, store.RecordCollection(table), store.ReadOnly, func(tx *store.Tx) error {
		return tx.QueryRow(ctx, fmt.Sprintf(`SELECT body FROM %s WHERE id = ?`, tx.Ident()), id).Scan(&body)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return ir.DecodeRecord([]byte(body))
}

// Remove deletes the record with the given id. Removing an absent id is not
// an error.
func (r *Repository) Remove(ctx context.Context, table ir.Table, id string) error {
	return r.st.RunInTx(ctx, store.RecordCollection(table), store.ReadWrite, func(tx *store.Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tx.Ident()), id)
		return err
	})
}

// Clear deletes every record in the table.
func (r *Repository) Clear(ctx context.Context, table ir.Table) error {
	return r.st.RunInTx(ctx, store.RecordCollection(table), store.ReadWrite, func(tx *store.Tx) error {
		_, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, tx.Ident()))
		return err
	})
}

// GetAll returns every record in the table, shaped by q when non-nil.
// Without an ordering, records come back in id order.
//
// Returns an empty slice (not nil) for an empty table.
func (r *Repository) GetAll(ctx context.Context, table ir.Table, q *Query) ([]ir.Record, error) {
	var records []ir.Record
	err := r.st.RunInTx(ctx, store.RecordCollection(table), store.ReadOnly, func(tx *store.Tx) error {
		rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT body FROM %s ORDER BY id ASC`, tx.Ident()))
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var body string
			if err := rows.Scan(&body); err != nil {
				return err
			}
			rec, err := ir.DecodeRecord([]byte(body))
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", table, err)
	}

	records = q.apply(records)
	if records == nil {
		records = []ir.Record{}
	}
	return records, nil
}

// Count returns the number of records in the table.
func (r *Repository) Count(ctx context.Context, table ir.Table) (int, error) {
	var n int
	err := r.st.RunInTx(ctx, store.RecordCollection(table), store.ReadOnly, func(tx *store.Tx) error {
		return tx.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tx.Ident())).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
