package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/hrsync/internal/ir"
)

// Collection names one physical collection inside the store.
type Collection string

const (
	// CollectionOutbox holds queued mutations.
	CollectionOutbox Collection = "outbox"

	// CollectionMeta holds engine bookkeeping.
	CollectionMeta Collection = "meta"
)

// RecordCollection returns the collection backing a record table.
func RecordCollection(t ir.Table) Collection {
	return Collection("rec_" + string(t))
}

// valid reports whether c is the outbox, meta, or a known record table.
func (c Collection) valid() bool {
	if c == CollectionOutbox || c == CollectionMeta {
		return true
	}
	for _, t := range ir.Tables() {
		if c == RecordCollection(t) {
			return true
		}
	}
	return false
}

// ident returns the quoted SQL identifier for the collection.
func (c Collection) ident() string {
	return `"` + string(c) + `"`
}

// Mode selects read-only or read-write access.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// ErrReadOnly is returned when a write is attempted in a ReadOnly transaction.
var ErrReadOnly = errors.New("write in read-only transaction")

// Tx is a transaction scoped to a single collection.
//
// By convention statements name the collection through Ident rather than a
// literal, so each transaction only touches its own collection. Tx does not
// parse SQL; Exec still refuses writes in ReadOnly mode.
type Tx struct {
	tx         *sql.Tx
	collection Collection
	mode       Mode
}

// Collection returns the collection this transaction is scoped to.
func (t *Tx) Collection() Collection {
	return t.collection
}

// Ident returns the quoted SQL identifier of the scoped collection.
func (t *Tx) Ident() string {
	return t.collection.ident()
}

// Exec runs a write statement. Fails with ErrReadOnly in ReadOnly mode.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if t.mode != ReadWrite {
		return nil, ErrReadOnly
	}
	return t.tx.ExecContext(ctx, query, args...)
}

// Query runs a statement that returns rows. Callers close the rows.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRow runs a statement expected to return at most one row.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// RunInTx executes fn inside a transaction on exactly one collection.
//
// The transaction commits only if fn returns nil. Any error returned by fn
// aborts the transaction, so no statement issued inside it becomes visible,
// and is returned to the caller wrapped in *Error.
func (s *Store) RunInTx(ctx context.Context, c Collection, mode Mode, fn func(tx *Tx) error) error {
	if !c.valid() {
		return &Error{Op: "transaction", Collection: c, Err: fmt.Errorf("unknown collection")}
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "begin", Collection: c, Err: err}
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{tx: sqlTx, collection: c, mode: mode}); err != nil {
		return &Error{Op: mode.String(), Collection: c, Err: err}
	}

	if err := sqlTx.Commit(); err != nil {
		return &Error{Op: "commit", Collection: c, Err: err}
	}
	return nil
}
