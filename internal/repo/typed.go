package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/hrsync/internal/ir"
)

// Typed is a view of one table that decodes records into T.
//
// T is decoded through encoding/json, so its field tags decide the mapping.
// Fields of the stored record that T does not declare are dropped on Put.
type Typed[T any] struct {
	repo  *Repository
	table ir.Table
}

// NewTyped binds a typed view to a table.
func NewTyped[T any](r *Repository, table ir.Table) *Typed[T] {
	return &Typed[T]{repo: r, table: table}
}

// Get decodes the record with the given id.
func (t *Typed[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	rec, err := t.repo.GetOne(ctx, t.table, id)
	if err != nil {
		return zero, err
	}
	return decodeInto[T](rec)
}

// All decodes every record, shaped by q.
func (t *Typed[T]) All(ctx context.Context, q *Query) ([]T, error) {
	records, err := t.repo.GetAll(ctx, t.table, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		v, err := decodeInto[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Put encodes v and upserts it. The encoded form must carry an id.
func (t *Typed[T]) Put(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.table, err)
	}
	rec, err := ir.DecodeRecord(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.table, err)
	}
	return t.repo.PutOne(ctx, t.table, rec)
}

func decodeInto[T any](rec ir.Record) (T, error) {
	var v T
	data, err := ir.MarshalRecord(rec)
	if err != nil {
		return v, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("decode record: %w", err)
	}
	return v, nil
}
