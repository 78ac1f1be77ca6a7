package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/outbox"
	"github.com/roach88/hrsync/internal/remote"
	"github.com/roach88/hrsync/internal/repo"
	"github.com/roach88/hrsync/internal/store"
)

// Delivery says what happened to a write after it was applied locally.
type Delivery string

const (
	// DeliverySent means the remote accepted the write.
	DeliverySent Delivery = "sent"

	// DeliveryQueued means the write waits in the outbox for the next push.
	DeliveryQueued Delivery = "queued"

	// DeliveryRejected means the remote refused the write. It is kept in
	// the outbox, marked rejected, until retried or cleared.
	DeliveryRejected Delivery = "rejected"
)

// WriteResult is returned by every Writer call.
type WriteResult struct {
	Record   ir.Record `json:"record,omitempty"`
	Delivery Delivery  `json:"delivery"`

	// Key is the outbox key when the write was queued or rejected.
	Key int64 `json:"key,omitempty"`
}

// Validator checks a payload before it is written.
type Validator interface {
	Validate(table ir.Table, op ir.Op, rec ir.Record) error
}

// Writer applies writes locally, then delivers them to the remote or queues
// them.
//
// A write is sent directly only when online() is true and the outbox has no
// pending mutations. Otherwise it is queued behind them, so the remote sees
// writes in the order they were made.
type Writer struct {
	repo        *repo.Repository
	queue       *outbox.Queue
	remote      remote.Client
	online      func() bool
	ids         IDGenerator
	validator   Validator
	callTimeout time.Duration
	logger      *slog.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithIDs sets the generator for ids of records inserted without one.
func WithIDs(g IDGenerator) WriterOption {
	return func(w *Writer) {
		w.ids = g
	}
}

// WithValidator checks every payload before anything is written.
func WithValidator(v Validator) WriterOption {
	return func(w *Writer) {
		w.validator = v
	}
}

// WithWriterLogger sets the logger. Defaults to slog.Default().
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = l
	}
}

// WithWriterCallTimeout bounds the direct remote call.
func WithWriterCallTimeout(d time.Duration) WriterOption {
	return func(w *Writer) {
		w.callTimeout = d
	}
}

// NewWriter creates a Writer. online reports current connectivity; a nil
// online means always offline.
func NewWriter(r *repo.Repository, q *outbox.Queue, client remote.Client, online func() bool, opts ...WriterOption) *Writer {
	if online == nil {
		online = func() bool { return false }
	}
	w := &Writer{
		repo:        r,
		queue:       q,
		remote:      client,
		online:      online,
		ids:         UUIDv7Generator{},
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Insert stores rec locally and delivers it. A record without an id gets
// one from the id generator.
func (w *Writer) Insert(ctx context.Context, table ir.Table, rec ir.Record) (WriteResult, error) {
	rec = rec.Clone()
	if rec == nil {
		rec = ir.Record{}
	}
	if _, ok := rec.ID(); !ok {
		rec["id"] = w.ids.Generate()
	}
	if err := w.validate(table, ir.OpInsert, rec); err != nil {
		return WriteResult{}, err
	}

	if err := w.repo.PutOne(ctx, table, rec); err != nil {
		return WriteResult{}, fmt.Errorf("insert %s: %w", table, err)
	}

	res, err := w.deliver(ctx, ir.Mutation{Table: table, Op: ir.OpInsert, Payload: rec})
	if res.Record == nil {
		res.Record = rec
	}
	return res, err
}

// Update merges partial into the local record and delivers the partial.
// A record missing locally is created from partial.
func (w *Writer) Update(ctx context.Context, table ir.Table, partial ir.Record) (WriteResult, error) {
	id, ok := partial.ID()
	if !ok {
		return WriteResult{}, fmt.Errorf("update %s: payload must contain id", table)
	}
	if err := w.validate(table, ir.OpUpdate, partial); err != nil {
		return WriteResult{}, err
	}

	current, err := w.repo.GetOne(ctx, table, id)
	if err != nil && !store.IsNotFound(err) {
		return WriteResult{}, fmt.Errorf("update %s/%s: %w", table, id, err)
	}
	merged := current.Merge(partial)

	if err := w.repo.PutOne(ctx, table, merged); err != nil {
		return WriteResult{}, fmt.Errorf("update %s/%s: %w", table, id, err)
	}

	res, err := w.deliver(ctx, ir.Mutation{Table: table, Op: ir.OpUpdate, Payload: partial.Clone()})
	res.Record = merged
	return res, err
}

// Delete removes the record locally and delivers the delete.
func (w *Writer) Delete(ctx context.Context, table ir.Table, id string) (WriteResult, error) {
	payload := ir.Record{"id": id}
	if err := w.validate(table, ir.OpDelete, payload); err != nil {
		return WriteResult{}, err
	}

	if err := w.repo.Remove(ctx, table, id); err != nil {
		return WriteResult{}, fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return w.deliver(ctx, ir.Mutation{Table: table, Op: ir.OpDelete, Payload: payload})
}

func (w *Writer) validate(table ir.Table, op ir.Op, rec ir.Record) error {
	if !table.Valid() {
		return fmt.Errorf("%s: unknown table %q", op, table)
	}
	if w.validator == nil {
		return nil
	}
	return w.validator.Validate(table, op, rec)
}

// deliver sends m when that keeps remote order intact, and queues it
// otherwise.
func (w *Writer) deliver(ctx context.Context, m ir.Mutation) (WriteResult, error) {
	log := w.logger.With("table", m.Table, "op", m.Op, "id", m.RecordID())

	if !w.online() {
		log.Debug("offline, queueing write")
		return w.enqueue(ctx, m)
	}

	backlog, err := w.queue.PendingLen(ctx)
	if err != nil {
		return WriteResult{}, fmt.Errorf("deliver %s %s: %w", m.Op, m.Table, err)
	}
	if backlog > 0 {
		log.Debug("outbox not empty, queueing write", "pending", backlog)
		return w.enqueue(ctx, m)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if w.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, w.callTimeout)
	}
	created, sendErr := replay(callCtx, w.remote, m)
	cancel()

	switch {
	case sendErr == nil:
		res := WriteResult{Delivery: DeliverySent}
		if m.Op == ir.OpInsert && created != nil {
			if id, ok := created.ID(); ok && id == m.RecordID() {
				if err := w.repo.PutOne(ctx, m.Table, created); err != nil {
					log.Warn("cannot store remote copy", "error", err)
				} else {
					res.Record = created
				}
			}
		}
		return res, nil

	case remote.IsRejected(sendErr):
		log.Warn("write rejected by remote", "error", sendErr)
		res, err := w.enqueue(ctx, m)
		if err != nil {
			return res, err
		}
		if err := w.queue.MarkRejected(ctx, res.Key, sendErr.Error()); err != nil {
			return res, err
		}
		res.Delivery = DeliveryRejected
		return res, sendErr

	default:
		log.Info("remote unavailable, queueing write", "error", sendErr)
		return w.enqueue(ctx, m)
	}
}

func (w *Writer) enqueue(ctx context.Context, m ir.Mutation) (WriteResult, error) {
	queued, err := w.queue.Enqueue(ctx, m)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Delivery: DeliveryQueued, Key: queued.Key}, nil
}
