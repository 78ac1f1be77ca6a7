package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/outbox"
	"github.com/roach88/hrsync/internal/remote"
	"github.com/roach88/hrsync/internal/repo"
	"github.com/roach88/hrsync/internal/store"
	"github.com/roach88/hrsync/internal/testutil"
)

// fixture wires a coordinator to a temp store and an in-memory remote.
type fixture struct {
	path   string
	st     *store.Store
	repo   *repo.Repository
	queue  *outbox.Queue
	mem    *remote.Memory
	client remote.Client
	clock  *testutil.Clock
	coord  *Coordinator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		path:  filepath.Join(t.TempDir(), "test.db"),
		mem:   remote.NewMemory(),
		clock: testutil.NewClock(time.Time{}),
	}
	f.client = f.mem
	f.open(t, opts...)
	return f
}

// open (re)opens the store and rebuilds every component over it.
func (f *fixture) open(t *testing.T, opts ...Option) {
	t.Helper()
	st, err := store.Open(f.path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f.st = st
	f.repo = repo.New(st, repo.WithClock(f.clock.Now))
	f.queue = outbox.New(st, outbox.WithClock(f.clock.Now))
	f.rebuild(opts...)
}

func (f *fixture) rebuild(opts ...Option) {
	base := []Option{
		WithNow(f.clock.Now),
		WithTokens(testutil.NewSeqGenerator("cycle")),
		WithCallTimeout(time.Second),
	}
	f.coord = New(f.repo, f.queue, f.client, f.st, append(base, opts...)...)
}

// wrap routes the coordinator through h.
func (f *fixture) wrap(h *hookClient, opts ...Option) {
	h.Client = f.mem
	f.client = h
	f.rebuild(opts...)
}

func (f *fixture) enqueue(t *testing.T, table ir.Table, op ir.Op, payload ir.Record) ir.Mutation {
	t.Helper()
	m, err := f.queue.Enqueue(context.Background(), ir.Mutation{Table: table, Op: op, Payload: payload})
	require.NoError(t, err)
	return m
}

func (f *fixture) pending(t *testing.T) []ir.Mutation {
	t.Helper()
	ms, err := f.queue.Pending(context.Background())
	require.NoError(t, err)
	return ms
}

func (f *fixture) local(t *testing.T, table ir.Table, id string) ir.Record {
	t.Helper()
	rec, err := f.repo.GetOne(context.Background(), table, id)
	require.NoError(t, err)
	return rec
}

// hookClient runs before ahead of every call to the wrapped client.
type hookClient struct {
	remote.Client
	before func(ctx context.Context, op string, table ir.Table) error
}

func (h *hookClient) hook(ctx context.Context, op string, table ir.Table) error {
	if h.before == nil {
		return nil
	}
	return h.before(ctx, op, table)
}

func (h *hookClient) List(ctx context.Context, table ir.Table) ([]ir.Record, error) {
	if err := h.hook(ctx, "list", table); err != nil {
		return nil, err
	}
	return h.Client.List(ctx, table)
}

func (h *hookClient) Insert(ctx context.Context, table ir.Table, rec ir.Record) (ir.Record, error) {
	if err := h.hook(ctx, "insert", table); err != nil {
		return nil, err
	}
	return h.Client.Insert(ctx, table, rec)
}

func (h *hookClient) Update(ctx context.Context, table ir.Table, id string, partial ir.Record) error {
	if err := h.hook(ctx, "update", table); err != nil {
		return err
	}
	return h.Client.Update(ctx, table, id, partial)
}

func (h *hookClient) Delete(ctx context.Context, table ir.Table, id string) error {
	if err := h.hook(ctx, "delete", table); err != nil {
		return err
	}
	return h.Client.Delete(ctx, table, id)
}

func transient(op string, table ir.Table) error {
	return &remote.Error{Kind: remote.KindTransient, Status: 503, Table: table, Op: op, Err: context.DeadlineExceeded}
}

func callStrings(calls []remote.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}
