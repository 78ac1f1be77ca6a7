package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/hrsync/internal/engine"
	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/outbox"
	"github.com/roach88/hrsync/internal/remote"
	"github.com/roach88/hrsync/internal/repo"
	"github.com/roach88/hrsync/internal/schema"
	"github.com/roach88/hrsync/internal/store"
	"github.com/roach88/hrsync/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios against a real store, writer and coordinator backed by
// an in-memory remote, with deterministic clock, ids and cycle tokens.
type Harness struct {
	path      string
	store     *store.Store
	repo      *repo.Repository
	queue     *outbox.Queue
	remote    *remote.Memory
	coord     *engine.Coordinator
	writer    *engine.Writer
	validator *schema.Validator
	clock     *testutil.Clock
	ids       *testutil.SeqGenerator
	tokens    *testutil.SeqGenerator
	seq       *engine.Clock
	online    bool
	traced    int // remote calls already in the trace
	logger    *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh database in a temporary directory, removed
// afterwards. Deterministic helpers ensure reproducible traces.
//
// Execution flow:
// 1. Create a fresh database and in-memory remote
// 2. Seed local and remote records
// 3. Execute steps, checking expect clauses
// 4. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "hrsync-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	v, err := schema.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	h := &Harness{
		path:      filepath.Join(dir, "scenario.db"),
		remote:    remote.NewMemory(),
		validator: v,
		clock:     testutil.NewClock(time.Time{}),
		ids:       testutil.NewSeqGenerator("rec"),
		tokens:    testutil.NewSeqGenerator("cycle"),
		seq:       engine.NewClock(),
		online:    scenario.Online,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	if err := h.open(); err != nil {
		return nil, err
	}
	defer func() { _ = h.store.Close() }()

	ctx := context.Background()

	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.clock.Advance(time.Second)
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute steps[%d]: %w", i, err)
		}
	}

	actx := &AssertionContext{
		Ctx:    ctx,
		Repo:   h.repo,
		Queue:  h.queue,
		Remote: h.remote,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// open (re)creates every component on top of the database file.
func (h *Harness) open() error {
	st, err := store.Open(h.path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	h.store = st
	h.repo = repo.New(st, repo.WithClock(h.clock.Now))
	h.queue = outbox.New(st, outbox.WithClock(h.clock.Now))
	h.coord = engine.New(h.repo, h.queue, h.remote, st,
		engine.WithTokens(h.tokens),
		engine.WithNow(h.clock.Now),
		engine.WithPullConcurrency(1), // list calls in table order
		engine.WithLogger(h.logger))
	h.writer = engine.NewWriter(h.repo, h.queue, h.remote,
		func() bool { return h.online },
		engine.WithIDs(h.ids),
		engine.WithValidator(h.validator),
		engine.WithWriterLogger(h.logger))
	return nil
}

func (h *Harness) seed(ctx context.Context, s *Scenario) error {
	for _, name := range sortedKeys(s.Local) {
		table, _ := ir.ParseTable(name)
		recs := toRecords(s.Local[name])
		if err := h.repo.PutMany(ctx, table, recs); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(s.Remote) {
		table, _ := ir.ParseTable(name)
		h.remote.Seed(table, toRecords(s.Remote[name])...)
	}
	return nil
}

// executeStep runs one step and appends its trace events. Unmet expect
// clauses are recorded as result errors; only infrastructure failures are
// returned.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	switch step.kind() {
	case "insert", "update", "delete":
		return h.executeWrite(ctx, index, step, result)

	case "sync":
		h.executeSync(ctx, index, step, result)
		return nil

	case "set_online":
		h.online = *step.SetOnline
		h.control(result, fmt.Sprintf("set_online %t", h.online), nil)

	case "remote_down":
		h.remote.SetDown(*step.RemoteDown)
		h.control(result, fmt.Sprintf("remote_down %t", *step.RemoteDown), nil)

	case "fail_next":
		h.remote.FailNext(step.FailNext)
		h.control(result, fmt.Sprintf("fail_next %d", step.FailNext), nil)

	case "reject":
		table, _ := ir.ParseTable(step.Reject.Table)
		h.remote.Reject(table, step.Reject.ID, step.Reject.Reason)
		h.control(result, fmt.Sprintf("reject %s/%s", table, step.Reject.ID), nil)

	case "retry_rejected":
		n, err := h.queue.Retry(ctx)
		if err != nil {
			return err
		}
		h.control(result, "retry_rejected", map[string]any{"retried": n})

	case "reopen":
		if err := h.store.Close(); err != nil {
			return fmt.Errorf("close store: %w", err)
		}
		if err := h.open(); err != nil {
			return err
		}
		h.control(result, "reopen", nil)
	}
	return nil
}

func (h *Harness) control(result *Result, action string, res map[string]any) {
	result.addTrace(EventControl, action, res, h.seq.Next())
}

func (h *Harness) executeWrite(ctx context.Context, index int, step Step, result *Result) error {
	table, _ := ir.ParseTable(step.table())

	var (
		res engine.WriteResult
		err error
		op  ir.Op
		id  string
	)
	switch step.kind() {
	case "insert":
		op = ir.OpInsert
		res, err = h.writer.Insert(ctx, table, ir.Record(step.Record))
		id, _ = res.Record.ID()
		if id == "" {
			id, _ = ir.Record(step.Record).ID()
		}
	case "update":
		op = ir.OpUpdate
		res, err = h.writer.Update(ctx, table, ir.Record(step.Record))
		id, _ = ir.Record(step.Record).ID()
	default:
		op = ir.OpDelete
		id = step.ID
		res, err = h.writer.Delete(ctx, table, id)
	}

	h.flushCalls(result)

	traced := map[string]any{}
	if res.Delivery != "" {
		traced["delivery"] = string(res.Delivery)
	}
	if res.Key != 0 {
		traced["key"] = res.Key
	}
	if err != nil && res.Delivery == "" {
		traced["error"] = err.Error()
	}
	result.addTrace(EventWrite, fmt.Sprintf("%s %s/%s", op, table, id), traced, h.seq.Next())

	if step.Expect != nil && step.Expect.Delivery != "" && string(res.Delivery) != step.Expect.Delivery {
		msg := fmt.Sprintf("steps[%d]: expected delivery %q, got %q", index, step.Expect.Delivery, res.Delivery)
		if err != nil {
			msg += fmt.Sprintf(" (error: %v)", err)
		}
		result.AddError(msg)
	}
	return nil
}

func (h *Harness) executeSync(ctx context.Context, index int, step Step, result *Result) {
	traced := map[string]any{}
	var (
		push *engine.PushResult
		pull *engine.PullResult
		err  error
	)

	switch step.Sync {
	case "full":
		var res engine.Result
		res, err = h.coord.FullSync(ctx)
		if res.Token != "" {
			traced["cycle"] = res.Token
		}
		push, pull = &res.Push, &res.Pull
	case "push":
		var res engine.PushResult
		res, err = h.coord.SyncUp(ctx)
		push = &res
	case "pull":
		var res engine.PullResult
		res, err = h.coord.SyncDown(ctx)
		pull = &res
	}

	h.flushCalls(result)

	if push != nil {
		traced["sent"] = len(push.Sent)
		traced["rejected"] = len(push.Rejected)
		traced["remaining"] = len(push.Remaining)
	}
	if pull != nil {
		traced["pulled"] = pull.Total()
	}
	label := errorLabel(err)
	traced["error"] = label
	result.addTrace(EventSync, "sync "+step.Sync, traced, h.seq.Next())

	if step.Expect == nil {
		return
	}
	exp := step.Expect
	switch {
	case exp.Error == "" || exp.Error == "any" && err != nil:
	case exp.Error == "any":
		result.AddError(fmt.Sprintf("steps[%d]: expected a sync error, got none", index))
	case !strings.Contains(label, exp.Error):
		result.AddError(fmt.Sprintf("steps[%d]: expected sync error %q, got %q (%v)", index, exp.Error, label, err))
	}

	check := func(name string, want *int, got any) {
		if want == nil {
			return
		}
		n, ok := got.(int)
		if !ok {
			result.AddError(fmt.Sprintf("steps[%d]: %s is not reported by sync %s", index, name, step.Sync))
			return
		}
		if n != *want {
			result.AddError(fmt.Sprintf("steps[%d]: expected %s=%d, got %d", index, name, *want, n))
		}
	}
	check("sent", exp.Sent, traced["sent"])
	check("rejected", exp.Rejected, traced["rejected"])
	check("remaining", exp.Remaining, traced["remaining"])
	check("pulled", exp.Pulled, traced["pulled"])
}

// errorLabel names a sync error for traces: "none", one or more of
// "push_incomplete" and "pull_incomplete" joined by "+", "sync_in_progress",
// or "error".
func errorLabel(err error) string {
	if err == nil {
		return "none"
	}
	if engine.IsSyncInProgress(err) {
		return "sync_in_progress"
	}
	var labels []string
	if engine.IsPushIncomplete(err) {
		labels = append(labels, "push_incomplete")
	}
	if engine.IsPullIncomplete(err) {
		labels = append(labels, "pull_incomplete")
	}
	if len(labels) == 0 {
		return "error"
	}
	return strings.Join(labels, "+")
}

// flushCalls appends the remote calls made since the last flush.
func (h *Harness) flushCalls(result *Result) {
	calls := h.remote.Calls()
	for _, c := range calls[h.traced:] {
		result.addTrace(EventCall, c.String(), nil, h.seq.Next())
	}
	h.traced = len(calls)
}

func toRecords(rows []map[string]any) []ir.Record {
	out := make([]ir.Record, len(rows))
	for i, row := range rows {
		out[i] = ir.Record(row)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
