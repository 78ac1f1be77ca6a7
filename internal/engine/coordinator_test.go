package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/remote"
	"github.com/roach88/hrsync/internal/testutil"
)

func TestSyncUp_ReplaysInKeyOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enqueue(t, ir.Employees, ir.OpInsert, ir.Record{"id": "x", "name": "X"})
	f.enqueue(t, ir.Employees, ir.OpUpdate, ir.Record{"id": "x", "name": "Y"})

	res, err := f.coord.SyncUp(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Sent, 2)
	assert.True(t, res.Complete())

	got, ok := f.mem.Get(ir.Employees, "x")
	require.True(t, ok)
	assert.Equal(t, "Y", got["name"])
	assert.Equal(t, []string{"insert employees/x", "update employees/x"}, callStrings(f.mem.Calls()))
	assert.Empty(t, f.pending(t))
}

func TestSyncUp_QueuedLeaveApprovalReplayedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.Seed(ir.LeaveRequests, ir.Record{"id": "lr1", "status": "pending", "days": json.Number("2")})

	f.enqueue(t, ir.LeaveRequests, ir.OpUpdate, ir.Record{"id": "lr1", "status": "approved"})

	_, err := f.coord.SyncUp(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"update leave_requests/lr1"}, callStrings(f.mem.Calls()))
	got, _ := f.mem.Get(ir.LeaveRequests, "lr1")
	assert.Equal(t, "approved", got["status"])
	assert.Equal(t, json.Number("2"), got["days"])

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// A second push has nothing left to send.
	f.mem.ResetCalls()
	res, err := f.coord.SyncUp(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Sent)
	assert.Empty(t, f.mem.Calls())
}

func TestSyncUp_RejectedDoesNotWedgeQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.Seed(ir.LeaveRequests, ir.Record{"id": "lr1"}, ir.Record{"id": "lr2"})
	f.mem.Reject(ir.LeaveRequests, "lr1", "leave balance exhausted")

	bad := f.enqueue(t, ir.LeaveRequests, ir.OpUpdate, ir.Record{"id": "lr1", "status": "approved"})
	good := f.enqueue(t, ir.LeaveRequests, ir.OpUpdate, ir.Record{"id": "lr2", "status": "approved"})

	res, err := f.coord.SyncUp(ctx)
	require.NoError(t, err, "rejections are reported, not returned")
	assert.Equal(t, []int64{good.Key}, res.Sent)
	assert.Equal(t, []int64{bad.Key}, res.Rejected)
	require.Len(t, res.Failed, 1)
	assert.True(t, res.Failed[0].Rejected)
	assert.Contains(t, res.Failed[0].Error, "leave balance exhausted")

	all, err := f.queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "the rejected mutation stays visible")
	assert.Equal(t, ir.StatusRejected, all[0].Status)
	assert.Empty(t, f.pending(t))

	got, _ := f.mem.Get(ir.LeaveRequests, "lr2")
	assert.Equal(t, "approved", got["status"])
}

func TestSyncUp_TransientFailureStopsDrain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.Seed(ir.Payroll, ir.Record{"id": "p1"}, ir.Record{"id": "p2"}, ir.Record{"id": "p3"})

	calls := 0
	f.wrap(&hookClient{before: func(ctx context.Context, op string, table ir.Table) error {
		calls++
		if calls == 2 {
			return transient(op, table)
		}
		return nil
	}})

	m1 := f.enqueue(t, ir.Payroll, ir.OpUpdate, ir.Record{"id": "p1", "status": "paid"})
	m2 := f.enqueue(t, ir.Payroll, ir.OpUpdate, ir.Record{"id": "p2", "status": "paid"})
	m3 := f.enqueue(t, ir.Payroll, ir.OpUpdate, ir.Record{"id": "p3", "status": "paid"})

	res, err := f.coord.SyncUp(ctx)
	require.Error(t, err)
	assert.True(t, IsPushIncomplete(err))
	assert.True(t, remote.IsTransient(err))

	assert.Equal(t, []int64{m1.Key}, res.Sent)
	assert.Equal(t, []int64{m2.Key, m3.Key}, res.Remaining)
	assert.False(t, res.Complete())

	left := f.pending(t)
	require.Len(t, left, 2)
	assert.Equal(t, m2.Key, left[0].Key)
	assert.Equal(t, 1, left[0].Attempts)
	assert.NotEmpty(t, left[0].LastError)
	assert.Equal(t, 0, left[1].Attempts, "mutations after the failure were never tried")

	// The next push picks up where the last one stopped.
	res, err = f.coord.SyncUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{m2.Key, m3.Key}, res.Sent)
	assert.Empty(t, f.pending(t))
}

func TestSyncUp_KeepsMutationsQueuedDuringDrain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var late ir.Mutation
	var once sync.Once
	f.wrap(&hookClient{before: func(ctx context.Context, op string, table ir.Table) error {
		once.Do(func() {
			late = f.enqueue(t, ir.Notifications, ir.OpInsert, ir.Record{"id": "n-late", "title": "late"})
		})
		return nil
	}})

	f.enqueue(t, ir.Notifications, ir.OpInsert, ir.Record{"id": "n1", "title": "first"})
	f.enqueue(t, ir.Notifications, ir.OpInsert, ir.Record{"id": "n2", "title": "second"})

	res, err := f.coord.SyncUp(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Sent, 2)

	left := f.pending(t)
	require.Len(t, left, 1)
	assert.Equal(t, late.Key, left[0].Key)
	_, ok := f.mem.Get(ir.Notifications, "n-late")
	assert.False(t, ok, "the late mutation was not part of this drain")
}

func TestSyncUp_CallTimeout(t *testing.T) {
	f := newFixture(t)
	f.wrap(&hookClient{before: func(ctx context.Context, op string, table ir.Table) error {
		<-ctx.Done()
		return &remote.Error{Kind: remote.KindTransient, Table: table, Op: op, Err: ctx.Err()}
	}}, WithCallTimeout(10*time.Millisecond))

	m := f.enqueue(t, ir.Attendance, ir.OpInsert, ir.Record{"id": "a1"})

	res, err := f.coord.SyncUp(context.Background())
	require.Error(t, err)
	assert.True(t, IsPushIncomplete(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, []int64{m.Key}, res.Remaining)
}

func TestSyncDown_FillsEmptyTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	remoteRecs := []ir.Record{
		{"id": "e1", "name": "Ana", "salary": json.Number("1200.50")},
		{"id": "e2", "name": "Bo", "tags": []any{"nurse", "night"}},
		{"id": "e3", "name": "Cy", "manager_id": nil},
	}
	f.mem.Seed(ir.Employees, remoteRecs...)

	res, err := f.coord.SyncDown(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total())
	require.Len(t, res.Tables, len(ir.Tables()))
	assert.Equal(t, ir.Employees, res.Tables[0].Table)

	got, err := f.repo.GetAll(ctx, ir.Employees, nil)
	require.NoError(t, err)
	assert.Equal(t, remoteRecs, got)

	_, ok, err := f.coord.LastSync(ctx, ir.MetaLastPull)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncDown_IsAdditive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.repo.PutOne(ctx, ir.Deployments, ir.Record{"id": "local-only", "site": "North"}))
	f.mem.Seed(ir.Deployments, ir.Record{"id": "d1", "site": "South"})

	_, err := f.coord.SyncDown(ctx)
	require.NoError(t, err)

	ids := make([]string, 0)
	all, err := f.repo.GetAll(ctx, ir.Deployments, nil)
	require.NoError(t, err)
	for _, rec := range all {
		id, _ := rec.ID()
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"d1", "local-only"}, ids)
}

func TestSyncDown_TableFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mem.Seed(ir.Employees, ir.Record{"id": "e1"})
	f.mem.Seed(ir.Payroll, ir.Record{"id": "p1"})

	f.wrap(&hookClient{before: func(ctx context.Context, op string, table ir.Table) error {
		if table == ir.Payroll {
			return transient(op, table)
		}
		return nil
	}})

	res, err := f.coord.SyncDown(ctx)
	require.Error(t, err)
	assert.True(t, IsPullIncomplete(err))
	assert.Equal(t, []ir.Table{ir.Payroll}, res.Failed())

	f.local(t, ir.Employees, "e1")
	_, err = f.repo.GetOne(ctx, ir.Payroll, "p1")
	assert.Error(t, err)

	_, ok, err := f.coord.LastSync(ctx, ir.MetaLastPull)
	require.NoError(t, err)
	assert.False(t, ok, "an incomplete pull is not recorded as done")
}

func TestSyncDown_DropsRowsWithoutID(t *testing.T) {
	f := newFixture(t)
	f.client = &listOverride{Client: f.mem, recs: []ir.Record{{"id": "s1"}, {"key": "orphan"}}}
	f.rebuild()

	res, err := f.coord.SyncDown(context.Background())
	require.NoError(t, err)
	for _, tp := range res.Tables {
		assert.Equal(t, 1, tp.Written, "table %s", tp.Table)
		assert.Equal(t, 1, tp.Invalid, "table %s", tp.Table)
	}
}

// listOverride answers every List with recs.
type listOverride struct {
	remote.Client
	recs []ir.Record
}

func (l *listOverride) List(ctx context.Context, table ir.Table) ([]ir.Record, error) {
	out := make([]ir.Record, len(l.recs))
	for i, r := range l.recs {
		out[i] = r.Clone()
	}
	return out, nil
}

func TestFullSync_PushesBeforePulling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The remote changed the name while the status was edited offline.
	f.mem.Seed(ir.LeaveRequests, ir.Record{"id": "a", "status": "pending", "reason": "family event"})
	require.NoError(t, f.repo.PutOne(ctx, ir.LeaveRequests, ir.Record{"id": "a", "status": "approved", "reason": "family"}))
	f.enqueue(t, ir.LeaveRequests, ir.OpUpdate, ir.Record{"id": "a", "status": "approved"})

	res, err := f.coord.FullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cycle-1", res.Token)
	assert.Equal(t, int64(1), res.Seq)

	calls := callStrings(f.mem.Calls())
	require.NotEmpty(t, calls)
	assert.Equal(t, "update leave_requests/a", calls[0], "push runs before any pull")
	for _, c := range calls[1:] {
		assert.Contains(t, c, "list ")
	}

	got := f.local(t, ir.LeaveRequests, "a")
	assert.Equal(t, "approved", got["status"], "the local update survives the pull")
	assert.Equal(t, "family event", got["reason"], "the remote change is pulled")
}

func TestFullSync_PullProtectsUnsentWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mem.Seed(ir.LeaveRequests, ir.Record{"id": "a", "status": "pending"}, ir.Record{"id": "b", "status": "pending"})
	require.NoError(t, f.repo.PutOne(ctx, ir.LeaveRequests, ir.Record{"id": "a", "status": "approved"}))
	f.enqueue(t, ir.LeaveRequests, ir.OpUpdate, ir.Record{"id": "a", "status": "approved"})

	f.wrap(&hookClient{before: func(ctx context.Context, op string, table ir.Table) error {
		if op == "update" {
			return transient(op, table)
		}
		return nil
	}})

	res, err := f.coord.FullSync(ctx)
	require.Error(t, err)
	assert.True(t, IsPushIncomplete(err))
	assert.False(t, IsPullIncomplete(err))
	assert.Len(t, res.FailedMutations(), 1)

	var leaves TablePull
	for _, tp := range res.Pull.Tables {
		if tp.Table == ir.LeaveRequests {
			leaves = tp
		}
	}
	assert.Equal(t, []string{"a"}, leaves.Protected)
	assert.Equal(t, 1, leaves.Written)

	assert.Equal(t, "approved", f.local(t, ir.LeaveRequests, "a")["status"])
	assert.Equal(t, "pending", f.local(t, ir.LeaveRequests, "b")["status"])
	assert.Len(t, f.pending(t), 1)

	_, ok, err := f.coord.LastSync(ctx, ir.MetaLastFullSync)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFullSync_WritesMeta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.FullSync(ctx)
	require.NoError(t, err)

	for _, key := range []string{ir.MetaLastFullSync, ir.MetaLastPush, ir.MetaLastPull} {
		at, ok, err := f.coord.LastSync(ctx, key)
		require.NoError(t, err)
		require.True(t, ok, key)
		assert.True(t, testutil.Epoch.Equal(at), key)
	}
}

func TestFullSync_CycleCountSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.coord.FullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Seq)

	f.rebuild()
	res, err = f.coord.FullSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Seq)
}

func TestFullSync_OneCycleAtATime(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.wrap(&hookClient{before: func(ctx context.Context, op string, table ir.Table) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	}})

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.FullSync(context.Background())
		done <- err
	}()

	<-entered
	_, err := f.coord.FullSync(context.Background())
	assert.True(t, IsSyncInProgress(err))
	_, err = f.coord.SyncUp(context.Background())
	assert.True(t, IsSyncInProgress(err))
	_, err = f.coord.SyncDown(context.Background())
	assert.True(t, IsSyncInProgress(err))

	close(release)
	require.NoError(t, <-done)
}

func TestOfflineWritesSurviveRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := NewWriter(f.repo, f.queue, f.mem, nil, WithIDs(testutil.NewSeqGenerator("att")))
	res, err := w.Insert(ctx, ir.Attendance, ir.Record{"employee_id": "e1", "date": "2024-03-01"})
	require.NoError(t, err)
	assert.Equal(t, DeliveryQueued, res.Delivery)
	require.NoError(t, f.st.Close())

	f.open(t)
	assert.Equal(t, "e1", f.local(t, ir.Attendance, "att-1")["employee_id"])
	require.Len(t, f.pending(t), 1)

	_, err = f.coord.FullSync(ctx)
	require.NoError(t, err)
	_, ok := f.mem.Get(ir.Attendance, "att-1")
	assert.True(t, ok)
	assert.Empty(t, f.pending(t))
}

func TestSyncError(t *testing.T) {
	inner := errors.New("boom")
	err := error(&SyncError{Code: ErrCodePullIncomplete, Cycle: "c1", Err: inner})
	assert.Equal(t, "PULL_INCOMPLETE (cycle=c1): boom", err.Error())
	assert.ErrorIs(t, err, inner)

	joined := errors.Join(&SyncError{Code: ErrCodePushIncomplete}, err)
	assert.True(t, IsPushIncomplete(joined))
	assert.True(t, IsPullIncomplete(joined))
	assert.False(t, IsSyncInProgress(joined))
}
