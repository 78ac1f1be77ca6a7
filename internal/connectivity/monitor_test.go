package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hrsync/internal/engine"
	"github.com/roach88/hrsync/internal/remote"
)

// fakeSyncer counts cycles. When gate is set each cycle waits on it.
type fakeSyncer struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (s *fakeSyncer) FullSync(ctx context.Context) (engine.Result, error) {
	n := s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
	}
	res := engine.Result{Seq: int64(n)}
	if s.err != nil {
		res.Push.Failed = []engine.FailedMutation{{Error: s.err.Error()}}
	}
	return res, s.err
}

// recorder collects published statuses.
type recorder struct {
	mu       sync.Mutex
	statuses []Status
	ch       chan Status
}

func newRecorder(m *Monitor) *recorder {
	r := &recorder{ch: make(chan Status, 64)}
	m.Subscribe(func(s Status) {
		r.mu.Lock()
		r.statuses = append(r.statuses, s)
		r.mu.Unlock()
		select {
		case r.ch <- s:
		default:
		}
	})
	return r
}

// waitFor returns the next status with the given event.
func (r *recorder) waitFor(t *testing.T, ev Event) Status {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.ch:
			if s.Event == ev {
				return s
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", ev)
			return Status{}
		}
	}
}

func startMonitor(t *testing.T, m *Monitor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.ErrorIs(t, <-errc, context.Canceled)
	})
}

func TestMonitor_SyncsOnReconnect(t *testing.T) {
	s := &fakeSyncer{}
	m := New(s)
	rec := newRecorder(m)
	startMonitor(t, m)

	assert.False(t, m.Online())
	m.SetOnline(true)

	rec.waitFor(t, EventSyncStarted)
	fin := rec.waitFor(t, EventSyncFinished)
	require.NotNil(t, fin.Finished)
	assert.NoError(t, fin.Finished.Err)
	assert.Equal(t, int64(1), fin.Finished.Result.Seq)
	assert.Equal(t, Idle, fin.State)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestMonitor_StartsOnlineSyncsImmediately(t *testing.T) {
	s := &fakeSyncer{}
	m := New(s, WithInitialOnline(true))
	rec := newRecorder(m)
	startMonitor(t, m)

	rec.waitFor(t, EventSyncFinished)
	assert.Equal(t, Idle, m.State())
}

func TestMonitor_OfflineDoesNotSync(t *testing.T) {
	s := &fakeSyncer{}
	m := New(s, WithInitialOnline(true))
	rec := newRecorder(m)
	startMonitor(t, m)
	rec.waitFor(t, EventSyncFinished)

	m.SetOnline(false)
	st := rec.waitFor(t, EventOffline)
	assert.Equal(t, Offline, st.State)
	assert.False(t, st.Online)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestMonitor_RepeatedLevelIsIgnored(t *testing.T) {
	m := New(&fakeSyncer{})
	m.SetOnline(false)
	assert.Equal(t, 0, m.events.Len())

	m.SetOnline(true)
	m.SetOnline(true)
	assert.Equal(t, 1, m.events.Len())
}

func TestMonitor_InitialOnlineIsOneTransition(t *testing.T) {
	m := New(&fakeSyncer{}, WithInitialOnline(true))
	assert.Equal(t, 1, m.events.Len())

	m.SetOnline(true)
	assert.Equal(t, 1, m.events.Len())
}

func TestMonitor_OnlineBeforeRunSyncsOnce(t *testing.T) {
	s := &fakeSyncer{}
	m := New(s)
	rec := newRecorder(m)
	m.SetOnline(true)
	startMonitor(t, m)

	rec.waitFor(t, EventSyncFinished)
	m.SetOnline(false)
	rec.waitFor(t, EventOffline)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestMonitor_FailureIsPublishedAndLoopSurvives(t *testing.T) {
	s := &fakeSyncer{err: errors.New("remote down")}
	m := New(s)
	rec := newRecorder(m)
	startMonitor(t, m)

	m.SetOnline(true)
	fin := rec.waitFor(t, EventSyncFinished)
	require.Error(t, fin.Finished.Err)
	assert.Len(t, fin.Finished.FailedMutations, 1)

	m.SetOnline(false)
	rec.waitFor(t, EventOffline)
	m.SetOnline(true)
	rec.waitFor(t, EventSyncFinished)
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestMonitor_FlapDuringSyncSchedulesOneFollowUp(t *testing.T) {
	s := &fakeSyncer{gate: make(chan struct{})}
	m := New(s)
	rec := newRecorder(m)
	startMonitor(t, m)

	m.SetOnline(true)
	rec.waitFor(t, EventSyncStarted)

	for i := 0; i < 3; i++ {
		m.SetOnline(false)
		rec.waitFor(t, EventOffline)
		m.SetOnline(true)
		rec.waitFor(t, EventOnline)
	}
	assert.Equal(t, Syncing, m.State(), "the flap does not cancel the cycle")

	s.gate <- struct{}{}
	rec.waitFor(t, EventSyncFinished)
	rec.waitFor(t, EventSyncStarted)
	s.gate <- struct{}{}
	rec.waitFor(t, EventSyncFinished)

	assert.Equal(t, int32(2), s.calls.Load())
}

func TestMonitor_GoingOfflineDuringSyncSkipsFollowUp(t *testing.T) {
	s := &fakeSyncer{gate: make(chan struct{})}
	m := New(s)
	rec := newRecorder(m)
	startMonitor(t, m)

	m.SetOnline(true)
	rec.waitFor(t, EventSyncStarted)
	m.SetOnline(false)
	rec.waitFor(t, EventOffline)

	s.gate <- struct{}{}
	fin := rec.waitFor(t, EventSyncFinished)
	assert.Equal(t, Offline, fin.State)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestMonitor_PeriodicResync(t *testing.T) {
	s := &fakeSyncer{}
	m := New(s, WithInitialOnline(true), WithResyncInterval(10*time.Millisecond))
	rec := newRecorder(m)
	startMonitor(t, m)

	for i := 0; i < 3; i++ {
		rec.waitFor(t, EventSyncFinished)
	}
	assert.GreaterOrEqual(t, s.calls.Load(), int32(3))
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := New(&fakeSyncer{})
	var n atomic.Int32
	unsubscribe := m.Subscribe(func(Status) { n.Add(1) })
	m.publish(EventOnline, Idle, nil)
	unsubscribe()
	m.publish(EventOffline, Offline, nil)
	assert.Equal(t, int32(1), n.Load())
}

func TestMonitor_WithCoordinator(t *testing.T) {
	// Monitor accepts the real coordinator type.
	var _ Syncer = (*engine.Coordinator)(nil)
}

func TestProber(t *testing.T) {
	mem := remote.NewMemory()
	m := New(&fakeSyncer{})
	p := NewProber(mem, m, WithProbeTimeout(time.Second))

	assert.True(t, p.Probe(context.Background()))
	assert.True(t, m.Online())

	mem.SetDown(true)
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.Online())
}

func TestProber_RunStopsWithContext(t *testing.T) {
	mem := remote.NewMemory()
	m := New(&fakeSyncer{})
	p := NewProber(mem, m, WithProbeInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, m.Online())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "offline", Offline.String())
	assert.Equal(t, "syncing", Syncing.String())
	assert.Equal(t, "idle", Idle.String())
}
