package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/hrsync/internal/engine"
)

// State is the Monitor's coarse state.
type State int

const (
	Offline State = iota
	Syncing
	Idle
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Syncing:
		return "syncing"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// Event names what a published Status reports.
type Event string

const (
	EventOnline       Event = "online"
	EventOffline      Event = "offline"
	EventSyncStarted  Event = "sync_started"
	EventSyncFinished Event = "sync_finished"
)

// SyncFinished is the outcome of one cycle. It is published whether the
// cycle succeeded or not.
type SyncFinished struct {
	Result          engine.Result
	Err             error
	FailedMutations []engine.FailedMutation
}

// Status is what observers receive.
type Status struct {
	Event  Event
	State  State
	Online bool

	// Finished is set only for EventSyncFinished.
	Finished *SyncFinished
}

// Syncer runs one full cycle. *engine.Coordinator implements it.
type Syncer interface {
	FullSync(ctx context.Context) (engine.Result, error)
}

// Monitor drives sync cycles from connectivity transitions.
//
// Run must be called from exactly one goroutine. SetOnline, Online,
// Subscribe and Status are safe from any goroutine. Observers are called
// from the Run goroutine and must not block.
type Monitor struct {
	syncer Syncer
	events *eventQueue
	online atomic.Bool
	logger *slog.Logger

	resyncInterval time.Duration

	mu        sync.Mutex
	state     State
	observers map[int]func(Status)
	nextObs   int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

// WithResyncInterval starts a cycle every d while online and idle. Zero
// disables periodic resync.
func WithResyncInterval(d time.Duration) Option {
	return func(m *Monitor) {
		m.resyncInterval = d
	}
}

// WithInitialOnline sets the connectivity level before Run starts. A
// monitor that starts online syncs immediately.
func WithInitialOnline(online bool) Option {
	return func(m *Monitor) {
		m.online.Store(online)
	}
}

// New creates a Monitor, offline unless WithInitialOnline says otherwise.
func New(s Syncer, opts ...Option) *Monitor {
	m := &Monitor{
		syncer:    s,
		events:    newEventQueue(),
		logger:    slog.Default(),
		state:     Offline,
		observers: make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(m)
	}
	// The initial level counts as one transition. Queuing it here rather
	// than in Run keeps a SetOnline racing with Run from adding a second.
	if m.online.Load() {
		m.events.Enqueue(event{kind: eventOnline})
	}
	return m
}

// SetOnline reports the current connectivity level. Only changes are
// forwarded to the event loop.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	kind := eventOffline
	if online {
		kind = eventOnline
	}
	m.events.Enqueue(event{kind: kind})
}

// Online reports the last level passed to SetOnline.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for every published Status and returns a function
// that removes it.
func (m *Monitor) Subscribe(fn func(Status)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

type outcome struct {
	result engine.Result
	err    error
}

// Run processes transitions until ctx is done. A cycle in flight when ctx
// ends is canceled and its outcome published before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("connectivity monitor starting", "online", m.Online())

	var (
		done     chan outcome // non-nil while a cycle runs
		followUp bool
		cancel   context.CancelFunc = func() {}
	)

	start := func() {
		var syncCtx context.Context
		syncCtx, cancel = context.WithCancel(ctx)
		done = make(chan outcome, 1)
		m.publish(EventSyncStarted, Syncing, nil)

		go func(ch chan<- outcome) {
			res, err := m.syncer.FullSync(syncCtx)
			ch <- outcome{result: res, err: err}
		}(done)
	}

	finish := func(o outcome) {
		cancel()
		done = nil

		if o.err != nil {
			if engine.IsSyncInProgress(o.err) {
				m.logger.Debug("sync skipped, another cycle is running")
			} else {
				m.logger.Warn("sync cycle failed", "error", o.err)
			}
		}
		next := Idle
		if !m.Online() {
			next = Offline
		}
		m.publish(EventSyncFinished, next, &SyncFinished{
			Result:          o.result,
			Err:             o.err,
			FailedMutations: o.result.FailedMutations(),
		})
	}

	var tick <-chan time.Time
	if m.resyncInterval > 0 {
		ticker := time.NewTicker(m.resyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if ev, ok := m.events.TryDequeue(); ok {
			switch ev.kind {
			case eventOnline:
				if done != nil {
					followUp = true
					m.publish(EventOnline, Syncing, nil)
					continue
				}
				m.publish(EventOnline, Idle, nil)
				start()

			case eventOffline:
				if done != nil {
					// The cycle in flight keeps running.
					m.publish(EventOffline, Syncing, nil)
					continue
				}
				followUp = false
				m.publish(EventOffline, Offline, nil)

			case eventResync:
				if done == nil && m.Online() {
					start()
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			m.events.Close()
			if done != nil {
				finish(<-done)
			}
			m.logger.Info("connectivity monitor stopping")
			return ctx.Err()

		case o := <-done:
			finish(o)
			if followUp && m.Online() {
				followUp = false
				start()
			}
			followUp = false

		case <-tick:
			m.events.Enqueue(event{kind: eventResync})

		case <-m.events.Wait():
		}
	}
}

func (m *Monitor) publish(ev Event, state State, finished *SyncFinished) {
	m.mu.Lock()
	m.state = state
	observers := make([]func(Status), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	st := Status{Event: ev, State: state, Online: m.Online(), Finished: finished}
	m.logger.Debug("connectivity status", "event", ev, "state", state, "online", st.Online)
	for _, fn := range observers {
		fn(st)
	}
}
