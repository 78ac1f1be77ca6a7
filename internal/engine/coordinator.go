package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/outbox"
	"github.com/roach88/hrsync/internal/remote"
	"github.com/roach88/hrsync/internal/repo"
	"github.com/roach88/hrsync/internal/store"
)

const (
	// DefaultCallTimeout bounds every remote call made by a cycle.
	DefaultCallTimeout = 30 * time.Second

	// DefaultPullConcurrency is how many tables are fetched at once.
	DefaultPullConcurrency = 4
)

// MetaCycleCount is the meta key holding the number of the last cycle.
const MetaCycleCount = "cycle_count"

// Coordinator runs sync cycles between the local store and the remote.
//
// SyncUp, SyncDown and FullSync never overlap: a call made while another is
// running fails with ErrCodeSyncInProgress instead of waiting.
type Coordinator struct {
	repo   *repo.Repository
	queue  *outbox.Queue
	remote remote.Client
	store  *store.Store

	tokens          IDGenerator
	cycles          *Clock
	now             func() time.Time
	callTimeout     time.Duration
	pullConcurrency int
	logger          *slog.Logger

	mu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCallTimeout bounds each remote call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.callTimeout = d
	}
}

// WithPullConcurrency limits how many tables are fetched at once.
func WithPullConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.pullConcurrency = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithTokens sets the cycle token generator. Defaults to UUIDv7Generator.
func WithTokens(g IDGenerator) Option {
	return func(c *Coordinator) {
		c.tokens = g
	}
}

// WithNow overrides the time source for meta timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a Coordinator. The cycle counter resumes from the value
// persisted in meta.
func New(r *repo.Repository, q *outbox.Queue, client remote.Client, st *store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:            r,
		queue:           q,
		remote:          client,
		store:           st,
		tokens:          UUIDv7Generator{},
		now:             time.Now,
		callTimeout:     DefaultCallTimeout,
		pullConcurrency: DefaultPullConcurrency,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	var last int64
	if _, err := st.GetMeta(context.Background(), MetaCycleCount, &last); err != nil {
		c.logger.Warn("cannot read cycle count, starting at zero", "error", err)
		last = 0
	}
	c.cycles = NewClockAt(last)
	return c
}

// Result describes one FullSync cycle.
type Result struct {
	Token      string     `json:"cycle"`
	Seq        int64      `json:"seq"`
	Push       PushResult `json:"push"`
	Pull       PullResult `json:"pull"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// FailedMutations returns every mutation the cycle could not deliver.
func (r Result) FailedMutations() []FailedMutation {
	return r.Push.Failed
}

// FullSync pushes the outbox, then pulls every table.
//
// The pull runs even when the push stopped early; records with pending
// mutations are protected from being overwritten either way. The returned
// error joins the push and pull failures, if any. last_push, last_pull and
// last_full_sync are written to meta as each phase completes.
func (c *Coordinator) FullSync(ctx context.Context) (Result, error) {
	if !c.mu.TryLock() {
		return Result{}, &SyncError{Code: ErrCodeSyncInProgress}
	}
	defer c.mu.Unlock()

	res := Result{
		Token:     c.tokens.Generate(),
		Seq:       c.cycles.Next(),
		StartedAt: c.now().UTC(),
	}
	log := c.logger.With("cycle", res.Token)
	log.Info("sync cycle starting", "seq", res.Seq)
	c.putMeta(ctx, log, MetaCycleCount, res.Seq)

	var pushErr, pullErr error
	res.Push, pushErr = c.syncUp(ctx, log, res.Token)
	if pushErr != nil && !IsPushIncomplete(pushErr) {
		res.FinishedAt = c.now().UTC()
		log.Error("sync cycle aborted", "error", pushErr)
		return res, pushErr
	}

	res.Pull, pullErr = c.syncDown(ctx, log, res.Token)

	res.FinishedAt = c.now().UTC()
	err := errors.Join(pushErr, pullErr)
	if err == nil {
		c.putMeta(ctx, log, ir.MetaLastFullSync, res.FinishedAt)
		log.Info("sync cycle finished",
			"sent", len(res.Push.Sent),
			"rejected", len(res.Push.Rejected),
			"pulled", res.Pull.Total())
	} else {
		log.Warn("sync cycle incomplete", "error", err)
	}
	return res, err
}

// SyncUp runs a push on its own.
func (c *Coordinator) SyncUp(ctx context.Context) (PushResult, error) {
	if !c.mu.TryLock() {
		return PushResult{}, &SyncError{Code: ErrCodeSyncInProgress}
	}
	defer c.mu.Unlock()

	token := c.tokens.Generate()
	return c.syncUp(ctx, c.logger.With("cycle", token), token)
}

// SyncDown runs a pull on its own.
func (c *Coordinator) SyncDown(ctx context.Context) (PullResult, error) {
	if !c.mu.TryLock() {
		return PullResult{}, &SyncError{Code: ErrCodeSyncInProgress}
	}
	defer c.mu.Unlock()

	token := c.tokens.Generate()
	return c.syncDown(ctx, c.logger.With("cycle", token), token)
}

// LastSync reads the completion time of a phase from meta. key is one of
// ir.MetaLastFullSync, ir.MetaLastPush, ir.MetaLastPull.
func (c *Coordinator) LastSync(ctx context.Context, key string) (time.Time, bool, error) {
	var t time.Time
	ok, err := c.store.GetMeta(ctx, key, &t)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	return t, ok, nil
}

// callContext bounds a single remote call.
func (c *Coordinator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// putMeta records bookkeeping. Failures are logged; they never fail a cycle
// whose data already moved.
func (c *Coordinator) putMeta(ctx context.Context, log *slog.Logger, key string, value any) {
	if err := c.store.PutMeta(context.WithoutCancel(ctx), key, value); err != nil {
		log.Warn("cannot write meta", "key", key, "error", err)
	}
}
