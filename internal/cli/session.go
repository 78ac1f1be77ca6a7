package cli

import (
	"fmt"

	"github.com/roach88/hrsync/internal/config"
	"github.com/roach88/hrsync/internal/engine"
	"github.com/roach88/hrsync/internal/outbox"
	"github.com/roach88/hrsync/internal/remote"
	"github.com/roach88/hrsync/internal/repo"
	"github.com/roach88/hrsync/internal/schema"
	"github.com/roach88/hrsync/internal/store"
)

// session holds the components one command works with.
type session struct {
	opts     *RootOptions
	cfg      config.Config
	provider *store.Provider
	store    *store.Store
	repo     *repo.Repository
	queue    *outbox.Queue

	// remote is nil when no remote is configured.
	remote remote.Client
}

// openSession loads config and opens the database. Failures are reported
// through f and returned as ExitErrors.
func openSession(opts *RootOptions, f *OutputFormatter) (*session, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	provider := store.NewProvider(cfg.Database)
	st, err := provider.Get()
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeDatabase, "open database", err)
	}
	f.VerboseLog("opened %s", st.Path())

	repoOpts := []repo.Option{}
	queueOpts := []outbox.Option{}
	if opts.Now != nil {
		repoOpts = append(repoOpts, repo.WithClock(opts.Now))
		queueOpts = append(queueOpts, outbox.WithClock(opts.Now))
	}

	s := &session{
		opts:     opts,
		cfg:      cfg,
		provider: provider,
		store:    st,
		repo:     repo.New(st, repoOpts...),
		queue:    outbox.New(st, queueOpts...),
		remote:   opts.Remote,
	}

	if s.remote == nil && cfg.HasRemote() {
		client, err := newHTTPClient(cfg, opts)
		if err != nil {
			_ = provider.Close()
			return nil, f.Fail(ExitCommandError, ErrCodeConfig, "configure remote", err)
		}
		s.remote = client
	}
	return s, nil
}

func newHTTPClient(cfg config.Config, opts *RootOptions) (*remote.HTTPClient, error) {
	return remote.NewHTTPClient(cfg.Remote.BaseURL,
		remote.WithAPIKey(cfg.Remote.APIKeyHeader, cfg.Remote.APIKey),
		remote.WithTimeout(cfg.Remote.Timeout),
		remote.WithRetry(cfg.Remote.MaxRetries, remote.DefaultBackoff),
		remote.WithRateLimit(cfg.Remote.RatePerSecond, 1),
		remote.WithLogger(opts.log()),
	)
}

func (s *session) Close() error {
	if err := s.provider.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// requireRemote fails when the command needs a server and none is set.
func (s *session) requireRemote(f *OutputFormatter) error {
	if s.remote != nil {
		return nil
	}
	return f.Fail(ExitCommandError, ErrCodeNoRemote,
		"no remote configured (set remote.base_url or HRSYNC_REMOTE_URL)", nil)
}

func (s *session) coordinator() *engine.Coordinator {
	opts := []engine.Option{
		engine.WithCallTimeout(s.cfg.Sync.CallTimeout),
		engine.WithLogger(s.opts.log()),
	}
	if s.opts.Tokens != nil {
		opts = append(opts, engine.WithTokens(s.opts.Tokens))
	}
	if s.opts.Now != nil {
		opts = append(opts, engine.WithNow(s.opts.Now))
	}
	return engine.New(s.repo, s.queue, s.remote, s.store, opts...)
}

// writer builds a Writer that sends directly while online is true.
func (s *session) writer(online bool) (*engine.Writer, error) {
	v, err := schema.Load()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	opts := []engine.WriterOption{
		engine.WithValidator(v),
		engine.WithWriterLogger(s.opts.log()),
		engine.WithWriterCallTimeout(s.cfg.Sync.CallTimeout),
	}
	if s.opts.IDs != nil {
		opts = append(opts, engine.WithIDs(s.opts.IDs))
	}
	reachable := online && s.remote != nil
	return engine.NewWriter(s.repo, s.queue, s.remote, func() bool { return reachable }, opts...), nil
}
