package connectivity

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/hrsync/internal/remote"
)

const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Target receives probe results. *Monitor implements it.
type Target interface {
	SetOnline(online bool)
}

// Prober polls a Pinger and reports reachability to a Target.
type Prober struct {
	pinger   remote.Pinger
	target   Target
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeInterval sets the time between probes.
func WithProbeInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithProbeLogger sets the logger. Defaults to slog.Default().
func WithProbeLogger(l *slog.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = l
	}
}

// NewProber creates a Prober.
func NewProber(pinger remote.Pinger, target Target, opts ...ProberOption) *Prober {
	p := &Prober{
		pinger:   pinger,
		target:   target,
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe checks reachability once and reports the result.
func (p *Prober) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(probeCtx)
	if err != nil {
		p.logger.Debug("probe failed", "error", err)
	}
	online := err == nil
	p.target.SetOnline(online)
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := p.Probe(ctx)
	p.logger.Info("remote reachability", "online", last)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if online := p.Probe(ctx); online != last {
				p.logger.Info("remote reachability changed", "online", online)
				last = online
			}
		}
	}
}
