package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/hrsync/internal/connectivity"
	"github.com/roach88/hrsync/internal/engine"
	"github.com/roach88/hrsync/internal/remote"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	PushOnly bool
	PullOnly bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push the outbox, then pull every table",
		Long: `Run one sync cycle against the configured remote.

The outbox is replayed in the order writes were made. A mutation the server
refuses is marked rejected and left in the outbox; a network failure stops
the push and leaves the rest queued. Every table is then pulled and upserted
locally, skipping records that still have queued writes.

Example:
  hrsync sync
  hrsync sync --push-only --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.PushOnly, "push-only", false, "only push the outbox")
	cmd.Flags().BoolVar(&opts.PullOnly, "pull-only", false, "only pull remote tables")
	cmd.MarkFlagsMutuallyExclusive("push-only", "pull-only")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	s, err := openSession(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.requireRemote(f); err != nil {
		return err
	}

	ctx := commandContext(cmd)
	c := s.coordinator()

	switch {
	case opts.PushOnly:
		res, err := c.SyncUp(ctx)
		if err != nil {
			return syncFailure(f, err)
		}
		return f.Render(res, func(w io.Writer) { printPush(w, res) })

	case opts.PullOnly:
		res, err := c.SyncDown(ctx)
		if err != nil {
			return syncFailure(f, err)
		}
		return f.Render(res, func(w io.Writer) { printPull(w, res) })
	}

	res, err := c.FullSync(ctx)
	if err != nil {
		// The partial result is still worth showing.
		if f.Format != "json" {
			printResult(f.Writer, res)
		}
		return syncFailure(f, err)
	}
	return f.Render(res, func(w io.Writer) { printResult(w, res) })
}

func syncFailure(f *OutputFormatter, err error) error {
	if engine.IsSyncInProgress(err) {
		return f.Fail(ExitFailure, ErrCodeSyncInProgress, "sync already running", err)
	}
	return f.Fail(ExitFailure, ErrCodeSyncFailed, "sync failed", err)
}

func printResult(w io.Writer, res engine.Result) {
	if res.Token != "" {
		fmt.Fprintf(w, "cycle %d (%s)\n", res.Seq, res.Token)
	}
	printPush(w, res.Push)
	printPull(w, res.Pull)
}

func printPush(w io.Writer, p engine.PushResult) {
	fmt.Fprintf(w, "push: %d sent, %d rejected, %d remaining\n",
		len(p.Sent), len(p.Rejected), len(p.Remaining))
	for _, fm := range p.Failed {
		state := "transient"
		if fm.Rejected {
			state = "rejected"
		}
		fmt.Fprintf(w, "  #%d %s %s %s: %s: %s\n",
			fm.Mutation.Key, fm.Mutation.Op, fm.Mutation.Table, fm.Mutation.RecordID(), state, fm.Error)
	}
}

func printPull(w io.Writer, p engine.PullResult) {
	fmt.Fprintf(w, "pull: %d records\n", p.Total())
	for _, t := range p.Tables {
		switch {
		case t.Error != "":
			fmt.Fprintf(w, "  %-15s error: %s\n", t.Table, t.Error)
		case len(t.Protected) > 0:
			fmt.Fprintf(w, "  %-15s %d written, %d kept local\n", t.Table, t.Written, len(t.Protected))
		default:
			fmt.Fprintf(w, "  %-15s %d written\n", t.Table, t.Written)
		}
	}
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever the remote becomes reachable",
		Long: `Probe the remote and run a sync cycle each time it comes back online,
plus a periodic resync while online when sync.resync_interval is set.
Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd)
		},
	}
	return cmd
}

func runWatch(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	s, err := openSession(opts, f)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.requireRemote(f); err != nil {
		return err
	}
	pinger, ok := s.remote.(remote.Pinger)
	if !ok {
		return f.Fail(ExitCommandError, ErrCodeNoRemote, "remote does not support health checks", nil)
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			opts.log().Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	monitor := connectivity.New(s.coordinator(),
		connectivity.WithLogger(opts.log()),
		connectivity.WithResyncInterval(s.cfg.Sync.ResyncInterval))
	prober := connectivity.NewProber(pinger, monitor,
		connectivity.WithProbeInterval(s.cfg.Sync.ProbeInterval),
		connectivity.WithProbeTimeout(s.cfg.Remote.Timeout),
		connectivity.WithProbeLogger(opts.log()))

	monitor.Subscribe(func(st connectivity.Status) {
		if st.Event != connectivity.EventSyncFinished {
			return
		}
		fin := st.Finished
		_ = f.Render(fin.Result, func(w io.Writer) {
			printResult(w, fin.Result)
			if fin.Err != nil {
				fmt.Fprintf(w, "incomplete: %v\n", fin.Err)
			}
		})
	})

	go func() {
		_ = prober.Run(ctx)
	}()

	err = monitor.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "watch stopped", err)
	}
	opts.log().Info("watch stopped")
	return nil
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
