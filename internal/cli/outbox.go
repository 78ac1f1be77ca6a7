package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/hrsync/internal/ir"
)

// NewOutboxCommand creates the outbox command and its subcommands.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and manage queued writes",
	}

	cmd.AddCommand(newOutboxListCommand(rootOpts))
	cmd.AddCommand(newOutboxRetryCommand(rootOpts))
	cmd.AddCommand(newOutboxClearCommand(rootOpts))

	return cmd
}

func newOutboxListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued writes in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			s, err := openSession(rootOpts, f)
			if err != nil {
				return err
			}
			defer s.Close()

			ms, err := s.queue.List(commandContext(cmd))
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeDatabase, "read outbox", err)
			}
			return f.Render(ms, func(w io.Writer) {
				for _, m := range ms {
					printMutation(w, m)
				}
				fmt.Fprintf(w, "%d mutation(s)\n", len(ms))
			})
		},
	}
}

func printMutation(w io.Writer, m ir.Mutation) {
	fmt.Fprintf(w, "#%d %s %s %s %s", m.Key, m.Status, m.Op, m.Table, m.RecordID())
	if m.Attempts > 0 {
		fmt.Fprintf(w, " attempts=%d", m.Attempts)
	}
	if m.LastError != "" {
		fmt.Fprintf(w, " error=%q", m.LastError)
	}
	fmt.Fprintln(w)
}

// RetryResult is the output of outbox retry.
type RetryResult struct {
	Retried int `json:"retried"`
}

func newOutboxRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [key...]",
		Short: "Return rejected writes to the push queue",
		Long: `Mark rejected writes pending again so the next sync replays them. With
no keys every rejected write is retried.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			keys := make([]int64, 0, len(args))
			for _, a := range args {
				k, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("bad key %q", a), err)
				}
				keys = append(keys, k)
			}

			s, err := openSession(rootOpts, f)
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.queue.Retry(commandContext(cmd), keys...)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeDatabase, "retry outbox", err)
			}
			res := RetryResult{Retried: n}
			return f.Render(res, func(w io.Writer) {
				fmt.Fprintf(w, "%d mutation(s) pending again\n", n)
			})
		},
	}
}

// ClearResult is the output of outbox clear.
type ClearResult struct {
	Cleared int `json:"cleared"`
}

func newOutboxClearCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued write",
		Long: `Discard every queued write, pending or rejected. The writes are lost:
the local copies stay as they are but the remote never sees them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			if !force {
				return f.Fail(ExitCommandError, ErrCodeInvalidInput, "refusing to discard queued writes without --force", nil)
			}

			s, err := openSession(rootOpts, f)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := commandContext(cmd)
			n, err := s.queue.Len(ctx)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeDatabase, "read outbox", err)
			}
			if err := s.queue.Clear(ctx); err != nil {
				return f.Fail(ExitCommandError, ErrCodeDatabase, "clear outbox", err)
			}
			res := ClearResult{Cleared: n}
			return f.Render(res, func(w io.Writer) {
				fmt.Fprintf(w, "%d mutation(s) discarded\n", n)
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm that queued writes should be lost")

	return cmd
}
