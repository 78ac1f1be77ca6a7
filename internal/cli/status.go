package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hrsync/internal/ir"
)

// StatusResult is the output of the status command.
type StatusResult struct {
	Database      string           `json:"database"`
	SchemaVersion int              `json:"schema_version"`
	Remote        string           `json:"remote,omitempty"`
	Pending       int              `json:"pending"`
	Rejected      int              `json:"rejected"`
	Tables        map[ir.Table]int `json:"tables"`
	LastFullSync  *time.Time       `json:"last_full_sync,omitempty"`
	LastPush      *time.Time       `json:"last_push,omitempty"`
	LastPull      *time.Time       `json:"last_pull,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts, cached tables and last sync times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	s, err := openSession(opts, f)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := commandContext(cmd)
	res := StatusResult{
		Database: s.store.Path(),
		Remote:   s.cfg.Remote.BaseURL,
		Tables:   make(map[ir.Table]int),
	}

	if res.SchemaVersion, err = s.store.SchemaVersion(); err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "read schema version", err)
	}
	total, err := s.queue.Len(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "read outbox", err)
	}
	if res.Pending, err = s.queue.PendingLen(ctx); err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "read outbox", err)
	}
	res.Rejected = total - res.Pending

	for _, t := range ir.Tables() {
		n, err := s.repo.Count(ctx, t)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeDatabase, "count "+string(t), err)
		}
		res.Tables[t] = n
	}

	c := s.coordinator()
	for key, dst := range map[string]**time.Time{
		ir.MetaLastFullSync: &res.LastFullSync,
		ir.MetaLastPush:     &res.LastPush,
		ir.MetaLastPull:     &res.LastPull,
	} {
		t, ok, err := c.LastSync(ctx, key)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeDatabase, "read sync times", err)
		}
		if ok {
			*dst = &t
		}
	}

	return f.Render(res, func(w io.Writer) { printStatus(w, res) })
}

func printStatus(w io.Writer, res StatusResult) {
	fmt.Fprintf(w, "database: %s (schema v%d)\n", res.Database, res.SchemaVersion)
	if res.Remote != "" {
		fmt.Fprintf(w, "remote:   %s\n", res.Remote)
	} else {
		fmt.Fprintln(w, "remote:   none")
	}
	fmt.Fprintf(w, "outbox:   %d pending, %d rejected\n", res.Pending, res.Rejected)
	fmt.Fprintf(w, "last sync: %s (push %s, pull %s)\n",
		formatTime(res.LastFullSync), formatTime(res.LastPush), formatTime(res.LastPull))
	for _, t := range ir.Tables() {
		fmt.Fprintf(w, "  %-15s %d\n", t, res.Tables[t])
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
