package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hrsync/internal/engine"
	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/remote"
	"github.com/roach88/hrsync/internal/repo"
	"github.com/roach88/hrsync/internal/schema"
	"github.com/roach88/hrsync/internal/store"
)

// WriteOptions holds flags shared by put and rm.
type WriteOptions struct {
	*RootOptions
	Offline bool
	Update  bool
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <table> [record.json]",
		Short: "Write a record locally and deliver it",
		Long: `Write a JSON record to a table. The record is stored locally first, then
sent to the remote. If the remote is unreachable, or writes are already
queued, it is added to the outbox for the next sync.

The record is read from the file argument, or from stdin when the argument
is omitted or "-". Without --update the record replaces any local copy and
gets a fresh id when it has none. With --update it is a partial record that
must carry an id and is merged into the local copy.

Example:
  hrsync put employees emp.json
  echo '{"id":"lr-1","status":"approved"}' | hrsync put leave_requests --update`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 2 {
				path = args[1]
			}
			return runPut(opts, args[0], path, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "queue the write without contacting the remote")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "merge a partial record into the existing one")

	return cmd
}

func runPut(opts *WriteOptions, tableName, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	table, err := ir.ParseTable(tableName)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "bad table", err)
	}
	rec, err := readRecord(path, cmd.InOrStdin())
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "read record", err)
	}

	s, err := openSession(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := s.writer(!opts.Offline)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "prepare writer", err)
	}

	ctx := commandContext(cmd)
	var res engine.WriteResult
	if opts.Update {
		res, err = w.Update(ctx, table, rec)
	} else {
		res, err = w.Insert(ctx, table, rec)
	}
	if err != nil {
		return writeFailure(f, res, err)
	}
	return f.Render(res, func(w io.Writer) { printWrite(w, table, res) })
}

// NewRmCommand creates the rm command.
func NewRmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rm <table> <id>",
		Short: "Delete a record locally and deliver the delete",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRm(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "queue the delete without contacting the remote")

	return cmd
}

func runRm(opts *WriteOptions, tableName, id string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	table, err := ir.ParseTable(tableName)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "bad table", err)
	}

	s, err := openSession(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := s.writer(!opts.Offline)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "prepare writer", err)
	}

	res, err := w.Delete(commandContext(cmd), table, id)
	if err != nil {
		return writeFailure(f, res, err)
	}
	res.Record = ir.Record{"id": id}
	return f.Render(res, func(w io.Writer) { printWrite(w, table, res) })
}

func writeFailure(f *OutputFormatter, res engine.WriteResult, err error) error {
	var schemaErr *schema.Error
	switch {
	case errors.As(err, &schemaErr):
		return f.Fail(ExitFailure, ErrCodeSchema, "invalid record", err)
	case res.Delivery == engine.DeliveryRejected || remote.IsRejected(err):
		msg := "remote rejected the write"
		if res.Key != 0 {
			msg = fmt.Sprintf("remote rejected the write, kept as outbox #%d", res.Key)
		}
		return f.Fail(ExitFailure, ErrCodeRejected, msg, err)
	default:
		return f.Fail(ExitFailure, ErrCodeGeneric, "write failed", err)
	}
}

func printWrite(w io.Writer, table ir.Table, res engine.WriteResult) {
	id, _ := res.Record.ID()
	switch res.Delivery {
	case engine.DeliveryQueued:
		fmt.Fprintf(w, "%s/%s: queued as #%d\n", table, id, res.Key)
	default:
		fmt.Fprintf(w, "%s/%s: %s\n", table, id, res.Delivery)
	}
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <table> <id>",
		Short: "Print one cached record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runGet(opts *RootOptions, tableName, id string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	table, err := ir.ParseTable(tableName)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "bad table", err)
	}

	s, err := openSession(opts, f)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.repo.GetOne(commandContext(cmd), table, id)
	if store.IsNotFound(err) {
		return f.Fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("%s/%s not found", table, id), nil)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "read record", err)
	}
	f.VerboseLog("%s/%s fingerprint %s", table, id, ir.ShortFingerprint(rec))
	return f.Render(rec, func(w io.Writer) { printRecord(w, rec) })
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Where []string
	Order string
	Desc  bool
	Limit int
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list <table>",
		Short: "List cached records",
		Long: `List the records cached for a table.

Example:
  hrsync list employees --where department=Finance --order salary --desc
  hrsync list attendance --where employee_id=emp-7 --limit 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "field=value filter (repeatable)")
	cmd.Flags().StringVar(&opts.Order, "order", "", "field to sort by (default: id)")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records to print (0 = all)")

	return cmd
}

func runList(opts *ListOptions, tableName string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	table, err := ir.ParseTable(tableName)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "bad table", err)
	}
	q, err := repo.ParseQuery(opts.Where, opts.Order, opts.Desc, opts.Limit)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInvalidInput, "bad query", err)
	}

	s, err := openSession(opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.repo.GetAll(commandContext(cmd), table, q)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "read records", err)
	}
	return f.Render(recs, func(w io.Writer) {
		for _, rec := range recs {
			printRecord(w, rec)
		}
		fmt.Fprintf(w, "%d record(s)\n", len(recs))
	})
}

// printRecord writes one record as canonical JSON on a single line.
func printRecord(w io.Writer, rec ir.Record) {
	data, err := ir.MarshalRecord(rec)
	if err != nil {
		fmt.Fprintf(w, "%v\n", map[string]any(rec))
		return
	}
	fmt.Fprintln(w, string(data))
}

// readRecord reads one JSON object from path, or from stdin for "-".
func readRecord(path string, stdin io.Reader) (ir.Record, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, errors.New("empty record")
	}
	return ir.DecodeRecord(data)
}
