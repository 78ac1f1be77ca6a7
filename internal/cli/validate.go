package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/schema"
)

// ValidationIssue is one record that failed its table schema.
type ValidationIssue struct {
	File    string `json:"file"`
	Index   int    `json:"index"` // position in the file; 0 for a single object
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Checked int               `json:"checked"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Op string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <table> <file>...",
		Short: "Check record files against the table schema",
		Long: `Check JSON records against the built-in table definitions without
touching the database. Each file holds one record object or an array of
records.

Example:
  hrsync validate employees new-hires.json
  hrsync validate payroll --op update adjustments.json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Op, "op", string(ir.OpInsert), "operation the records are for (insert|update|delete)")

	return cmd
}

func runValidate(opts *ValidateOptions, tableName string, files []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	table, err := ir.ParseTable(tableName)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "bad table", err)
	}
	op, err := ir.ParseOp(opts.Op)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "bad op", err)
	}

	v, err := schema.Load()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "load schema", err)
	}

	result := ValidationResult{Valid: true}
	for _, path := range files {
		formatter.VerboseLog("Validating %s", path)
		recs, err := readRecords(path)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "read "+path, err)
		}
		for i, rec := range recs {
			result.Checked++
			if err := v.Validate(table, op, rec); err != nil {
				result.Valid = false
				result.Errors = append(result.Errors, issueFor(path, i, err))
			}
		}
	}

	if result.Valid {
		return formatter.Render(result, func(w io.Writer) {
			fmt.Fprintf(w, "✓ %d %s record(s) valid\n", result.Checked, table)
		})
	}
	return outputValidationErrors(formatter, result)
}

func issueFor(path string, index int, err error) ValidationIssue {
	issue := ValidationIssue{File: path, Index: index, Message: err.Error()}
	var schemaErr *schema.Error
	if errors.As(err, &schemaErr) {
		issue.Field = schemaErr.Field
		issue.Message = schemaErr.Message
	}
	return issue
}

// outputValidationErrors reports every failing record. Invalid records are
// an operation failure (exit code 1).
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	first := result.Errors[0]
	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeSchema, first.Message, result)
	} else {
		for _, issue := range result.Errors {
			loc := fmt.Sprintf("%s[%d]", issue.File, issue.Index)
			if issue.Field != "" {
				fmt.Fprintf(formatter.Writer, "✗ %s: %s: %s\n", loc, issue.Field, issue.Message)
			} else {
				fmt.Fprintf(formatter.Writer, "✗ %s: %s\n", loc, issue.Message)
			}
		}
		fmt.Fprintf(formatter.Writer, "%d of %d record(s) invalid\n", len(result.Errors), result.Checked)
	}
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("%s: %d invalid record(s)", ErrCodeSchema, len(result.Errors)))
	exitErr.Rendered = true
	return exitErr
}

// readRecords reads one record object or an array of them.
func readRecords(path string) ([]ir.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return ir.DecodeRecords(trimmed)
	}
	rec, err := ir.DecodeRecord(trimmed)
	if err != nil {
		return nil, err
	}
	return []ir.Record{rec}, nil
}
