// Package schema checks local writes against CUE definitions of every table
// before they reach the store or the outbox.
package schema

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/hrsync/internal/ir"
)

//go:embed tables.cue
var tablesCUE []byte

// Error describes why a record does not fit its table.
type Error struct {
	Table ir.Table
	Op    ir.Op

	// Field is empty when the failure is not tied to one field.
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s %s: %s: %s", e.Op, e.Table, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s %s: %s", e.Op, e.Table, e.Message)
}

type tableSchema struct {
	def      cue.Value
	allowed  map[string]bool
	required []string
}

// Validator holds the compiled table definitions.
type Validator struct {
	// CUE values share one runtime, which is not safe for concurrent use.
	mu     sync.Mutex
	tables map[ir.Table]tableSchema
}

// Load compiles the built-in table definitions.
func Load() (*Validator, error) {
	return LoadBytes("tables.cue", tablesCUE)
}

// LoadBytes compiles definitions from src. src must define tables.<name>
// for every known table; required.<name> is optional.
func LoadBytes(filename string, src []byte) (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileBytes(src, cue.Filename(filename))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile %s: %w", filename, formatCUEError(err))
	}

	v := &Validator{tables: make(map[ir.Table]tableSchema)}
	for _, t := range ir.Tables() {
		def := root.LookupPath(cue.MakePath(cue.Str("tables"), cue.Str(string(t))))
		if !def.Exists() {
			return nil, fmt.Errorf("compile %s: no definition for table %s", filename, t)
		}

		allowed := make(map[string]bool)
		iter, err := def.Fields(cue.Optional(true))
		if err != nil {
			return nil, fmt.Errorf("compile %s: fields of %s: %w", filename, t, formatCUEError(err))
		}
		for iter.Next() {
			allowed[iter.Selector().Unquoted()] = true
		}

		var required []string
		reqVal := root.LookupPath(cue.MakePath(cue.Str("required"), cue.Str(string(t))))
		if reqVal.Exists() {
			if err := reqVal.Decode(&required); err != nil {
				return nil, fmt.Errorf("compile %s: required fields of %s: %w", filename, t, formatCUEError(err))
			}
		}
		for _, f := range required {
			if !allowed[f] {
				return nil, fmt.Errorf("compile %s: required field %s.%s is not defined", filename, t, f)
			}
		}

		v.tables[t] = tableSchema{def: def, allowed: allowed, required: required}
	}
	return v, nil
}

// Fields returns the field names defined for a table, sorted.
func (v *Validator) Fields(table ir.Table) []string {
	ts, ok := v.tables[table]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ts.allowed))
	for f := range ts.allowed {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Validate checks rec as the payload of op on table.
//
// Inserts must carry every required field. Updates are partial and only need
// an id. Deletes only need an id. Every field present must be defined for the
// table and satisfy its constraint.
func (v *Validator) Validate(table ir.Table, op ir.Op, rec ir.Record) error {
	fail := func(field, msg string) error {
		return &Error{Table: table, Op: op, Field: field, Message: msg}
	}

	ts, ok := v.tables[table]
	if !ok {
		return fail("", "unknown table")
	}

	switch op {
	case ir.OpInsert:
		for _, f := range ts.required {
			if val, present := rec[f]; !present || val == nil {
				return fail(f, "field is required")
			}
		}
	case ir.OpUpdate, ir.OpDelete:
		if _, ok := rec.ID(); !ok {
			return fail("id", "field is required")
		}
		if op == ir.OpDelete {
			return nil
		}
	default:
		return fail("", fmt.Sprintf("unknown op %q", op))
	}

	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !ts.allowed[k] {
			return fail(k, "field is not defined")
		}
	}

	data, err := ir.MarshalRecord(rec)
	if err != nil {
		return fail("", err.Error())
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	val := ts.def.Context().CompileBytes(data)
	if err := val.Err(); err != nil {
		return fail("", err.Error())
	}
	if err := ts.def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		field, msg := describe(err)
		return fail(field, msg)
	}
	return nil
}

// describe reduces a CUE error to the innermost field name and a message.
func describe(err error) (string, string) {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return "", err.Error()
	}
	first := errs[0]

	var field string
	if path := first.Path(); len(path) > 0 {
		field = path[len(path)-1]
	}
	format, args := first.Msg()
	return field, fmt.Sprintf(format, args...)
}

// formatCUEError keeps only the first of possibly many CUE errors, with its
// position when available.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 && positions[0].IsValid() {
		pos := positions[0]
		return fmt.Errorf("%s:%d:%d: %s", pos.Filename(), pos.Line(), pos.Column(), strings.TrimSpace(first.Error()))
	}
	return first
}
