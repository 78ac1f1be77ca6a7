package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hrsync/internal/ir"
)

// Scenario defines a conformance test scenario.
// A scenario seeds local and remote state, runs a sequence of writes,
// connectivity changes and sync cycles, then asserts on the trace and the
// final state of both sides.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Online is the connectivity level writes see before any step changes it.
	Online bool `yaml:"online,omitempty"`

	// Local and Remote seed the two sides, keyed by table name. Seeding is
	// not traced.
	Local  map[string][]map[string]any `yaml:"local,omitempty"`
	Remote map[string][]map[string]any `yaml:"remote,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, absent, outbox
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one of the action fields is set.
type Step struct {
	// Writes go through the offline-first writer. The field holds the table.
	Insert string `yaml:"insert,omitempty"`
	Update string `yaml:"update,omitempty"`
	Delete string `yaml:"delete,omitempty"`

	// Record is the payload for insert and update.
	Record map[string]any `yaml:"record,omitempty"`

	// ID is the record id for delete.
	ID string `yaml:"id,omitempty"`

	// Sync runs a cycle: "full", "push" or "pull".
	Sync string `yaml:"sync,omitempty"`

	// SetOnline changes the level the writer sees.
	SetOnline *bool `yaml:"set_online,omitempty"`

	// RemoteDown makes every remote call fail as unreachable while true.
	RemoteDown *bool `yaml:"remote_down,omitempty"`

	// FailNext makes the next N remote calls fail with a transient error.
	FailNext int `yaml:"fail_next,omitempty"`

	// Reject makes the remote refuse every write to one record.
	Reject *RejectStep `yaml:"reject,omitempty"`

	// RetryRejected returns every rejected mutation to pending.
	RetryRejected bool `yaml:"retry_rejected,omitempty"`

	// Reopen closes and reopens the local database.
	Reopen bool `yaml:"reopen,omitempty"`

	// Expect checks the step's outcome. If nil, any outcome is accepted.
	Expect *Expect `yaml:"expect,omitempty"`
}

// RejectStep names the record the remote refuses.
type RejectStep struct {
	Table  string `yaml:"table"`
	ID     string `yaml:"id"`
	Reason string `yaml:"reason"`
}

// Expect specifies the expected outcome of a write or sync step.
type Expect struct {
	// Delivery is the expected write delivery: sent, queued or rejected.
	Delivery string `yaml:"delivery,omitempty"`

	// Error is the expected sync error: "none", "push_incomplete",
	// "pull_incomplete", "sync_in_progress" or "any".
	Error string `yaml:"error,omitempty"`

	// Counts of a sync result. Nil counts are not checked.
	Sent      *int `yaml:"sent,omitempty"`
	Rejected  *int `yaml:"rejected,omitempty"`
	Remaining *int `yaml:"remaining,omitempty"`
	Pulled    *int `yaml:"pulled,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check an action appears in the trace
	// - "trace_order": Check actions appear in order
	// - "trace_count": Check an action appears exactly N times
	// - "final_state": Check one record's fields (subset match)
	// - "absent": Check a record does not exist
	// - "outbox": Check pending and rejected counts
	Type string `yaml:"type"`

	// Action is a trace action such as "insert employees/emp-1" (used by
	// trace_contains and trace_count).
	Action string `yaml:"action,omitempty"`

	// Event restricts trace matching to one event type (write, call, sync,
	// control). Empty matches every type.
	Event string `yaml:"event,omitempty"`

	// Actions is the expected action order (used by trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Side is "local" (default) or "remote" (used by final_state and absent).
	Side string `yaml:"side,omitempty"`

	// Table and ID locate a record (used by final_state and absent).
	Table string `yaml:"table,omitempty"`
	ID    string `yaml:"id,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Pending and Rejected are expected outbox counts (used by outbox).
	Pending  *int `yaml:"pending,omitempty"`
	Rejected *int `yaml:"rejected,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertAbsent        = "absent"
	AssertOutbox        = "outbox"
)

// Side constants for state assertions.
const (
	SideLocal  = "local"
	SideRemote = "remote"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, seed := range []map[string][]map[string]any{s.Local, s.Remote} {
		for name, recs := range seed {
			if _, err := ir.ParseTable(name); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			for i, rec := range recs {
				if _, ok := ir.Record(rec).ID(); !ok {
					return fmt.Errorf("seed %s[%d]: id is required", name, i)
				}
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// kind returns the name of the step's action, or "" when zero or several
// action fields are set.
func (s *Step) kind() string {
	var kinds []string
	add := func(set bool, name string) {
		if set {
			kinds = append(kinds, name)
		}
	}
	add(s.Insert != "", "insert")
	add(s.Update != "", "update")
	add(s.Delete != "", "delete")
	add(s.Sync != "", "sync")
	add(s.SetOnline != nil, "set_online")
	add(s.RemoteDown != nil, "remote_down")
	add(s.FailNext != 0, "fail_next")
	add(s.Reject != nil, "reject")
	add(s.RetryRejected, "retry_rejected")
	add(s.Reopen, "reopen")
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s *Step) table() string {
	switch {
	case s.Insert != "":
		return s.Insert
	case s.Update != "":
		return s.Update
	default:
		return s.Delete
	}
}

// validateStep validates a single step based on its action.
func validateStep(index int, s *Step) error {
	kind := s.kind()
	if kind == "" {
		return fmt.Errorf("steps[%d]: exactly one action is required", index)
	}

	switch kind {
	case "insert", "update", "delete":
		if _, err := ir.ParseTable(s.table()); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		if kind == "delete" && s.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for delete", index)
		}
		if kind != "delete" && s.Record == nil {
			return fmt.Errorf("steps[%d]: record is required for %s", index, kind)
		}
	case "sync":
		switch s.Sync {
		case "full", "push", "pull":
		default:
			return fmt.Errorf("steps[%d]: sync must be full, push or pull, got %q", index, s.Sync)
		}
	case "fail_next":
		if s.FailNext < 0 {
			return fmt.Errorf("steps[%d]: fail_next must be positive", index)
		}
	case "reject":
		if _, err := ir.ParseTable(s.Reject.Table); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
		if s.Reject.ID == "" {
			return fmt.Errorf("steps[%d]: reject.id is required", index)
		}
	}

	if s.Expect != nil {
		if s.Expect.Delivery != "" && kind != "insert" && kind != "update" && kind != "delete" {
			return fmt.Errorf("steps[%d].expect: delivery only applies to writes", index)
		}
		switch s.Expect.Error {
		case "", "none", "any", "push_incomplete", "pull_incomplete", "sync_in_progress":
		default:
			return fmt.Errorf("steps[%d].expect: unknown error %q", index, s.Expect.Error)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState, AssertAbsent:
		if _, err := ir.ParseTable(a.Table); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
		if a.Side != "" && a.Side != SideLocal && a.Side != SideRemote {
			return fmt.Errorf("assertions[%d]: side must be local or remote, got %q", index, a.Side)
		}
		if a.Type == AssertFinalState && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertOutbox:
		if a.Pending == nil && a.Rejected == nil {
			return fmt.Errorf("assertions[%d]: pending or rejected is required for outbox", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
