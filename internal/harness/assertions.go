package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/hrsync/internal/ir"
	"github.com/roach88/hrsync/internal/outbox"
	"github.com/roach88/hrsync/internal/remote"
	"github.com/roach88/hrsync/internal/repo"
	"github.com/roach88/hrsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	// Header with assertion type
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)

	// Expected vs Actual (most important info)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %-7s %s\n", event.Seq, event.Type, event.Action)
		}
	}

	return buf.String()
}

// matches reports whether event is action, optionally restricted to one
// event type.
func matches(event TraceEvent, action, eventType string) bool {
	if eventType != "" && event.Type != eventType {
		return false
	}
	return event.Action == action
}

// assertTraceContains checks if the trace contains the action.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matches(event, assertion.Action, assertion.Event) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeAction(assertion.Action, assertion.Event),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening events are allowed),
// and each match must come after the previous one.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, action := range assertion.Actions {
		found := -1
		for j := pos; j < len(trace); j++ {
			if matches(trace[j], action, assertion.Event) {
				found = j
				break
			}
		}
		if found < 0 {
			actual := fmt.Sprintf("missing action: %s", action)
			if i > 0 {
				actual = fmt.Sprintf("%s not found after %s", action, assertion.Actions[i-1])
			}
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual:   actual,
				Trace:    trace,
			}
		}
		pos = found + 1
	}
	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion.Action, assertion.Event) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, describeAction(assertion.Action, assertion.Event)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func describeAction(action, eventType string) string {
	if eventType == "" {
		return action
	}
	return eventType + " " + action
}

// lookup fetches a record from the asserted side. ok is false when the
// record does not exist.
func lookup(actx *AssertionContext, assertion Assertion) (ir.Record, bool, error) {
	table, err := ir.ParseTable(assertion.Table)
	if err != nil {
		return nil, false, err
	}
	if assertion.Side == SideRemote {
		rec, ok := actx.Remote.Get(table, assertion.ID)
		return rec, ok, nil
	}
	rec, err := actx.Repo.GetOne(actx.Ctx, table, assertion.ID)
	if store.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func side(a Assertion) string {
	if a.Side == "" {
		return SideLocal
	}
	return a.Side
}

// assertFinalState checks one record's fields using subset semantics.
// Values are compared by canonical JSON, so 5 matches a stored 5 whatever
// Go type carries it.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	rec, ok, err := lookup(actx, assertion)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}
	where := fmt.Sprintf("%s %s/%s", side(assertion), assertion.Table, assertion.ID)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: "record " + where,
			Actual:   "record not found",
		}
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := rec[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s field %q to exist", where, key),
				Actual:   fmt.Sprintf("field %q not present in %s", key, canonicalString(map[string]any(rec))),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s field %q = %s", where, key, canonicalString(expectedValue)),
				Actual:   fmt.Sprintf("field %q = %s", key, canonicalString(actualValue)),
			}
		}
	}
	return nil
}

// assertAbsent checks that a record does not exist.
func assertAbsent(actx *AssertionContext, assertion Assertion) error {
	rec, ok, err := lookup(actx, assertion)
	if err != nil {
		return fmt.Errorf("absent: %w", err)
	}
	if ok {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("no record %s %s/%s", side(assertion), assertion.Table, assertion.ID),
			Actual:   "found " + canonicalString(map[string]any(rec)),
		}
	}
	return nil
}

// assertOutbox checks pending and rejected counts.
func assertOutbox(actx *AssertionContext, assertion Assertion) error {
	total, err := actx.Queue.Len(actx.Ctx)
	if err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	pending, err := actx.Queue.PendingLen(actx.Ctx)
	if err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	rejected := total - pending

	if (assertion.Pending != nil && *assertion.Pending != pending) ||
		(assertion.Rejected != nil && *assertion.Rejected != rejected) {
		return &AssertionError{
			Type:     AssertOutbox,
			Expected: fmt.Sprintf("pending=%s rejected=%s", optInt(assertion.Pending), optInt(assertion.Rejected)),
			Actual:   fmt.Sprintf("pending=%d rejected=%d", pending, rejected),
		}
	}
	return nil
}

func optInt(n *int) string {
	if n == nil {
		return "any"
	}
	return fmt.Sprint(*n)
}

// stateValuesEqual compares an expected YAML value with a stored one.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	return canonicalString(expected) == canonicalString(actual)
}

// canonicalString renders v as canonical JSON, falling back to %v for
// values the canonical form cannot hold.
func canonicalString(v any) string {
	data, err := ir.MarshalRecord(ir.Record{"v": v})
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	// Strip the {"v": ... } wrapper.
	return string(data[len(`{"v":`) : len(data)-1])
}

// AssertionContext provides what state assertions read.
type AssertionContext struct {
	Ctx    context.Context
	Repo   *repo.Repository
	Queue  *outbox.Queue
	Remote *remote.Memory
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides local and remote access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState, AssertAbsent, AssertOutbox:
			if actx == nil || actx.Repo == nil || actx.Queue == nil || actx.Remote == nil {
				err = fmt.Errorf("assertion[%d]: %s requires state context", i, assertion.Type)
				break
			}
			switch assertion.Type {
			case AssertFinalState:
				err = assertFinalState(actx, assertion)
			case AssertAbsent:
				err = assertAbsent(actx, assertion)
			default:
				err = assertOutbox(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
