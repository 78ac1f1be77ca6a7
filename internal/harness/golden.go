package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/hrsync/internal/ir"
)

// GoldenDir holds one <scenario>.golden file per scenario, relative to the
// package under test.
const GoldenDir = "testdata/golden"

// TraceSnapshot is what a golden file stores: the scenario name and its
// trace, serialized canonically so equal runs are byte-identical.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// Marshal returns the canonical JSON form of the snapshot.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	events := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"type":   ev.Type,
			"action": ev.Action,
			"seq":    ev.Seq,
		}
		if len(ev.Result) > 0 {
			m["result"] = ev.Result
		}
		events[i] = m
	}
	return ir.MarshalRecord(ir.Record{
		"scenario_name": s.ScenarioName,
		"trace":         events,
	})
}

// RunWithGolden runs scenario and compares its trace with the golden file.
// Regenerate with:
//
//	go test ./internal/harness -update
//
// A trace mismatch fails t through goldie; an error means the scenario
// could not run at all.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
