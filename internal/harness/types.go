package harness

// Trace event types.
const (
	EventWrite   = "write"   // a Writer call
	EventCall    = "call"    // a request the remote received
	EventSync    = "sync"    // a sync cycle
	EventControl = "control" // connectivity, fault injection, retry, reopen
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Type   string         `json:"type"`
	Action string         `json:"action"` // e.g. "insert employees/emp-1", "sync full"
	Result map[string]any `json:"result,omitempty"`
	Seq    int64          `json:"seq"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains writes, remote calls, sync cycles and control steps
	// in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrace appends an event.
func (r *Result) addTrace(typ, action string, result map[string]any, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   typ,
		Action: action,
		Result: result,
		Seq:    seq,
	})
}
