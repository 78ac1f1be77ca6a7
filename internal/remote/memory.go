package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/hrsync/internal/ir"
)

// Call is one entry of Memory's call log.
type Call struct {
	Op    string   `json:"op" yaml:"op"`
	Table ir.Table `json:"table" yaml:"table"`
	ID    string   `json:"id,omitempty" yaml:"id,omitempty"`
}

func (c Call) String() string {
	if c.ID == "" {
		return c.Op + " " + string(c.Table)
	}
	return c.Op + " " + string(c.Table) + "/" + c.ID
}

var (
	errUnreachable = errors.New("remote unreachable")
	errUnavailable = errors.New("service unavailable")
)

// Memory is a Client that keeps tables in process.
//
// It behaves like a well-formed server: inserts without an id get one,
// updates of unknown ids are rejected with 404, deletes are idempotent.
// It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	tables   map[ir.Table]map[string]ir.Record
	calls    []Call
	failNext int
	rejects  map[rejectKey]string
	down     bool
	nextID   int
}

type rejectKey struct {
	table ir.Table
	id    string
}

// NewMemory returns an empty in-memory remote.
func NewMemory() *Memory {
	return &Memory{
		tables:  make(map[ir.Table]map[string]ir.Record),
		rejects: make(map[rejectKey]string),
	}
}

// Seed stores records directly, bypassing the call log.
func (m *Memory) Seed(table ir.Table, recs ...ir.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		id, ok := rec.ID()
		if !ok {
			panic(fmt.Sprintf("remote: seed %s record without id", table))
		}
		m.table(table)[id] = rec.Clone()
	}
}

// Records returns a copy of the table's rows ordered by id.
func (m *Memory) Records(table ir.Table) []ir.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(table)
}

// Get returns a copy of one row.
func (m *Memory) Get(table ir.Table, id string) (ir.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tables[table][id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Calls returns the call log in arrival order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// ResetCalls empties the call log.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// FailNext makes the next n calls fail with a transient error.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext += n
}

// Reject makes every write touching table/id fail with a 422 carrying reason.
func (m *Memory) Reject(table ir.Table, id, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejects[rejectKey{table, id}] = reason
}

// SetDown makes every call, Ping included, fail as unreachable while down.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// Ping implements Pinger.
func (m *Memory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindTransient, Op: "ping", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return &Error{Kind: KindTransient, Op: "ping", Err: errUnreachable}
	}
	return nil
}

// List implements Client.
func (m *Memory) List(ctx context.Context, table ir.Table) ([]ir.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, Call{Op: "list", Table: table}); err != nil {
		return nil, err
	}
	return m.sorted(table), nil
}

// Insert implements Client.
func (m *Memory) Insert(ctx context.Context, table ir.Table, rec ir.Record) (ir.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := rec.ID()
	if err := m.begin(ctx, Call{Op: "insert", Table: table, ID: id}); err != nil {
		return nil, err
	}
	if !ok {
		m.nextID++
		id = fmt.Sprintf("srv-%d", m.nextID)
	}
	if err := m.rejected("insert", table, id); err != nil {
		return nil, err
	}

	stored := rec.Clone()
	stored["id"] = id
	m.table(table)[id] = stored
	return stored.Clone(), nil
}

// Update implements Client.
func (m *Memory) Update(ctx context.Context, table ir.Table, id string, partial ir.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(ctx, Call{Op: "update", Table: table, ID: id}); err != nil {
		return err
	}
	if err := m.rejected("update", table, id); err != nil {
		return err
	}
	current, ok := m.tables[table][id]
	if !ok {
		return &Error{Kind: KindRejected, Status: 404, Table: table, Op: "update", Err: fmt.Errorf("%s not found", id)}
	}
	merged := current.Merge(partial)
	merged["id"] = id
	m.tables[table][id] = merged
	return nil
}

// Delete implements Client.
func (m *Memory) Delete(ctx context.Context, table ir.Table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(ctx, Call{Op: "delete", Table: table, ID: id}); err != nil {
		return err
	}
	if err := m.rejected("delete", table, id); err != nil {
		return err
	}
	delete(m.tables[table], id)
	return nil
}

// begin logs the call and applies injected faults. Callers hold mu.
func (m *Memory) begin(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindTransient, Table: c.Table, Op: c.Op, Err: err}
	}
	m.calls = append(m.calls, c)
	if m.down {
		return &Error{Kind: KindTransient, Table: c.Table, Op: c.Op, Err: errUnreachable}
	}
	if m.failNext > 0 {
		m.failNext--
		return &Error{Kind: KindTransient, Status: 503, Table: c.Table, Op: c.Op, Err: errUnavailable}
	}
	return nil
}

func (m *Memory) rejected(op string, table ir.Table, id string) error {
	reason, ok := m.rejects[rejectKey{table, id}]
	if !ok {
		return nil
	}
	return &Error{Kind: KindRejected, Status: 422, Table: table, Op: op, Err: errors.New(reason)}
}

func (m *Memory) table(t ir.Table) map[string]ir.Record {
	rows, ok := m.tables[t]
	if !ok {
		rows = make(map[string]ir.Record)
		m.tables[t] = rows
	}
	return rows
}

func (m *Memory) sorted(table ir.Table) []ir.Record {
	rows := m.tables[table]
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]ir.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, rows[id].Clone())
	}
	return out
}
