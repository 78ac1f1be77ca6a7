package ir

import (
	"fmt"
	"time"
)

// Table names a collection of records sharing a schema.
// The set is fixed at build time; see Tables.
type Table string

const (
	Employees     Table = "employees"
	Deployments   Table = "deployments"
	LeaveRequests Table = "leave_requests"
	Payroll       Table = "payroll"
	Attendance    Table = "attendance"
	AdminUsers    Table = "admin_users"
	Notifications Table = "notifications"
	Settings      Table = "settings"
)

// tables is kept in declaration order. Pull order and schema order follow it.
var tables = []Table{
	Employees,
	Deployments,
	LeaveRequests,
	Payroll,
	Attendance,
	AdminUsers,
	Notifications,
	Settings,
}

// Tables returns every known table in declaration order.
// The returned slice is a copy.
func Tables() []Table {
	out := make([]Table, len(tables))
	copy(out, tables)
	return out
}

// ParseTable converts a raw name into a Table.
// Unknown names are an error so a typo can never create an unsynced collection.
func ParseTable(name string) (Table, error) {
	for _, t := range tables {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown table %q", name)
}

// Valid reports whether t is one of the known tables.
func (t Table) Valid() bool {
	_, err := ParseTable(string(t))
	return err == nil
}

// Op is the kind of write a Mutation performs.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ParseOp converts a raw op name into an Op.
func ParseOp(name string) (Op, error) {
	switch Op(name) {
	case OpInsert, OpUpdate, OpDelete:
		return Op(name), nil
	}
	return "", fmt.Errorf("unknown op %q", name)
}

// MutationStatus tracks whether a queued mutation is still eligible for push.
type MutationStatus string

const (
	// StatusPending mutations are replayed by the next push.
	StatusPending MutationStatus = "pending"

	// StatusRejected mutations were refused by the remote. They stay in the
	// queue, visible to the user, until retried or cleared explicitly.
	StatusRejected MutationStatus = "rejected"
)

// Mutation is a single write waiting for remote confirmation.
type Mutation struct {
	Key       int64          `json:"key"` // Assigned by the store at enqueue; defines replay order
	Table     Table          `json:"table"`
	Op        Op             `json:"op"`
	Payload   Record         `json:"payload"`
	CreatedAt time.Time      `json:"created_at"` // Diagnostic only
	Status    MutationStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
}

// RecordID returns the id carried in the payload, if any.
func (m Mutation) RecordID() string {
	id, _ := m.Payload.ID()
	return id
}

// Validate checks the structural requirements of a mutation before it is queued.
func (m Mutation) Validate() error {
	if !m.Table.Valid() {
		return fmt.Errorf("invalid mutation: unknown table %q", m.Table)
	}
	if _, err := ParseOp(string(m.Op)); err != nil {
		return fmt.Errorf("invalid mutation: %w", err)
	}
	if m.Payload == nil {
		return fmt.Errorf("invalid mutation: payload is required")
	}
	if m.Op == OpUpdate || m.Op == OpDelete {
		if _, ok := m.Payload.ID(); !ok {
			return fmt.Errorf("invalid mutation: %s payload must contain id", m.Op)
		}
	}
	return nil
}

// Meta keys written by the sync coordinator.
const (
	MetaLastFullSync = "last_full_sync"
	MetaLastPush     = "last_push"
	MetaLastPull     = "last_pull"
)
