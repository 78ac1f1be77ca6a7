// Package harness provides conformance testing for the offline-first
// writer and sync coordinator.
//
// Each scenario runs the real store, outbox, writer and coordinator
// against an in-memory remote, so traces show what the engine actually did.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	online: false
//	remote:
//	  employees:
//	    - { id: emp-1, name: Ada, email: ada@example.com }
//	steps:
//	  - update: employees
//	    record: { id: emp-1, department: Finance }
//	    expect: { delivery: queued }
//	  - set_online: true
//	  - sync: full
//	    expect: { error: none, sent: 1 }
//	assertions:
//	  - type: trace_order
//	    event: call
//	    actions: ["update employees/emp-1", "list employees"]
//	  - type: final_state
//	    side: remote
//	    table: employees
//	    id: emp-1
//	    expect: { department: Finance }
//	  - type: outbox
//	    pending: 0
//
// # Steps
//
// Each step sets exactly one action:
//
//   - insert, update, delete: a write through engine.Writer
//   - sync: full, push or pull
//   - set_online: the connectivity level the writer sees
//   - remote_down, fail_next, reject: remote fault injection
//   - retry_rejected: return rejected mutations to pending
//   - reopen: close and reopen the local database
//
// # Assertion Types
//
//   - trace_contains: Verifies an action appears in the trace
//   - trace_order: Verifies actions appear in specified order
//   - trace_count: Verifies an action appears exactly N times
//   - final_state: Verifies fields of a local or remote record
//   - absent: Verifies a local or remote record does not exist
//   - outbox: Verifies pending and rejected counts
//
// # Deterministic Testing
//
// The harness uses a fixed wall clock (testutil.Clock), sequential record
// ids ("rec-N") and cycle tokens ("cycle-N"), and pulls one table at a time,
// so traces are identical across runs and can be compared with golden files.
package harness
