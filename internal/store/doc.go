// Package store provides the SQLite-backed persistent store for hrsync.
//
// The store holds three kinds of collections:
//   - Record tables: one physical table per ir.Table (rec_<name>), keyed by id
//   - Outbox: the mutation queue, keyed by an AUTOINCREMENT key
//   - Meta: engine bookkeeping, one value per string key
//
// # Transactions
//
// All access goes through RunInTx, which scopes a transaction to exactly one
// collection. A transaction commits only if the callback returns nil; any
// error rolls back every statement issued inside it. There is no cross
// collection atomicity.
//
// # Schema evolution
//
// The layout version lives in PRAGMA user_version. Upgrade steps are additive
// only (CREATE ... IF NOT EXISTS, ADD COLUMN). A collection is never dropped
// or renamed, so unsynced offline writes survive every upgrade.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: a committed enqueue survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - Single connection: SQLite supports one writer
package store
