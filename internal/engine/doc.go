// Package engine reconciles the local store with the remote.
//
// The Coordinator runs sync cycles:
//
//  1. Push (SyncUp) replays the pending outbox strictly in key order, one
//     call at a time. A rejected mutation is marked and skipped. A transient
//     failure stops the drain and leaves the rest queued. Only the keys that
//     were actually sent are removed, so writes queued during the drain
//     survive.
//  2. Pull (SyncDown) fetches every table concurrently and upserts the rows.
//     Pull is additive: rows that exist only locally are kept, and rows that
//     still have a pending mutation are not overwritten.
//
// FullSync runs push then pull. Only one cycle runs at a time; every cycle
// gets a token that is attached to its log lines.
//
// The Writer is the call-site helper for local writes: it applies the write
// to the store first, then sends it to the remote when online and queues it
// otherwise.
package engine
