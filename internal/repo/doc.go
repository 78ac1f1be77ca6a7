// Package repo provides typed read/write/query access over the record tables
// of the persistent store.
//
// Every write is an idempotent upsert keyed by the record's id. Queries are
// full-table scans with client-side filter, sort and limit; they suit the
// modest table sizes of a single tenant's cache and maintain no cursor.
package repo
