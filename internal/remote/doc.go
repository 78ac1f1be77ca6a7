// Package remote talks to the server that owns the canonical copy of every
// table.
//
// Client is the collaborator the sync engine pushes to and pulls from.
// HTTPClient speaks the REST contract:
//
//	GET    /tables/{table}        -> JSON array of records
//	POST   /tables/{table}        -> created record
//	PATCH  /tables/{table}/{id}   partial update
//	DELETE /tables/{table}/{id}
//	GET    /healthz               reachability probe
//
// Memory is an in-process Client with a call log and fault injection.
//
// Every failure is an *Error classified as transient (worth retrying later)
// or rejected (the server refused this particular write).
package remote
