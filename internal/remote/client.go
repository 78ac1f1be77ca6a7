package remote

import (
	"context"

	"github.com/roach88/hrsync/internal/ir"
)

// Client is the remote collaborator.
type Client interface {
	// List returns every record of the table.
	List(ctx context.Context, table ir.Table) ([]ir.Record, error)

	// Insert creates a record and returns the server's copy.
	Insert(ctx context.Context, table ir.Table, rec ir.Record) (ir.Record, error)

	// Update applies a partial record to the row with the given id.
	Update(ctx context.Context, table ir.Table, id string, partial ir.Record) error

	// Delete removes the row with the given id.
	Delete(ctx context.Context, table ir.Table, id string) error
}

// Pinger reports whether the remote is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
