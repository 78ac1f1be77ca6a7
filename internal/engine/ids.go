package engine

import "github.com/google/uuid"

// IDGenerator produces cycle tokens and ids for records created offline.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator returns UUIDv7 strings. They sort by creation time, so
// offline inserts keep their creation order when listed by id.
//
// Safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
