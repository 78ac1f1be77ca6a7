// Package ir defines the shared vocabulary of the hrsync data layer.
//
// This package contains type definitions and pure helpers only. Every other
// internal package imports ir; ir imports nothing internal.
//
// Key design constraints:
//   - Table names form a closed set; ParseTable rejects anything else
//   - Records are opaque maps; only "id" is ever interpreted
//   - Mutation order is defined by the store-assigned Key, never by CreatedAt
//   - All JSON tags use snake_case
package ir
