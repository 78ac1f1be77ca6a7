package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/hrsync/internal/ir"
)

// Schema version tracking:
// 0 - Fresh file
// 1 - Record tables, outbox(key, table_name, op, payload, created_at), meta
// 2 - outbox gains status, attempts, last_error and a (status, key) index
//
// Every step is additive.

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > ir.SchemaVersion {
		return fmt.Errorf("store schema v%d is newer than supported v%d", version, ir.SchemaVersion)
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", ir.SchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV2 adds the outbox bookkeeping columns. Rows queued by a v1 store
// come out as pending with zero attempts.
func migrateToV2(db *sql.DB) error {
	columns := []struct {
		name string
		ddl  string
	}{
		{"status", "ALTER TABLE outbox ADD COLUMN status TEXT NOT NULL DEFAULT 'pending'"},
		{"attempts", "ALTER TABLE outbox ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0"},
		{"last_error", "ALTER TABLE outbox ADD COLUMN last_error TEXT NOT NULL DEFAULT ''"},
	}

	for _, col := range columns {
		exists, err := hasColumn(db, "outbox", col.name)
		if err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
		if exists {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("migrate to v2: add %s: %w", col.name, err)
		}
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_outbox_status_key ON outbox(status, key)`)
	if err != nil {
		return fmt.Errorf("migrate to v2: index: %w", err)
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("scan table_info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
