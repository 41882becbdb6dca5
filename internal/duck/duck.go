// Package duck manages connections to the DuckDB snapshot file.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rs/zerolog"
)

// Open opens the snapshot read-write, creating the parent directory when the
// database does not exist yet.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("Open: creating %s: %w", dir, err)
		}
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	return db, nil
}

// OpenReadOnly opens the snapshot in read-only mode, so API requests never
// contend for the single writer lock.
func OpenReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("OpenReadOnly: %w", err)
	}
	return db, nil
}

// Exists reports whether the snapshot file is present on disk.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Tables returns the set of table names in the snapshot.
func Tables(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT table_name FROM duckdb_tables()")
	if err != nil {
		return nil, fmt.Errorf("Tables: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("Tables: scanning: %w", err)
		}
		out[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Tables: %w", err)
	}
	return out, nil
}

// EnsureIndexes creates the per-table candidate_id (and name) indexes the query
// service relies on. Tables that do not exist yet are skipped; individual index
// failures are logged and do not abort startup.
func EnsureIndexes(ctx context.Context, db *sql.DB, wanted map[string][]string, log zerolog.Logger) error {
	existing, err := Tables(ctx, db)
	if err != nil {
		return fmt.Errorf("EnsureIndexes: %w", err)
	}

	for table, columns := range wanted {
		if !existing[table] {
			log.Debug().Str("table", table).Msg("index skip: table not built yet")
			continue
		}
		for _, col := range columns {
			name := fmt.Sprintf("idx_%s_%s", table, col)
			stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, col)
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				log.Warn().Err(err).Str("index", name).Msg("could not create index")
				continue
			}
			log.Debug().Str("index", name).Msg("index ready")
		}
	}
	return nil
}
