package duck

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func tempSnapshot(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "snapshot.duckdb")
}

func TestEnsureIndexes(t *testing.T) {
	path := tempSnapshot(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE assets_sp_deputado_federal_2022 (candidate_id BIGINT, valor DOUBLE)"); err != nil {
		t.Fatalf("creating table: %v", err)
	}

	wanted := map[string][]string{
		"assets_sp_deputado_federal_2022": {"candidate_id"},
		"votes_municipio_agg_sp_deputado_federal_2022": {"candidate_id"}, // not built yet
	}
	if err := EnsureIndexes(ctx, db, wanted, zerolog.Nop()); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}

	var n int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM duckdb_indexes() WHERE index_name = 'idx_assets_sp_deputado_federal_2022_candidate_id'",
	).Scan(&n)
	if err != nil {
		t.Fatalf("checking indexes: %v", err)
	}
	if n != 1 {
		t.Errorf("index count = %d, want 1", n)
	}

	// Idempotent on a second run.
	if err := EnsureIndexes(ctx, db, wanted, zerolog.Nop()); err != nil {
		t.Errorf("second EnsureIndexes: %v", err)
	}
}

func TestEnsureIndexesReportsUnreadableSnapshot(t *testing.T) {
	path := tempSnapshot(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	wanted := map[string][]string{"anything": {"candidate_id"}}
	if err := EnsureIndexes(context.Background(), db, wanted, zerolog.Nop()); err == nil {
		t.Error("EnsureIndexes on a closed handle should return an error")
	}
}

func TestExists(t *testing.T) {
	path := tempSnapshot(t)
	if Exists(path) {
		t.Error("Exists should be false before the file is created")
	}

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	db.Close()

	if !Exists(path) {
		t.Error("Exists should be true after the snapshot is created")
	}
	if Exists(filepath.Dir(path)) {
		t.Error("a directory is not a snapshot")
	}
}
