package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andrelz/eleicoes-dashboard/internal/config"
	"github.com/andrelz/eleicoes-dashboard/internal/duck"
)

var testCfg = config.Config{UF: "SP", Cargo: "DEPUTADO FEDERAL", Ano: 2022}

func TestListCandidatesSQLAllCapabilities(t *testing.T) {
	sql := listCandidatesSQL(testCfg, Capabilities{Assets: true, Votes: true, Finance: true}, false)

	wants := []string{
		"FROM candidates_sp_deputado_federal_2022 c",
		"LEFT JOIN votes_agg_sp_deputado_federal_2022 v ON v.candidate_id = c.id",
		"LEFT JOIN finance_agg_sp_deputado_federal_2022 f ON f.candidate_id = c.id",
		"LEFT JOIN assets_agg_sp_deputado_federal_2022 a ON a.candidate_id = c.id",
		"COALESCE(v.total_votos, 0) AS total_votos",
		"ORDER BY total_votos DESC, c.nome_urna",
		"LIMIT ? OFFSET ?",
	}
	for _, want := range wants {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q:\n%s", want, sql)
		}
	}
	if strings.Contains(sql, "WHERE") {
		t.Error("unfiltered listing must not carry a WHERE clause")
	}
}

func TestListCandidatesSQLNoCapabilities(t *testing.T) {
	sql := listCandidatesSQL(testCfg, Capabilities{}, false)

	if strings.Contains(sql, "LEFT JOIN") {
		t.Errorf("no joins expected without slice tables:\n%s", sql)
	}
	// Zero literals keep the scan column order stable.
	for _, want := range []string{
		"0 AS total_votos",
		"0.0 AS total_receitas",
		"0 AS qtd_bens",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("missing %q:\n%s", want, sql)
		}
	}
}

func TestListCandidatesSQLFiltered(t *testing.T) {
	sql := listCandidatesSQL(testCfg, Capabilities{Votes: true}, true)

	if !strings.Contains(sql, "WHERE (lower(c.nome_urna) LIKE ? OR lower(c.nome_completo) LIKE ?)") {
		t.Errorf("filter clause missing:\n%s", sql)
	}
	if got := strings.Count(sql, "?"); got != 4 {
		t.Errorf("filtered query should bind 4 parameters, found %d:\n%s", got, sql)
	}
}

// buildTestSnapshot writes a snapshot with just the candidate slice.
func buildTestSnapshot(t *testing.T) config.Config {
	t.Helper()
	cfg := testCfg
	cfg.DBPath = filepath.Join(t.TempDir(), "eleicoes.duckdb")

	db, err := duck.Open(cfg.DBPath)
	if err != nil {
		t.Fatalf("opening snapshot: %v", err)
	}
	defer db.Close()

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (
  id BIGINT, numero BIGINT, nome_urna VARCHAR, nome_completo VARCHAR,
  partido VARCHAR, uf VARCHAR, cargo VARCHAR, situacao VARCHAR)`, cfg.CandidatesTable()),
		fmt.Sprintf(`INSERT INTO %s VALUES
  (100001, 1234, 'FULANO', 'FULANO DE TAL', 'XYZ', 'SP', 'DEPUTADO FEDERAL', 'APTO'),
  (100002, 4321, 'BELTRANO', 'BELTRANO SILVA', 'ABC', 'SP', 'DEPUTADO FEDERAL', 'APTO')`, cfg.CandidatesTable()),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("building snapshot: %v", err)
		}
	}
	return cfg
}

func TestListCandidatesWhitespaceQueryMatchesAll(t *testing.T) {
	cfg := buildTestSnapshot(t)
	s := NewDuckDBStore(cfg)
	ctx := context.Background()

	got, _, err := s.ListCandidates(ctx, "   ", 50, 0)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("whitespace-only q should match all candidates, got %d", len(got))
	}

	got, _, err = s.ListCandidates(ctx, " fulano ", 50, 0)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(got) != 1 || got[0].NomeUrna != "FULANO" {
		t.Errorf("trimmed filter should match FULANO only, got %v", got)
	}
}

func TestMissingTableError(t *testing.T) {
	err := &MissingTableError{Table: "assets_sp_deputado_federal_2022"}
	msg := err.Error()
	if !strings.Contains(msg, "assets_sp_deputado_federal_2022") {
		t.Errorf("message must name the table: %s", msg)
	}
	if !strings.Contains(msg, "etl") {
		t.Errorf("message should point at the loader: %s", msg)
	}
}
