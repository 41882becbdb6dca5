// Package store is the read side of the snapshot: it opens the analytical
// database read-only and serves the candidate queries the API exposes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/andrelz/eleicoes-dashboard/internal/config"
	"github.com/andrelz/eleicoes-dashboard/internal/duck"
	"github.com/andrelz/eleicoes-dashboard/internal/sqlbuild"
)

// ErrSnapshotMissing reports that the snapshot database file does not exist.
var ErrSnapshotMissing = errors.New("snapshot database not found")

// ErrNoFinanceData reports a candidate id with no row in the finance
// aggregate. Distinct from MissingTableError: the table exists, the
// candidate is just not in it.
var ErrNoFinanceData = errors.New("candidate not found in finance data")

// MissingTableError reports a query against a slice table that was never
// loaded into the snapshot.
type MissingTableError struct {
	Table string
}

func (e *MissingTableError) Error() string {
	return fmt.Sprintf("table %s is not in the snapshot; run the matching etl command first", e.Table)
}

// CandidateSummary is one row of the candidate listing, with aggregates
// zero-filled when the matching slice table is absent.
type CandidateSummary struct {
	ID                 int64   `json:"id"`
	Numero             int64   `json:"numero"`
	NomeUrna           string  `json:"nome_urna"`
	NomeCompleto       string  `json:"nome_completo"`
	Partido            string  `json:"partido"`
	UF                 string  `json:"uf"`
	Cargo              string  `json:"cargo"`
	Situacao           string  `json:"situacao"`
	TotalBens          float64 `json:"total_bens"`
	QtdBens            int64   `json:"qtd_bens"`
	TotalVotos         int64   `json:"total_votos"`
	TotalReceitas      float64 `json:"total_receitas"`
	TotalDespesas      float64 `json:"total_despesas"`
	DoadoresUnicos     int64   `json:"doadores_unicos"`
	FornecedoresUnicos int64   `json:"fornecedores_unicos"`
}

// Asset is one declared asset of a candidate.
type Asset struct {
	Tipo      string  `json:"tipo"`
	Descricao string  `json:"descricao"`
	Valor     float64 `json:"valor"`
}

// MunicipalityVotes is a candidate's vote total in one municipality.
type MunicipalityVotes struct {
	Municipio string `json:"municipio"`
	Votos     int64  `json:"votos"`
}

// Counterparty is an aggregated donor or supplier of a candidate, grouped by
// the (name, document) pair.
type Counterparty struct {
	Nome  string  `json:"nome"`
	Doc   string  `json:"doc"`
	Total float64 `json:"total"`
}

// FinanceSummary is the per-candidate finance aggregate row.
type FinanceSummary struct {
	TotalReceitas      float64 `json:"total_receitas"`
	TotalDespesas      float64 `json:"total_despesas"`
	DoadoresUnicos     int64   `json:"doadores_unicos"`
	FornecedoresUnicos int64   `json:"fornecedores_unicos"`
}

// FinanceDetail is the finance drill-down for one candidate.
type FinanceDetail struct {
	CandidateID     int64          `json:"candidate_id"`
	Summary         FinanceSummary `json:"summary"`
	TopDoadores     []Counterparty `json:"top_doadores"`
	TopFornecedores []Counterparty `json:"top_fornecedores"`
}

// Capabilities reports which aggregate tables the snapshot carries, so
// clients can tell a real zero from a never-loaded aggregate.
type Capabilities struct {
	Assets  bool
	Votes   bool
	Finance bool
}

// Repository is what the API handlers need from the snapshot.
type Repository interface {
	SnapshotExists() bool
	ListCandidates(ctx context.Context, q string, limit, offset int) ([]CandidateSummary, Capabilities, error)
	CandidateAssets(ctx context.Context, id int64, limit, offset int) ([]Asset, error)
	CandidateVotes(ctx context.Context, id int64, limit int) ([]MunicipalityVotes, error)
	CandidateFinance(ctx context.Context, id int64, topN int) (*FinanceDetail, error)
}

// DuckDBStore serves queries from a DuckDB snapshot file. Every call opens
// the file read-only and closes it again, so the ETL can swap the snapshot
// underneath a running API.
type DuckDBStore struct {
	path string
	cfg  config.Config
}

// NewDuckDBStore creates a store over the snapshot at cfg.DBPath.
func NewDuckDBStore(cfg config.Config) *DuckDBStore {
	return &DuckDBStore{path: cfg.DBPath, cfg: cfg}
}

// SnapshotExists reports whether the snapshot file is on disk.
func (s *DuckDBStore) SnapshotExists() bool {
	return duck.Exists(s.path)
}

func (s *DuckDBStore) open(ctx context.Context) (*sql.DB, map[string]bool, error) {
	if !s.SnapshotExists() {
		return nil, nil, ErrSnapshotMissing
	}
	db, err := duck.OpenReadOnly(s.path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening snapshot: %w", err)
	}
	tables, err := duck.Tables(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("listing snapshot tables: %w", err)
	}
	return db, tables, nil
}

// ListCandidates returns the candidate listing ordered by total votes, with
// an optional case-insensitive name filter. Aggregates from slice tables
// that were never loaded come back as zeros, flagged via Capabilities.
func (s *DuckDBStore) ListCandidates(ctx context.Context, q string, limit, offset int) ([]CandidateSummary, Capabilities, error) {
	db, tables, err := s.open(ctx)
	if err != nil {
		return nil, Capabilities{}, fmt.Errorf("ListCandidates: %w", err)
	}
	defer db.Close()

	candidates, err := sqlbuild.NewTable(s.cfg.CandidatesTable())
	if err != nil {
		return nil, Capabilities{}, fmt.Errorf("ListCandidates: %w", err)
	}
	if !tables[candidates.String()] {
		return nil, Capabilities{}, fmt.Errorf("ListCandidates: %w", &MissingTableError{Table: candidates.String()})
	}

	caps := Capabilities{
		Assets:  tables[s.cfg.AssetsAggTable()],
		Votes:   tables[s.cfg.VotesAggTable()],
		Finance: tables[s.cfg.FinanceAggTable()],
	}

	// A blank or whitespace-only q matches everything.
	q = strings.TrimSpace(q)
	query := listCandidatesSQL(s.cfg, caps, q != "")

	args := []interface{}{}
	if q != "" {
		needle := "%" + strings.ToLower(q) + "%"
		args = append(args, needle, needle)
	}
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, caps, fmt.Errorf("ListCandidates: querying: %w", err)
	}
	defer rows.Close()

	var out []CandidateSummary
	for rows.Next() {
		var c CandidateSummary
		var numero sql.NullInt64
		var nomeCompleto, partido, uf, cargo, situacao sql.NullString
		if err := rows.Scan(
			&c.ID, &numero, &c.NomeUrna, &nomeCompleto, &partido, &uf, &cargo, &situacao,
			&c.TotalBens, &c.QtdBens, &c.TotalVotos,
			&c.TotalReceitas, &c.TotalDespesas,
			&c.DoadoresUnicos, &c.FornecedoresUnicos,
		); err != nil {
			return nil, caps, fmt.Errorf("ListCandidates: scanning: %w", err)
		}
		c.Numero = numero.Int64
		c.NomeCompleto = nomeCompleto.String
		c.Partido = partido.String
		c.UF = uf.String
		c.Cargo = cargo.String
		c.Situacao = situacao.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, caps, fmt.Errorf("ListCandidates: %w", err)
	}
	return out, caps, nil
}

// listCandidatesSQL assembles the listing query. Each aggregate either
// left-joins its slice table or degrades to a zero literal, so the column
// list and scan order never change.
func listCandidatesSQL(cfg config.Config, caps Capabilities, filtered bool) string {
	bensExpr, qtdBensExpr := "0.0", "0"
	votesExpr := "0"
	receitasExpr, despesasExpr, doadoresExpr, fornecedoresExpr := "0.0", "0.0", "0", "0"

	var joins []string
	if caps.Assets {
		bensExpr = "COALESCE(a.total_bens, 0)"
		qtdBensExpr = "COALESCE(a.qtd_bens, 0)"
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s a ON a.candidate_id = c.id", sqlbuild.MustTable(cfg.AssetsAggTable())))
	}
	if caps.Votes {
		votesExpr = "COALESCE(v.total_votos, 0)"
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s v ON v.candidate_id = c.id", sqlbuild.MustTable(cfg.VotesAggTable())))
	}
	if caps.Finance {
		receitasExpr = "COALESCE(f.total_receitas, 0)"
		despesasExpr = "COALESCE(f.total_despesas, 0)"
		doadoresExpr = "COALESCE(f.doadores_unicos, 0)"
		fornecedoresExpr = "COALESCE(f.fornecedores_unicos, 0)"
		joins = append(joins, fmt.Sprintf("LEFT JOIN %s f ON f.candidate_id = c.id", sqlbuild.MustTable(cfg.FinanceAggTable())))
	}

	joinSQL := ""
	if len(joins) > 0 {
		joinSQL = "\n" + strings.Join(joins, "\n")
	}
	whereSQL := ""
	if filtered {
		whereSQL = "\nWHERE (lower(c.nome_urna) LIKE ? OR lower(c.nome_completo) LIKE ?)"
	}

	return fmt.Sprintf(`SELECT
  c.id,
  TRY_CAST(c.numero AS BIGINT) AS numero,
  c.nome_urna,
  c.nome_completo,
  c.partido,
  c.uf,
  c.cargo,
  c.situacao,
  %s AS total_bens,
  %s AS qtd_bens,
  %s AS total_votos,
  %s AS total_receitas,
  %s AS total_despesas,
  %s AS doadores_unicos,
  %s AS fornecedores_unicos
FROM %s c%s%s
ORDER BY total_votos DESC, c.nome_urna
LIMIT ? OFFSET ?`,
		bensExpr, qtdBensExpr, votesExpr,
		receitasExpr, despesasExpr, doadoresExpr, fornecedoresExpr,
		sqlbuild.MustTable(cfg.CandidatesTable()), joinSQL, whereSQL)
}

// CandidateAssets returns one page of a candidate's declared assets, most
// valuable first. An unknown candidate simply yields an empty page.
func (s *DuckDBStore) CandidateAssets(ctx context.Context, id int64, limit, offset int) ([]Asset, error) {
	db, tables, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("CandidateAssets: %w", err)
	}
	defer db.Close()

	assets := sqlbuild.MustTable(s.cfg.AssetsTable())
	if !tables[assets.String()] {
		return nil, fmt.Errorf("CandidateAssets: %w", &MissingTableError{Table: assets.String()})
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT
  COALESCE(tipo, ''),
  COALESCE(descricao, ''),
  COALESCE(valor, 0)
FROM %s
WHERE candidate_id = ?
ORDER BY valor DESC NULLS LAST
LIMIT ? OFFSET ?`, assets), id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("CandidateAssets: querying: %w", err)
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.Tipo, &a.Descricao, &a.Valor); err != nil {
			return nil, fmt.Errorf("CandidateAssets: scanning: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("CandidateAssets: %w", err)
	}
	return out, nil
}

// CandidateVotes returns a candidate's strongest municipalities, capped at
// limit rows.
func (s *DuckDBStore) CandidateVotes(ctx context.Context, id int64, limit int) ([]MunicipalityVotes, error) {
	db, tables, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("CandidateVotes: %w", err)
	}
	defer db.Close()

	mun := sqlbuild.MustTable(s.cfg.VotesMunTable())
	if !tables[mun.String()] {
		return nil, fmt.Errorf("CandidateVotes: %w", &MissingTableError{Table: mun.String()})
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT
  COALESCE(municipio, ''),
  COALESCE(votos_municipio, 0)
FROM %s
WHERE candidate_id = ?
ORDER BY votos_municipio DESC
LIMIT ?`, mun), id, limit)
	if err != nil {
		return nil, fmt.Errorf("CandidateVotes: querying: %w", err)
	}
	defer rows.Close()

	var out []MunicipalityVotes
	for rows.Next() {
		var v MunicipalityVotes
		if err := rows.Scan(&v.Municipio, &v.Votos); err != nil {
			return nil, fmt.Errorf("CandidateVotes: scanning: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("CandidateVotes: %w", err)
	}
	return out, nil
}

// CandidateFinance returns the finance summary plus the top donors and
// suppliers of one candidate. Only the aggregate table is mandatory: when a
// detail table is absent its top list is simply empty.
func (s *DuckDBStore) CandidateFinance(ctx context.Context, id int64, topN int) (*FinanceDetail, error) {
	db, tables, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("CandidateFinance: %w", err)
	}
	defer db.Close()

	agg := sqlbuild.MustTable(s.cfg.FinanceAggTable())
	if !tables[agg.String()] {
		return nil, fmt.Errorf("CandidateFinance: %w", &MissingTableError{Table: agg.String()})
	}

	detail := &FinanceDetail{CandidateID: id}
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT
  COALESCE(total_receitas, 0),
  COALESCE(total_despesas, 0),
  COALESCE(doadores_unicos, 0),
  COALESCE(fornecedores_unicos, 0)
FROM %s
WHERE candidate_id = ?`, agg), id).Scan(
		&detail.Summary.TotalReceitas, &detail.Summary.TotalDespesas,
		&detail.Summary.DoadoresUnicos, &detail.Summary.FornecedoresUnicos,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("CandidateFinance: id %d: %w", id, ErrNoFinanceData)
	}
	if err != nil {
		return nil, fmt.Errorf("CandidateFinance: summary: %w", err)
	}

	donations := sqlbuild.MustTable(s.cfg.DonationsTable())
	if tables[donations.String()] {
		detail.TopDoadores, err = topCounterparties(ctx, db, donations, "doador_nome", "doador_doc", id, topN)
		if err != nil {
			return nil, fmt.Errorf("CandidateFinance: donors: %w", err)
		}
	}
	expenses := sqlbuild.MustTable(s.cfg.ExpensesTable())
	if tables[expenses.String()] {
		detail.TopFornecedores, err = topCounterparties(ctx, db, expenses, "fornecedor_nome", "fornecedor_doc", id, topN)
		if err != nil {
			return nil, fmt.Errorf("CandidateFinance: suppliers: %w", err)
		}
	}
	return detail, nil
}

func topCounterparties(ctx context.Context, db *sql.DB, table sqlbuild.Table, nameCol, docCol string, id int64, topN int) ([]Counterparty, error) {
	query := fmt.Sprintf(`SELECT
  COALESCE(NULLIF(TRIM(CAST(%s AS VARCHAR)), ''), '(sem nome)') AS nome,
  COALESCE(TRIM(CAST(%s AS VARCHAR)), '') AS doc,
  SUM(COALESCE(valor, 0)) AS total
FROM %s
WHERE candidate_id = ?
GROUP BY 1, 2
ORDER BY total DESC
LIMIT ?`,
		sqlbuild.QuoteIdent(nameCol), sqlbuild.QuoteIdent(docCol), table)

	rows, err := db.QueryContext(ctx, query, id, topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Counterparty
	for rows.Next() {
		var c Counterparty
		if err := rows.Scan(&c.Nome, &c.Doc, &c.Total); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
