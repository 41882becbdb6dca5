// Package etl builds the analytical snapshot from TSE extracts: the candidate
// slice, the finance reconciliation, and the assets/votes aggregates. Every
// derived table is dropped and rebuilt wholesale; a load either completes or
// returns an error with nothing half-committed downstream of it.
package etl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andrelz/eleicoes-dashboard/internal/config"
	"github.com/andrelz/eleicoes-dashboard/internal/schema"
	"github.com/andrelz/eleicoes-dashboard/internal/sqlbuild"
)

// ErrNoCandidates is returned when the UF/office filter matches zero rows of
// the national roll, which would otherwise produce an empty snapshot that
// every later stage silently joins against.
var ErrNoCandidates = errors.New("candidate filter matched zero rows")

// Semantic field names shared by the loaders.
const (
	fieldCandidato      = "candidato"
	fieldPrestador      = "prestador"
	fieldValor          = "valor"
	fieldDoadorDoc      = "doador_doc"
	fieldDoadorNome     = "doador_nome"
	fieldDespesa        = "despesa"
	fieldFornecedorDoc  = "fornecedor_doc"
	fieldFornecedorNome = "fornecedor_nome"
)

// candidateColumns are the registry columns kept on the candidate table, in
// output order. Optional ones degrade to NULL when an election year dropped
// them from the extract.
var candidateColumns = []struct {
	out    string
	field  schema.Field
	bigint bool
}{
	{out: "id", bigint: true, field: schema.Field{Name: "candidato", Variants: []string{"SQ_CANDIDATO"}, Required: true}},
	{out: "numero", field: schema.Field{Name: "numero", Variants: []string{"NR_CANDIDATO"}, Required: true}},
	{out: "nome_urna", field: schema.Field{Name: "nome_urna", Variants: []string{"NM_URNA_CANDIDATO"}, Required: true}},
	{out: "nome_completo", field: schema.Field{Name: "nome_completo", Variants: []string{"NM_CANDIDATO"}, Required: true}},
	{out: "partido", field: schema.Field{Name: "partido", Variants: []string{"SG_PARTIDO"}, Required: true}},
	{out: "uf", field: schema.Field{Name: "uf", Variants: []string{"SG_UF"}, Required: true}},
	{out: "cargo", field: schema.Field{Name: "cargo", Variants: []string{"DS_CARGO"}, Required: true}},
	{out: "situacao", field: schema.Field{Name: "situacao", Variants: []string{"DS_SITUACAO_CANDIDATURA"}, Required: true}},
	{out: "detalhe_situacao", field: schema.Field{Name: "detalhe_situacao", Variants: []string{"DS_DETALHE_SITUACAO_CAND", "DS_DETALHE_SITUACAO_CANDIDATURA", "DS_DETALHE_SITUACAO"}}},
	{out: "ocupacao", field: schema.Field{Name: "ocupacao", Variants: []string{"DS_OCUPACAO"}}},
	{out: "escolaridade", field: schema.Field{Name: "escolaridade", Variants: []string{"DS_GRAU_INSTRUCAO"}}},
	{out: "estado_civil", field: schema.Field{Name: "estado_civil", Variants: []string{"DS_ESTADO_CIVIL"}}},
	{out: "genero", field: schema.Field{Name: "genero", Variants: []string{"DS_GENERO"}}},
	{out: "dt_nascimento", field: schema.Field{Name: "dt_nascimento", Variants: []string{"DT_NASCIMENTO"}}},
}

// LoadCandidates filters the national roll down to one UF/office slice and
// rebuilds the candidate table keyed by the registry sequence id. Zero
// matching rows abort the load with ErrNoCandidates.
func LoadCandidates(ctx context.Context, db *sql.DB, cfg config.Config, csvPath string, log zerolog.Logger) (int64, error) {
	header, err := schema.ReadHeader(csvPath)
	if err != nil {
		return 0, fmt.Errorf("LoadCandidates: %w", err)
	}

	fields := make([]schema.Field, 0, len(candidateColumns))
	for _, c := range candidateColumns {
		fields = append(fields, c.field)
	}
	res, err := schema.ResolveAll(header, fields, csvPath)
	if err != nil {
		return 0, fmt.Errorf("LoadCandidates: %w", err)
	}

	table, err := sqlbuild.NewTable(cfg.CandidatesTable())
	if err != nil {
		return 0, fmt.Errorf("LoadCandidates: %w", err)
	}
	scan, err := sqlbuild.CSVScan(csvPath)
	if err != nil {
		return 0, fmt.Errorf("LoadCandidates: %w", err)
	}

	createSQL := candidatesSQL(table, scan, res, cfg)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return 0, fmt.Errorf("LoadCandidates: dropping %s: %w", table, err)
	}
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("LoadCandidates: building %s: %w", table, err)
	}

	var total int64
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&total); err != nil {
		return 0, fmt.Errorf("LoadCandidates: counting: %w", err)
	}
	if total == 0 {
		return 0, fmt.Errorf("LoadCandidates: uf=%s cargo=%q: %w", cfg.UF, cfg.Cargo, ErrNoCandidates)
	}

	log.Info().
		Str("table", table.String()).
		Int64("rows", total).
		Str("uf", cfg.UF).
		Str("cargo", cfg.Cargo).
		Msg("candidate slice loaded")
	return total, nil
}

// candidatesSQL assembles the slice-filtered CREATE TABLE over the registry
// extract. UF matches exactly; office matches as a case-insensitive prefix so
// suffixed office variants stay in scope.
func candidatesSQL(table sqlbuild.Table, scan string, res map[string]schema.Resolution, cfg config.Config) string {
	cols := ""
	for i, c := range candidateColumns {
		if i > 0 {
			cols += ",\n  "
		}
		r := res[c.field.Name]
		switch {
		case c.bigint:
			cols += fmt.Sprintf("%s AS %s", sqlbuild.BigintCol("b", r.Column), c.out)
		case r.Found:
			cols += fmt.Sprintf("b.%s AS %s", sqlbuild.QuoteIdent(r.Column), c.out)
		default:
			cols += fmt.Sprintf("CAST(NULL AS VARCHAR) AS %s", c.out)
		}
	}

	uf := res["uf"]
	cargo := res["cargo"]
	return fmt.Sprintf(`CREATE TABLE %s AS
SELECT
  %s
FROM %s b
WHERE b.%s = %s
  AND b.%s ILIKE %s`,
		table, cols, scan,
		sqlbuild.QuoteIdent(uf.Column), sqlbuild.QuoteString(cfg.UF),
		sqlbuild.QuoteIdent(cargo.Column), sqlbuild.QuoteString(cfg.Cargo+"%"),
	)
}
