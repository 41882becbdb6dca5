package etl

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/andrelz/eleicoes-dashboard/internal/config"
	"github.com/andrelz/eleicoes-dashboard/internal/schema"
	"github.com/andrelz/eleicoes-dashboard/internal/sqlbuild"
)

var voteFields = []schema.Field{
	{Name: fieldCandidato, Variants: []string{"SQ_CANDIDATO"}, Required: true},
	{Name: "votos", Variants: []string{"QT_VOTOS_NOMINAIS", "QT_VOTOS_NOMINAIS_VALIDOS", "QT_VOTOS", "QT_VOTOS_VALIDOS"}, Required: true},
	{Name: "municipio", Variants: []string{"NM_MUNICIPIO"}},
	{Name: "cd_municipio", Variants: []string{"CD_MUNICIPIO"}},
	{Name: "zona", Variants: []string{"NR_ZONA"}},
	{Name: "turno", Variants: []string{"NR_TURNO"}},
	{Name: "uf", Variants: []string{"SG_UF"}},
	{Name: "cargo", Variants: []string{"DS_CARGO"}},
}

// LoadVotes rebuilds the raw municipality/zone vote rows plus the per-candidate
// and per-(candidate, municipality) aggregates. The UF/cargo/turno filters are
// applied only when the extract carries those columns; the inner join on the
// candidate slice bounds the result either way.
func LoadVotes(ctx context.Context, db *sql.DB, cfg config.Config, csvPath string, log zerolog.Logger) error {
	header, err := schema.ReadHeader(csvPath)
	if err != nil {
		return fmt.Errorf("LoadVotes: %w", err)
	}
	res, err := schema.ResolveAll(header, voteFields, csvPath)
	if err != nil {
		return fmt.Errorf("LoadVotes: %w", err)
	}

	candidates, err := sqlbuild.NewTable(cfg.CandidatesTable())
	if err != nil {
		return fmt.Errorf("LoadVotes: %w", err)
	}
	raw, err := sqlbuild.NewTable(cfg.VotesRawTable())
	if err != nil {
		return fmt.Errorf("LoadVotes: %w", err)
	}
	agg, err := sqlbuild.NewTable(cfg.VotesAggTable())
	if err != nil {
		return fmt.Errorf("LoadVotes: %w", err)
	}
	mun, err := sqlbuild.NewTable(cfg.VotesMunTable())
	if err != nil {
		return fmt.Errorf("LoadVotes: %w", err)
	}
	scan, err := sqlbuild.CSVScan(csvPath)
	if err != nil {
		return fmt.Errorf("LoadVotes: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("LoadVotes: %w", err)
	}
	defer conn.Close()

	if err := requireTable(ctx, conn, candidates); err != nil {
		return fmt.Errorf("LoadVotes: %w", err)
	}

	rawSQL := votesRawSQL(raw, candidates, scan, res, cfg)

	aggSQL := fmt.Sprintf(`CREATE TABLE %s AS
SELECT
  candidate_id,
  SUM(COALESCE(votos, 0)) AS total_votos
FROM %s
GROUP BY candidate_id`, agg, raw)

	munSQL := fmt.Sprintf(`CREATE TABLE %s AS
SELECT
  candidate_id,
  municipio,
  SUM(COALESCE(votos, 0)) AS votos_municipio
FROM %s
GROUP BY candidate_id, municipio`, mun, raw)

	for _, stmt := range []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", raw),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", agg),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", mun),
		rawSQL,
		aggSQL,
		munSQL,
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("LoadVotes: %w", err)
		}
	}

	var rawRows, aggRows int64
	if err := conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", raw)).Scan(&rawRows); err != nil {
		return fmt.Errorf("LoadVotes: counting: %w", err)
	}
	if err := conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", agg)).Scan(&aggRows); err != nil {
		return fmt.Errorf("LoadVotes: counting: %w", err)
	}
	log.Info().
		Str("table", raw.String()).
		Int64("raw_rows", rawRows).
		Int64("candidates_with_votes", aggRows).
		Msg("votes loaded")
	return nil
}

func votesRawSQL(raw, candidates sqlbuild.Table, scan string, res map[string]schema.Resolution, cfg config.Config) string {
	munExpr := "CAST(NULL AS VARCHAR)"
	if r := res["municipio"]; r.Found {
		munExpr = "b." + sqlbuild.QuoteIdent(r.Column)
	}

	var where []string
	if r := res["uf"]; r.Found {
		where = append(where, fmt.Sprintf("b.%s = %s", sqlbuild.QuoteIdent(r.Column), sqlbuild.QuoteString(cfg.UF)))
	}
	if r := res["cargo"]; r.Found {
		where = append(where, fmt.Sprintf("b.%s ILIKE %s", sqlbuild.QuoteIdent(r.Column), sqlbuild.QuoteString(cfg.Cargo+"%")))
	}
	if r := res["turno"]; r.Found {
		// Proportional offices are decided in the first round only.
		where = append(where, fmt.Sprintf("CAST(b.%s AS INTEGER) = 1", sqlbuild.QuoteIdent(r.Column)))
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "\nWHERE " + strings.Join(where, "\n  AND ")
	}

	return fmt.Sprintf(`CREATE TABLE %s AS
SELECT
  %s AS candidate_id,
  %s AS municipio,
  %s AS cd_municipio,
  %s AS zona,
  %s AS turno,
  TRY_CAST(b.%s AS BIGINT) AS votos
FROM %s b
INNER JOIN %s c
  ON %s = c.id%s`,
		raw,
		sqlbuild.BigintCol("b", res[fieldCandidato].Column),
		munExpr,
		sqlbuild.IntOrNull("b", res["cd_municipio"]),
		sqlbuild.IntOrNull("b", res["zona"]),
		sqlbuild.IntOrNull("b", res["turno"]),
		sqlbuild.QuoteIdent(res["votos"].Column),
		scan,
		candidates,
		sqlbuild.BigintCol("b", res[fieldCandidato].Column),
		whereSQL,
	)
}
