package etl

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andrelz/eleicoes-dashboard/internal/config"
	"github.com/andrelz/eleicoes-dashboard/internal/schema"
	"github.com/andrelz/eleicoes-dashboard/internal/sqlbuild"
)

var assetFields = []schema.Field{
	{Name: fieldCandidato, Variants: []string{"SQ_CANDIDATO"}, Required: true},
	{Name: "tipo", Variants: []string{"DS_TIPO_BEM_CANDIDATO", "DS_TIPO_BEM"}},
	{Name: "descricao", Variants: []string{"DS_BEM_CANDIDATO", "DS_BEM"}},
	{Name: fieldValor, Variants: []string{"VR_BEM_CANDIDATO", "VR_BEM"}, Required: true},
}

// LoadAssets rebuilds the per-candidate asset declarations and their
// aggregate. Detail rows inner-join the candidate slice, so only in-scope
// declarations are kept.
func LoadAssets(ctx context.Context, db *sql.DB, cfg config.Config, csvPath string, log zerolog.Logger) error {
	header, err := schema.ReadHeader(csvPath)
	if err != nil {
		return fmt.Errorf("LoadAssets: %w", err)
	}
	res, err := schema.ResolveAll(header, assetFields, csvPath)
	if err != nil {
		return fmt.Errorf("LoadAssets: %w", err)
	}

	candidates, err := sqlbuild.NewTable(cfg.CandidatesTable())
	if err != nil {
		return fmt.Errorf("LoadAssets: %w", err)
	}
	assets, err := sqlbuild.NewTable(cfg.AssetsTable())
	if err != nil {
		return fmt.Errorf("LoadAssets: %w", err)
	}
	agg, err := sqlbuild.NewTable(cfg.AssetsAggTable())
	if err != nil {
		return fmt.Errorf("LoadAssets: %w", err)
	}
	scan, err := sqlbuild.CSVScan(csvPath)
	if err != nil {
		return fmt.Errorf("LoadAssets: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("LoadAssets: %w", err)
	}
	defer conn.Close()

	if err := requireTable(ctx, conn, candidates); err != nil {
		return fmt.Errorf("LoadAssets: %w", err)
	}

	detailSQL := fmt.Sprintf(`CREATE TABLE %s AS
SELECT
  %s AS candidate_id,
  %s AS tipo,
  %s AS descricao,
  %s AS valor
FROM %s b
INNER JOIN %s c
  ON %s = c.id`,
		assets,
		sqlbuild.BigintCol("b", res[fieldCandidato].Column),
		sqlbuild.TextOrNull("b", res["tipo"]),
		sqlbuild.TextOrNull("b", res["descricao"]),
		sqlbuild.MoneyExpr("b."+sqlbuild.QuoteIdent(res[fieldValor].Column)),
		scan,
		candidates,
		sqlbuild.BigintCol("b", res[fieldCandidato].Column),
	)

	aggSQL := fmt.Sprintf(`CREATE TABLE %s AS
SELECT
  candidate_id,
  SUM(COALESCE(valor, 0)) AS total_bens,
  COUNT(*) AS qtd_bens
FROM %s
GROUP BY candidate_id`, agg, assets)

	for _, stmt := range []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", assets),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", agg),
		detailSQL,
		aggSQL,
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("LoadAssets: %w", err)
		}
	}

	var rows, withAssets int64
	if err := conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", assets)).Scan(&rows); err != nil {
		return fmt.Errorf("LoadAssets: counting: %w", err)
	}
	if err := conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", agg)).Scan(&withAssets); err != nil {
		return fmt.Errorf("LoadAssets: counting: %w", err)
	}
	log.Info().
		Str("table", assets.String()).
		Int64("rows", rows).
		Int64("candidates_with_assets", withAssets).
		Msg("assets loaded")
	return nil
}
