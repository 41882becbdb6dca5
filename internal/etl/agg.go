package etl

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andrelz/eleicoes-dashboard/internal/config"
	"github.com/andrelz/eleicoes-dashboard/internal/sqlbuild"
)

// financeAggSQL computes the per-candidate finance aggregate: total receipts
// and expenses with null-as-zero coalescing, plus distinct non-blank donor and
// supplier documents. Left-joined onto the full candidate set so candidates
// with zero activity still appear.
func financeAggSQL(agg, candidates, donations, expenses sqlbuild.Table) string {
	return fmt.Sprintf(`CREATE TABLE %s AS
WITH d AS (
    SELECT
      candidate_id,
      SUM(COALESCE(valor, 0)) AS total_receitas,
      COUNT(DISTINCT NULLIF(TRIM(CAST(doador_doc AS VARCHAR)), '')) AS doadores_unicos
    FROM %s
    GROUP BY 1
),
x AS (
    SELECT
      candidate_id,
      SUM(COALESCE(valor, 0)) AS total_despesas,
      COUNT(DISTINCT NULLIF(TRIM(CAST(fornecedor_doc AS VARCHAR)), '')) AS fornecedores_unicos
    FROM %s
    GROUP BY 1
)
SELECT
  c.id AS candidate_id,
  COALESCE(d.total_receitas, 0) AS total_receitas,
  COALESCE(x.total_despesas, 0) AS total_despesas,
  COALESCE(d.doadores_unicos, 0) AS doadores_unicos,
  COALESCE(x.fornecedores_unicos, 0) AS fornecedores_unicos
FROM %s c
LEFT JOIN d ON d.candidate_id = c.id
LEFT JOIN x ON x.candidate_id = c.id`,
		agg, donations, expenses, candidates)
}

// RebuildFinanceAgg recomputes only the finance aggregate from the already
// loaded donations and expenses tables. Missing base tables abort.
func RebuildFinanceAgg(ctx context.Context, db *sql.DB, cfg config.Config, log zerolog.Logger) error {
	candidates, err := sqlbuild.NewTable(cfg.CandidatesTable())
	if err != nil {
		return fmt.Errorf("RebuildFinanceAgg: %w", err)
	}
	donations, err := sqlbuild.NewTable(cfg.DonationsTable())
	if err != nil {
		return fmt.Errorf("RebuildFinanceAgg: %w", err)
	}
	expenses, err := sqlbuild.NewTable(cfg.ExpensesTable())
	if err != nil {
		return fmt.Errorf("RebuildFinanceAgg: %w", err)
	}
	agg, err := sqlbuild.NewTable(cfg.FinanceAggTable())
	if err != nil {
		return fmt.Errorf("RebuildFinanceAgg: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("RebuildFinanceAgg: %w", err)
	}
	defer conn.Close()

	for _, t := range []sqlbuild.Table{candidates, donations, expenses} {
		if err := requireTable(ctx, conn, t); err != nil {
			return fmt.Errorf("RebuildFinanceAgg: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", agg)); err != nil {
		return fmt.Errorf("RebuildFinanceAgg: dropping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, financeAggSQL(agg, candidates, donations, expenses)); err != nil {
		return fmt.Errorf("RebuildFinanceAgg: building: %w", err)
	}

	var rows int64
	var receitas, despesas sql.NullFloat64
	if err := conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*), SUM(total_receitas), SUM(total_despesas) FROM %s", agg,
	)).Scan(&rows, &receitas, &despesas); err != nil {
		return fmt.Errorf("RebuildFinanceAgg: checking: %w", err)
	}
	log.Info().
		Str("table", agg.String()).
		Int64("rows", rows).
		Float64("total_receitas", receitas.Float64).
		Float64("total_despesas", despesas.Float64).
		Msg("finance aggregate rebuilt")
	return nil
}
