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

// FinanceInputs are the three campaign-finance extracts. Donations carry the
// candidate id directly; paid expenses only carry the accountability-unit
// ("prestador") id, so candidates are reached transitively; contracted
// expenses exist to recover the supplier identity that paid expenses lack.
// ContratadasCSV may be empty: the load then skips supplier recovery.
type FinanceInputs struct {
	ReceitasCSV    string
	PagasCSV       string
	ContratadasCSV string
}

// prestadorMapTable is the join bridge built from the donations extract:
// the distinct (prestador id, candidate id) pairs within the loaded slice.
const prestadorMapTable = "_prestador_map"

var donationFields = []schema.Field{
	{Name: fieldCandidato, Variants: []string{"SQ_CANDIDATO"}, Required: true},
	{Name: fieldPrestador, Variants: []string{"SQ_PRESTADOR_CONTAS", "SQ_PRESTADOR_CONTA", "SQ_PRESTADOR"}, Prefix: "SQ_", Contains: "PRESTADOR", Required: true},
	{Name: fieldValor, Variants: []string{"VR_RECEITA"}, Required: true},
	{Name: fieldDoadorDoc, Variants: []string{"NR_CPF_CNPJ_DOADOR", "NR_CPF_CNPJ_DOADOR_ORIG", "NR_CPF_CNPJ_DOADOR_ORIGINAL"}},
	{Name: fieldDoadorNome, Variants: []string{"NM_DOADOR", "NM_DOADOR_ORIG", "NM_DOADOR_ORIGINAL"}},
}

var paidExpenseFields = []schema.Field{
	{Name: fieldPrestador, Variants: []string{"SQ_PRESTADOR_CONTAS", "SQ_PRESTADOR_CONTA", "SQ_PRESTADOR"}, Prefix: "SQ_", Contains: "PRESTADOR", Required: true},
	{Name: fieldDespesa, Variants: []string{"SQ_DESPESA"}, Required: true},
	{Name: fieldValor, Variants: []string{"VR_PAGTO_DESPESA", "VR_PAGAMENTO_DESPESA"}, Required: true},
	{Name: fieldFornecedorDoc, Prefix: "NR_", Contains: "FORNECEDOR"},
	{Name: fieldFornecedorNome, Prefix: "NM_", Contains: "FORNECEDOR"},
}

var contractedExpenseFields = []schema.Field{
	{Name: fieldPrestador, Variants: []string{"SQ_PRESTADOR_CONTAS", "SQ_PRESTADOR_CONTA", "SQ_PRESTADOR"}, Prefix: "SQ_", Contains: "PRESTADOR"},
	{Name: fieldDespesa, Variants: []string{"SQ_DESPESA"}},
	{Name: fieldFornecedorDoc, Prefix: "NR_", Contains: "FORNECEDOR"},
	{Name: fieldFornecedorNome, Prefix: "NM_", Contains: "FORNECEDOR"},
}

// financePlan is everything the reconciliation SQL is generated from, resolved
// up front so column problems abort before any table is touched.
type financePlan struct {
	candidates sqlbuild.Table
	donations  sqlbuild.Table
	expenses   sqlbuild.Table
	agg        sqlbuild.Table

	recScan, pagScan, ctrScan string

	rec, pag, ctr map[string]schema.Resolution

	// ctrJoinable is false when the contracted extract lacks its join keys;
	// the load then proceeds without supplier recovery.
	ctrJoinable bool
}

// LoadFinance rebuilds the donations table, the prestador→candidate map, the
// expenses table and the per-candidate finance aggregate from the three
// extracts. The candidate table must already exist.
func LoadFinance(ctx context.Context, db *sql.DB, cfg config.Config, in FinanceInputs, log zerolog.Logger) error {
	plan, err := planFinance(cfg, in)
	if err != nil {
		return fmt.Errorf("LoadFinance: %w", err)
	}

	if !plan.ctrJoinable {
		log.Warn().Msg("contracted expenses extract lacks prestador/despesa keys; skipping supplier recovery join")
	}
	log.Info().
		Interface("receitas", resolvedColumns(plan.rec)).
		Interface("pagas", resolvedColumns(plan.pag)).
		Interface("contratadas", resolvedColumns(plan.ctr)).
		Msg("finance columns resolved")

	// The prestador map is a TEMP table, so the whole load pins one
	// connection from the pool.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("LoadFinance: %w", err)
	}
	defer conn.Close()

	if err := requireTable(ctx, conn, plan.candidates); err != nil {
		return fmt.Errorf("LoadFinance: %w", err)
	}

	stages := []struct {
		name string
		sql  []string
	}{
		{name: "donations", sql: []string{
			fmt.Sprintf("DROP TABLE IF EXISTS %s", plan.donations),
			donationsSQL(plan),
		}},
		{name: "prestador map", sql: []string{
			fmt.Sprintf("DROP TABLE IF EXISTS %s", prestadorMapTable),
			prestadorMapSQL(plan),
		}},
		{name: "expenses", sql: []string{
			fmt.Sprintf("DROP TABLE IF EXISTS %s", plan.expenses),
			expensesSQL(plan),
		}},
		{name: "finance aggregate", sql: []string{
			fmt.Sprintf("DROP TABLE IF EXISTS %s", plan.agg),
			financeAggSQL(plan.agg, plan.candidates, plan.donations, plan.expenses),
		}},
	}
	for _, stage := range stages {
		for _, stmt := range stage.sql {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("LoadFinance: %s: %w", stage.name, err)
			}
		}
		if stage.name == "prestador map" {
			reportAmbiguousUnits(ctx, conn, log)
		}
	}

	logFinanceChecks(ctx, conn, plan, log)
	return nil
}

func planFinance(cfg config.Config, in FinanceInputs) (*financePlan, error) {
	recHeader, err := schema.ReadHeader(in.ReceitasCSV)
	if err != nil {
		return nil, err
	}
	pagHeader, err := schema.ReadHeader(in.PagasCSV)
	if err != nil {
		return nil, err
	}

	rec, err := schema.ResolveAll(recHeader, donationFields, in.ReceitasCSV)
	if err != nil {
		return nil, err
	}
	pag, err := schema.ResolveAll(pagHeader, paidExpenseFields, in.PagasCSV)
	if err != nil {
		return nil, err
	}

	ctr := map[string]schema.Resolution{}
	if in.ContratadasCSV != "" {
		ctrHeader, err := schema.ReadHeader(in.ContratadasCSV)
		if err != nil {
			return nil, err
		}
		if ctr, err = schema.ResolveAll(ctrHeader, contractedExpenseFields, in.ContratadasCSV); err != nil {
			return nil, err
		}
	}

	plan := &financePlan{
		rec:         rec,
		pag:         pag,
		ctr:         ctr,
		ctrJoinable: ctr[fieldPrestador].Found && ctr[fieldDespesa].Found,
	}

	for _, t := range []struct {
		dst  *sqlbuild.Table
		name string
	}{
		{&plan.candidates, cfg.CandidatesTable()},
		{&plan.donations, cfg.DonationsTable()},
		{&plan.expenses, cfg.ExpensesTable()},
		{&plan.agg, cfg.FinanceAggTable()},
	} {
		tbl, err := sqlbuild.NewTable(t.name)
		if err != nil {
			return nil, err
		}
		*t.dst = tbl
	}

	if plan.recScan, err = sqlbuild.CSVScan(in.ReceitasCSV); err != nil {
		return nil, err
	}
	if plan.pagScan, err = sqlbuild.CSVScan(in.PagasCSV); err != nil {
		return nil, err
	}
	if in.ContratadasCSV != "" {
		if plan.ctrScan, err = sqlbuild.CSVScan(in.ContratadasCSV); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// donationsSQL keeps every donation row whose candidate belongs to the loaded
// slice: an inner filter, so out-of-scope donation volume never reaches the
// aggregates.
func donationsSQL(p *financePlan) string {
	candID := sqlbuild.BigintCol("r", p.rec[fieldCandidato].Column)
	return fmt.Sprintf(`CREATE TABLE %s AS
SELECT
  %s AS candidate_id,
  %s AS valor,
  %s AS doador_doc,
  %s AS doador_nome
FROM %s r
WHERE %s IN (SELECT id FROM %s)`,
		p.donations,
		candID,
		sqlbuild.MoneyExpr("r."+sqlbuild.QuoteIdent(p.rec[fieldValor].Column)),
		sqlbuild.TextOrNull("r", p.rec[fieldDoadorDoc]),
		sqlbuild.TextOrNull("r", p.rec[fieldDoadorNome]),
		p.recScan,
		candID, p.candidates,
	)
}

// prestadorMapSQL re-reads the donations extract (not the filtered table) for
// the distinct unit→candidate pairs, dropping rows without a unit id.
func prestadorMapSQL(p *financePlan) string {
	candID := sqlbuild.BigintCol("r", p.rec[fieldCandidato].Column)
	prestID := sqlbuild.BigintCol("r", p.rec[fieldPrestador].Column)
	return fmt.Sprintf(`CREATE TEMP TABLE %s AS
SELECT DISTINCT
  %s AS prestador_id,
  %s AS candidate_id
FROM %s r
WHERE %s IN (SELECT id FROM %s)
  AND %s IS NOT NULL`,
		prestadorMapTable,
		prestID,
		candID,
		p.recScan,
		candID, p.candidates,
		prestID,
	)
}

// expensesSQL joins paid expenses to candidates through the prestador map
// (inner join: unmapped units are dropped) and left-joins the contracted
// extract on (prestador, despesa) to recover supplier identity. A supplier
// column detected on the paid extract wins even when its values are blank.
func expensesSQL(p *financePlan) string {
	pagPrest := sqlbuild.BigintCol("e", p.pag[fieldPrestador].Column)

	join := ""
	if p.ctrJoinable {
		join = fmt.Sprintf(`
LEFT JOIN %s c
  ON %s = %s
 AND %s = %s`,
			p.ctrScan,
			sqlbuild.BigintCol("c", p.ctr[fieldPrestador].Column), pagPrest,
			sqlbuild.BigintCol("c", p.ctr[fieldDespesa].Column),
			sqlbuild.BigintCol("e", p.pag[fieldDespesa].Column),
		)
	}

	return fmt.Sprintf(`CREATE TABLE %s AS
SELECT
  pm.candidate_id AS candidate_id,
  %s AS valor,
  %s AS fornecedor_doc,
  %s AS fornecedor_nome
FROM %s e
JOIN %s pm
  ON pm.prestador_id = %s%s
WHERE pm.candidate_id IN (SELECT id FROM %s)`,
		p.expenses,
		sqlbuild.MoneyExpr("e."+sqlbuild.QuoteIdent(p.pag[fieldValor].Column)),
		supplierExpr(p.pag[fieldFornecedorDoc], p.ctr[fieldFornecedorDoc], p.ctrJoinable),
		supplierExpr(p.pag[fieldFornecedorNome], p.ctr[fieldFornecedorNome], p.ctrJoinable),
		p.pagScan,
		prestadorMapTable,
		pagPrest,
		join,
		p.candidates,
	)
}

// supplierExpr resolves the supplier column priority: the paid extract's own
// column when detected, else the contracted extract's, else typed NULL.
func supplierExpr(pag, ctr schema.Resolution, ctrJoinable bool) string {
	switch {
	case pag.Found:
		return sqlbuild.TextCol("e", pag.Column)
	case ctrJoinable && ctr.Found:
		return sqlbuild.TextCol("c", ctr.Column)
	default:
		return "CAST(NULL AS VARCHAR)"
	}
}

// reportAmbiguousUnits counts prestador ids mapped to more than one candidate.
// The dataset invariant says at most one; when it breaks, the DISTINCT join
// keeps all pairs and expense rows fan out, so the operator gets a warning.
func reportAmbiguousUnits(ctx context.Context, conn *sql.Conn, log zerolog.Logger) {
	var n int64
	err := conn.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT prestador_id FROM %s GROUP BY prestador_id HAVING COUNT(DISTINCT candidate_id) > 1)",
		prestadorMapTable,
	)).Scan(&n)
	if err != nil {
		log.Warn().Err(err).Msg("could not check prestador map ambiguity")
		return
	}
	if n > 0 {
		log.Warn().Int64("units", n).Msg("prestador ids mapped to multiple candidates; their expenses are attributed to every mapped candidate")
	}
}

func requireTable(ctx context.Context, conn *sql.Conn, table sqlbuild.Table) error {
	var n int
	err := conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM duckdb_tables() WHERE table_name = ?", table.String(),
	).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("table %s does not exist; run the candidates load first", table)
	}
	return nil
}

func logFinanceChecks(ctx context.Context, conn *sql.Conn, p *financePlan, log zerolog.Logger) {
	for _, t := range []sqlbuild.Table{p.donations, p.expenses} {
		var rows int64
		var nulls sql.NullInt64
		var minV, maxV sql.NullFloat64
		err := conn.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COUNT(*), SUM(CASE WHEN valor IS NULL THEN 1 ELSE 0 END), MIN(valor), MAX(valor) FROM %s", t,
		)).Scan(&rows, &nulls, &minV, &maxV)
		if err != nil {
			log.Warn().Err(err).Str("table", t.String()).Msg("check query failed")
			continue
		}
		log.Info().
			Str("table", t.String()).
			Int64("rows", rows).
			Int64("null_values", nulls.Int64).
			Float64("min", minV.Float64).
			Float64("max", maxV.Float64).
			Msg("finance table built")
	}

	var aggRows int64
	if err := conn.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", p.agg)).Scan(&aggRows); err == nil {
		log.Info().Str("table", p.agg.String()).Int64("rows", aggRows).Msg("finance aggregate built")
	}
}

// resolvedColumns flattens a resolution map for logging.
func resolvedColumns(res map[string]schema.Resolution) map[string]string {
	out := make(map[string]string, len(res))
	for name, r := range res {
		if r.Found {
			out[name] = r.Column
		} else {
			out[name] = "(absent)"
		}
	}
	return out
}
