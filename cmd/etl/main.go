// Command etl builds the analytical snapshot from the TSE open-data extracts.
// Each subcommand rebuilds one slice of tables; candidates must run first
// because every other loader joins against the candidate slice.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andrelz/eleicoes-dashboard/internal/config"
	"github.com/andrelz/eleicoes-dashboard/internal/duck"
	"github.com/andrelz/eleicoes-dashboard/internal/etl"
	"github.com/andrelz/eleicoes-dashboard/internal/fetch"
	"github.com/andrelz/eleicoes-dashboard/internal/logger"
)

var (
	flagUF      string
	flagCargo   string
	flagAno     int
	flagDB      string
	flagDataDir string
)

var rootCmd = &cobra.Command{
	Use:   "etl",
	Short: "Build the electoral snapshot database",
	Long: `Downloads TSE open-data extracts and loads them into the local
analytical snapshot, one slice (state + office + year) at a time.

Run 'etl candidates' first; assets, votes and finance all join
against the candidate slice it creates.`,
	SilenceUsage: true,
}

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Download and load the candidate roll",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSetup(cmd.Context(), func(ctx context.Context, cfg config.Config, db *sql.DB, log zerolog.Logger) error {
			csvPath, err := downloadAndPick(ctx, cfg, fetch.CandidatesURL(cfg.Ano), fmt.Sprintf("consulta_cand_%d", cfg.Ano), log)
			if err != nil {
				return err
			}
			n, err := etl.LoadCandidates(ctx, db, cfg, csvPath, log)
			if err != nil {
				return err
			}
			log.Info().Int64("candidates", n).Msg("candidate slice ready")
			return nil
		})
	},
}

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Download and load declared assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSetup(cmd.Context(), func(ctx context.Context, cfg config.Config, db *sql.DB, log zerolog.Logger) error {
			csvPath, err := downloadAndPick(ctx, cfg, fetch.AssetsURL(cfg.Ano), fmt.Sprintf("bem_candidato_%d", cfg.Ano), log)
			if err != nil {
				return err
			}
			return etl.LoadAssets(ctx, db, cfg, csvPath, log)
		})
	},
}

var votesCmd = &cobra.Command{
	Use:   "votes",
	Short: "Download and load municipality/zone vote tallies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSetup(cmd.Context(), func(ctx context.Context, cfg config.Config, db *sql.DB, log zerolog.Logger) error {
			csvPath, err := downloadAndPick(ctx, cfg, fetch.VotesURL(cfg.Ano), fmt.Sprintf("votacao_candidato_munzona_%d", cfg.Ano), log)
			if err != nil {
				return err
			}
			return etl.LoadVotes(ctx, db, cfg, csvPath, log)
		})
	},
}

var financeCmd = &cobra.Command{
	Use:   "finance",
	Short: "Load campaign donations and expenses",
	Long: `Loads the campaign finance extracts. The TSE serves these behind a
session-bound portal, so download and unzip the archive manually into
<data-dir>/prestacao_contas_candidatos_<ano>/ first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSetup(cmd.Context(), func(ctx context.Context, cfg config.Config, db *sql.DB, log zerolog.Logger) error {
			dir := financeDir(cfg)
			if _, err := os.Stat(dir); err != nil {
				return fmt.Errorf("finance extracts not found at %s; download and unzip them there first", dir)
			}

			receitas, err := fetch.PickByUF(dir, fmt.Sprintf("receitas_candidatos_%d", cfg.Ano), cfg.UF)
			if err != nil {
				return err
			}
			pagas, err := fetch.PickByUF(dir, fmt.Sprintf("despesas_pagas_candidatos_%d", cfg.Ano), cfg.UF)
			if err != nil {
				return err
			}
			// The contracted extract is optional enrichment; a missing file
			// just means suppliers stay unresolved for rows without them.
			contratadas, err := fetch.PickByUF(dir, fmt.Sprintf("despesas_contratadas_candidatos_%d", cfg.Ano), cfg.UF)
			if err != nil {
				log.Warn().Err(err).Msg("contracted-expenses extract not found, supplier recovery disabled")
				contratadas = ""
			}

			return etl.LoadFinance(ctx, db, cfg, etl.FinanceInputs{
				ReceitasCSV:    receitas,
				PagasCSV:       pagas,
				ContratadasCSV: contratadas,
			}, log)
		})
	},
}

var rebuildAggCmd = &cobra.Command{
	Use:   "rebuild-agg",
	Short: "Recompute the finance aggregate from loaded tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSetup(cmd.Context(), func(ctx context.Context, cfg config.Config, db *sql.DB, log zerolog.Logger) error {
			return etl.RebuildFinanceAgg(ctx, db, cfg, log)
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Report headers and monetary samples of the finance extracts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		return etl.InspectFinanceFiles(financeDir(cfg), log)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagUF, "uf", "", "state code (overrides ELEICOES_UF)")
	rootCmd.PersistentFlags().StringVar(&flagCargo, "cargo", "", "office name (overrides ELEICOES_CARGO)")
	rootCmd.PersistentFlags().IntVar(&flagAno, "ano", 0, "election year (overrides ELEICOES_ANO)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "snapshot database file (overrides ELEICOES_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "extract download dir (overrides ELEICOES_DATA_DIR)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(candidatesCmd)
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(votesCmd)
	rootCmd.AddCommand(financeCmd)
	rootCmd.AddCommand(rebuildAggCmd)
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (config.Config, zerolog.Logger, error) {
	cfg := config.FromEnv()
	// Flag overrides get the same normalization FromEnv applies; the extracts
	// carry upper-case state codes, so a lower-case --uf would match nothing.
	if flagUF != "" {
		cfg.UF = strings.ToUpper(strings.TrimSpace(flagUF))
	}
	if flagCargo != "" {
		cfg.Cargo = strings.TrimSpace(flagCargo)
	}
	if flagAno != 0 {
		cfg.Ano = flagAno
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}

	log := logger.New()
	if err := cfg.Validate(); err != nil {
		return cfg, log, err
	}
	log.Info().
		Str("slice", cfg.Suffix()).
		Str("db", cfg.DBPath).
		Msg("etl configured")
	return cfg, log, nil
}

func withSetup(ctx context.Context, fn func(context.Context, config.Config, *sql.DB, zerolog.Logger) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	db, err := duck.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, cfg, db, log)
}

// downloadAndPick fetches one TSE archive, extracts it, and picks the working
// CSV out of the extracted tree.
func downloadAndPick(ctx context.Context, cfg config.Config, url, base string, log zerolog.Logger) (string, error) {
	zipPath := filepath.Join(cfg.DataDir, base+".zip")
	outDir := filepath.Join(cfg.DataDir, base)

	if err := fetch.DownloadZip(ctx, url, zipPath, log); err != nil {
		return "", err
	}
	if err := fetch.ExtractZip(zipPath, outDir, log); err != nil {
		return "", err
	}
	csvPath, err := fetch.PickCSV(outDir)
	if err != nil {
		return "", err
	}
	log.Info().Str("csv", csvPath).Msg("extract selected")
	return csvPath, nil
}

func financeDir(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, fmt.Sprintf("prestacao_contas_candidatos_%d", cfg.Ano))
}
