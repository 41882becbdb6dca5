package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries one electoral slice (state + office + year) plus the paths and
// credentials every component needs. It is threaded explicitly through every
// call so two slices can be loaded side by side without ambient state.
type Config struct {
	UF    string // two-letter state code, e.g. "SP"
	Cargo string // office name prefix, e.g. "DEPUTADO FEDERAL"
	Ano   int    // election year

	DBPath  string // analytical snapshot file
	DataDir string // root for downloaded TSE extracts

	APIKey string // shared secret; empty means the API is public
	Port   string // HTTP listen port for cmd/api
}

// FromEnv builds a Config from environment variables, loading a .env file first
// when one is present. Missing variables fall back to the SP / federal deputy /
// 2022 slice the project started with.
func FromEnv() Config {
	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	cfg := Config{
		UF:      envOr("ELEICOES_UF", "SP"),
		Cargo:   envOr("ELEICOES_CARGO", "DEPUTADO FEDERAL"),
		Ano:     envIntOr("ELEICOES_ANO", 2022),
		DBPath:  envOr("ELEICOES_DB_PATH", filepath.Join("db", "eleicoes.duckdb")),
		DataDir: envOr("ELEICOES_DATA_DIR", filepath.Join("data", "tse")),
		APIKey:  os.Getenv("ELEICOES_API_KEY"),
		Port:    envOr("ELEICOES_PORT", "8000"),
	}
	cfg.UF = strings.ToUpper(strings.TrimSpace(cfg.UF))
	cfg.Cargo = strings.TrimSpace(cfg.Cargo)
	return cfg
}

// Validate rejects configurations that would produce unusable table names.
func (c Config) Validate() error {
	if len(c.UF) != 2 {
		return fmt.Errorf("config: UF must be a two-letter state code, got %q", c.UF)
	}
	if c.Cargo == "" {
		return fmt.Errorf("config: Cargo must not be empty")
	}
	if c.Ano < 1900 || c.Ano > 9999 {
		return fmt.Errorf("config: Ano %d out of range", c.Ano)
	}
	return nil
}

// Suffix is the slice discriminator appended to every table name, so snapshots
// for different states/offices/years never collide inside one database file.
func (c Config) Suffix() string {
	return fmt.Sprintf("%s_%s_%d", strings.ToLower(c.UF), slug(c.Cargo), c.Ano)
}

func (c Config) CandidatesTable() string  { return "candidates_" + c.Suffix() }
func (c Config) AssetsTable() string      { return "assets_" + c.Suffix() }
func (c Config) AssetsAggTable() string   { return "assets_agg_" + c.Suffix() }
func (c Config) VotesRawTable() string    { return "votes_munzona_" + c.Suffix() }
func (c Config) VotesAggTable() string    { return "votes_agg_" + c.Suffix() }
func (c Config) VotesMunTable() string    { return "votes_municipio_agg_" + c.Suffix() }
func (c Config) DonationsTable() string   { return "donations_" + c.Suffix() }
func (c Config) ExpensesTable() string    { return "expenses_" + c.Suffix() }
func (c Config) FinanceAggTable() string  { return "finance_agg_" + c.Suffix() }

// slug folds an office name into a table-name-safe fragment:
// "DEPUTADO FEDERAL" -> "deputado_federal".
func slug(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
