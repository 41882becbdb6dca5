package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/andrelz/eleicoes-dashboard/internal/api/handlers"
	"github.com/andrelz/eleicoes-dashboard/internal/api/middleware"
	"github.com/andrelz/eleicoes-dashboard/internal/config"
	"github.com/andrelz/eleicoes-dashboard/internal/duck"
	"github.com/andrelz/eleicoes-dashboard/internal/logger"
	"github.com/andrelz/eleicoes-dashboard/internal/store"
)

const version = "1.0.0"

func main() {
	cfg := config.FromEnv()

	var (
		port   = flag.String("port", cfg.Port, "HTTP server port")
		dbPath = flag.String("db", cfg.DBPath, "snapshot database file")
	)
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath

	log := logger.New()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.APIKey == "" {
		log.Warn().Msg("No API key configured - candidate endpoints are public")
	}

	repo := store.NewDuckDBStore(cfg)

	// Indexes speed up the per-candidate drill-downs. Failures are logged
	// and ignored: the API still works on an unindexed snapshot.
	if repo.SnapshotExists() {
		ensureIndexes(cfg, log)
	} else {
		log.Warn().Str("db", cfg.DBPath).Msg("Snapshot not found - API will answer 503 until the etl runs")
	}

	candidatesHandler := handlers.NewCandidatesHandler(repo, cfg.DBPath, version, log)
	protect := middleware.Bearer(cfg.APIKey)

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		candidatesHandler.Health(w, r)
	})

	// Only the listing is gated; the per-candidate drill-downs stay public.
	mux.Handle("/candidates", protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		candidatesHandler.ListCandidates(w, r)
	})))

	mux.HandleFunc("/candidates/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		// Expected shape: /candidates/{id}/{assets|votes_municipio|finance}
		rest := strings.TrimPrefix(r.URL.Path, "/candidates/")
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if len(parts) != 2 {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Candidate id must be an integer")
			return
		}

		switch parts[1] {
		case "assets":
			candidatesHandler.CandidateAssets(w, r, id)
		case "votes_municipio":
			candidatesHandler.CandidateVotes(w, r, id)
		case "finance":
			candidatesHandler.CandidateFinance(w, r, id)
		default:
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		}
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("port", cfg.Port).
			Str("db", cfg.DBPath).
			Str("slice", cfg.Suffix()).
			Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func ensureIndexes(cfg config.Config, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := duck.Open(cfg.DBPath)
	if err != nil {
		log.Warn().Err(err).Msg("Could not open snapshot to create indexes")
		return
	}
	defer db.Close()

	wanted := map[string][]string{
		cfg.AssetsTable():    {"candidate_id"},
		cfg.VotesMunTable():  {"candidate_id"},
		cfg.DonationsTable(): {"candidate_id"},
		cfg.ExpensesTable():  {"candidate_id"},
	}
	if err := duck.EnsureIndexes(ctx, db, wanted, log); err != nil {
		log.Warn().Err(err).Msg("Could not ensure snapshot indexes")
	}
}
