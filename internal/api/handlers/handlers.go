// Package handlers implements the HTTP endpoints of the dashboard API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/andrelz/eleicoes-dashboard/internal/api/middleware"
	"github.com/andrelz/eleicoes-dashboard/internal/store"
)

// Per-endpoint pagination defaults.
const (
	defaultListLimit   = 50
	defaultAssetsLimit = 200
	defaultVotesLimit  = 20
	defaultTopN        = 15
	maxLimit           = 1000
	maxOffset          = 1 << 30
)

// CandidatesHandler serves the candidate listing and per-candidate
// drill-downs from the snapshot.
type CandidatesHandler struct {
	repo    store.Repository
	dbPath  string
	version string
	log     zerolog.Logger
}

// NewCandidatesHandler creates a new candidates handler.
func NewCandidatesHandler(repo store.Repository, dbPath, version string, log zerolog.Logger) *CandidatesHandler {
	return &CandidatesHandler{
		repo:    repo,
		dbPath:  dbPath,
		version: version,
		log:     log,
	}
}

// Health handles GET /health. It reports whether the snapshot file exists
// but never fails: a missing snapshot is a degraded state, not an outage.
func (h *CandidatesHandler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"db":        h.dbPath,
		"db_exists": h.repo.SnapshotExists(),
		"version":   h.version,
	})
}

// ListCandidates handles GET /candidates
func (h *CandidatesHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	limit, ok := intParam(w, query.Get("limit"), defaultListLimit, maxLimit)
	if !ok {
		return
	}
	offset, ok := intParam(w, query.Get("offset"), 0, maxOffset)
	if !ok {
		return
	}

	candidates, caps, err := h.repo.ListCandidates(ctx, query.Get("q"), limit, offset)
	if err != nil {
		h.writeStoreError(w, err, "Failed to list candidates")
		return
	}

	if candidates == nil {
		candidates = []store.CandidateSummary{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items":           candidates,
		"assets_enabled":  caps.Assets,
		"votes_enabled":   caps.Votes,
		"finance_enabled": caps.Finance,
	})
}

// CandidateAssets handles GET /candidates/{id}/assets
func (h *CandidatesHandler) CandidateAssets(w http.ResponseWriter, r *http.Request, id int64) {
	query := r.URL.Query()
	limit, ok := intParam(w, query.Get("limit"), defaultAssetsLimit, maxLimit)
	if !ok {
		return
	}
	offset, ok := intParam(w, query.Get("offset"), 0, maxOffset)
	if !ok {
		return
	}

	assets, err := h.repo.CandidateAssets(r.Context(), id, limit, offset)
	if err != nil {
		h.writeStoreError(w, err, "Failed to load assets")
		return
	}

	if assets == nil {
		assets = []store.Asset{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": assets})
}

// CandidateVotes handles GET /candidates/{id}/votes_municipio
func (h *CandidatesHandler) CandidateVotes(w http.ResponseWriter, r *http.Request, id int64) {
	limit, ok := intParam(w, r.URL.Query().Get("limit"), defaultVotesLimit, maxLimit)
	if !ok {
		return
	}

	votes, err := h.repo.CandidateVotes(r.Context(), id, limit)
	if err != nil {
		h.writeStoreError(w, err, "Failed to load votes")
		return
	}

	if votes == nil {
		votes = []store.MunicipalityVotes{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"items": votes})
}

// CandidateFinance handles GET /candidates/{id}/finance
func (h *CandidatesHandler) CandidateFinance(w http.ResponseWriter, r *http.Request, id int64) {
	top, ok := intParam(w, r.URL.Query().Get("top"), defaultTopN, maxLimit)
	if !ok {
		return
	}

	detail, err := h.repo.CandidateFinance(r.Context(), id, top)
	if err != nil {
		h.writeStoreError(w, err, "Failed to load finance records")
		return
	}

	if detail.TopDoadores == nil {
		detail.TopDoadores = []store.Counterparty{}
	}
	if detail.TopFornecedores == nil {
		detail.TopFornecedores = []store.Counterparty{}
	}
	middleware.WriteJSON(w, http.StatusOK, detail)
}

// writeStoreError maps store errors to HTTP responses. A missing snapshot is
// 503, a never-loaded slice table or a candidate absent from the finance
// aggregate is 404 (with different messages), anything else is a 500 with a
// truncated message.
func (h *CandidatesHandler) writeStoreError(w http.ResponseWriter, err error, logMsg string) {
	var missing *store.MissingTableError
	switch {
	case errors.Is(err, store.ErrSnapshotMissing):
		middleware.WriteError(w, http.StatusServiceUnavailable,
			"Snapshot database not found; run the etl commands to build it")
	case errors.As(err, &missing):
		middleware.WriteError(w, http.StatusNotFound, missing.Error())
	case errors.Is(err, store.ErrNoFinanceData):
		middleware.WriteError(w, http.StatusNotFound, "Candidate not found in finance data")
	default:
		h.log.Error().Err(err).Msg(logMsg)
		middleware.WriteError(w, http.StatusInternalServerError, truncate(err.Error(), 100))
	}
}

// intParam parses a non-negative integer query parameter, writing a 400 and
// returning ok=false when it is malformed. Values above max are clamped.
func intParam(w http.ResponseWriter, raw string, def, max int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Query parameter must be a non-negative integer")
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
