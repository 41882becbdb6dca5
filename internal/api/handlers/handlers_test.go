package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/andrelz/eleicoes-dashboard/internal/store"
)

// mockRepo implements store.Repository with canned results.
type mockRepo struct {
	exists  bool
	list    []store.CandidateSummary
	caps    store.Capabilities
	listErr error

	assets    []store.Asset
	assetsErr error

	votes    []store.MunicipalityVotes
	votesErr error

	finance    *store.FinanceDetail
	financeErr error

	gotQ      string
	gotLimit  int
	gotOffset int
}

func (m *mockRepo) SnapshotExists() bool { return m.exists }

func (m *mockRepo) ListCandidates(ctx context.Context, q string, limit, offset int) ([]store.CandidateSummary, store.Capabilities, error) {
	m.gotQ, m.gotLimit, m.gotOffset = q, limit, offset
	return m.list, m.caps, m.listErr
}

func (m *mockRepo) CandidateAssets(ctx context.Context, id int64, limit, offset int) ([]store.Asset, error) {
	m.gotLimit, m.gotOffset = limit, offset
	return m.assets, m.assetsErr
}

func (m *mockRepo) CandidateVotes(ctx context.Context, id int64, limit int) ([]store.MunicipalityVotes, error) {
	m.gotLimit = limit
	return m.votes, m.votesErr
}

func (m *mockRepo) CandidateFinance(ctx context.Context, id int64, topN int) (*store.FinanceDetail, error) {
	m.gotLimit = topN
	return m.finance, m.financeErr
}

func newHandler(repo *mockRepo) *CandidatesHandler {
	return NewCandidatesHandler(repo, "db/eleicoes.duckdb", "test", zerolog.Nop())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	h := newHandler(&mockRepo{exists: true})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["db_exists"] != true || body["version"] != "test" {
		t.Errorf("unexpected body: %v", body)
	}
	if body["db"] != "db/eleicoes.duckdb" {
		t.Errorf("db = %v", body["db"])
	}
}

func TestHealthNeverFailsWithoutSnapshot(t *testing.T) {
	h := newHandler(&mockRepo{exists: false})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["db_exists"] != false {
		t.Errorf("db_exists should be false: %v", body)
	}
}

func TestListCandidates(t *testing.T) {
	repo := &mockRepo{
		exists: true,
		list: []store.CandidateSummary{
			{ID: 250000001, NomeUrna: "FULANO", TotalVotos: 120000},
		},
		caps: store.Capabilities{Votes: true, Finance: true},
	}
	h := newHandler(repo)

	rec := httptest.NewRecorder()
	h.ListCandidates(rec, httptest.NewRequest(http.MethodGet, "/candidates?q=Fulano&limit=10&offset=20", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if repo.gotQ != "Fulano" || repo.gotLimit != 10 || repo.gotOffset != 20 {
		t.Errorf("params not forwarded: q=%q limit=%d offset=%d", repo.gotQ, repo.gotLimit, repo.gotOffset)
	}

	body := decodeBody(t, rec)
	items, ok := body["items"].([]interface{})
	if !ok || len(items) != 1 {
		t.Errorf("items = %v", body["items"])
	}
	if body["votes_enabled"] != true || body["finance_enabled"] != true || body["assets_enabled"] != false {
		t.Errorf("capability flags wrong: %v", body)
	}
}

func TestListCandidatesDefaultsAndClamping(t *testing.T) {
	repo := &mockRepo{exists: true}
	h := newHandler(repo)

	rec := httptest.NewRecorder()
	h.ListCandidates(rec, httptest.NewRequest(http.MethodGet, "/candidates", nil))
	if repo.gotLimit != defaultListLimit || repo.gotOffset != 0 {
		t.Errorf("defaults: limit=%d offset=%d", repo.gotLimit, repo.gotOffset)
	}

	rec = httptest.NewRecorder()
	h.ListCandidates(rec, httptest.NewRequest(http.MethodGet, "/candidates?limit=99999", nil))
	if repo.gotLimit != maxLimit {
		t.Errorf("limit should be clamped to %d, got %d", maxLimit, repo.gotLimit)
	}
}

func TestListCandidatesBadLimit(t *testing.T) {
	h := newHandler(&mockRepo{exists: true})

	for _, raw := range []string{"abc", "-1", "1.5"} {
		rec := httptest.NewRecorder()
		h.ListCandidates(rec, httptest.NewRequest(http.MethodGet, "/candidates?limit="+raw, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%q: status = %d, want 400", raw, rec.Code)
		}
	}
}

func TestListCandidatesEmptyIsArrayNotNull(t *testing.T) {
	h := newHandler(&mockRepo{exists: true})

	rec := httptest.NewRecorder()
	h.ListCandidates(rec, httptest.NewRequest(http.MethodGet, "/candidates", nil))

	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Errorf("empty listing must serialize as []: %s", rec.Body.String())
	}
}

func TestStoreErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantSubstr string
	}{
		{"snapshot missing", fmt.Errorf("wrapped: %w", store.ErrSnapshotMissing), http.StatusServiceUnavailable, "etl"},
		{"table missing", fmt.Errorf("wrapped: %w", &store.MissingTableError{Table: "assets_sp_deputado_federal_2022"}), http.StatusNotFound, "assets_sp_deputado_federal_2022"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "disk on fire"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(&mockRepo{exists: true, assetsErr: tt.err})

			rec := httptest.NewRecorder()
			h.CandidateAssets(rec, httptest.NewRequest(http.MethodGet, "/candidates/1/assets", nil), 1)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantSubstr) {
				t.Errorf("body %q should mention %q", rec.Body.String(), tt.wantSubstr)
			}
		})
	}
}

func TestInternalErrorMessageTruncated(t *testing.T) {
	long := strings.Repeat("x", 300)
	h := newHandler(&mockRepo{exists: true, assetsErr: errors.New(long)})

	rec := httptest.NewRecorder()
	h.CandidateAssets(rec, httptest.NewRequest(http.MethodGet, "/candidates/1/assets", nil), 1)

	body := decodeBody(t, rec)
	msg, _ := body["error"].(string)
	if len(msg) != 100 {
		t.Errorf("error message should be truncated to 100 chars, got %d", len(msg))
	}
}

func TestCandidateAssetsDefaults(t *testing.T) {
	repo := &mockRepo{exists: true}
	h := newHandler(repo)

	rec := httptest.NewRecorder()
	h.CandidateAssets(rec, httptest.NewRequest(http.MethodGet, "/candidates/1/assets", nil), 1)

	if repo.gotLimit != defaultAssetsLimit || repo.gotOffset != 0 {
		t.Errorf("defaults: limit=%d offset=%d", repo.gotLimit, repo.gotOffset)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Errorf("empty assets must serialize as []: %s", rec.Body.String())
	}
}

func TestCandidateFinanceNoData(t *testing.T) {
	h := newHandler(&mockRepo{
		exists:     true,
		financeErr: fmt.Errorf("id 9: %w", store.ErrNoFinanceData),
	})

	rec := httptest.NewRecorder()
	h.CandidateFinance(rec, httptest.NewRequest(http.MethodGet, "/candidates/9/finance", nil), 9)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "finance data") {
		t.Errorf("no-finance message must differ from a missing table: %s", rec.Body.String())
	}
}

func TestCandidateFinance(t *testing.T) {
	repo := &mockRepo{
		exists: true,
		finance: &store.FinanceDetail{
			CandidateID: 7,
			Summary:     store.FinanceSummary{TotalReceitas: 1234.56, DoadoresUnicos: 3},
			TopDoadores: []store.Counterparty{
				{Nome: "EMPRESA X", Doc: "123", Total: 1000},
			},
		},
	}
	h := newHandler(repo)

	rec := httptest.NewRecorder()
	h.CandidateFinance(rec, httptest.NewRequest(http.MethodGet, "/candidates/7/finance", nil), 7)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if repo.gotLimit != defaultTopN {
		t.Errorf("top default = %d, want %d", repo.gotLimit, defaultTopN)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"summary":{"total_receitas":1234.56`) {
		t.Errorf("summary missing or not nested: %s", body)
	}
	if !strings.Contains(body, `"top_fornecedores":[]`) {
		t.Errorf("missing supplier list must serialize as []: %s", body)
	}
}

func TestCandidateVotes(t *testing.T) {
	repo := &mockRepo{
		exists: true,
		votes: []store.MunicipalityVotes{
			{Municipio: "SÃO PAULO", Votos: 90000},
			{Municipio: "CAMPINAS", Votos: 12000},
		},
	}
	h := newHandler(repo)

	rec := httptest.NewRecorder()
	h.CandidateVotes(rec, httptest.NewRequest(http.MethodGet, "/candidates/7/votes_municipio", nil), 7)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if repo.gotLimit != defaultVotesLimit {
		t.Errorf("limit default = %d, want %d", repo.gotLimit, defaultVotesLimit)
	}
	body := decodeBody(t, rec)
	if items, ok := body["items"].([]interface{}); !ok || len(items) != 2 {
		t.Errorf("items = %v", body["items"])
	}
}
