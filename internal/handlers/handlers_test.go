package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"listing-enricher/internal/cache"
	"listing-enricher/internal/filter"
	"listing-enricher/internal/lookup"
	"listing-enricher/internal/models"
	"listing-enricher/internal/pipeline"
	"listing-enricher/internal/ratelimit"
	"listing-enricher/internal/search"
)

type stubRunner struct {
	mu      sync.Mutex
	running bool
	latest  *pipeline.Report
	runs    chan struct{}
}

func (r *stubRunner) Run(ctx context.Context) (*pipeline.Report, error) {
	if r.runs != nil {
		r.runs <- struct{}{}
	}
	return &pipeline.Report{RunID: "bg"}, nil
}

func (r *stubRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *stubRunner) Latest() *pipeline.Report { return r.latest }

type stubCache struct{ entries []models.CacheEntry }

func (c stubCache) GetStats() cache.Stats        { return cache.Stats{Entries: len(c.entries), Hits: 3} }
func (c stubCache) Entries() []models.CacheEntry { return c.entries }

type stubSearcher struct {
	params search.FilterParams
	err    error
}

func (s *stubSearcher) FilterSearch(p search.FilterParams) (*search.SearchResult, error) {
	s.params = p
	if s.err != nil {
		return nil, s.err
	}
	return &search.SearchResult{Hits: []search.Document{{ID: "a", Street: "10 Gold St"}}, TotalHits: 1}, nil
}

type stubBreaker struct{}

func (stubBreaker) GetStatus() lookup.BreakerStatus {
	return lookup.BreakerStatus{Open: true, Failures: 2}
}

func newRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	r := gin.New()
	NewHandler(deps).Register(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON from %s %s: %v", method, path, err)
		}
	}
	return w, body
}

func sampleReport() *pipeline.Report {
	qualified := models.NewMergedRecord(models.RawListing{Address: models.Address{Street: "10 Gold St"}})
	qualified.MeetsCriteria = true
	other := models.NewMergedRecord(models.RawListing{Address: models.Address{Street: "5 Main St"}})
	return &pipeline.Report{
		RunID:     "run-1",
		Listings:  2,
		Qualified: []models.MergedRecord{qualified},
		Results:   []models.MergedRecord{qualified, other},
	}
}

func TestHealth(t *testing.T) {
	r := newRouter(Deps{Runner: &stubRunner{}, Cache: stubCache{}, Breaker: stubBreaker{}})
	w, body := do(t, r, http.MethodGet, "/health")
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("GET /health = %d %v", w.Code, body)
	}
	if cb, ok := body["circuit_breaker"].(map[string]any); !ok || cb["open"] != true {
		t.Errorf("circuit_breaker = %v", body["circuit_breaker"])
	}
}

func TestTriggerRun(t *testing.T) {
	runner := &stubRunner{runs: make(chan struct{}, 1)}
	r := newRouter(Deps{Runner: runner, Cache: stubCache{}})

	w, _ := do(t, r, http.MethodPost, "/api/runs")
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST /api/runs = %d, want 202", w.Code)
	}
	<-runner.runs

	runner.mu.Lock()
	runner.running = true
	runner.mu.Unlock()
	w, _ = do(t, r, http.MethodPost, "/api/runs")
	if w.Code != http.StatusConflict {
		t.Errorf("POST /api/runs while running = %d, want 409", w.Code)
	}
}

func TestTriggerRunRateLimited(t *testing.T) {
	runner := &stubRunner{runs: make(chan struct{}, 2)}
	limiter := ratelimit.NewRateLimiter(1, 0, 0, true)
	r := newRouter(Deps{Runner: runner, Cache: stubCache{}, Limiter: limiter})

	if w, _ := do(t, r, http.MethodPost, "/api/runs"); w.Code != http.StatusAccepted {
		t.Fatalf("first POST = %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodPost, "/api/runs"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second POST = %d, want 429", w.Code)
	}

	w, body := do(t, r, http.MethodGet, "/api/ratelimit/stats")
	if w.Code != http.StatusOK || body["requests_last_minute"] != float64(1) {
		t.Errorf("GET /api/ratelimit/stats = %d %v", w.Code, body)
	}
	if body["remaining_this_minute"] != float64(0) || body["remaining_this_hour"] != float64(-1) {
		t.Errorf("remaining = %v/%v, want 0 for the exhausted minute and -1 for the unlimited hour",
			body["remaining_this_minute"], body["remaining_this_hour"])
	}
}

func TestLatestRunAndResults(t *testing.T) {
	runner := &stubRunner{}
	r := newRouter(Deps{Runner: runner, Cache: stubCache{}})

	if w, _ := do(t, r, http.MethodGet, "/api/runs/latest"); w.Code != http.StatusNotFound {
		t.Errorf("latest before any run = %d, want 404", w.Code)
	}
	if w, _ := do(t, r, http.MethodGet, "/api/results"); w.Code != http.StatusNotFound {
		t.Errorf("results before any run = %d, want 404", w.Code)
	}

	runner.latest = sampleReport()

	w, body := do(t, r, http.MethodGet, "/api/runs/latest")
	if w.Code != http.StatusOK || body["run_id"] != "run-1" || body["qualified"] != float64(1) {
		t.Errorf("GET /api/runs/latest = %d %v", w.Code, body)
	}

	_, body = do(t, r, http.MethodGet, "/api/results")
	if body["total"] != float64(1) {
		t.Errorf("qualified results total = %v", body["total"])
	}
	_, body = do(t, r, http.MethodGet, "/api/results?all=true&limit=1")
	if body["total"] != float64(2) || body["count"] != float64(1) {
		t.Errorf("all results = %v", body)
	}
	if w, _ := do(t, r, http.MethodGet, "/api/results?limit=zero"); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", w.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	entries := []models.CacheEntry{{Street: "10 GOLD ST", Borough: "BROOKLYN"}, {Street: "5 MAIN ST", Borough: "QUEENS"}}
	r := newRouter(Deps{Runner: &stubRunner{}, Cache: stubCache{entries: entries}})

	_, body := do(t, r, http.MethodGet, "/api/cache/stats")
	if body["entries"] != float64(2) || body["hits"] != float64(3) {
		t.Errorf("cache stats = %v", body)
	}
	_, body = do(t, r, http.MethodGet, "/api/cache/entries?limit=1")
	if body["total"] != float64(2) || body["count"] != float64(1) {
		t.Errorf("cache entries = %v", body)
	}
}

func TestCriteria(t *testing.T) {
	r := newRouter(Deps{Runner: &stubRunner{}, Cache: stubCache{}, Criteria: filter.DefaultCriteria()})
	_, body := do(t, r, http.MethodGet, "/api/criteria")
	summary, ok := body["summary"].(map[string]any)
	if !ok || summary["price_range"] != "$0 - $2,500,000" {
		t.Errorf("criteria = %v", body)
	}
}

func TestSearch(t *testing.T) {
	if w, _ := do(t, newRouter(Deps{Runner: &stubRunner{}, Cache: stubCache{}}), http.MethodGet, "/api/search"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("search without searcher = %d, want 503", w.Code)
	}

	s := &stubSearcher{}
	r := newRouter(Deps{Runner: &stubRunner{}, Cache: stubCache{}, Searcher: s})
	w, body := do(t, r, http.MethodGet, "/api/search?q=gold&min_score=60&boroughs=Brooklyn,%20Queens&min_special_units=1&qualified=true&limit=5")
	if w.Code != http.StatusOK || body["total_hits"] != float64(1) {
		t.Fatalf("GET /api/search = %d %v", w.Code, body)
	}
	p := s.params
	if p.Query != "gold" || *p.MinScore != 60 || len(p.Boroughs) != 2 || p.Boroughs[1] != "Queens" ||
		*p.MinSpecialUnits != 1 || !p.QualifiedOnly || p.Limit != 5 || p.MaxPrice != nil {
		t.Errorf("params = %+v", p)
	}

	if w, _ := do(t, r, http.MethodGet, "/api/search?min_score=high"); w.Code != http.StatusBadRequest {
		t.Errorf("bad min_score = %d, want 400", w.Code)
	}

	s.err = errors.New("down")
	if w, _ := do(t, r, http.MethodGet, "/api/search?q=x"); w.Code != http.StatusBadGateway {
		t.Errorf("search failure = %d, want 502", w.Code)
	}
}
