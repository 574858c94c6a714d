package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"listing-enricher/internal/cache"
	"listing-enricher/internal/filter"
	"listing-enricher/internal/lookup"
	"listing-enricher/internal/models"
	"listing-enricher/internal/pipeline"
	"listing-enricher/internal/ratelimit"
	"listing-enricher/internal/search"
)

const (
	defaultResultLimit = 50
	maxResultLimit     = 1000
)

type Runner interface {
	Run(ctx context.Context) (*pipeline.Report, error)
	Running() bool
	Latest() *pipeline.Report
}

type CacheReader interface {
	GetStats() cache.Stats
	Entries() []models.CacheEntry
}

type Searcher interface {
	FilterSearch(params search.FilterParams) (*search.SearchResult, error)
}

type BreakerReader interface {
	GetStatus() lookup.BreakerStatus
}

// Deps are the collaborators served over HTTP. Searcher and Breaker may be nil.
type Deps struct {
	Runner   Runner
	Cache    CacheReader
	Criteria filter.Criteria
	Searcher Searcher
	Limiter  *ratelimit.RateLimiter
	Breaker  BreakerReader
	// Context bounds background runs started over HTTP. Defaults to Background.
	Context context.Context
	Logger  *slog.Logger
}

// Handler serves the enrichment API.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

func NewHandler(deps Deps) *Handler {
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{deps: deps, logger: logger.With("component", "api")}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	{
		api.POST("/runs", RateLimitMiddleware(h.deps.Limiter), h.TriggerRun)
		api.GET("/runs/latest", h.LatestRun)
		api.GET("/results", h.Results)

		api.GET("/cache/stats", h.CacheStats)
		api.GET("/cache/entries", h.CacheEntries)

		api.GET("/criteria", h.GetCriteria)
		api.GET("/search", h.Search)
		api.GET("/ratelimit/stats", h.RateLimitStats)
	}
}

func (h *Handler) Health(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"time":    time.Now(),
		"running": h.deps.Runner.Running(),
	}
	if h.deps.Breaker != nil {
		resp["circuit_breaker"] = h.deps.Breaker.GetStatus()
	}
	c.JSON(http.StatusOK, resp)
}

// TriggerRun starts a pipeline run in the background.
func (h *Handler) TriggerRun(c *gin.Context) {
	if h.deps.Runner.Running() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "A run is already in progress",
		})
		return
	}

	h.logger.Info("manual run requested", "client_ip", c.ClientIP())

	// Run in goroutine to avoid blocking
	go func() {
		report, err := h.deps.Runner.Run(h.deps.Context)
		switch {
		case errors.Is(err, pipeline.ErrRunInProgress):
			h.logger.Warn("manual run skipped: run already in progress")
		case err != nil:
			h.logger.Error("manual run failed", "error", err)
		default:
			h.logger.Info("manual run completed", "run_id", report.RunID, "qualified", len(report.Qualified))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Run started",
		"status":  "running",
	})
}

func (h *Handler) LatestRun(c *gin.Context) {
	report := h.deps.Runner.Latest()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No run has completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":      report.RunID,
		"started_at":  report.StartedAt,
		"finished_at": report.FinishedAt,
		"duration":    report.Duration().String(),
		"listings":    report.Listings,
		"summary":     report.Summary,
		"qualified":   len(report.Qualified),
		"files":       report.Files,
		"indexed":     report.Indexed,
		"published":   report.Published,
		"error":       report.Error,
		"running":     h.deps.Runner.Running(),
	})
}

// Results returns the qualifying records of the latest run, or every record
// with all=true.
func (h *Handler) Results(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	report := h.deps.Runner.Latest()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No run has completed yet"})
		return
	}

	records := report.Qualified
	if c.Query("all") == "true" {
		records = report.Results
	}
	total := len(records)
	if len(records) > limit {
		records = records[:limit]
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":  report.RunID,
		"total":   total,
		"count":   len(records),
		"results": records,
	})
}

func (h *Handler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Cache.GetStats())
}

func (h *Handler) CacheEntries(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	entries := h.deps.Cache.Entries()
	total := len(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	c.JSON(http.StatusOK, gin.H{
		"total":   total,
		"count":   len(entries),
		"entries": entries,
	})
}

func (h *Handler) GetCriteria(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"criteria": h.deps.Criteria,
		"summary":  h.deps.Criteria.Summary(),
	})
}

// Search queries the search index.
// Query params: q, min_score, max_price, boroughs (comma separated),
// min_special_units, qualified, sort, limit.
func (h *Handler) Search(c *gin.Context) {
	if h.deps.Searcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Search is not enabled",
		})
		return
	}

	params := search.FilterParams{
		Query:         c.Query("q"),
		SortBy:        c.Query("sort"),
		QualifiedOnly: c.Query("qualified") == "true",
	}
	if v := c.Query("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			badRequest(c, "min_score must be a number")
			return
		}
		params.MinScore = &f
	}
	if v := c.Query("max_price"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			badRequest(c, "max_price must be a number")
			return
		}
		params.MaxPrice = &f
	}
	if v := c.Query("min_special_units"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, "min_special_units must be an integer")
			return
		}
		params.MinSpecialUnits = &n
	}
	if v := c.Query("boroughs"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				params.Boroughs = append(params.Boroughs, b)
			}
		}
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	params.Limit = int64(limit)

	result, err := h.deps.Searcher.FilterSearch(params)
	if err != nil {
		h.logger.Error("search failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Search failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) RateLimitStats(c *gin.Context) {
	if h.deps.Limiter == nil {
		c.JSON(http.StatusOK, ratelimit.Stats{})
		return
	}
	c.JSON(http.StatusOK, h.deps.Limiter.GetStats())
}

func parseLimit(c *gin.Context) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return defaultResultLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		badRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxResultLimit), true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
