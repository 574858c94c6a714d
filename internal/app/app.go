// Package app assembles the enrichment components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"listing-enricher/internal/cache"
	"listing-enricher/internal/config"
	"listing-enricher/internal/database"
	"listing-enricher/internal/enrich"
	"listing-enricher/internal/export"
	"listing-enricher/internal/filter"
	"listing-enricher/internal/listings"
	"listing-enricher/internal/logging"
	"listing-enricher/internal/lookup"
	"listing-enricher/internal/models"
	"listing-enricher/internal/notify"
	"listing-enricher/internal/pipeline"
	"listing-enricher/internal/ratelimit"
	"listing-enricher/internal/search"
	"listing-enricher/internal/similarity"
)

const (
	onlineMinPause = 3 * time.Second
	onlineMaxPause = 5 * time.Second
)

// Options adjust how the application is assembled.
type Options struct {
	// ListingsPath overrides listings.path when set.
	ListingsPath string
	// DryRun keeps the cache read-only and disables export, search and notify.
	DryRun bool
	// LogOutput receives log output. Defaults to stdout.
	LogOutput io.Writer
}

// App holds the wired components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Cache    *cache.MatchCache
	Breaker  *lookup.CircuitBreaker
	Limiter  *ratelimit.RateLimiter
	Lookup   lookup.Lookup
	Enricher *enrich.Enricher
	Filter   *filter.InvestmentFilter
	Exporter *export.Exporter
	Search   *search.SearchClient
	Notifier *notify.Publisher
	Runner   *pipeline.Runner

	closers []func() error
}

// New builds every component and loads the match cache.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := logging.New(cfg.Logging, opts.LogOutput)
	a := &App{Config: cfg, Logger: logger}

	store, err := a.openStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	if opts.DryRun {
		store = readOnlyStore{Store: store, logger: logger}
	}
	a.Cache = cache.New(store, logger)
	a.Cache.Load(ctx)

	a.Breaker = lookup.NewCircuitBreaker(cfg.Lookup.CircuitBreakerThreshold, cfg.Lookup.GetCircuitBreakerReset(), logger)
	a.Limiter = ratelimit.NewRateLimiter(
		cfg.RateLimit.RequestsPerMinute,
		cfg.RateLimit.RequestsPerHour,
		cfg.RateLimit.RequestsPerDay,
		cfg.RateLimit.Enabled,
	)
	a.Lookup, err = a.buildLookup()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Enricher = enrich.NewEnricher(a.Cache, a.Lookup, similarity.NewScorer(cfg.Matching.Tiers), enrich.Options{
		BatchSize:      cfg.Matching.BatchSize,
		BatchDelay:     cfg.Matching.GetBatchDelay(),
		DedupLookups:   cfg.Matching.DedupLookups,
		FlushEachBatch: cfg.Matching.FlushEachBatch,
	}, logger)
	a.Filter = filter.New(cfg.Criteria, logger)

	components := pipeline.Components{
		Source:   a.listingSource(opts.ListingsPath),
		Enricher: a.Enricher,
		Filter:   a.Filter,
	}

	if !opts.DryRun {
		a.Exporter = export.NewExporter(cfg.Output.Dir, cfg.Output.Formats, logger)
		components.Exporter = a.Exporter

		if cfg.Search.Enabled {
			a.Search = search.NewSearchClient(cfg.Search.Meilisearch.Host, cfg.Search.Meilisearch.APIKey, cfg.Search.Index)
			if err := a.Search.InitIndex(); err != nil {
				logger.Warn("failed to initialize search index", "error", err)
			}
			components.Indexer = a.Search
		}

		if cfg.Notify.Enabled {
			pub, err := notify.NewPublisher(notify.Config{
				URL:              cfg.Notify.URL,
				Exchange:         cfg.Notify.Exchange,
				RoutingKeyPrefix: cfg.Notify.RoutingKeyPrefix,
			}, logger)
			if err != nil {
				logger.Warn("notifications disabled: broker unavailable", "error", err)
			} else {
				a.Notifier = pub
				a.closers = append(a.closers, pub.Close)
				components.Publisher = pub
			}
		}
	}

	a.Runner = pipeline.NewRunner(components, logger)

	logger.Info("application initialized",
		"cache_backend", cfg.Cache.Backend,
		"cache_entries", a.Cache.Len(),
		"lookup_mode", cfg.Lookup.Mode,
		"dry_run", opts.DryRun,
		"search", a.Search != nil,
		"notify", a.Notifier != nil,
	)
	return a, nil
}

func (a *App) openStore() (cache.Store, error) {
	cfg := a.Config
	switch cfg.Cache.Backend {
	case "mysql":
		m := cfg.Database.MySQL
		s, err := database.NewGormStore(m.Host, m.Port, m.User, m.Password, m.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		if err := s.InitSchema(); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return s, nil
	case "postgres":
		p := cfg.Database.Postgres
		s, err := database.NewPostgresStore(p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		if err := s.InitSchema(); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return s, nil
	case "memory":
		return cache.NewMemoryStore(), nil
	default:
		return cache.NewCSVStore(cfg.Cache.Path), nil
	}
}

func (a *App) buildLookup() (lookup.Lookup, error) {
	cfg := a.Config.Lookup

	api := lookup.NewOpenDataClient(lookup.OpenDataConfig{
		BaseURL:               cfg.APIBaseURL,
		AppToken:              cfg.AppToken,
		BuildingsEndpoint:     cfg.BuildingsEndpoint,
		RegistrationsEndpoint: cfg.RegistrationsEndpoint,
		UnitsEndpoint:         cfg.UnitsEndpoint,
		UserAgent:             a.Config.UserAgent,
		Timeout:               cfg.GetTimeout(),
		MaxRetries:            cfg.MaxRetries,
		RetryDelay:            cfg.GetRetryDelay(),
	}, a.Breaker, a.Logger)

	web := func() *lookup.HPDOnline {
		return lookup.NewHPDOnline(lookup.OnlineConfig{
			BaseURL:   cfg.OnlineURL,
			Headless:  cfg.Headless,
			UserAgent: a.Config.UserAgent,
			Timeout:   2 * cfg.GetTimeout(),
			MinPause:  onlineMinPause,
			MaxPause:  onlineMaxPause,
		}, a.Breaker, a.Logger)
	}

	var inner lookup.Lookup
	switch cfg.Mode {
	case "api":
		inner = api
	case "web":
		inner = web()
	case "chain":
		inner = lookup.NewChain(a.Logger, api, web())
	default:
		return nil, fmt.Errorf("unknown lookup mode %q", cfg.Mode)
	}

	pacer := ratelimit.NewPacer(cfg.MaxInFlight, cfg.GetRequestDelay(), cfg.GetJitter())
	return lookup.NewThrottled(inner, a.Limiter, pacer), nil
}

func (a *App) listingSource(override string) listings.Source {
	path := a.Config.Listings.Path
	if override != "" {
		path = override
	}
	return listings.NewFileSource(path, a.Logger)
}

// Close releases database and broker connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// readOnlyStore drops writes. Used for dry runs.
type readOnlyStore struct {
	cache.Store
	logger *slog.Logger
}

func (s readOnlyStore) Save(ctx context.Context, entries []models.CacheEntry) error {
	s.logger.Info("dry run: cache not saved", "entries", len(entries))
	return nil
}
