// Package enrich matches listings to registry buildings, consulting the match
// cache first and the external lookup on a miss.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"listing-enricher/internal/models"
	"listing-enricher/internal/normalize"
	"listing-enricher/internal/similarity"
)

// BuildingLookup resolves an address to a registry building.
// A nil record with a nil error means the registry has no such building.
type BuildingLookup interface {
	LookupBuilding(ctx context.Context, addr models.Address) (*models.BuildingRecord, error)
}

// Cache is the subset of the match cache the enricher needs.
type Cache interface {
	Lookup(addr models.Address) (*models.BuildingRecord, bool)
	InsertNew(records []models.MergedRecord) int
	Flush(ctx context.Context) error
}

// Options controls batching and lookup behaviour.
type Options struct {
	BatchSize      int
	BatchDelay     time.Duration
	DedupLookups   bool
	FlushEachBatch bool
}

// DefaultOptions returns batches of 10 with a one second pause between them.
func DefaultOptions() Options {
	return Options{
		BatchSize:  10,
		BatchDelay: time.Second,
	}
}

// Summary counts what happened during one Enrich call.
type Summary struct {
	Listings         int `json:"listings"`
	CacheHits        int `json:"cache_hits"`
	Lookups          int `json:"lookups"`
	LookupFailures   int `json:"lookup_failures"`
	NotFound         int `json:"not_found"`
	BelowThreshold   int `json:"below_threshold"`
	Matched          int `json:"matched"`
	WithSpecialUnits int `json:"with_special_units"`
	NewlyCached      int `json:"newly_cached"`
}

// Enricher turns raw listings into merged records.
type Enricher struct {
	cache  Cache
	lookup BuildingLookup
	scorer *similarity.Scorer
	opts   Options
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	last Summary
}

// NewEnricher creates an enricher. A zero BatchSize falls back to the default.
func NewEnricher(cache Cache, lookup BuildingLookup, scorer *similarity.Scorer, opts Options, logger *slog.Logger) *Enricher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if scorer == nil {
		scorer = similarity.NewScorer(similarity.DefaultTiers())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		cache:  cache,
		lookup: lookup,
		scorer: scorer,
		opts:   opts,
		logger: logger.With("component", "enricher"),
		sleep:  sleepContext,
	}
}

// outcome is the per-listing result of one batch slot.
type outcome struct {
	record        models.MergedRecord
	cacheHit      bool
	lookedUp      bool
	failed        bool
	notFound      bool
	belowThresh   bool
	newlyResolved bool
}

// lookupResult is what a deduplicated lookup shares between listings.
type lookupResult struct {
	building *models.BuildingRecord
	err      error
}

// Enrich returns one merged record per listing, in input order.
//
// Listings are processed in batches; lookups inside a batch run concurrently
// and the cache is only mutated after the whole batch has finished. Addresses
// resolved by the lookup during this call are inserted into the cache and the
// cache is flushed once at the end. Per-listing failures never surface as
// errors. Cancellation is checked between batches only; on cancellation the
// records produced so far are returned with ctx.Err().
func (e *Enricher) Enrich(ctx context.Context, listings []models.RawListing) ([]models.MergedRecord, error) {
	start := time.Now()
	summary := Summary{Listings: len(listings)}
	results := make([]models.MergedRecord, 0, len(listings))
	var newly []models.MergedRecord

	// memo holds lookups already performed this run, keyed by cache key.
	// It is written only after a batch joins.
	var memo map[string]lookupResult
	if e.opts.DedupLookups {
		memo = make(map[string]lookupResult)
	}

	total := (len(listings) + e.opts.BatchSize - 1) / e.opts.BatchSize
	var runErr error

	for b := 0; b < total; b++ {
		if b > 0 {
			if err := e.sleep(ctx, e.opts.BatchDelay); err != nil {
				runErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		lo := b * e.opts.BatchSize
		hi := min(lo+e.opts.BatchSize, len(listings))
		batch := listings[lo:hi]
		e.logger.Info("processing batch", "batch", b+1, "of", total, "size", len(batch))

		outcomes, shared := e.runBatch(ctx, batch, memo)

		var batchNew []models.MergedRecord
		for i := range outcomes {
			o := &outcomes[i]
			summary.add(o)
			results = append(results, o.record)
			if o.newlyResolved {
				batchNew = append(batchNew, o.record)
			}
		}
		newly = append(newly, batchNew...)
		for key, res := range shared {
			memo[key] = res
		}

		if e.opts.FlushEachBatch && len(batchNew) > 0 {
			summary.NewlyCached += e.cache.InsertNew(batchNew)
			if err := e.cache.Flush(context.WithoutCancel(ctx)); err != nil {
				e.logger.Error("batch cache flush failed, continuing", "batch", b+1, "error", err)
			}
		}
	}

	summary.NewlyCached += e.cache.InsertNew(newly)
	if err := e.cache.Flush(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("cache flush failed, continuing", "error", err)
	}

	e.logger.Info("enrichment complete",
		"listings", summary.Listings,
		"processed", len(results),
		"cache_hits", summary.CacheHits,
		"lookups", summary.Lookups,
		"matched", summary.Matched,
		"with_special_units", summary.WithSpecialUnits,
		"newly_cached", summary.NewlyCached,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	e.mu.Lock()
	e.last = summary
	e.mu.Unlock()

	return results, runErr
}

// LastSummary returns the summary of the most recent Enrich call.
func (e *Enricher) LastSummary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// runBatch resolves every listing of a batch concurrently. Slots are written
// by index so the output keeps the batch order. When dedup is enabled the
// second return value carries the lookups performed in this batch.
func (e *Enricher) runBatch(ctx context.Context, batch []models.RawListing, memo map[string]lookupResult) ([]outcome, map[string]lookupResult) {
	outcomes := make([]outcome, len(batch))

	var (
		group    singleflight.Group
		sharedMu sync.Mutex
		shared   map[string]lookupResult
	)
	if memo != nil {
		shared = make(map[string]lookupResult)
	}

	resolve := func(ctx context.Context, addr models.Address) (lookupResult, bool) {
		if memo == nil {
			b, err := e.safeLookup(ctx, addr)
			return lookupResult{building: b, err: err}, true
		}
		key := normalize.CacheKey(addr)
		if res, ok := memo[key]; ok {
			return res, false
		}
		sharedMu.Lock()
		res, done := shared[key]
		sharedMu.Unlock()
		if done {
			return res, false
		}
		executed := false
		v, _, _ := group.Do(key, func() (interface{}, error) {
			executed = true
			b, err := e.safeLookup(ctx, addr)
			res := lookupResult{building: b, err: err}
			sharedMu.Lock()
			shared[key] = res
			sharedMu.Unlock()
			return res, nil
		})
		return v.(lookupResult), executed
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(batch))
	for i := range batch {
		i := i
		g.Go(func() error {
			outcomes[i] = e.enrichOne(gctx, batch[i], resolve)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, shared
}

type resolveFunc func(ctx context.Context, addr models.Address) (lookupResult, bool)

func (e *Enricher) enrichOne(ctx context.Context, listing models.RawListing, resolve resolveFunc) outcome {
	o := outcome{record: models.NewMergedRecord(listing)}
	addr := listing.Address

	if cached, ok := e.cache.Lookup(addr); ok {
		// A cached building carries the query address, so it is an exact match.
		o.cacheHit = true
		o.record.Attach(cached, models.ConfidenceHigh)
		return o
	}

	res, called := resolve(ctx, addr)
	o.lookedUp = called
	building, err := res.building, res.err
	if err != nil {
		o.failed = true
		e.logger.Error("building lookup failed", "address", addr.String(), "error", err)
		return o
	}
	if building == nil {
		o.notFound = true
		e.logger.Debug("no building found", "address", addr.String())
		return o
	}

	score, confidence, ok := e.scorer.Match(addr, building.Address)
	if !ok {
		o.belowThresh = true
		e.logger.Debug("match below threshold",
			"address", addr.String(),
			"candidate", building.Address.String(),
			"score", score,
			"threshold", e.scorer.Tiers().MatchThreshold,
		)
		return o
	}

	o.record.Attach(building, confidence)
	o.newlyResolved = true
	e.logger.Debug("matched building",
		"address", addr.String(),
		"building_id", building.BuildingID,
		"score", score,
		"confidence", confidence,
		"special_units", o.record.SpecialUnitCount,
	)
	return o
}

// safeLookup calls the lookup, converting a panic into an error.
func (e *Enricher) safeLookup(ctx context.Context, addr models.Address) (b *models.BuildingRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("lookup panicked: %v", r)
		}
	}()
	return e.lookup.LookupBuilding(ctx, addr)
}

func (s *Summary) add(o *outcome) {
	if o.cacheHit {
		s.CacheHits++
	}
	if o.lookedUp {
		s.Lookups++
	}
	if o.failed {
		s.LookupFailures++
	}
	if o.notFound {
		s.NotFound++
	}
	if o.belowThresh {
		s.BelowThreshold++
	}
	if o.record.MatchFound {
		s.Matched++
		if o.record.HasSpecialUnits() {
			s.WithSpecialUnits++
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
