package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"listing-enricher/internal/cache"
	"listing-enricher/internal/models"
	"listing-enricher/internal/normalize"
	"listing-enricher/internal/similarity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLookup serves buildings keyed by cache key and records calls.
type fakeLookup struct {
	mu        sync.Mutex
	buildings map[string]*models.BuildingRecord
	errs      map[string]error
	panics    map[string]bool
	delays    map[string]time.Duration
	calls     map[string]int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		buildings: make(map[string]*models.BuildingRecord),
		errs:      make(map[string]error),
		panics:    make(map[string]bool),
		delays:    make(map[string]time.Duration),
		calls:     make(map[string]int),
	}
}

func (f *fakeLookup) add(b *models.BuildingRecord) {
	f.buildings[normalize.CacheKey(b.Address)] = b
}

func (f *fakeLookup) LookupBuilding(ctx context.Context, addr models.Address) (*models.BuildingRecord, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	key := normalize.CacheKey(addr)
	f.mu.Lock()
	f.calls[key]++
	delay := f.delays[key]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if f.panics[key] {
		panic("registry exploded")
	}
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.buildings[key], nil
}

func (f *fakeLookup) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func listing(id, street, borough string) models.RawListing {
	return models.RawListing{ID: id, Address: models.Address{Street: street, Borough: borough}}
}

func building(street, borough string, total int, special ...string) *models.BuildingRecord {
	units := make([]models.SpecialUnit, 0, len(special))
	for _, l := range special {
		units = append(units, models.SpecialUnit{Label: l, Kind: models.SpecialUnitKindBasement, Special: true})
	}
	return &models.BuildingRecord{
		BuildingID:   "bld-" + street,
		Address:      models.Address{Street: street, Borough: borough},
		TotalUnits:   total,
		SpecialUnits: units,
	}
}

type harness struct {
	enricher *Enricher
	lookup   *fakeLookup
	cache    *cache.MatchCache
	store    *cache.MemoryStore
	sleeps   []time.Duration
}

func newHarness(t *testing.T, opts Options, seed ...models.CacheEntry) *harness {
	t.Helper()
	h := &harness{lookup: newFakeLookup(), store: cache.NewMemoryStore(seed...)}
	h.cache = cache.New(h.store, testLogger())
	h.cache.Load(context.Background())
	h.enricher = NewEnricher(h.cache, h.lookup, similarity.NewScorer(similarity.DefaultTiers()), opts, testLogger())
	h.enricher.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

func TestEnrichMatchesAndAttachesCounts(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.lookup.add(building("100 Gold Street", "Manhattan", 3, "B1", "B2"))

	price, beds, baths := 2_000_000.0, 6, 4.5
	in := listing("z1", "100 GOLD STREET", "Manhattan")
	in.Price, in.Bedrooms, in.Bathrooms = &price, &beds, &baths

	out, err := h.enricher.Enrich(context.Background(), []models.RawListing{in})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	rec := out[0]
	if !rec.MatchFound || rec.Building == nil {
		t.Fatalf("record not matched: %+v", rec)
	}
	if rec.Confidence != models.ConfidenceHigh {
		t.Errorf("Confidence = %q, want High", rec.Confidence)
	}
	if rec.SpecialUnitCount != 2 || rec.TotalUnits != 3 {
		t.Errorf("counts = (%d, %d), want (2, 3)", rec.SpecialUnitCount, rec.TotalUnits)
	}
	if h.cache.Len() != 1 {
		t.Errorf("cache Len() = %d, want 1", h.cache.Len())
	}
	if h.store.Saves() != 1 {
		t.Errorf("store Saves() = %d, want 1", h.store.Saves())
	}
}

func TestEnrichPreservesInputOrder(t *testing.T) {
	h := newHarness(t, Options{BatchSize: 5})
	var in []models.RawListing
	for i := 0; i < 12; i++ {
		street := fmt.Sprintf("%d Main Street", i+1)
		h.lookup.add(building(street, "Queens", 2))
		h.lookup.delays[normalize.CacheKey(models.Address{Street: street, Borough: "Queens"})] = time.Duration(12-i) * time.Millisecond
		in = append(in, listing(fmt.Sprintf("id-%d", i), street, "Queens"))
	}

	out, err := h.enricher.Enrich(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	for i := range in {
		if out[i].Listing.ID != in[i].ID {
			t.Errorf("out[%d].ID = %s, want %s", i, out[i].Listing.ID, in[i].ID)
		}
	}
}

func TestEnrichCacheHitSkipsLookup(t *testing.T) {
	seed := models.CacheEntry{Street: "5 Pine St", Borough: "Bronx", TotalUnits: 4, SpecialUnitCount: 1}
	h := newHarness(t, DefaultOptions(), seed)

	out, _ := h.enricher.Enrich(context.Background(), []models.RawListing{listing("a", "5 Pine Street", "BRONX")})

	if h.lookup.totalCalls() != 0 {
		t.Errorf("lookup calls = %d, want 0", h.lookup.totalCalls())
	}
	if !out[0].MatchFound || out[0].TotalUnits != 4 || out[0].SpecialUnitCount != 1 {
		t.Errorf("cache hit record = %+v", out[0])
	}
	if got := h.enricher.LastSummary(); got.CacheHits != 1 || got.NewlyCached != 0 {
		t.Errorf("summary = %+v", got)
	}
	if entries, _ := h.store.Load(context.Background()); len(entries) != 1 {
		t.Errorf("stored entries = %d, want 1 (hit not re-inserted)", len(entries))
	}
}

func TestEnrichUnmatchedOutcomesAreNotCached(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	// Registry returns a different building for this address.
	h.lookup.buildings[normalize.CacheKey(models.Address{Street: "1 Main St", Borough: "Queens"})] =
		building("987 Totally Different Boulevard", "Queens", 6)
	h.lookup.errs[normalize.CacheKey(models.Address{Street: "2 Main St", Borough: "Queens"})] = errors.New("timeout")
	h.lookup.panics[normalize.CacheKey(models.Address{Street: "3 Main St", Borough: "Queens"})] = true
	h.lookup.add(building("4 Main St", "Queens", 2))

	in := []models.RawListing{
		listing("below", "1 Main St", "Queens"),
		listing("error", "2 Main St", "Queens"),
		listing("panic", "3 Main St", "Queens"),
		listing("ok", "4 Main St", "Queens"),
		listing("none", "5 Main St", "Queens"),
	}
	out, err := h.enricher.Enrich(context.Background(), in)
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	want := map[string]bool{"below": false, "error": false, "panic": false, "ok": true, "none": false}
	for _, rec := range out {
		if rec.MatchFound != want[rec.Listing.ID] {
			t.Errorf("%s: MatchFound = %v, want %v", rec.Listing.ID, rec.MatchFound, want[rec.Listing.ID])
		}
		if !rec.MatchFound && (rec.Building != nil || rec.Confidence != "") {
			t.Errorf("%s: unmatched record carries building or tier", rec.Listing.ID)
		}
	}
	if h.cache.Len() != 1 {
		t.Errorf("cache Len() = %d, want 1", h.cache.Len())
	}
	s := h.enricher.LastSummary()
	if s.Lookups != 5 || s.LookupFailures != 2 || s.BelowThreshold != 1 || s.NotFound != 1 || s.Matched != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestEnrichBatchingAndPacing(t *testing.T) {
	h := newHarness(t, Options{BatchSize: 10, BatchDelay: time.Second})
	var in []models.RawListing
	for i := 0; i < 25; i++ {
		street := fmt.Sprintf("%d Elm St", i)
		h.lookup.add(building(street, "Brooklyn", 2))
		h.lookup.delays[normalize.CacheKey(models.Address{Street: street})] = 5 * time.Millisecond
		in = append(in, listing(street, street, ""))
	}

	out, err := h.enricher.Enrich(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 25 {
		t.Fatalf("len(out) = %d, want 25", len(out))
	}
	if len(h.sleeps) != 2 {
		t.Errorf("pauses = %d, want 2 (none after last batch)", len(h.sleeps))
	}
	for _, d := range h.sleeps {
		if d != time.Second {
			t.Errorf("pause = %v, want 1s", d)
		}
	}
	if m := h.lookup.maxInFlight.Load(); m > 10 {
		t.Errorf("max in-flight lookups = %d, want <= 10", m)
	}
	if h.store.Saves() != 1 {
		t.Errorf("Saves() = %d, want 1", h.store.Saves())
	}
}

func TestEnrichDuplicateAddresses(t *testing.T) {
	in := []models.RawListing{
		listing("a", "10 Oak Street", "Bronx"),
		listing("b", "10 OAK ST", "bronx"),
		listing("c", "11 Oak St", "Bronx"),
		listing("d", "10 Oak St", "Bronx"),
	}
	key := normalize.CacheKey(in[0].Address)

	tests := []struct {
		name      string
		opts      Options
		wantCalls int
	}{
		{"no dedup", Options{BatchSize: 3}, 3},
		{"dedup", Options{BatchSize: 3, DedupLookups: true}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.opts)
			h.lookup.add(building("10 Oak St", "Bronx", 3, "B1"))
			h.lookup.delays[key] = 10 * time.Millisecond

			out, err := h.enricher.Enrich(context.Background(), in)
			if err != nil {
				t.Fatal(err)
			}
			h.lookup.mu.Lock()
			calls := h.lookup.calls[key]
			h.lookup.mu.Unlock()
			if calls != tt.wantCalls {
				t.Errorf("lookups for %s = %d, want %d", key, calls, tt.wantCalls)
			}
			for _, i := range []int{0, 1, 3} {
				if !out[i].MatchFound {
					t.Errorf("out[%d] not matched", i)
				}
			}
			if h.cache.Len() != 1 {
				t.Errorf("cache Len() = %d, want 1", h.cache.Len())
			}
		})
	}
}

func TestEnrichCancelledBetweenBatches(t *testing.T) {
	h := newHarness(t, Options{BatchSize: 2, BatchDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	h.enricher.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	var in []models.RawListing
	for i := 0; i < 6; i++ {
		street := fmt.Sprintf("%d Birch St", i)
		h.lookup.add(building(street, "Queens", 2))
		in = append(in, listing(street, street, "Queens"))
	}

	out, err := h.enricher.Enrich(ctx, in)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Enrich() error = %v, want context.Canceled", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if h.cache.Len() != 2 || h.store.Saves() != 1 {
		t.Errorf("cache Len() = %d, Saves() = %d; want resolved rows flushed", h.cache.Len(), h.store.Saves())
	}
}

func TestEnrichFlushEachBatch(t *testing.T) {
	h := newHarness(t, Options{BatchSize: 1, FlushEachBatch: true})
	h.lookup.add(building("1 Ash St", "Bronx", 2))
	h.lookup.add(building("2 Ash St", "Bronx", 2))

	_, err := h.enricher.Enrich(context.Background(), []models.RawListing{
		listing("1", "1 Ash St", "Bronx"),
		listing("2", "2 Ash St", "Bronx"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if h.store.Saves() != 3 {
		t.Errorf("Saves() = %d, want 3 (two batches plus final)", h.store.Saves())
	}
	if got := h.enricher.LastSummary().NewlyCached; got != 2 {
		t.Errorf("NewlyCached = %d, want 2", got)
	}
}

// flakyCache fails every flush and records whether the flush context was live.
type flakyCache struct {
	*cache.MatchCache
	mu        sync.Mutex
	flushErrs []error
}

func (c *flakyCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.flushErrs = append(c.flushErrs, ctx.Err())
	c.mu.Unlock()
	return errors.New("disk full")
}

// cancellingLookup cancels the run after its first lookup.
type cancellingLookup struct {
	next   BuildingLookup
	cancel context.CancelFunc
}

func (l *cancellingLookup) LookupBuilding(ctx context.Context, addr models.Address) (*models.BuildingRecord, error) {
	defer l.cancel()
	return l.next.LookupBuilding(ctx, addr)
}

func TestEnrichBatchFlushFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	lookup := newFakeLookup()
	lookup.add(building("1 Ash St", "Bronx", 2))
	lookup.add(building("2 Ash St", "Bronx", 2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc := &flakyCache{MatchCache: cache.New(cache.NewMemoryStore(), testLogger())}
	e := NewEnricher(fc, &cancellingLookup{next: lookup, cancel: cancel},
		similarity.NewScorer(similarity.DefaultTiers()), Options{BatchSize: 1, FlushEachBatch: true}, logger)
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	out, err := e.Enrich(ctx, []models.RawListing{
		listing("1", "1 Ash St", "Bronx"),
		listing("2", "2 Ash St", "Bronx"),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Enrich() error = %v, want context.Canceled", err)
	}
	if len(out) != 1 || !out[0].MatchFound {
		t.Fatalf("out = %+v, want the first record matched", out)
	}

	if len(fc.flushErrs) != 2 {
		t.Fatalf("flushes = %d, want batch plus final", len(fc.flushErrs))
	}
	for i, ctxErr := range fc.flushErrs {
		if ctxErr != nil {
			t.Errorf("flush %d ran with a cancelled context: %v", i, ctxErr)
		}
	}
	var flushLine string
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, "batch cache flush failed") {
			flushLine = line
		}
	}
	if !strings.Contains(flushLine, "batch=1") || !strings.Contains(flushLine, "disk full") {
		t.Errorf("batch flush failure not logged:\n%s", logs.String())
	}
	if fc.Len() != 1 {
		t.Errorf("cache Len() = %d, want 1", fc.Len())
	}
}

func TestEnrichEmptyInput(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	out, err := h.enricher.Enrich(context.Background(), nil)
	if err != nil || len(out) != 0 {
		t.Errorf("Enrich(nil) = %v, %v", out, err)
	}
	if len(h.sleeps) != 0 {
		t.Errorf("pauses = %d, want 0", len(h.sleeps))
	}
}
