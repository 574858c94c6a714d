// Package cache holds the persistent match cache: one building summary per
// normalized address, loaded once per run, appended to and flushed at the end.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"listing-enricher/internal/models"
	"listing-enricher/internal/normalize"
)

// SpecialUnitPrefix is the label prefix of reconstructed special units.
const SpecialUnitPrefix = "B"

// Store persists the cache table. Save replaces the stored table entirely.
type Store interface {
	Load(ctx context.Context) ([]models.CacheEntry, error)
	Save(ctx context.Context, entries []models.CacheEntry) error
}

// Stats contains cache statistics
type Stats struct {
	Entries  int   `json:"entries"`
	Inserted int   `json:"inserted_this_run"`
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
}

// MatchCache maps cache keys to previously resolved buildings.
// Entries are never updated or removed once present.
type MatchCache struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	// mu guards entries and order for readers outside an enrichment run.
	mu       sync.RWMutex
	entries  map[string]models.CacheEntry
	order    []string
	inserted int

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an empty cache backed by store.
func New(store Store, logger *slog.Logger) *MatchCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchCache{
		store:   store,
		logger:  logger.With("component", "match_cache"),
		now:     time.Now,
		entries: make(map[string]models.CacheEntry),
	}
}

// Load reads the backing store into memory. A missing or unreadable store
// leaves the cache empty; Load never fails the run.
func (c *MatchCache) Load(ctx context.Context) {
	rows, err := c.store.Load(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]models.CacheEntry)
	c.order = nil
	c.inserted = 0

	switch {
	case errors.Is(err, fs.ErrNotExist):
		c.logger.Info("no existing cache found, starting empty")
		return
	case err != nil:
		c.logger.Warn("failed to load cache, starting empty", "error", err)
		return
	}

	for _, row := range rows {
		key := normalize.CacheKey(models.Address{Street: row.Street, Borough: row.Borough})
		if _, exists := c.entries[key]; exists {
			continue
		}
		c.entries[key] = row
		c.order = append(c.order, key)
	}
	c.logger.Info("loaded cache", "entries", len(c.entries))
}

// Lookup returns the cached building for addr. Special units are regenerated
// as "B1".."Bn" from the stored count, so original labels are not preserved.
func (c *MatchCache) Lookup(addr models.Address) (*models.BuildingRecord, bool) {
	key := normalize.CacheKey(addr)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return toBuilding(entry, addr), true
}

// InsertNew adds every matched record whose key is not yet cached.
// Existing keys are left untouched. It returns the number of rows added.
func (c *MatchCache) InsertNew(records []models.MergedRecord) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for i := range records {
		rec := &records[i]
		if !rec.MatchFound || rec.Building == nil {
			continue
		}
		key := normalize.CacheKey(rec.Listing.Address)
		if _, exists := c.entries[key]; exists {
			continue
		}
		c.entries[key] = newEntry(rec, c.now())
		c.order = append(c.order, key)
		added++
	}
	c.inserted += added
	if added > 0 {
		c.logger.Debug("inserted cache entries", "added", added, "total", len(c.entries))
	}
	return added
}

// Flush writes the full table to the backing store. A failure is logged and
// returned; the in-memory table is kept either way.
func (c *MatchCache) Flush(ctx context.Context) error {
	entries := c.Entries()
	if err := c.store.Save(ctx, entries); err != nil {
		c.logger.Error("failed to save cache", "entries", len(entries), "error", err)
		return fmt.Errorf("failed to save cache: %w", err)
	}
	c.logger.Info("saved cache", "entries", len(entries))
	return nil
}

// Len returns the number of cached addresses.
func (c *MatchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns the cached rows in insertion order.
func (c *MatchCache) Entries() []models.CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.CacheEntry, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.entries[key])
	}
	return out
}

// GetStats returns current cache statistics
func (c *MatchCache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:  len(c.entries),
		Inserted: c.inserted,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
	}
}

func newEntry(rec *models.MergedRecord, savedAt time.Time) models.CacheEntry {
	b := rec.Building
	borough := strings.TrimSpace(rec.Listing.Address.Borough)
	if borough == "" {
		borough = normalize.DefaultBorough
	}
	return models.CacheEntry{
		Street:           strings.TrimSpace(rec.Listing.Address.Street),
		Borough:          borough,
		Price:            rec.Listing.Price,
		Bedrooms:         rec.Listing.Bedrooms,
		Bathrooms:        rec.Listing.Bathrooms,
		URL:              rec.Listing.URL,
		BuildingID:       b.BuildingID,
		BIN:              b.BIN,
		BBL:              b.BBL,
		TotalUnits:       rec.TotalUnits,
		ResidentialUnits: b.ResidentialUnits,
		BuildingClass:    b.BuildingClass,
		SpecialUnitCount: rec.SpecialUnitCount,
		HasSpecialUnits:  rec.SpecialUnitCount > 0,
		SpecialUnits:     specialUnitSummary(rec.SpecialUnitCount),
		Confidence:       rec.Confidence,
		SavedAt:          savedAt,
	}
}

func toBuilding(e models.CacheEntry, addr models.Address) *models.BuildingRecord {
	units := make([]models.SpecialUnit, 0, e.SpecialUnitCount)
	for i := 1; i <= e.SpecialUnitCount; i++ {
		units = append(units, models.SpecialUnit{
			Label:   fmt.Sprintf("%s%d", SpecialUnitPrefix, i),
			Kind:    models.SpecialUnitKindBasement,
			Special: true,
		})
	}
	return &models.BuildingRecord{
		BuildingID:       e.BuildingID,
		BIN:              e.BIN,
		BBL:              e.BBL,
		Address:          addr,
		TotalUnits:       e.TotalUnits,
		ResidentialUnits: e.ResidentialUnits,
		SpecialUnits:     units,
		BuildingClass:    e.BuildingClass,
	}
}

// specialUnitSummary renders the synthetic labels for n units, or "N/A".
func specialUnitSummary(n int) string {
	if n <= 0 {
		return "N/A"
	}
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("%s%d", SpecialUnitPrefix, i+1)
	}
	return strings.Join(labels, ", ")
}
