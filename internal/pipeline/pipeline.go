// Package pipeline runs one end-to-end enrichment pass: listings in,
// enriched and scored records out to files, the search index and the broker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"listing-enricher/internal/enrich"
	"listing-enricher/internal/listings"
	"listing-enricher/internal/models"
)

// ErrRunInProgress is returned when Run is called while a run is active.
var ErrRunInProgress = errors.New("a run is already in progress")

const (
	MasterPrefix = "master_all_properties"
	FinalPrefix  = "final_with_hpd_data"
)

type Enricher interface {
	Enrich(ctx context.Context, listings []models.RawListing) ([]models.MergedRecord, error)
	LastSummary() enrich.Summary
}

type Filter interface {
	FilterAndScore(records []models.MergedRecord) []models.MergedRecord
}

type Exporter interface {
	Export(records []models.MergedRecord, prefix string) (map[string]string, error)
	ExportListings(listings []models.RawListing, prefix string) (map[string]string, error)
}

type Indexer interface {
	IndexRecords(records []models.MergedRecord) error
}

type Publisher interface {
	PublishQualified(ctx context.Context, runID string, records []models.MergedRecord) (int, error)
}

// Components are the collaborators of a Runner. Exporter, Indexer and
// Publisher are optional.
type Components struct {
	Source    listings.Source
	Enricher  Enricher
	Filter    Filter
	Exporter  Exporter
	Indexer   Indexer
	Publisher Publisher
}

// Report describes one run.
type Report struct {
	RunID      string                `json:"run_id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Listings   int                   `json:"listings"`
	Summary    enrich.Summary        `json:"summary"`
	Qualified  []models.MergedRecord `json:"qualified"`
	Results    []models.MergedRecord `json:"results"`
	Files      map[string]string     `json:"files,omitempty"`
	Indexed    int                   `json:"indexed"`
	Published  int                   `json:"published"`
	Error      string                `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Runner executes pipeline runs one at a time.
type Runner struct {
	c      Components
	logger *slog.Logger

	running atomic.Bool
	mu      sync.RWMutex
	latest  *Report

	now   func() time.Time
	newID func() string
}

func NewRunner(c Components, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		c:      c,
		logger: logger.With("component", "pipeline"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Latest returns the report of the last finished run, or nil.
func (r *Runner) Latest() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Run loads listings, enriches and filters them, then hands the results to
// the exporter, the search index and the publisher. Failures of those three
// are logged and do not fail the run. A cancelled enrichment still yields a
// report holding the records processed so far.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	report := &Report{
		RunID:     r.newID(),
		StartedAt: r.now(),
		Files:     make(map[string]string),
	}
	log := r.logger.With("run_id", report.RunID)
	log.Info("run started")

	err := r.run(ctx, log, report)
	report.FinishedAt = r.now()
	if err != nil {
		report.Error = err.Error()
		log.Error("run failed", "error", err, "duration", report.Duration())
	} else {
		log.Info("run completed",
			"listings", report.Listings,
			"matched", report.Summary.Matched,
			"with_special_units", report.Summary.WithSpecialUnits,
			"qualified", len(report.Qualified),
			"duration", report.Duration(),
		)
	}

	r.mu.Lock()
	r.latest = report
	r.mu.Unlock()
	return report, err
}

func (r *Runner) run(ctx context.Context, log *slog.Logger, report *Report) error {
	items, err := r.c.Source.Listings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load listings: %w", err)
	}
	report.Listings = len(items)
	if len(items) == 0 {
		log.Warn("no listings to process")
		return nil
	}

	if r.c.Exporter != nil {
		files, err := r.c.Exporter.ExportListings(items, MasterPrefix)
		if err != nil {
			log.Error("failed to export master list", "error", err)
		}
		addFiles(report.Files, "master", files)
	}

	records, err := r.c.Enricher.Enrich(ctx, items)
	report.Summary = r.c.Enricher.LastSummary()
	report.Results = records
	if err != nil {
		return fmt.Errorf("enrichment interrupted after %d records: %w", len(records), err)
	}

	report.Qualified = r.c.Filter.FilterAndScore(records)

	if r.c.Exporter != nil {
		files, err := r.c.Exporter.Export(records, FinalPrefix)
		if err != nil {
			log.Error("failed to export results", "error", err)
		}
		addFiles(report.Files, "final", files)
	}

	if r.c.Indexer != nil {
		if err := r.c.Indexer.IndexRecords(records); err != nil {
			log.Error("failed to index results", "error", err)
		} else {
			report.Indexed = len(records)
		}
	}

	if r.c.Publisher != nil && len(report.Qualified) > 0 {
		sent, err := r.c.Publisher.PublishQualified(ctx, report.RunID, report.Qualified)
		if err != nil {
			log.Error("failed to publish qualified listings", "error", err, "sent", sent)
		}
		report.Published = sent
	}
	return nil
}

func addFiles(dst map[string]string, stage string, files map[string]string) {
	for format, path := range files {
		dst[stage+"_"+format] = path
	}
}
