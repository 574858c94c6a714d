package listings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"listing-enricher/internal/models"
)

// Source supplies the listings for one run.
type Source interface {
	Listings(ctx context.Context) ([]models.RawListing, error)
}

// FileSource reads a JSON array of listings written by the listing collector.
type FileSource struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, logger: logger, now: time.Now}
}

// Path returns the file the source reads.
func (s *FileSource) Path() string {
	return s.path
}

// Listings decodes the file. Listings without a street are skipped and a
// missing DiscoveredAt is set to the read time.
func (s *FileSource) Listings(ctx context.Context) ([]models.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read listings %s: %w", s.path, err)
	}

	var raw []models.RawListing
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode listings %s: %w", s.path, err)
	}

	now := s.now()
	listings := make([]models.RawListing, 0, len(raw))
	skipped := 0
	for _, l := range raw {
		if strings.TrimSpace(l.Address.Street) == "" {
			skipped++
			continue
		}
		if l.DiscoveredAt.IsZero() {
			l.DiscoveredAt = now
		}
		listings = append(listings, l)
	}

	if skipped > 0 {
		s.logger.Warn("skipped listings without a street", "count", skipped, "path", s.path)
	}
	s.logger.Info("loaded listings", "count", len(listings), "path", s.path)
	return listings, nil
}

// StaticSource serves a fixed slice. Used by the CLI lookup command and tests.
type StaticSource []models.RawListing

func (s StaticSource) Listings(ctx context.Context) ([]models.RawListing, error) {
	return append([]models.RawListing(nil), s...), nil
}
