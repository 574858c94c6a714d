package listings

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileSourceListings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listings.json")
	data := `[
	  {"id": "a", "address": {"street": "10 Gold St", "borough": "Brooklyn"}, "price": 1500000, "bedrooms": 6,
	   "discovered_at": "2024-03-01T10:00:00Z"},
	  {"id": "b", "address": {"street": "  "}},
	  {"id": "c", "address": {"street": "5 Main St"}, "listing_status": "PENDING"}
	]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	src := NewFileSource(path, testLogger())
	fixed := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return fixed }

	got, err := src.Listings(context.Background())
	if err != nil {
		t.Fatalf("Listings() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "a" || got[0].Price == nil || *got[0].Price != 1_500_000 || *got[0].Bedrooms != 6 {
		t.Errorf("first listing = %+v", got[0])
	}
	if !got[0].DiscoveredAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("DiscoveredAt overwritten: %v", got[0].DiscoveredAt)
	}
	if !got[1].DiscoveredAt.Equal(fixed) {
		t.Errorf("DiscoveredAt = %v, want %v", got[1].DiscoveredAt, fixed)
	}
	if got[1].IsForSale() {
		t.Error("pending listing reported as for sale")
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope.json"), testLogger())
	if _, err := src.Listings(context.Background()); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("error = %v, want fs.ErrNotExist", err)
	}
}

func TestFileSourceInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte(`{"not": "an array"}`), 0o644)
	if _, err := NewFileSource(path, testLogger()).Listings(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}
