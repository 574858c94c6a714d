package cache

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"listing-enricher/internal/models"
)

// DefaultCSVPath is where the cache table lives unless configured otherwise.
const DefaultCSVPath = "./output/master_hpd_data.csv"

const savedAtLayout = "2006-01-02 15:04:05"

// csvColumns is the header of the cache file, in write order.
var csvColumns = []string{
	"Street", "Borough", "Price", "Bedrooms", "Bathrooms", "URL",
	"Building ID", "BIN", "BBL", "Total Units", "Residential Units", "Building Class",
	"B Units Count", "Has B Units", "B Units", "Match Confidence", "Saved Date",
}

// CSVStore keeps the cache table in a single CSV file.
type CSVStore struct {
	path string
}

// NewCSVStore creates a store for the file at path.
func NewCSVStore(path string) *CSVStore {
	if path == "" {
		path = DefaultCSVPath
	}
	return &CSVStore{path: path}
}

// Path returns the backing file path.
func (s *CSVStore) Path() string {
	return s.path
}

// Load reads every row of the file. A missing file yields an error wrapping
// fs.ErrNotExist. Columns are located by header name; only Street and Borough
// are mandatory.
func (s *CSVStore) Load(ctx context.Context) ([]models.CacheEntry, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse cache file %s: %w", s.path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	index := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		index[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"Street", "Borough"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("cache file %s: missing column %q", s.path, required)
		}
	}

	entries := make([]models.CacheEntry, 0, len(records)-1)
	for n, rec := range records[1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := csvRow{index: index, fields: rec}
		entry, err := row.entry()
		if err != nil {
			return nil, fmt.Errorf("cache file %s: row %d: %w", s.path, n+2, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Save overwrites the file with entries via a temporary file and rename.
func (s *CSVStore) Save(ctx context.Context, entries []models.CacheEntry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cache-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvColumns); err != nil {
		tmp.Close()
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return err
		}
		if err := w.Write(entryFields(e)); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write cache row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func entryFields(e models.CacheEntry) []string {
	return []string{
		e.Street,
		e.Borough,
		formatFloat(e.Price),
		formatInt(e.Bedrooms),
		formatFloat(e.Bathrooms),
		e.URL,
		e.BuildingID,
		e.BIN,
		e.BBL,
		strconv.Itoa(e.TotalUnits),
		strconv.Itoa(e.ResidentialUnits),
		e.BuildingClass,
		strconv.Itoa(e.SpecialUnitCount),
		yesNo(e.HasSpecialUnits),
		e.SpecialUnits,
		confidenceOrNA(e.Confidence),
		e.SavedAt.Format(savedAtLayout),
	}
}

type csvRow struct {
	index  map[string]int
	fields []string
}

func (r csvRow) get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r csvRow) entry() (models.CacheEntry, error) {
	e := models.CacheEntry{
		Street:        r.get("Street"),
		Borough:       r.get("Borough"),
		URL:           r.get("URL"),
		BuildingID:    r.get("Building ID"),
		BIN:           r.get("BIN"),
		BBL:           r.get("BBL"),
		BuildingClass: r.get("Building Class"),
		SpecialUnits:  r.get("B Units"),
	}
	var err error
	if e.Price, err = parseFloat(r.get("Price")); err != nil {
		return e, fmt.Errorf("price: %w", err)
	}
	if e.Bathrooms, err = parseFloat(r.get("Bathrooms")); err != nil {
		return e, fmt.Errorf("bathrooms: %w", err)
	}
	if e.Bedrooms, err = parseInt(r.get("Bedrooms")); err != nil {
		return e, fmt.Errorf("bedrooms: %w", err)
	}
	if e.TotalUnits, err = atoiOrZero(r.get("Total Units")); err != nil {
		return e, fmt.Errorf("total units: %w", err)
	}
	if e.ResidentialUnits, err = atoiOrZero(r.get("Residential Units")); err != nil {
		return e, fmt.Errorf("residential units: %w", err)
	}
	if e.SpecialUnitCount, err = atoiOrZero(r.get("B Units Count")); err != nil {
		return e, fmt.Errorf("special unit count: %w", err)
	}
	e.HasSpecialUnits = strings.EqualFold(r.get("Has B Units"), "yes") || e.SpecialUnitCount > 0
	if c := r.get("Match Confidence"); c != "" && c != "N/A" {
		e.Confidence = models.Confidence(c)
	}
	if saved := r.get("Saved Date"); saved != "" {
		if e.SavedAt, err = time.ParseInLocation(savedAtLayout, saved, time.Local); err != nil {
			return e, fmt.Errorf("saved date: %w", err)
		}
	}
	return e, nil
}

func parseFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	// spreadsheet exports write integers as "6.0"
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	v := int(f)
	return &v, nil
}

func atoiOrZero(s string) (int, error) {
	v, err := parseInt(s)
	if err != nil || v == nil {
		return 0, err
	}
	return *v, nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func confidenceOrNA(c models.Confidence) string {
	if c == "" {
		return "N/A"
	}
	return string(c)
}
