package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"listing-enricher/internal/models"
)

const (
	FormatCSV    = "csv"
	FormatJSON   = "json"
	FormatReport = "report"

	timestampLayout = "20060102_150405"
	displayLayout   = "2006-01-02 15:04:05"
	notAvailable    = "N/A"
)

var recordColumns = []string{
	"Address", "Street", "Borough", "Price", "Bedrooms", "Bathrooms", "Square Feet",
	"Property Type", "URL", "Match", "Confidence", "Total Units", "Special Unit Count",
	"Special Units", "Building ID", "Score", "Notes", "Processed At",
}

var listingColumns = []string{
	"Address", "Street", "Borough", "Price", "Bedrooms", "Bathrooms", "Square Feet",
	"Property Type", "Listing Status", "URL", "ID", "Discovered At",
}

var printer = message.NewPrinter(language.English)

// Exporter writes timestamped result files into one directory.
type Exporter struct {
	dir     string
	formats []string
	logger  *slog.Logger
	now     func() time.Time
}

// NewExporter creates an exporter writing formats ("csv", "json") into dir.
// A summary report is always written alongside.
func NewExporter(dir string, formats []string, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	normalized := make([]string, 0, len(formats))
	for _, f := range formats {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(f)))
	}
	return &Exporter{dir: dir, formats: normalized, logger: logger, now: time.Now}
}

// Dir returns the output directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// Export writes records in every configured format and returns the written
// paths keyed by format.
func (e *Exporter) Export(records []models.MergedRecord, prefix string) (map[string]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	stamp := e.now().Format(timestampLayout)
	files := make(map[string]string)

	for _, format := range e.formats {
		var (
			path string
			err  error
		)
		switch format {
		case FormatCSV:
			path, err = e.writeCSV(e.filename(prefix, stamp, "csv"), recordColumns, recordRows(records))
		case FormatJSON:
			path, err = e.writeJSON(e.filename(prefix, stamp, "json"), records)
		default:
			e.logger.Warn("unsupported export format", "format", format)
			continue
		}
		if err != nil {
			return files, err
		}
		files[format] = path
	}

	path := filepath.Join(e.dir, fmt.Sprintf("%s_summary_%s.txt", prefix, stamp))
	if err := os.WriteFile(path, []byte(e.report(records)), 0o644); err != nil {
		return files, fmt.Errorf("failed to write report: %w", err)
	}
	files[FormatReport] = path

	e.logger.Info("exported records", "count", len(records), "prefix", prefix, "files", len(files))
	return files, nil
}

// ExportListings writes the raw master list in every configured format.
func (e *Exporter) ExportListings(listings []models.RawListing, prefix string) (map[string]string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	stamp := e.now().Format(timestampLayout)
	files := make(map[string]string)

	for _, format := range e.formats {
		var (
			path string
			err  error
		)
		switch format {
		case FormatCSV:
			path, err = e.writeCSV(e.filename(prefix, stamp, "csv"), listingColumns, listingRows(listings))
		case FormatJSON:
			path, err = e.writeJSON(e.filename(prefix, stamp, "json"), listings)
		default:
			continue
		}
		if err != nil {
			return files, err
		}
		files[format] = path
	}

	e.logger.Info("exported listings", "count", len(listings), "prefix", prefix)
	return files, nil
}

func (e *Exporter) filename(prefix, stamp, ext string) string {
	return filepath.Join(e.dir, fmt.Sprintf("%s_%s.%s", prefix, stamp, ext))
}

func (e *Exporter) writeCSV(path string, header []string, rows [][]string) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", err
	}
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, f.Close()
}

func (e *Exporter) writeJSON(path string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func recordRows(records []models.MergedRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		l := r.Listing
		match, confidence, totalUnits, buildingID, units := "No", notAvailable, notAvailable, notAvailable, notAvailable
		if r.MatchFound {
			match = "Yes"
			if r.Confidence != "" {
				confidence = string(r.Confidence)
			}
			if r.TotalUnits > 0 {
				totalUnits = strconv.Itoa(r.TotalUnits)
			}
			if r.Building != nil && r.Building.BuildingID != "" {
				buildingID = r.Building.BuildingID
			}
			if labels := r.Building.SpecialUnitLabels(); len(labels) > 0 {
				units = strings.Join(labels, ", ")
			}
		}
		score := ""
		if r.MeetsCriteria {
			score = strconv.FormatFloat(r.Score, 'f', 1, 64)
		}
		rows = append(rows, []string{
			l.Address.String(), l.Address.Street, l.Address.Borough,
			formatFloat(l.Price), formatInt(l.Bedrooms), formatFloat(l.Bathrooms), formatInt(l.SquareFeet),
			l.PropertyType, l.URL, match, confidence, totalUnits,
			strconv.Itoa(r.SpecialUnitCount), units, buildingID, score, r.Notes,
			r.ProcessedAt.Format(displayLayout),
		})
	}
	return rows
}

func listingRows(listings []models.RawListing) [][]string {
	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []string{
			l.Address.String(), l.Address.Street, l.Address.Borough,
			formatFloat(l.Price), formatInt(l.Bedrooms), formatFloat(l.Bathrooms), formatInt(l.SquareFeet),
			l.PropertyType, string(l.ListingStatus), l.URL, l.ID, l.DiscoveredAt.Format(displayLayout),
		})
	}
	return rows
}

// report renders the plain-text summary with the top ten qualifying records.
func (e *Exporter) report(records []models.MergedRecord) string {
	var (
		matched, withSpecial, qualified, specialTotal int
		priceSum                                      float64
		unitSum                                       int
	)
	for _, r := range records {
		if r.MatchFound {
			matched++
			unitSum += r.TotalUnits
		}
		if r.HasSpecialUnits() {
			withSpecial++
		}
		if r.MeetsCriteria {
			qualified++
		}
		specialTotal += r.SpecialUnitCount
		if r.Listing.Price != nil {
			priceSum += *r.Listing.Price
		}
	}

	total := len(records)
	pct := func(n int) float64 {
		if total == 0 {
			return 0
		}
		return float64(n) / float64(total) * 100
	}
	avgPrice := 0.0
	if total > 0 {
		avgPrice = priceSum / float64(total)
	}
	avgUnits := 0.0
	if matched > 0 {
		avgUnits = float64(unitSum) / float64(matched)
	}

	var b strings.Builder
	rule := strings.Repeat("=", 80)
	b.WriteString(rule + "\nENRICHED LISTING REPORT\n" + rule + "\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", e.now().Format(displayLayout))
	b.WriteString("SUMMARY STATISTICS\n" + strings.Repeat("-", 80) + "\n")
	fmt.Fprintf(&b, "Total Listings Analyzed:        %d\n", total)
	fmt.Fprintf(&b, "Listings with Registry Match:   %d (%.1f%%)\n", matched, pct(matched))
	fmt.Fprintf(&b, "Listings with Special Units:    %d (%.1f%%)\n", withSpecial, pct(withSpecial))
	fmt.Fprintf(&b, "Listings Meeting Criteria:      %d (%.1f%%)\n", qualified, pct(qualified))
	fmt.Fprintf(&b, "Total Special Units Found:      %d\n", specialTotal)
	fmt.Fprintf(&b, "Average Units per Building:     %.1f\n", avgUnits)
	b.WriteString(printer.Sprintf("Average Listing Price:          $%.0f\n\n", avgPrice))

	top := make([]models.MergedRecord, 0, qualified)
	for _, r := range records {
		if r.MeetsCriteria {
			top = append(top, r)
		}
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Score > top[j].Score })
	if len(top) > 10 {
		top = top[:10]
	}
	if len(top) > 0 {
		b.WriteString("TOP INVESTMENT OPPORTUNITIES\n" + strings.Repeat("-", 80) + "\n\n")
		for i, r := range top {
			price := 0.0
			if r.Listing.Price != nil {
				price = *r.Listing.Price
			}
			fmt.Fprintf(&b, "%d. %s\n", i+1, r.Listing.Address.Street)
			b.WriteString(printer.Sprintf("   Price: $%.0f | Units: %d | Special Units: %d | Score: %.1f/100\n",
				price, r.TotalUnits, r.SpecialUnitCount, r.Score))
			if r.Listing.URL != "" {
				fmt.Fprintf(&b, "   URL: %s\n", r.Listing.URL)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n" + rule + "\n")
	return b.String()
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
