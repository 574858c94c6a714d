package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"listing-enricher/internal/models"
)

// Boroughs keyed by HPD borough id.
var boroughNames = map[string]string{
	"1": "Manhattan",
	"2": "Bronx",
	"3": "Brooklyn",
	"4": "Queens",
	"5": "Staten Island",
}

// BoroughName converts an HPD borough id to its name, or "" when unknown.
func BoroughName(boroID string) string {
	return boroughNames[strings.TrimSpace(boroID)]
}

// BoroughID converts a borough name to its HPD id, or "" when unknown.
func BoroughID(name string) string {
	for id, n := range boroughNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return id
		}
	}
	return ""
}

// OpenDataConfig configures the HPD Open Data client.
type OpenDataConfig struct {
	BaseURL               string
	AppToken              string
	BuildingsEndpoint     string
	RegistrationsEndpoint string
	UnitsEndpoint         string
	UserAgent             string
	Timeout               time.Duration
	MaxRetries            int
	RetryDelay            time.Duration
}

// OpenDataClient looks buildings up in the NYC HPD Open Data datasets.
type OpenDataClient struct {
	cfg    OpenDataConfig
	fetch  *fetcher
	logger *slog.Logger
}

// NewOpenDataClient creates a client. breaker may be shared with other lookups.
func NewOpenDataClient(cfg OpenDataConfig, breaker *CircuitBreaker, logger *slog.Logger) *OpenDataClient {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hpd_open_data")

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if cfg.UserAgent != "" {
		headers.Set("User-Agent", cfg.UserAgent)
	}
	if cfg.AppToken != "" {
		headers.Set("X-App-Token", cfg.AppToken)
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}

	return &OpenDataClient{
		cfg: cfg,
		fetch: &fetcher{
			client:     &http.Client{Timeout: cfg.Timeout},
			headers:    headers,
			maxRetries: cfg.MaxRetries,
			retryDelay: cfg.RetryDelay,
			breaker:    breaker,
			logger:     logger,
		},
		logger: logger,
	}
}

// buildingRow is one row of the buildings dataset. Socrata serves every
// column as a string.
type buildingRow struct {
	BuildingID        string `json:"buildingid"`
	BoroID            string `json:"boroid"`
	HouseNumber       string `json:"housenumber"`
	StreetName        string `json:"streetname"`
	Zip               string `json:"zip"`
	Block             string `json:"block"`
	Lot               string `json:"lot"`
	BIN               string `json:"bin"`
	BBL               string `json:"bbl"`
	BuildingClass     string `json:"buildingclass"`
	DOBBuildingClass  string `json:"dobbuildingclass"`
	NumberOfDwellings string `json:"numberofdwellings"`
	ResidentialUnits  string `json:"residentialunits"`
	LegalClassA       string `json:"legalclassa"`
	LegalClassB       string `json:"legalclassb"`
}

type registrationRow struct {
	RegistrationID       string `json:"registrationid"`
	LastRegistrationDate string `json:"lastregistrationdate"`
	CorporationName      string `json:"corporationname"`
	OwnerName            string `json:"ownername"`
}

type unitRow struct {
	Apartment string `json:"apartment"`
}

// LookupBuilding finds the building whose house number and street contain
// the listing's street, preferring the candidate closest by edit distance
// since a LIKE search also returns longer house numbers. Registration and unit details are best
// effort: their failures are logged and leave the fields empty.
func (c *OpenDataClient) LookupBuilding(ctx context.Context, addr models.Address) (*models.BuildingRecord, error) {
	street := strings.ToUpper(strings.TrimSpace(addr.Street))
	where := fmt.Sprintf("upper(housenumber) || ' ' || upper(streetname) LIKE '%%%s%%'", soqlQuote(street))
	if id := BoroughID(addr.Borough); id != "" {
		where += fmt.Sprintf(" AND boroid='%s'", id)
	}

	params := url.Values{}
	params.Set("$where", where)
	params.Set("$limit", "10")

	var rows []buildingRow
	if err := c.fetch.getJSON(ctx, c.endpoint(c.cfg.BuildingsEndpoint, params), &rows); err != nil {
		return nil, fmt.Errorf("building search failed: %w", err)
	}
	if len(rows) == 0 {
		c.logger.Debug("no HPD building found", "address", addr.String())
		return nil, nil
	}

	b := c.parseBuilding(closestRow(street, rows))

	if b.BuildingID != "" {
		c.attachRegistration(ctx, b)

		units, err := c.specialUnits(ctx, b.BuildingID)
		if err != nil {
			c.logger.Warn("failed to load special units", "building_id", b.BuildingID, "error", err)
		}
		b.SpecialUnits = units
	} else {
		c.logger.Debug("building has no HPD id, skipping unit lookup", "bin", b.BIN)
	}

	c.logger.Debug("parsed HPD building",
		"address", b.Address.String(),
		"total_units", b.TotalUnits,
		"special_units", len(b.SpecialUnits),
		"bbl", b.BBL,
	)
	return b, nil
}

// closestRow returns the row whose "housenumber streetname" has the smallest
// edit distance to street. Ties keep the earlier row.
func closestRow(street string, rows []buildingRow) buildingRow {
	best, bestDist := 0, -1
	for i, r := range rows {
		candidate := strings.ToUpper(strings.TrimSpace(r.HouseNumber + " " + r.StreetName))
		d := levenshtein.ComputeDistance(street, candidate)
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return rows[best]
}

func (c *OpenDataClient) parseBuilding(row buildingRow) *models.BuildingRecord {
	total := atoi(row.NumberOfDwellings)
	if total == 0 {
		total = atoi(row.LegalClassA) + atoi(row.LegalClassB)
	}
	residential := total
	if v := atoi(row.ResidentialUnits); v > 0 {
		residential = v
	}

	bbl := row.BBL
	if bbl == "" && row.BoroID != "" && row.Block != "" && row.Lot != "" {
		bbl = fmt.Sprintf("%s%05d%04d", row.BoroID, atoi(row.Block), atoi(row.Lot))
	}

	return &models.BuildingRecord{
		BuildingID: row.BuildingID,
		BIN:        row.BIN,
		BBL:        bbl,
		Address: models.Address{
			Street:     strings.TrimSpace(row.HouseNumber + " " + row.StreetName),
			City:       "New York",
			State:      "NY",
			PostalCode: row.Zip,
			Borough:    BoroughName(row.BoroID),
		},
		TotalUnits:       total,
		ResidentialUnits: residential,
		BuildingClass:    firstNonEmpty(row.BuildingClass, row.DOBBuildingClass),
	}
}

func (c *OpenDataClient) attachRegistration(ctx context.Context, b *models.BuildingRecord) {
	params := url.Values{}
	params.Set("buildingid", b.BuildingID)
	params.Set("$order", "lastregistrationdate DESC")
	params.Set("$limit", "1")

	var rows []registrationRow
	if err := c.fetch.getJSON(ctx, c.endpoint(c.cfg.RegistrationsEndpoint, params), &rows); err != nil {
		c.logger.Warn("failed to load registration", "building_id", b.BuildingID, "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	reg := rows[0]
	b.RegistrationID = reg.RegistrationID
	b.OwnerName = firstNonEmpty(reg.CorporationName, reg.OwnerName)
	if t, ok := parseSocrataTime(reg.LastRegistrationDate); ok {
		b.LastRegistrationDate = &t
	}
}

// specialUnits returns the basement units registered for a building.
// Apartments are deduplicated by label.
func (c *OpenDataClient) specialUnits(ctx context.Context, buildingID string) ([]models.SpecialUnit, error) {
	if buildingID == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("$where", fmt.Sprintf(
		"buildingid='%s' AND (upper(apartment) LIKE 'B%%' OR upper(apartment) LIKE '%%BSMT%%' OR upper(apartment) LIKE '%%BASEMENT%%')",
		soqlQuote(buildingID)))
	params.Set("$limit", "100")

	var rows []unitRow
	if err := c.fetch.getJSON(ctx, c.endpoint(c.cfg.UnitsEndpoint, params), &rows); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var units []models.SpecialUnit
	for _, r := range rows {
		label := strings.TrimSpace(r.Apartment)
		if !IsSpecialApartment(label) || seen[strings.ToUpper(label)] {
			continue
		}
		seen[strings.ToUpper(label)] = true
		units = append(units, models.SpecialUnit{
			Label:   label,
			Kind:    models.SpecialUnitKindBasement,
			Special: true,
		})
	}
	return units, nil
}

// IsSpecialApartment reports whether an apartment designation denotes a
// basement unit: it starts with B or mentions BSMT or BASEMENT.
func IsSpecialApartment(apartment string) bool {
	a := strings.ToUpper(strings.TrimSpace(apartment))
	return strings.HasPrefix(a, "B") || strings.Contains(a, "BSMT") || strings.Contains(a, "BASEMENT")
}

func (c *OpenDataClient) endpoint(path string, params url.Values) string {
	return c.cfg.BaseURL + strings.TrimPrefix(path, "/") + "?" + params.Encode()
}

// soqlQuote escapes a value for use inside a single-quoted SoQL literal.
func soqlQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func parseSocrataTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func atoi(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
