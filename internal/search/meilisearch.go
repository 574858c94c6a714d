package search

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"strings"

	"github.com/meilisearch/meilisearch-go"

	"listing-enricher/internal/models"
)

// DefaultIndex is the index enriched records are written to.
const DefaultIndex = "enriched_listings"

type SearchClient struct {
	client *meilisearch.Client
	index  string
}

func NewSearchClient(host, apiKey, index string) *SearchClient {
	client := meilisearch.NewClient(meilisearch.ClientConfig{
		Host:   host,
		APIKey: apiKey,
	})
	if index == "" {
		index = DefaultIndex
	}

	return &SearchClient{
		client: client,
		index:  index,
	}
}

// Document is the flattened form of a merged record stored in the index.
type Document struct {
	ID               string   `json:"id"`
	ListingID        string   `json:"listing_id,omitempty"`
	Street           string   `json:"street"`
	Address          string   `json:"address"`
	Borough          string   `json:"borough"`
	PostalCode       string   `json:"postal_code,omitempty"`
	Price            *float64 `json:"price,omitempty"`
	Bedrooms         *int     `json:"bedrooms,omitempty"`
	Bathrooms        *float64 `json:"bathrooms,omitempty"`
	PropertyType     string   `json:"property_type,omitempty"`
	URL              string   `json:"url,omitempty"`
	MatchFound       bool     `json:"match_found"`
	Confidence       string   `json:"confidence,omitempty"`
	BuildingID       string   `json:"building_id,omitempty"`
	TotalUnits       int      `json:"total_units"`
	SpecialUnitCount int      `json:"special_unit_count"`
	SpecialUnits     []string `json:"special_units,omitempty"`
	MeetsCriteria    bool     `json:"meets_criteria"`
	Score            float64  `json:"score"`
	Notes            string   `json:"notes,omitempty"`
	ProcessedAt      int64    `json:"processed_at"`
}

// NewDocument flattens a merged record.
func NewDocument(r models.MergedRecord) Document {
	l := r.Listing
	doc := Document{
		ID:               DocumentID(l),
		ListingID:        l.ID,
		Street:           l.Address.Street,
		Address:          l.Address.String(),
		Borough:          l.Address.Borough,
		PostalCode:       l.Address.PostalCode,
		Price:            l.Price,
		Bedrooms:         l.Bedrooms,
		Bathrooms:        l.Bathrooms,
		PropertyType:     l.PropertyType,
		URL:              l.URL,
		MatchFound:       r.MatchFound,
		Confidence:       string(r.Confidence),
		TotalUnits:       r.TotalUnits,
		SpecialUnitCount: r.SpecialUnitCount,
		SpecialUnits:     r.Building.SpecialUnitLabels(),
		MeetsCriteria:    r.MeetsCriteria,
		Score:            r.Score,
		Notes:            r.Notes,
		ProcessedAt:      r.ProcessedAt.Unix(),
	}
	if r.Building != nil {
		doc.BuildingID = r.Building.BuildingID
	}
	return doc
}

// DocumentID derives a stable index key for a listing: the MD5 of its
// normalized URL, or of its ID or street and borough when it has no URL.
func DocumentID(l models.RawListing) string {
	key := normalizeURL(l.URL)
	if key == "" {
		key = l.ID
	}
	if key == "" {
		key = strings.ToUpper(l.Address.Street + "|" + l.Address.Borough)
	}
	return generateMD5(key)
}

// InitIndex initializes the Meilisearch index
func (s *SearchClient) InitIndex() error {
	// Create index if it doesn't exist
	_, err := s.client.CreateIndex(&meilisearch.IndexConfig{
		Uid:        s.index,
		PrimaryKey: "id",
	})
	// Ignore error if index already exists
	if err != nil && !strings.Contains(err.Error(), "index_already_exists") {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSearchableAttributes(&[]string{
		"street",
		"address",
		"borough",
		"notes",
		"url",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateFilterableAttributes(&[]string{
		"borough",
		"score",
		"special_unit_count",
		"total_units",
		"price",
		"confidence",
		"meets_criteria",
		"match_found",
	})
	if err != nil {
		return err
	}

	_, err = s.client.Index(s.index).UpdateSortableAttributes(&[]string{
		"score",
		"price",
		"special_unit_count",
		"total_units",
		"processed_at",
	})
	if err != nil {
		return err
	}

	return nil
}

// IndexRecords indexes merged records, replacing documents with the same id.
func (s *SearchClient) IndexRecords(records []models.MergedRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, NewDocument(r))
	}
	_, err := s.client.Index(s.index).AddDocuments(docs, "id")
	return err
}

// normalizeURL normalizes a URL for consistent ID generation
func normalizeURL(rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	// Remove query parameters and fragment
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Scheme = "https"

	return u.String()
}

func generateMD5(text string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(text)))
}
