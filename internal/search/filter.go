package search

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/meilisearch/meilisearch-go"
)

type FilterParams struct {
	Query           string
	MinScore        *float64
	MaxPrice        *float64
	Boroughs        []string
	MinSpecialUnits *int
	QualifiedOnly   bool
	SortBy          string
	Limit           int64
}

// SearchResult is one page of matching documents.
type SearchResult struct {
	Hits           []Document     `json:"hits"`
	TotalHits      int64          `json:"total_hits"`
	Facets         map[string]any `json:"facets,omitempty"`
	ProcessingTime int64          `json:"processing_time_ms"`
}

// BuildFilter renders params as a Meilisearch filter expression.
func BuildFilter(params FilterParams) string {
	var filters []string

	if params.MinScore != nil {
		filters = append(filters, "score >= "+strconv.FormatFloat(*params.MinScore, 'f', -1, 64))
	}
	if params.MaxPrice != nil {
		filters = append(filters, "price <= "+strconv.FormatFloat(*params.MaxPrice, 'f', -1, 64))
	}

	if len(params.Boroughs) > 0 {
		boroughFilters := make([]string, len(params.Boroughs))
		for i, b := range params.Boroughs {
			boroughFilters[i] = fmt.Sprintf("borough = %q", b)
		}
		filters = append(filters, fmt.Sprintf("(%s)", strings.Join(boroughFilters, " OR ")))
	}

	if params.MinSpecialUnits != nil {
		filters = append(filters, fmt.Sprintf("special_unit_count >= %d", *params.MinSpecialUnits))
	}
	if params.QualifiedOnly {
		filters = append(filters, "meets_criteria = true")
	}

	return strings.Join(filters, " AND ")
}

// FilterSearch performs a filtered search over enriched records.
func (s *SearchClient) FilterSearch(params FilterParams) (*SearchResult, error) {
	if params.Limit == 0 {
		params.Limit = 20
	}

	searchReq := &meilisearch.SearchRequest{
		Limit:  params.Limit,
		Facets: []string{"borough", "confidence"},
	}
	if filterStr := BuildFilter(params); filterStr != "" {
		searchReq.Filter = filterStr
	}
	if params.SortBy != "" {
		searchReq.Sort = []string{params.SortBy}
	}

	searchRes, err := s.client.Index(s.index).Search(params.Query, searchReq)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		// Convert hit to JSON then to Document
		hitJSON, err := json.Marshal(hit)
		if err != nil {
			continue
		}
		var doc Document
		if err := json.Unmarshal(hitJSON, &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}

	var facets map[string]any
	if searchRes.FacetDistribution != nil {
		facets, _ = searchRes.FacetDistribution.(map[string]any)
	}

	return &SearchResult{
		Hits:           docs,
		TotalHits:      searchRes.EstimatedTotalHits,
		Facets:         facets,
		ProcessingTime: searchRes.ProcessingTimeMs,
	}, nil
}
