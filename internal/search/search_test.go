package search

import (
	"testing"
	"time"

	"listing-enricher/internal/models"
)

func TestBuildFilter(t *testing.T) {
	minScore := 60.0
	maxPrice := 2_500_000.0
	minUnits := 2

	tests := []struct {
		name   string
		params FilterParams
		want   string
	}{
		{"empty", FilterParams{}, ""},
		{
			"all",
			FilterParams{
				MinScore:        &minScore,
				MaxPrice:        &maxPrice,
				Boroughs:        []string{"Brooklyn", "Queens"},
				MinSpecialUnits: &minUnits,
				QualifiedOnly:   true,
			},
			`score >= 60 AND price <= 2500000 AND (borough = "Brooklyn" OR borough = "Queens") AND special_unit_count >= 2 AND meets_criteria = true`,
		},
		{"borough only", FilterParams{Boroughs: []string{"Staten Island"}}, `(borough = "Staten Island")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildFilter(tt.params); got != tt.want {
				t.Errorf("BuildFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDocumentIDStable(t *testing.T) {
	a := models.RawListing{URL: "http://example.com/home/1/?utm=x#top"}
	b := models.RawListing{URL: "https://example.com/home/1"}
	if DocumentID(a) != DocumentID(b) {
		t.Error("equivalent URLs produced different ids")
	}
	c := models.RawListing{Address: models.Address{Street: "10 Gold St", Borough: "Brooklyn"}}
	d := models.RawListing{Address: models.Address{Street: "10 gold st", Borough: "brooklyn"}}
	if DocumentID(c) != DocumentID(d) {
		t.Error("street fallback is case sensitive")
	}
	if len(DocumentID(c)) != 32 {
		t.Errorf("id %q is not an md5 hex digest", DocumentID(c))
	}
}

func TestNewDocument(t *testing.T) {
	rec := models.NewMergedRecord(models.RawListing{
		ID:      "z1",
		Address: models.Address{Street: "10 Gold St", Borough: "Brooklyn"},
	})
	rec.ProcessedAt = time.Unix(1700000000, 0)
	rec.Attach(&models.BuildingRecord{
		BuildingID:   "812345",
		TotalUnits:   4,
		SpecialUnits: []models.SpecialUnit{{Label: "B1"}},
	}, models.ConfidenceMedium)

	doc := NewDocument(rec)
	if doc.BuildingID != "812345" || doc.SpecialUnitCount != 1 || doc.Confidence != "Medium" {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.SpecialUnits) != 1 || doc.SpecialUnits[0] != "B1" {
		t.Errorf("SpecialUnits = %v", doc.SpecialUnits)
	}
	if doc.ProcessedAt != 1700000000 {
		t.Errorf("ProcessedAt = %d", doc.ProcessedAt)
	}

	empty := NewDocument(models.NewMergedRecord(models.RawListing{Address: models.Address{Street: "1 Main St"}}))
	if empty.BuildingID != "" || empty.SpecialUnits != nil {
		t.Errorf("unmatched doc = %+v", empty)
	}
}
