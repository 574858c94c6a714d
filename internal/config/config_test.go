package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Matching.MatchThreshold != 80 || cfg.Matching.High != 95 || cfg.Matching.Medium != 85 {
		t.Errorf("tiers = %+v, want 80/95/85", cfg.Matching.Tiers)
	}
	if cfg.Matching.BatchSize != 10 || cfg.Matching.GetBatchDelay() != time.Second {
		t.Errorf("batching = %d / %v", cfg.Matching.BatchSize, cfg.Matching.GetBatchDelay())
	}
	if cfg.Criteria.MaxPrice != 2_500_000 || cfg.Criteria.MinBedrooms != 5 || !cfg.Criteria.RequireSpecialUnits {
		t.Errorf("criteria = %+v", cfg.Criteria)
	}
	if cfg.Cache.Backend != "csv" {
		t.Errorf("cache backend = %q", cfg.Cache.Backend)
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
matching:
  threshold: 75
  high: 90
  medium: 82
  batch_size: 4
  dedup_lookups: true
criteria:
  max_price: 1800000
  min_bedrooms: 3
  boroughs: [Brooklyn, Queens]
  property_types: [Multi Family]
cache:
  backend: memory
lookup:
  mode: chain
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Matching.MatchThreshold != 75 || cfg.Matching.High != 90 || cfg.Matching.Medium != 82 {
		t.Errorf("tiers = %+v", cfg.Matching.Tiers)
	}
	if cfg.Matching.BatchSize != 4 || !cfg.Matching.DedupLookups {
		t.Errorf("matching = %+v", cfg.Matching)
	}
	if cfg.Criteria.MaxPrice != 1_800_000 || cfg.Criteria.MinBedrooms != 3 {
		t.Errorf("criteria = %+v", cfg.Criteria)
	}
	// Unset keys keep their defaults.
	if cfg.Criteria.MinBathrooms != 4.0 || cfg.Criteria.MinUnits != 2 {
		t.Errorf("criteria defaults lost: %+v", cfg.Criteria)
	}
	if len(cfg.Criteria.Boroughs) != 2 || cfg.Criteria.PropertyTypes[0] != "Multi Family" {
		t.Errorf("lists = %v / %v", cfg.Criteria.Boroughs, cfg.Criteria.PropertyTypes)
	}
	if cfg.Cache.Backend != "memory" || cfg.Lookup.Mode != "chain" {
		t.Errorf("backend/mode = %q / %q", cfg.Cache.Backend, cfg.Lookup.Mode)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("MIN_PRICE", "250000")
	t.Setenv("MAX_PRICE", "900000")
	t.Setenv("MIN_BATHROOMS", "2.5")
	t.Setenv("REQUIRE_B_UNITS", "false")
	t.Setenv("BOROUGHS", "Manhattan, Bronx,,")
	t.Setenv("MIN_UNITS", "not-a-number")
	t.Setenv("HPD_APP_TOKEN", "secret")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	c := cfg.Criteria
	if c.MinPrice != 250_000 || c.MaxPrice != 900_000 || c.MinBathrooms != 2.5 || c.RequireSpecialUnits {
		t.Errorf("criteria = %+v", c)
	}
	if len(c.Boroughs) != 2 || c.Boroughs[0] != "Manhattan" || c.Boroughs[1] != "Bronx" {
		t.Errorf("Boroughs = %q", c.Boroughs)
	}
	if c.MinUnits != 2 {
		t.Errorf("MinUnits = %d, want default 2 on parse failure", c.MinUnits)
	}
	if cfg.Lookup.AppToken != "secret" {
		t.Errorf("AppToken = %q", cfg.Lookup.AppToken)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":       "matching: [",
		"bad backend":    "cache:\n  backend: redis\n",
		"bad mode":       "lookup:\n  mode: carrier-pigeon\n",
		"inverted tiers": "matching:\n  high: 80\n  medium: 90\n",
		"inverted price": "criteria:\n  min_price: 10\n  max_price: 5\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("LoadConfig() error = nil, want error")
			}
		})
	}
}
