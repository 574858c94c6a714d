package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// loadDotEnv reads .env into the process environment when present.
// Variables already set take precedence.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}
}

// applyEnv overrides file settings with environment variables.
func (c *Config) applyEnv() {
	c.Criteria.MinPrice = getEnvAsFloat("MIN_PRICE", c.Criteria.MinPrice)
	c.Criteria.MaxPrice = getEnvAsFloat("MAX_PRICE", c.Criteria.MaxPrice)
	c.Criteria.MinBedrooms = getEnvAsInt("MIN_BEDROOMS", c.Criteria.MinBedrooms)
	c.Criteria.MinBathrooms = getEnvAsFloat("MIN_BATHROOMS", c.Criteria.MinBathrooms)
	c.Criteria.MinUnits = getEnvAsInt("MIN_UNITS", c.Criteria.MinUnits)
	c.Criteria.RequireSpecialUnits = getEnvAsBool("REQUIRE_B_UNITS", c.Criteria.RequireSpecialUnits)
	c.Criteria.Boroughs = getEnvAsList("BOROUGHS", c.Criteria.Boroughs)
	c.Criteria.PropertyTypes = getEnvAsList("PROPERTY_TYPES", c.Criteria.PropertyTypes)

	c.Matching.MatchThreshold = getEnvAsInt("MATCH_THRESHOLD", c.Matching.MatchThreshold)
	c.Matching.BatchSize = getEnvAsInt("BATCH_SIZE", c.Matching.BatchSize)

	c.Lookup.APIBaseURL = getEnvAsString("HPD_API_BASE_URL", c.Lookup.APIBaseURL)
	c.Lookup.AppToken = getEnvAsString("HPD_APP_TOKEN", c.Lookup.AppToken)
	c.Lookup.Mode = getEnvAsString("LOOKUP_MODE", c.Lookup.Mode)
	c.Lookup.RequestDelaySeconds = getEnvAsInt("REQUEST_DELAY", c.Lookup.RequestDelaySeconds)
	c.Lookup.MaxRetries = getEnvAsInt("MAX_RETRIES", c.Lookup.MaxRetries)
	c.Lookup.TimeoutSeconds = getEnvAsInt("TIMEOUT", c.Lookup.TimeoutSeconds)

	c.Cache.Backend = getEnvAsString("CACHE_BACKEND", c.Cache.Backend)
	c.Cache.Path = getEnvAsString("CACHE_PATH", c.Cache.Path)
	c.Listings.Path = getEnvAsString("LISTINGS_PATH", c.Listings.Path)
	c.Output.Dir = getEnvAsString("OUTPUT_DIR", c.Output.Dir)
	c.Output.Formats = getEnvAsList("OUTPUT_FORMAT", c.Output.Formats)

	c.Database.MySQL.Host = getEnvAsString("MYSQL_HOST", c.Database.MySQL.Host)
	c.Database.MySQL.Port = getEnvAsInt("MYSQL_PORT", c.Database.MySQL.Port)
	c.Database.MySQL.User = getEnvAsString("MYSQL_USER", c.Database.MySQL.User)
	c.Database.MySQL.Password = getEnvAsString("MYSQL_PASSWORD", c.Database.MySQL.Password)
	c.Database.MySQL.Database = getEnvAsString("MYSQL_DATABASE", c.Database.MySQL.Database)
	c.Database.Postgres.Host = getEnvAsString("POSTGRES_HOST", c.Database.Postgres.Host)
	c.Database.Postgres.Port = getEnvAsInt("POSTGRES_PORT", c.Database.Postgres.Port)
	c.Database.Postgres.User = getEnvAsString("POSTGRES_USER", c.Database.Postgres.User)
	c.Database.Postgres.Password = getEnvAsString("POSTGRES_PASSWORD", c.Database.Postgres.Password)
	c.Database.Postgres.Database = getEnvAsString("POSTGRES_DB", c.Database.Postgres.Database)

	c.Search.Meilisearch.Host = getEnvAsString("MEILISEARCH_HOST", c.Search.Meilisearch.Host)
	c.Search.Meilisearch.APIKey = getEnvAsString("MEILISEARCH_API_KEY", c.Search.Meilisearch.APIKey)
	c.Notify.URL = getEnvAsString("RABBITMQ_URL", c.Notify.URL)

	c.Server.Port = getEnvAsString("PORT", c.Server.Port)
	c.Logging.Level = getEnvAsString("LOG_LEVEL", c.Logging.Level)
}

func getEnvAsString(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt logs a warning and keeps the default when the value does not parse.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		slog.Warn("environment variable is not an int, using default",
			"key", key, "value", valueStr, "default", defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		slog.Warn("environment variable is not a number, using default",
			"key", key, "value", valueStr, "default", defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		slog.Warn("environment variable is not a bool, using default",
			"key", key, "value", valueStr, "default", defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated variable, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
