package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"listing-enricher/internal/models"
)

// PostgresStore persists the match cache in PostgreSQL.
type PostgresStore struct {
	conn *sql.DB
}

// PostgresDSN builds a lib/pq connection string.
func PostgresDSN(host string, port int, user, password, dbname, sslmode string) string {
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

func NewPostgresStore(host string, port int, user, password, dbname, sslmode string) (*PostgresStore, error) {
	conn, err := sql.Open("postgres", PostgresDSN(host, port, user, password, dbname, sslmode))
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStore{conn: conn}, nil
}

func (s *PostgresStore) Close() error {
	return s.conn.Close()
}

// InitSchema creates the cache table if it doesn't exist
func (s *PostgresStore) InitSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS hpd_match_cache (
		id SERIAL PRIMARY KEY,
		street VARCHAR(255) NOT NULL,
		borough VARCHAR(64) NOT NULL,

		price DECIMAL(14, 2),
		bedrooms INTEGER,
		bathrooms DECIMAL(4, 1),
		url TEXT,

		building_id VARCHAR(32),
		bin VARCHAR(32),
		bbl VARCHAR(32),
		total_units INTEGER NOT NULL DEFAULT 0,
		residential_units INTEGER NOT NULL DEFAULT 0,
		building_class VARCHAR(16),

		special_unit_count INTEGER NOT NULL DEFAULT 0,
		has_special_units BOOLEAN NOT NULL DEFAULT FALSE,
		special_units TEXT,
		confidence VARCHAR(16),

		saved_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_hpd_match_cache_street ON hpd_match_cache(street, borough);
	`
	_, err := s.conn.Exec(query)
	return err
}

// Load returns every cached row in insertion order.
func (s *PostgresStore) Load(ctx context.Context) ([]models.CacheEntry, error) {
	query := `
		SELECT id, street, borough, price, bedrooms, bathrooms, COALESCE(url, ''),
			   COALESCE(building_id, ''), COALESCE(bin, ''), COALESCE(bbl, ''),
			   total_units, residential_units, COALESCE(building_class, ''),
			   special_unit_count, has_special_units, COALESCE(special_units, ''),
			   COALESCE(confidence, ''), saved_at
		FROM hpd_match_cache
		ORDER BY id ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.CacheEntry
	for rows.Next() {
		var (
			e          models.CacheEntry
			price      sql.NullFloat64
			bedrooms   sql.NullInt64
			bathrooms  sql.NullFloat64
			confidence string
		)
		err := rows.Scan(
			&e.ID, &e.Street, &e.Borough, &price, &bedrooms, &bathrooms, &e.URL,
			&e.BuildingID, &e.BIN, &e.BBL,
			&e.TotalUnits, &e.ResidentialUnits, &e.BuildingClass,
			&e.SpecialUnitCount, &e.HasSpecialUnits, &e.SpecialUnits,
			&confidence, &e.SavedAt,
		)
		if err != nil {
			return nil, err
		}
		if price.Valid {
			e.Price = &price.Float64
		}
		if bedrooms.Valid {
			n := int(bedrooms.Int64)
			e.Bedrooms = &n
		}
		if bathrooms.Valid {
			e.Bathrooms = &bathrooms.Float64
		}
		e.Confidence = models.Confidence(confidence)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Save replaces the whole table with entries in one transaction, bulk
// loading the rows with COPY.
func (s *PostgresStore) Save(ctx context.Context, entries []models.CacheEntry) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM hpd_match_cache`); err != nil {
		return err
	}

	if len(entries) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("hpd_match_cache",
			"street", "borough", "price", "bedrooms", "bathrooms", "url",
			"building_id", "bin", "bbl", "total_units", "residential_units", "building_class",
			"special_unit_count", "has_special_units", "special_units", "confidence", "saved_at",
		))
		if err != nil {
			return err
		}
		for _, e := range entries {
			_, err := stmt.ExecContext(ctx,
				e.Street, e.Borough, e.Price, e.Bedrooms, e.Bathrooms, e.URL,
				e.BuildingID, e.BIN, e.BBL, e.TotalUnits, e.ResidentialUnits, e.BuildingClass,
				e.SpecialUnitCount, e.HasSpecialUnits, e.SpecialUnits, string(e.Confidence), e.SavedAt,
			)
			if err != nil {
				stmt.Close()
				return err
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return err
		}
		if err := stmt.Close(); err != nil {
			return err
		}
	}

	return tx.Commit()
}
