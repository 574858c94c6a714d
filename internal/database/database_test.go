package database

import (
	"testing"

	"listing-enricher/internal/cache"
)

var (
	_ cache.Store = (*GormStore)(nil)
	_ cache.Store = (*PostgresStore)(nil)
)

func TestMySQLDSN(t *testing.T) {
	got := MySQLDSN("db", 3306, "app", "secret", "enricher")
	want := "app:secret@tcp(db:3306)/enricher?charset=utf8mb4&parseTime=True&loc=Local"
	if got != want {
		t.Errorf("MySQLDSN() = %q, want %q", got, want)
	}
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		sslmode string
		want    string
	}{
		{"", "host=db port=5432 user=app password=secret dbname=enricher sslmode=disable"},
		{"require", "host=db port=5432 user=app password=secret dbname=enricher sslmode=require"},
	}
	for _, tt := range tests {
		if got := PostgresDSN("db", 5432, "app", "secret", "enricher", tt.sslmode); got != tt.want {
			t.Errorf("PostgresDSN(sslmode=%q) = %q, want %q", tt.sslmode, got, tt.want)
		}
	}
}
