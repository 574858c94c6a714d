package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"listing-enricher/internal/models"
)

// insertBatchSize bounds the rows per INSERT when rewriting the cache table.
const insertBatchSize = 200

// GormStore persists the match cache in MySQL through GORM.
type GormStore struct {
	db *gorm.DB
}

// MySQLDSN builds a go-sql-driver DSN.
func MySQLDSN(host string, port int, user, password, dbname string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)
}

func NewGormStore(host string, port int, user, password, dbname string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(MySQLDSN(host, port, user, password, dbname)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	// Test connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an existing gorm.DB instance
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying gorm.DB instance
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InitSchema creates the cache table using GORM AutoMigrate
func (s *GormStore) InitSchema() error {
	return s.db.AutoMigrate(&models.CacheEntry{})
}

// Load returns every cached row in insertion order.
func (s *GormStore) Load(ctx context.Context) ([]models.CacheEntry, error) {
	var entries []models.CacheEntry
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Save replaces the whole table with entries in one transaction.
func (s *GormStore) Save(ctx context.Context, entries []models.CacheEntry) error {
	rows := make([]models.CacheEntry, len(entries))
	copy(rows, entries)
	for i := range rows {
		rows[i].ID = 0
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CacheEntry{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rows, insertBatchSize).Error
	})
}
