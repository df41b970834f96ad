package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const livePredicate = "namespace = ? AND entry_key = ? AND (expires_at IS NULL OR expires_at > ?)"

// Store represents the database connection and operations
type Store struct {
	db     *gorm.DB
	dbType string // "postgres" or "sqlite"
}

// New creates a new database connection and sets up the schema
func New(dsn string) (*Store, error) {
	var gormDB *gorm.DB
	var dbType string
	var err error

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	if dsn == "" {
		dataDir := "data"
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		gormDB, err = gorm.Open(sqlite.Open(filepath.Join(dataDir, "entra_proxy.db")), gormConfig)
		dbType = "sqlite"
	} else if IsPostgresDSN(dsn) {
		gormDB, err = gorm.Open(postgres.Open(dsn), gormConfig)
		dbType = "postgres"
	} else {
		// Assume SQLite file path
		gormDB, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		dbType = "sqlite"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// SQLite allows a single writer; serialize access instead of surfacing SQLITE_BUSY.
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	database := &Store{db: gormDB, dbType: dbType}
	if err := database.setupSchema(); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return database, nil
}

// IsPostgresDSN reports whether dsn addresses a PostgreSQL server
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Type returns "postgres" or "sqlite"
func (d *Store) Type() string {
	return d.dbType
}

func (d *Store) setupSchema() error {
	if err := d.db.AutoMigrate(&types.StoredEntry{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}
	return nil
}

// PutEntry inserts or replaces an entry. A nil expiresAt stores an entry that never expires.
func (d *Store) PutEntry(ctx context.Context, namespace, key, value string, expiresAt *time.Time) error {
	if expiresAt != nil {
		utc := expiresAt.UTC()
		expiresAt = &utc
	}
	entry := &types.StoredEntry{
		Namespace: namespace,
		Key:       key,
		Value:     value,
		ExpiresAt: expiresAt,
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(entry).Error
}

// GetEntry returns the value of a live entry. Expired rows that have not been swept yet
// are reported as absent.
func (d *Store) GetEntry(ctx context.Context, namespace, key string, now time.Time) (string, bool, error) {
	var entry types.StoredEntry
	err := d.db.WithContext(ctx).Where(livePredicate, namespace, key, now.UTC()).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

// DeleteEntry removes an entry and reports whether a live entry existed
func (d *Store) DeleteEntry(ctx context.Context, namespace, key string, now time.Time) (bool, error) {
	var existed bool
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where(livePredicate, namespace, key, now.UTC()).Delete(&types.StoredEntry{})
		if result.Error != nil {
			return result.Error
		}
		existed = result.RowsAffected > 0
		if existed {
			return nil
		}
		// Drop an expired leftover as well so a later Put starts clean.
		return tx.Where("namespace = ? AND entry_key = ?", namespace, key).Delete(&types.StoredEntry{}).Error
	})
	return existed, err
}

// TakeEntry reads and deletes a live entry in one step. When several callers race on the
// same key, only the one whose delete removes the row observes it as present.
func (d *Store) TakeEntry(ctx context.Context, namespace, key string, now time.Time) (string, bool, error) {
	var value string
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry types.StoredEntry
		if err := tx.Where(livePredicate, namespace, key, now.UTC()).First(&entry).Error; err != nil {
			return err
		}

		result := tx.Where("namespace = ? AND entry_key = ? AND value = ?", namespace, key, entry.Value).Delete(&types.StoredEntry{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		value = entry.Value
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// CleanupExpiredEntries removes entries whose expiry has already passed
func (d *Store) CleanupExpiredEntries(ctx context.Context, now time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).Delete(&types.StoredEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cleanup expired entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ping checks that the database is reachable
func (d *Store) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (d *Store) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
