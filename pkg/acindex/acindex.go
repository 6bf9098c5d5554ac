// Package acindex provides an optional, queryable secondary index over
// completed actions, backed by an embedded SQLite database via GORM. The
// scheduler chain keeps no record of completed actions; this index persists
// across restarts and answers "what ran for instance X in the last day".
package acindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/remoteexec"
)

// Entry is one completed action's persisted record.
type Entry struct {
	ID           uint   `gorm:"primarykey"`
	InstanceName string `gorm:"index"`
	ActionDigest string `gorm:"index"`
	ExitCode     int32
	FromCache    bool
	CompletedAt  time.Time `gorm:"index"`
}

// Index is a GORM-backed store of recently completed actions.
type Index struct {
	db *gorm.DB
}

// Open creates (or opens) the SQLite database at path and migrates
// Index's schema into it.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("acindex: creating database directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("acindex: opening database: %w", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("acindex: migrating schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Record inserts one completed action. completedAt is passed in rather
// than taken from time.Now() so callers (and tests) control the clock.
func (idx *Index) Record(ctx context.Context, instanceName string, actionDigest digest.Digest, result *remoteexec.ActionResult, fromCache bool, completedAt time.Time) error {
	entry := Entry{
		InstanceName: instanceName,
		ActionDigest: actionDigest.Key(),
		FromCache:    fromCache,
		CompletedAt:  completedAt,
	}
	if result != nil {
		entry.ExitCode = result.ExitCode
	}
	return idx.db.WithContext(ctx).Create(&entry).Error
}

// RecentForInstance returns the most recently completed actions for
// instanceName, newest first, bounded by limit.
func (idx *Index) RecentForInstance(ctx context.Context, instanceName string, limit int) ([]Entry, error) {
	var entries []Entry
	err := idx.db.WithContext(ctx).
		Where("instance_name = ?", instanceName).
		Order("completed_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Prune deletes every entry older than olderThan, returning the number of
// rows removed. Intended to run on the same cadence as a scheduler chain's
// CleanRecentlyCompletedActions, but independently of it.
func (idx *Index) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	result := idx.db.WithContext(ctx).Where("completed_at < ?", olderThan).Delete(&Entry{})
	return result.RowsAffected, result.Error
}

// Close releases the underlying database connection.
func (idx *Index) Close() error {
	sqlDB, err := idx.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
