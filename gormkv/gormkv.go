// Package gormkv provides a gorm kv.KV implementation.
//
// GORMKV stores one row per key with the expiration time of the lease it
// was written under. Expired rows are invisible to reads and can be removed
// with PeriodicCleanUp.
//
// Keys are compared byte by byte. On MySQL and MariaDB the key column is
// created with the utf8mb4_bin collation; a kv_entries table created
// beforehand with a case-insensitive collation must be altered to match.
package gormkv

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/bluescreen10/etcdstore/kv"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// GORMKV is a gorm backed key-value store.
type GORMKV struct {
	db *gorm.DB
}

var _ kv.KV = &GORMKV{}

// entry represents a single stored value, containing the data and its
// expiration time.
type entry struct {
	Key       binaryKey `gorm:"column:kv_key;primaryKey"`
	Value     []byte    `gorm:"column:kv_value"`
	ExpiresAt time.Time `gorm:"index"`
}

// binaryKey is the key column type. Its collation is binary on every
// dialect so that prefixes differing only in case never match each other.
type binaryKey string

func (binaryKey) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "varchar(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin"
	default:
		return "varchar(255)"
	}
}

func (entry) TableName() string {
	return "kv_entries"
}

type lease struct {
	db  *gorm.DB
	ttl int64
}

// New creates and returns a new GORMKV instance.
// If the kv_entries table doesn't exist it is created.
func New(db *gorm.DB) (*GORMKV, error) {
	s := &GORMKV{db: db}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv_entries: %w", err)
	}
	return s, nil
}

// Get retrieves the data associated with the given key. Returns the data, a
// boolean indicating whether the key was found and not expired, and an
// error.
func (s *GORMKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	e := &entry{}
	tx := s.live(ctx).Where("kv_key = ?", key).Limit(1).Find(e)
	if tx.Error != nil || tx.RowsAffected == 0 {
		return nil, false, tx.Error
	}

	return e.Value, true, nil
}

// GetPrefix returns all live entries under prefix ordered by key.
func (s *GORMKV) GetPrefix(ctx context.Context, prefix string) ([]kv.KeyValue, error) {
	var entries []entry
	tx := s.live(ctx).Where(hasPrefix(prefix)).Order("kv_key").Find(&entries)
	if tx.Error != nil {
		return nil, tx.Error
	}

	kvs := make([]kv.KeyValue, len(entries))
	for i, e := range entries {
		kvs[i] = kv.KeyValue{Key: string(e.Key), Value: e.Value}
	}
	return kvs, nil
}

// CountPrefix returns the number of live entries under prefix.
func (s *GORMKV) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	var n int64
	tx := s.live(ctx).Model(&entry{}).Where(hasPrefix(prefix)).Count(&n)
	return n, tx.Error
}

// Delete removes the data associated with the given key.
func (s *GORMKV) Delete(ctx context.Context, key string) error {
	tx := s.db.WithContext(ctx).Delete(&entry{}, "kv_key = ?", key)
	return tx.Error
}

// DeletePrefix removes every entry under prefix.
func (s *GORMKV) DeletePrefix(ctx context.Context, prefix string) error {
	tx := s.db.WithContext(ctx).Where(hasPrefix(prefix)).Delete(&entry{})
	return tx.Error
}

// Grant returns a lease of ttl seconds. The expiration time is computed
// when a value is written through it.
func (s *GORMKV) Grant(_ context.Context, ttl int64) (kv.Lease, error) {
	if ttl < 0 {
		return nil, kv.ErrInvalidTTL
	}
	return &lease{db: s.db, ttl: ttl}, nil
}

// Close closes the underlying database connection pool.
func (s *GORMKV) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// PeriodicCleanUp runs a loop that periodically deletes expired entries.
// The cleanup runs every interval duration until a value is received on
// the stop channel, at which point the loop returns.
//
// Example usage:
//
//	stop := make(chan struct{})
//	go store.PeriodicCleanUp(time.Minute, stop)
//	...
//	close(stop) // stop the cleanup
func (s *GORMKV) PeriodicCleanUp(interval time.Duration, stop <-chan (struct{})) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.deleteExpired()
		case <-stop:
			return
		}
	}
}

// deleteExpired removes all expired entries.
func (s *GORMKV) deleteExpired() {
	tx := s.db.Delete(&entry{}, "expires_at < ?", time.Now())
	if tx.Error != nil {
		slog.Warn("gormkv: failed to delete expired entries", "err", tx.Error)
	}
}

func (s *GORMKV) live(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Where("expires_at >= ?", time.Now())
}

func (l *lease) TTL() int64 {
	return l.ttl
}

// Put stores value under key until the lease expires. If a record with the
// same key already exists, it is overwritten.
func (l *lease) Put(ctx context.Context, key string, value []byte) error {
	e := &entry{
		Key:       binaryKey(key),
		Value:     value,
		ExpiresAt: time.Now().Add(time.Duration(l.ttl) * time.Second),
	}
	tx := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kv_value", "expires_at"}),
	}).Create(e)
	return tx.Error
}

// hasPrefix builds a condition matching keys that start with prefix. LIKE
// is avoided since it ignores case on sqlite; the comparison takes the
// binary collation of kv_key on MySQL.
func hasPrefix(prefix string) clause.Expr {
	return gorm.Expr("SUBSTR(kv_key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)
}
