// Package mysqlkv provides a MySQL/MariaDB kv.KV implementation.
//
// MySQLKV stores one row per key together with the expiration time of the
// lease it was written under. Expiration times are computed by the database
// server in UTC, so clients with skewed clocks agree on liveness.
package mysqlkv

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bluescreen10/etcdstore/kv"
)

type MySQLKV struct {
	db *sql.DB
}

var _ kv.KV = &MySQLKV{}

type lease struct {
	db  *sql.DB
	ttl int64
}

func New(db *sql.DB) (*MySQLKV, error) {
	err := createTable(db)
	return &MySQLKV{db: db}, err
}

// Get retrieves the data associated with the given key. Returns the data, a
// boolean indicating whether the key was found and not expired, and an
// error.
func (s *MySQLKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	stmt := "SELECT kv_value FROM kv_entries WHERE kv_key = ? AND UTC_TIMESTAMP(6) < expires_at"
	row := s.db.QueryRowContext(ctx, stmt, key)

	var data []byte
	err := row.Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		} else {
			return nil, false, err
		}
	}
	return data, true, nil
}

// GetPrefix returns all live entries under prefix ordered by key.
func (s *MySQLKV) GetPrefix(ctx context.Context, prefix string) ([]kv.KeyValue, error) {
	stmt := "SELECT kv_key, kv_value FROM kv_entries WHERE kv_key LIKE ? ESCAPE '!' AND UTC_TIMESTAMP(6) < expires_at ORDER BY kv_key"
	rows, err := s.db.QueryContext(ctx, stmt, likePattern(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kvs []kv.KeyValue
	for rows.Next() {
		var e kv.KeyValue
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		kvs = append(kvs, e)
	}
	return kvs, rows.Err()
}

// CountPrefix returns the number of live entries under prefix.
func (s *MySQLKV) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	stmt := "SELECT COUNT(*) FROM kv_entries WHERE kv_key LIKE ? ESCAPE '!' AND UTC_TIMESTAMP(6) < expires_at"
	var n int64
	err := s.db.QueryRowContext(ctx, stmt, likePattern(prefix)).Scan(&n)
	return n, err
}

// Delete removes the data associated with the given key.
func (s *MySQLKV) Delete(ctx context.Context, key string) error {
	stmt := "DELETE FROM kv_entries WHERE kv_key = ?"
	_, err := s.db.ExecContext(ctx, stmt, key)
	return err
}

// DeletePrefix removes every entry under prefix.
func (s *MySQLKV) DeletePrefix(ctx context.Context, prefix string) error {
	stmt := "DELETE FROM kv_entries WHERE kv_key LIKE ? ESCAPE '!'"
	_, err := s.db.ExecContext(ctx, stmt, likePattern(prefix))
	return err
}

// Grant returns a lease of ttl seconds.
func (s *MySQLKV) Grant(_ context.Context, ttl int64) (kv.Lease, error) {
	if ttl < 0 {
		return nil, kv.ErrInvalidTTL
	}
	return &lease{db: s.db, ttl: ttl}, nil
}

// Close closes the database.
func (s *MySQLKV) Close() error {
	return s.db.Close()
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
func (s *MySQLKV) PeriodicCleanUp(interval time.Duration, stop <-chan (struct{})) {
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
func (s *MySQLKV) deleteExpired() {
	stmt := "DELETE FROM kv_entries WHERE UTC_TIMESTAMP(6) >= expires_at"
	if _, err := s.db.Exec(stmt); err != nil {
		slog.Warn("mysqlkv: failed to delete expired entries", "err", err)
	}
}

func (l *lease) TTL() int64 {
	return l.ttl
}

// Put stores value under key until the lease expires. If a record with the
// same key already exists, it is overwritten.
func (l *lease) Put(ctx context.Context, key string, value []byte) error {
	stmt := "INSERT INTO kv_entries(kv_key, kv_value, expires_at) VALUES (?, ?, DATE_ADD(UTC_TIMESTAMP(6), INTERVAL ? SECOND)) ON DUPLICATE KEY UPDATE kv_value = VALUES(kv_value), expires_at = VALUES(expires_at)"
	_, err := l.db.ExecContext(ctx, stmt, key, value, l.ttl)
	return err
}

// likePattern matches every key starting with prefix. '!' is the escape
// character since backslash needs quoting inside MySQL string literals.
func likePattern(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}

var likeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

func createTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv_entries (
			kv_key VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin PRIMARY KEY,
			kv_value LONGBLOB NOT NULL,
			expires_at DATETIME(6) NOT NULL,
			INDEX kv_entries_expires_at_idx (expires_at)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}
