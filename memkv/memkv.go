// Package memkv provides an in-memory kv.KV implementation.
//
// MemKV stores values keyed by string with a per-lease expiration time and
// supports periodic cleanup of expired entries.
//
// This package is suitable for single-process applications or testing
// scenarios. It is not persistent and does not share state across
// processes.
package memkv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluescreen10/etcdstore/kv"
)

// MemKV is an in-memory key-value store with lease semantics.
// It is safe for concurrent use by multiple goroutines.
type MemKV struct {
	entries sync.Map
	leases  atomic.Int64
	now     func() time.Time
}

var _ kv.KV = &MemKV{}

// record represents a single stored value, containing the data, the lease
// it was written under and its expiration time.
type record struct {
	lease     int64
	expiresAt time.Time
	data      []byte
}

// lease is a MemKV lease. Its expiration is fixed when it is granted.
type lease struct {
	m         *MemKV
	id        int64
	ttl       int64
	expiresAt time.Time
}

// New creates and returns a new MemKV instance.
func New() *MemKV {
	return &MemKV{now: time.Now}
}

// Get retrieves the data associated with the given key. Returns the data, a
// boolean indicating whether the key was found and not expired, and an
// error. Expired records are deleted on access.
func (m *MemKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	r, ok := m.entries.Load(key)
	if !ok {
		return nil, false, nil
	}

	rec := r.(*record)
	if m.expired(rec) {
		m.entries.CompareAndDelete(key, r)
		return nil, false, nil
	}

	return rec.data, true, nil
}

// GetPrefix returns all live entries under prefix ordered by key.
func (m *MemKV) GetPrefix(_ context.Context, prefix string) ([]kv.KeyValue, error) {
	var kvs []kv.KeyValue
	m.rangePrefix(prefix, func(key string, rec *record) {
		kvs = append(kvs, kv.KeyValue{Key: key, Value: rec.data})
	})

	sort.Slice(kvs, func(i, j int) bool { return kvs[i].Key < kvs[j].Key })
	return kvs, nil
}

// CountPrefix returns the number of live entries under prefix.
func (m *MemKV) CountPrefix(_ context.Context, prefix string) (int64, error) {
	var n int64
	m.rangePrefix(prefix, func(string, *record) { n++ })
	return n, nil
}

// Delete removes the data associated with the given key. If the key does
// not exist, this is a no-op.
func (m *MemKV) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}

// DeletePrefix removes every entry under prefix.
func (m *MemKV) DeletePrefix(_ context.Context, prefix string) error {
	m.entries.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			m.entries.Delete(key)
		}
		return true
	})
	return nil
}

// Grant creates a lease expiring ttl seconds from now.
func (m *MemKV) Grant(_ context.Context, ttl int64) (kv.Lease, error) {
	if ttl < 0 {
		return nil, kv.ErrInvalidTTL
	}

	return &lease{
		m:         m,
		id:        m.leases.Add(1),
		ttl:       ttl,
		expiresAt: m.now().Add(time.Duration(ttl) * time.Second),
	}, nil
}

// Close is a no-op.
func (m *MemKV) Close() error {
	return nil
}

// Count returns the number of stored entries, including expired ones that
// have not been cleaned up yet.
func (m *MemKV) Count() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// LeaseOf returns the id of the lease key was last written under.
func (m *MemKV) LeaseOf(key string) (int64, bool) {
	r, ok := m.entries.Load(key)
	if !ok {
		return 0, false
	}
	return r.(*record).lease, true
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
func (m *MemKV) PeriodicCleanUp(interval time.Duration, stop <-chan (struct{})) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.deleteExpired()
		case <-stop:
			return
		}
	}
}

// deleteExpired removes all expired records from the MemKV.
func (m *MemKV) deleteExpired() {
	m.entries.Range(func(key, value any) bool {
		if m.expired(value.(*record)) {
			m.entries.CompareAndDelete(key, value)
		}
		return true
	})
}

func (m *MemKV) expired(rec *record) bool {
	return !m.now().Before(rec.expiresAt)
}

func (m *MemKV) rangePrefix(prefix string, fn func(string, *record)) {
	m.entries.Range(func(k, v any) bool {
		key := k.(string)
		rec := v.(*record)
		if strings.HasPrefix(key, prefix) && !m.expired(rec) {
			fn(key, rec)
		}
		return true
	})
}

func (l *lease) TTL() int64 {
	return l.ttl
}

// Put stores value under key until the lease expires. If a record with the
// same key already exists, it is overwritten.
func (l *lease) Put(_ context.Context, key string, value []byte) error {
	data := make([]byte, len(value))
	copy(data, value)
	l.m.entries.Store(key, &record{lease: l.id, expiresAt: l.expiresAt, data: data})
	return nil
}
