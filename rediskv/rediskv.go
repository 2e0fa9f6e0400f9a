// Package rediskv provides a redis kv.KV implementation.
//
// Leases map onto redis key expiry: a value written through a lease is
// stored with SET EX using the lease ttl. Prefix operations iterate the
// keyspace with SCAN MATCH.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bluescreen10/etcdstore/kv"
	"github.com/redis/go-redis/v9"
)

// scanCount is the COUNT hint passed to SCAN and the batch size used for
// MGET and DEL.
const scanCount = 100

// RedisKV is a redis backed key-value store.
type RedisKV struct {
	rdb *redis.Client
}

var _ kv.KV = &RedisKV{}

type lease struct {
	rdb *redis.Client
	ttl int64
}

// New creates and returns a new RedisKV instance using rdb.
func New(rdb *redis.Client) *RedisKV {
	return &RedisKV{rdb}
}

// Get retrieves the data associated with the given key. Returns the data, a
// boolean indicating whether the key was found and not expired, and an
// error.
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	return data, true, nil
}

// GetPrefix returns all entries under prefix ordered by key. Keys that
// expire between the scan and the read are skipped.
func (s *RedisKV) GetPrefix(ctx context.Context, prefix string) ([]kv.KeyValue, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}

	kvs := make([]kv.KeyValue, 0, len(keys))
	for start := 0; start < len(keys); start += scanCount {
		batch := keys[start:min(start+scanCount, len(keys))]
		vals, err := s.rdb.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget: %w", err)
		}

		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			kvs = append(kvs, kv.KeyValue{Key: batch[i], Value: []byte(str)})
		}
	}

	return kvs, nil
}

// CountPrefix returns the number of keys under prefix.
func (s *RedisKV) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Delete removes the data associated with the given key. If the key does
// not exist, this is a no-op.
func (s *RedisKV) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeletePrefix removes every key under prefix.
func (s *RedisKV) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return err
	}

	for start := 0; start < len(keys); start += scanCount {
		batch := keys[start:min(start+scanCount, len(keys))]
		if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// Grant returns a lease of ttl seconds. Redis has no lease objects, so no
// request is issued until a value is written.
func (s *RedisKV) Grant(_ context.Context, ttl int64) (kv.Lease, error) {
	if ttl <= 0 {
		return nil, kv.ErrInvalidTTL
	}
	return &lease{rdb: s.rdb, ttl: ttl}, nil
}

// Close closes the redis client.
func (s *RedisKV) Close() error {
	return s.rdb.Close()
}

// scan returns the distinct keys matching prefix in sorted order.
func (s *RedisKV) scan(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	iter := s.rdb.Scan(ctx, 0, escapePattern(prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		seen[iter.Val()] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *lease) TTL() int64 {
	return l.ttl
}

// Put stores value under key expiring after the lease ttl. If a record
// with the same key already exists, it is overwritten.
func (l *lease) Put(ctx context.Context, key string, value []byte) error {
	if err := l.rdb.Set(ctx, key, value, time.Duration(l.ttl)*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// escapePattern quotes the glob metacharacters understood by SCAN MATCH.
func escapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
