// Package kv defines the key-value client boundary used by etcdstore.
//
// A KV is a distributed (or local) key-value store that supports point
// reads, prefix scans, prefix deletes and time-bound leases. Implementations
// live in the etcdkv, rediskv, gormkv, mysqlkv and memkv packages.
package kv

import (
	"context"
	"errors"
)

// ErrInvalidTTL is returned by Grant when the requested lease duration is
// not accepted by the backend.
var ErrInvalidTTL = errors.New("kv: invalid lease ttl")

// KeyValue is a single entry returned by a prefix scan.
type KeyValue struct {
	Key   string
	Value []byte
}

// Lease is a time-bound handle granted by the store. Keys written through a
// lease expire together with it.
type Lease interface {
	// TTL returns the lease duration in seconds.
	TTL() int64

	// Put writes value under key, attached to this lease. If the key
	// already exists it is overwritten and moved to this lease.
	Put(ctx context.Context, key string, value []byte) error
}

// KV is the set of operations a store client must provide.
type KV interface {
	// Get retrieves the value stored under key. It returns the value, a
	// boolean indicating whether the key was found, and an error.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// GetPrefix returns every live entry whose key starts with prefix,
	// ordered by key.
	GetPrefix(ctx context.Context, prefix string) ([]KeyValue, error)

	// CountPrefix returns the number of live keys starting with prefix.
	CountPrefix(ctx context.Context, prefix string) (int64, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Grant creates a lease lasting ttl seconds.
	Grant(ctx context.Context, ttl int64) (Lease, error)

	// Close releases the resources held by the client.
	Close() error
}
