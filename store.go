// Package etcdstore provides a session store backed by a distributed
// key-value store, etcd by default.
//
// Each session record is serialized and written under "<prefix>/<sid>"
// attached to a lease, so the store expires abandoned sessions on its own.
// The lease duration comes from the configured TTL override, the cookie max
// age, or one day, in that order.
//
// Usage:
//
//	store, err := etcdstore.New(etcdstore.Config{
//	    Hosts:  []string{"127.0.0.1:2379"},
//	    Prefix: "sess",
//	}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.Set(ctx, "abc", &etcdstore.Record{
//	    Cookie: etcdstore.Cookie{MaxAge: etcdstore.MaxAge(5000)},
//	})
//	rec, err := store.Get(ctx, "abc")
//
// Any kv.KV may be injected instead of the default etcd client, see the
// rediskv, gormkv, mysqlkv and memkv packages.
package etcdstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bluescreen10/etcdstore/etcdkv"
	"github.com/bluescreen10/etcdstore/kv"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultPrefix is the key namespace used when Config.Prefix is empty.
const DefaultPrefix = "sess"

// ErrNilRecord is returned by Set and Touch when no record is given.
var ErrNilRecord = errors.New("nil session record")

// SessionStore is the set of operations a session middleware needs from
// its storage.
type SessionStore interface {
	// Get returns the record for sid, or nil without error when there is
	// none.
	Get(ctx context.Context, sid string) (*Record, error)

	// Set stores rec under sid, replacing any previous record and lease.
	Set(ctx context.Context, sid string, rec *Record) error

	// Touch refreshes the lease of sid by rewriting rec.
	Touch(ctx context.Context, sid string, rec *Record) error

	// Destroy removes the record for sid.
	Destroy(ctx context.Context, sid string) error

	// All returns every stored record keyed by session id.
	All(ctx context.Context) (map[string]*Record, error)

	// Length returns the number of stored records.
	Length(ctx context.Context) (int, error)

	// Clear removes every stored record.
	Clear(ctx context.Context) error
}

// Store is a SessionStore that persists records in a kv.KV. It holds no
// mutable state and is safe for concurrent use.
type Store struct {
	client    kv.KV
	owned     bool
	prefix    string
	skipTouch bool
	ttl       TTL

	codec      Codec
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics
}

var _ SessionStore = &Store{}

// New creates a Store. When client is nil an etcd client is created from
// the connection parameters in cfg and closed by Store.Close; an injected
// client is left open.
func New(cfg Config, client kv.KV, opts ...Option) (*Store, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.Contains(prefix, "/") {
		return nil, fmt.Errorf("%w: %q contains '/'", ErrInvalidPrefix, prefix)
	}

	s := &Store{
		prefix:    prefix,
		skipTouch: cfg.SkipTouch,
		ttl:       cfg.TTL,
		codec:     JSONCodec{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.registerer != nil {
		m, err := newMetrics(s.registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		s.metrics = m
	}

	if client == nil {
		c, err := etcdkv.New(cfg.etcdConfig())
		if err != nil {
			return nil, err
		}
		client = c
		s.owned = true
	}
	s.client = client

	return s, nil
}

// Prefix returns the key namespace of the store.
func (s *Store) Prefix() string {
	return s.prefix
}

// Get fetches and decodes the record stored for sid. A missing record is
// reported as nil with no error.
func (s *Store) Get(ctx context.Context, sid string) (rec *Record, err error) {
	key := s.key(sid)
	defer s.finish("get", key, time.Now(), &err)

	data, found, err := s.client.Get(ctx, key)
	if err != nil || !found {
		return nil, err
	}

	decoded, err := s.codec.Decode(data)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// Set writes rec under sid attached to a new lease.
func (s *Store) Set(ctx context.Context, sid string, rec *Record) (err error) {
	key := s.key(sid)
	defer s.finish("set", key, time.Now(), &err)

	return s.write(ctx, key, sid, rec)
}

// Touch behaves like Set, unless the store was configured with SkipTouch,
// in which case it returns immediately without contacting the store.
func (s *Store) Touch(ctx context.Context, sid string, rec *Record) (err error) {
	if s.skipTouch {
		return nil
	}

	key := s.key(sid)
	defer s.finish("touch", key, time.Now(), &err)

	return s.write(ctx, key, sid, rec)
}

// Destroy deletes the record stored for sid.
func (s *Store) Destroy(ctx context.Context, sid string) (err error) {
	key := s.key(sid)
	defer s.finish("destroy", key, time.Now(), &err)

	return s.client.Delete(ctx, key)
}

// All returns every record under the store prefix keyed by session id. If
// any record fails to decode, no records are returned.
func (s *Store) All(ctx context.Context) (recs map[string]*Record, err error) {
	prefix := s.key("")
	defer s.finish("all", prefix, time.Now(), &err)

	kvs, err := s.client.GetPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	// recs must stay nil on failure, including a panic in Decode.
	decoded := make(map[string]*Record, len(kvs))
	for _, e := range kvs {
		rec, err := s.codec.Decode(e.Value)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		decoded[strings.TrimPrefix(e.Key, prefix)] = rec
	}
	return decoded, nil
}

// Length returns the number of records under the store prefix.
func (s *Store) Length(ctx context.Context) (n int, err error) {
	prefix := s.key("")
	defer s.finish("length", prefix, time.Now(), &err)

	count, err := s.client.CountPrefix(ctx, prefix)
	return int(count), err
}

// Clear deletes every record under the store prefix.
func (s *Store) Clear(ctx context.Context) (err error) {
	prefix := s.key("")
	defer s.finish("clear", prefix, time.Now(), &err)

	return s.client.DeletePrefix(ctx, prefix)
}

// Close closes the client if it was created by New.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// key returns "<prefix>/<sid>". An empty sid yields the namespace itself.
func (s *Store) key(sid string) string {
	return s.prefix + "/" + sid
}

// write resolves the ttl, grants a lease and writes rec under it. The
// lease is not kept alive; it lapses on the server after ttl seconds.
func (s *Store) write(ctx context.Context, key, sid string, rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}

	ttl, err := s.getTTL(rec, sid)
	if err != nil {
		return err
	}

	data, err := s.codec.Encode(rec)
	if err != nil {
		return err
	}

	lease, err := s.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	s.logger.Debug("writing session", "key", key, "ttl", ttl)
	return lease.Put(ctx, key, data)
}

// finish turns panics into errors, wraps failures in an OpError and
// records the outcome. It must be deferred directly.
func (s *Store) finish(op, key string, start time.Time, errp *error) {
	if r := recover(); r != nil {
		*errp = &PanicError{Value: r}
	}

	if *errp != nil {
		*errp = &OpError{Op: op, Key: key, Err: *errp}
		s.logger.Warn("session store operation failed", "op", op, "key", key, "err", *errp)
	} else {
		s.logger.Debug("session store operation", "op", op, "key", key, "took", time.Since(start))
	}

	s.metrics.observe(op, start, *errp)
}
