// Package etcdkv provides an etcd v3 kv.KV implementation.
//
// Leases are native etcd leases. Prefix scans, counts and deletes map onto
// range requests with clientv3.WithPrefix.
package etcdkv

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/bluescreen10/etcdstore/kv"
	"go.etcd.io/etcd/client/pkg/v3/transport"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultDialTimeout is used when Config.DialTimeout is zero.
const DefaultDialTimeout = 5 * time.Second

const revokeTimeout = 5 * time.Second

// TLS holds the client certificate material used to reach etcd.
type TLS struct {
	CertFile           string
	KeyFile            string
	CAFile             string
	InsecureSkipVerify bool
}

// Config holds the connection parameters for New.
type Config struct {
	Endpoints   []string
	Username    string
	Password    string
	TLS         TLS
	DialTimeout time.Duration
}

// EtcdKV is an etcd backed key-value store.
type EtcdKV struct {
	cli *clientv3.Client
}

var _ kv.KV = &EtcdKV{}

type lease struct {
	cli *clientv3.Client
	id  clientv3.LeaseID
	ttl int64
}

// New connects to the etcd cluster described by cfg.
func New(cfg Config) (*EtcdKV, error) {
	tlsCfg, err := cfg.TLS.clientConfig()
	if err != nil {
		return nil, err
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TLS:         tlsCfg,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd connect: %w", err)
	}

	return &EtcdKV{cli: cli}, nil
}

// NewFromClient creates an EtcdKV from an existing client.
func NewFromClient(cli *clientv3.Client) *EtcdKV {
	return &EtcdKV{cli: cli}
}

// Client returns the underlying etcd client.
func (s *EtcdKV) Client() *clientv3.Client {
	return s.cli
}

// Get retrieves the value stored under key.
func (s *EtcdKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := s.cli.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("etcd get: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

// GetPrefix returns all entries under prefix ordered by key.
func (s *EtcdKV) GetPrefix(ctx context.Context, prefix string) ([]kv.KeyValue, error) {
	resp, err := s.cli.Get(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
	)
	if err != nil {
		return nil, fmt.Errorf("etcd get prefix: %w", err)
	}

	kvs := make([]kv.KeyValue, len(resp.Kvs))
	for i, e := range resp.Kvs {
		kvs[i] = kv.KeyValue{Key: string(e.Key), Value: e.Value}
	}
	return kvs, nil
}

// CountPrefix returns the number of keys under prefix.
func (s *EtcdKV) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	resp, err := s.cli.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("etcd count prefix: %w", err)
	}
	return resp.Count, nil
}

// Delete removes key.
func (s *EtcdKV) Delete(ctx context.Context, key string) error {
	if _, err := s.cli.Delete(ctx, key); err != nil {
		return fmt.Errorf("etcd delete: %w", err)
	}
	return nil
}

// DeletePrefix removes every key under prefix.
func (s *EtcdKV) DeletePrefix(ctx context.Context, prefix string) error {
	if _, err := s.cli.Delete(ctx, prefix, clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("etcd delete prefix: %w", err)
	}
	return nil
}

// Grant creates an etcd lease of ttl seconds. The lease is never kept
// alive; it expires on the server once ttl elapses.
func (s *EtcdKV) Grant(ctx context.Context, ttl int64) (kv.Lease, error) {
	resp, err := s.cli.Grant(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("etcd grant: %w", err)
	}
	return &lease{cli: s.cli, id: resp.ID, ttl: resp.TTL}, nil
}

// Close closes the etcd client.
func (s *EtcdKV) Close() error {
	return s.cli.Close()
}

func (l *lease) TTL() int64 {
	return l.ttl
}

// Put writes value under key attached to the lease. If the write fails the
// lease is revoked, even when ctx is already done.
func (l *lease) Put(ctx context.Context, key string, value []byte) error {
	if _, err := l.cli.Put(ctx, key, string(value), clientv3.WithLease(l.id)); err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeTimeout)
		defer cancel()
		if _, rerr := l.cli.Revoke(rctx, l.id); rerr != nil {
			return fmt.Errorf("etcd put: %w (revoke lease %x: %v)", err, int64(l.id), rerr)
		}
		return fmt.Errorf("etcd put: %w", err)
	}
	return nil
}

// clientConfig returns nil when no TLS material is configured.
func (t TLS) clientConfig() (*tls.Config, error) {
	if t == (TLS{}) {
		return nil, nil
	}

	info := transport.TLSInfo{
		CertFile:           t.CertFile,
		KeyFile:            t.KeyFile,
		TrustedCAFile:      t.CAFile,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
	cfg, err := info.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("etcd tls: %w", err)
	}
	return cfg, nil
}
