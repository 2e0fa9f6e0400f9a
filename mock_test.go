package etcdstore_test

import (
	"context"

	"github.com/bluescreen10/etcdstore/kv"
)

type mockkv struct {
	get          func(string) ([]byte, bool, error)
	getPrefix    func(string) ([]kv.KeyValue, error)
	countPrefix  func(string) (int64, error)
	delete       func(string) error
	deletePrefix func(string) error
	grant        func(int64) (kv.Lease, error)
	closed       int
}

func (m *mockkv) Get(_ context.Context, key string) ([]byte, bool, error) {
	return m.get(key)
}

func (m *mockkv) GetPrefix(_ context.Context, prefix string) ([]kv.KeyValue, error) {
	return m.getPrefix(prefix)
}

func (m *mockkv) CountPrefix(_ context.Context, prefix string) (int64, error) {
	return m.countPrefix(prefix)
}

func (m *mockkv) Delete(_ context.Context, key string) error {
	return m.delete(key)
}

func (m *mockkv) DeletePrefix(_ context.Context, prefix string) error {
	return m.deletePrefix(prefix)
}

func (m *mockkv) Grant(_ context.Context, ttl int64) (kv.Lease, error) {
	return m.grant(ttl)
}

func (m *mockkv) Close() error {
	m.closed++
	return nil
}

var _ kv.KV = &mockkv{}

type mocklease struct {
	ttl int64
	put func(string, []byte) error
}

func (l *mocklease) TTL() int64 {
	return l.ttl
}

func (l *mocklease) Put(_ context.Context, key string, value []byte) error {
	return l.put(key, value)
}

// write is a single lease.Put observed by recordingKV.
type write struct {
	ttl   int64
	key   string
	value []byte
}

// recordingKV returns a mock that accepts every lease and records what is
// written through it.
func recordingKV(writes *[]write) *mockkv {
	return &mockkv{
		grant: func(ttl int64) (kv.Lease, error) {
			return &mocklease{ttl: ttl, put: func(key string, value []byte) error {
				*writes = append(*writes, write{ttl: ttl, key: key, value: value})
				return nil
			}}, nil
		},
	}
}
