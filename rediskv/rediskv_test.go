package rediskv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bluescreen10/etcdstore/kv/kvtest"
	"github.com/bluescreen10/etcdstore/rediskv"
	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
)

func TestContract(t *testing.T) {
	_, rdb := getRedisDB(t)
	kvtest.RunContract(t, rediskv.New(rdb))
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	key := "sess/abc123"
	expectedData := []byte("hello world")

	mr, rdb := getRedisDB(t)
	s := rediskv.New(rdb)

	lease, err := s.Grant(ctx, 3600)
	if err != nil {
		t.Fatal(err)
	}
	if err := lease.Put(ctx, key, expectedData); err != nil {
		t.Fatal(err)
	}

	data, found, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != string(expectedData) {
		t.Fatalf("expected '%s' got '%s'", expectedData, data)
	}

	if !found {
		t.Fatalf("expected 'true' got '%v'", found)
	}

	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("expected ttl '%v' got '%v'", time.Hour, ttl)
	}
}

func TestGetExpired(t *testing.T) {
	ctx := context.Background()
	key := "sess/abc123"

	mr, rdb := getRedisDB(t)
	s := rediskv.New(rdb)

	lease, err := s.Grant(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := lease.Put(ctx, key, []byte("hello world")); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Second)
	_, found, err := s.Get(ctx, key)

	if err != nil {
		t.Fatal(err)
	}

	if found {
		t.Fatalf("expected 'false' got '%v'", found)
	}
}

func TestGrantInvalid(t *testing.T) {
	_, rdb := getRedisDB(t)
	s := rediskv.New(rdb)

	if _, err := s.Grant(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestManyKeys(t *testing.T) {
	ctx := context.Background()
	_, rdb := getRedisDB(t)
	s := rediskv.New(rdb)

	lease, err := s.Grant(ctx, 60)
	if err != nil {
		t.Fatal(err)
	}

	// more than one SCAN/MGET batch
	for i := 0; i < 250; i++ {
		key := "sess/" + time.Duration(i).String()
		if err := lease.Put(ctx, key, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	kvs, err := s.GetPrefix(ctx, "sess/")
	if err != nil {
		t.Fatal(err)
	}
	if len(kvs) != 250 {
		t.Fatalf("expected 250 entries got '%d'", len(kvs))
	}

	if err := s.DeletePrefix(ctx, "sess/"); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountPrefix(ctx, "sess/")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 entries got '%d'", n)
	}
}

func TestServerDown(t *testing.T) {
	ctx := context.Background()
	mr, rdb := getRedisDB(t)
	s := rediskv.New(rdb)
	mr.Close()

	if _, _, err := s.Get(ctx, "sess/abc"); err == nil {
		t.Fatal("expected error from Get")
	}
	if _, err := s.GetPrefix(ctx, "sess/"); err == nil {
		t.Fatal("expected error from GetPrefix")
	}
	if err := s.Delete(ctx, "sess/abc"); err == nil {
		t.Fatal("expected error from Delete")
	}
}

func getRedisDB(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	t.Cleanup(func() { client.Close() })
	return mr, client
}
