// Package kvtest provides a reusable test suite for kv.KV implementations.
package kvtest

import (
	"context"
	"testing"
	"time"

	"github.com/bluescreen10/etcdstore/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunContract runs a suite of tests verifying that store adheres to the
// kv.KV contract. Every subtest works under its own key namespace so a
// single store instance can be shared by the whole suite.
func RunContract(t *testing.T, store kv.KV) {
	t.Helper()
	ctx := context.Background()
	ns := "contract-" + time.Now().Format("20060102150405.000000")

	put := func(t *testing.T, key, value string) {
		t.Helper()
		lease, err := store.Grant(ctx, 60)
		require.NoError(t, err)
		require.NoError(t, lease.Put(ctx, key, []byte(value)))
	}

	t.Run("Get Missing", func(t *testing.T) {
		_, found, err := store.Get(ctx, ns+"/missing/key")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Grant", func(t *testing.T) {
		lease, err := store.Grant(ctx, 30)
		require.NoError(t, err)
		assert.Equal(t, int64(30), lease.TTL())
	})

	t.Run("Put and Get", func(t *testing.T) {
		key := ns + "/put/abc"
		put(t, key, "hello world")

		data, found, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "hello world", string(data))
	})

	t.Run("Overwrite", func(t *testing.T) {
		key := ns + "/overwrite/abc"
		put(t, key, "first")
		put(t, key, "second")

		data, found, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "second", string(data))

		n, err := store.CountPrefix(ctx, ns+"/overwrite/")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("Delete", func(t *testing.T) {
		key := ns + "/delete/abc"
		put(t, key, "hello world")
		require.NoError(t, store.Delete(ctx, key))

		_, found, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, found)

		// missing keys are not an error
		require.NoError(t, store.Delete(ctx, key))
	})

	t.Run("Prefix Scan", func(t *testing.T) {
		a := ns + "/scan/a/"
		ab := ns + "/scan/ab/"
		put(t, a+"2", "a2")
		put(t, a+"1", "a1")
		put(t, ab+"1", "ab1")

		kvs, err := store.GetPrefix(ctx, a)
		require.NoError(t, err)
		require.Len(t, kvs, 2)
		assert.Equal(t, a+"1", kvs[0].Key)
		assert.Equal(t, "a1", string(kvs[0].Value))
		assert.Equal(t, a+"2", kvs[1].Key)
		assert.Equal(t, "a2", string(kvs[1].Value))

		n, err := store.CountPrefix(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		kvs, err = store.GetPrefix(ctx, ns+"/scan/empty/")
		require.NoError(t, err)
		assert.Empty(t, kvs)
	})

	t.Run("Delete Prefix", func(t *testing.T) {
		p := ns + "/clear/p/"
		q := ns + "/clear/q/"
		put(t, p+"1", "p1")
		put(t, p+"2", "p2")
		put(t, q+"1", "q1")

		require.NoError(t, store.DeletePrefix(ctx, p))

		n, err := store.CountPrefix(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		kvs, err := store.GetPrefix(ctx, q)
		require.NoError(t, err)
		require.Len(t, kvs, 1)
		assert.Equal(t, "q1", string(kvs[0].Value))
	})

	t.Run("Pattern Characters", func(t *testing.T) {
		// characters meaningful to LIKE and glob matching must be literal
		p := ns + "/pat/a%_*?[x]\\/"
		other := ns + "/pat/abcd*?[x]\\/"
		glob := ns + "/pat/a%_zzQx/"
		put(t, p+"1", "literal")
		put(t, other+"1", "other")
		put(t, glob+"1", "glob")

		kvs, err := store.GetPrefix(ctx, p)
		require.NoError(t, err)
		require.Len(t, kvs, 1)
		assert.Equal(t, "literal", string(kvs[0].Value))

		require.NoError(t, store.DeletePrefix(ctx, p))
		_, found, err := store.Get(ctx, other+"1")
		require.NoError(t, err)
		assert.True(t, found)
	})
}
