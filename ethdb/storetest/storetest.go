// Package storetest contains a conformance suite for ledger store backends.
package storetest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascoin/l2core/core/ledgerdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
)

// TestStoreSuite runs a suite of tests against a ledger store implementation.
func TestStoreSuite(t *testing.T, New func() ledgerdb.Store) {
	t.Run("Iterator", func(t *testing.T) {
		tests := []struct {
			content map[string]string
			prefix  string
			start   string
			order   []string
		}{
			// Empty databases should be iterable
			{map[string]string{}, "", "", nil},
			{map[string]string{}, "non-existent-prefix", "", nil},

			// Single-item databases should be iterable
			{map[string]string{"key": "val"}, "", "", []string{"key"}},
			{map[string]string{"key": "val"}, "k", "", []string{"key"}},
			{map[string]string{"key": "val"}, "l", "", nil},

			// Multi-item databases should be fully iterable
			{
				map[string]string{"k1": "v1", "k5": "v5", "k2": "v2", "k4": "v4", "k3": "v3"},
				"", "",
				[]string{"k1", "k2", "k3", "k4", "k5"},
			},
			// Prefix and start are combined
			{
				map[string]string{"ka1": "va1", "kb2": "vb2", "ka3": "va3", "kb1": "vb1", "ka2": "va2"},
				"ka", "2",
				[]string{"ka2", "ka3"},
			},
			// Start past the last key
			{
				map[string]string{"ka1": "va1", "ka2": "va2"},
				"ka", "3",
				nil,
			},
		}
		for i, tt := range tests {
			db := New()
			for key, val := range tt.content {
				require.NoError(t, db.Put([]byte(key), []byte(val)), "test %d", i)
			}
			it := db.NewIterator([]byte(tt.prefix), []byte(tt.start))
			var got []string
			for it.Next() {
				got = append(got, string(it.Key()))
				assert.Equal(t, tt.content[string(it.Key())], string(it.Value()), "test %d", i)
			}
			require.NoError(t, it.Error(), "test %d", i)
			it.Release()
			assert.Equal(t, tt.order, got, "test %d", i)
			db.Close()
		}
	})

	t.Run("KeyValueOperations", func(t *testing.T) {
		db := New()
		defer db.Close()

		key := []byte("foo")
		got, err := db.Has(key)
		require.NoError(t, err)
		assert.False(t, got)

		value := []byte("hello world")
		require.NoError(t, db.Put(key, value))
		got, err = db.Has(key)
		require.NoError(t, err)
		assert.True(t, got)

		dat, err := db.Get(key)
		require.NoError(t, err)
		assert.Equal(t, value, dat)

		// Returned slices are owned by the caller.
		dat[0] = 'j'
		dat, err = db.Get(key)
		require.NoError(t, err)
		assert.Equal(t, value, dat)

		require.NoError(t, db.Delete(key))
		got, err = db.Has(key)
		require.NoError(t, err)
		assert.False(t, got)
		_, err = db.Get(key)
		assert.Error(t, err)
	})

	t.Run("Batch", func(t *testing.T) {
		db := New()
		defer db.Close()

		b := db.NewBatch()
		for _, k := range []string{"1", "2", "3", "4"} {
			require.NoError(t, b.Put([]byte(k), nil))
		}
		require.NoError(t, b.Delete([]byte("2")))
		assert.Positive(t, b.ValueSize())

		// Nothing is visible before Write.
		has, err := db.Has([]byte("1"))
		require.NoError(t, err)
		assert.False(t, has)

		require.NoError(t, b.Write())
		assert.Equal(t, []string{"1", "3", "4"}, iterateKeys(db.NewIterator(nil, nil)))

		b.Reset()
		assert.Zero(t, b.ValueSize())
		require.NoError(t, b.Put([]byte("5"), []byte("v")))
		require.NoError(t, b.Delete([]byte("1")))

		mem := memorydb.New()
		require.NoError(t, mem.Put([]byte("1"), []byte("x")))
		require.NoError(t, b.Replay(mem))
		assert.Equal(t, []string{"5"}, iterateKeys(mem.NewIterator(nil, nil)))

		require.NoError(t, b.Write())
		assert.Equal(t, []string{"3", "4", "5"}, iterateKeys(db.NewIterator(nil, nil)))
	})

	t.Run("IteratorWithWrites", func(t *testing.T) {
		db := New()
		defer db.Close()

		for _, k := range []string{"a1", "a2", "a3"} {
			require.NoError(t, db.Put([]byte(k), []byte(k)))
		}
		// Deleting while iterating must not deadlock.
		it := db.NewIterator([]byte("a"), nil)
		var seen int
		for it.Next() {
			seen++
			require.NoError(t, db.Delete(bytes.Clone(it.Key())))
		}
		it.Release()
		assert.Equal(t, 3, seen)
		assert.Empty(t, iterateKeys(db.NewIterator(nil, nil)))
	})
}

func iterateKeys(it interface {
	Next() bool
	Key() []byte
	Release()
}) []string {
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	it.Release()
	return keys
}
