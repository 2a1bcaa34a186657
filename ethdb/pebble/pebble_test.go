package pebble

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascoin/l2core/core/ledgerdb"
	"github.com/cascoin/l2core/ethdb/storetest"
)

func TestPebbleDB(t *testing.T) {
	storetest.TestStoreSuite(t, func() ledgerdb.Store {
		db, err := New(t.TempDir(), 0, 0, "", false)
		require.NoError(t, err)
		return db
	})
}

func TestPebbleReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := New(dir, 0, 0, "", false)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db, err = New(dir, 0, 0, "", true)
	require.NoError(t, err)
	defer db.Close()
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
