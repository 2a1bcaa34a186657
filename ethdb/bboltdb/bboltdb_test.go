package bboltdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascoin/l2core/core/ledgerdb"
	"github.com/cascoin/l2core/ethdb/storetest"
)

func TestBoltDB(t *testing.T) {
	storetest.TestStoreSuite(t, func() ledgerdb.Store {
		db, err := New(t.TempDir(), "", false, true)
		require.NoError(t, err)
		return db
	})
}

func TestBoltReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := New(dir, "", false, false)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	require.NoError(t, db.Close())

	db, err = New(dir, "", true, false)
	require.NoError(t, err)
	defer db.Close()
	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	_, err = db.Get([]byte("missing"))
	require.Error(t, err)
}
