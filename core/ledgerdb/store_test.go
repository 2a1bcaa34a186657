package ledgerdb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascoin/l2core/core/ledgerdb"
	"github.com/cascoin/l2core/ethdb/storetest"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
)

func TestMemoryStore(t *testing.T) {
	storetest.TestStoreSuite(t, func() ledgerdb.Store { return memorydb.New() })
}

func TestLevelDBStore(t *testing.T) {
	storetest.TestStoreSuite(t, func() ledgerdb.Store {
		db, err := leveldb.New(t.TempDir(), 0, 0, "", false)
		require.NoError(t, err)
		return db
	})
}
