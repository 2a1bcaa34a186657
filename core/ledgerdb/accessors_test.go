package ledgerdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
)

func TestAnchorStorage(t *testing.T) {
	db := memorydb.New()

	assert.Nil(t, ReadAnchor(db, 100))
	for _, l1 := range []uint64{300, 100, 256} {
		require.NoError(t, WriteAnchor(db, &types.L2AnchorPoint{L1BlockNumber: l1, L2BlockNumber: l1 / 10, L2StateRoot: common.BigToHash(common.Big1)}))
	}
	anchor := ReadAnchor(db, 256)
	require.NotNil(t, anchor)
	assert.Equal(t, uint64(25), anchor.L2BlockNumber)

	anchors, err := ReadAllAnchors(db)
	require.NoError(t, err)
	require.Len(t, anchors, 3)
	assert.Equal(t, []uint64{100, 256, 300}, []uint64{anchors[0].L1BlockNumber, anchors[1].L1BlockNumber, anchors[2].L1BlockNumber})

	require.NoError(t, DeleteAnchor(db, 256))
	assert.Nil(t, ReadAnchor(db, 256))
	anchors, err = ReadAllAnchors(db)
	require.NoError(t, err)
	assert.Len(t, anchors, 2)

	// Corrupt records are reported, not silently skipped.
	require.NoError(t, db.Put(anchorKey(400), []byte{0xff}))
	assert.Nil(t, ReadAnchor(db, 400))
	_, err = ReadAllAnchors(db)
	assert.ErrorIs(t, err, types.ErrCorruptEncoding)
}

func TestTxLogStorage(t *testing.T) {
	db := memorydb.New()
	entry := func(n uint64, hash string) *types.L2TxLogEntry {
		return &types.L2TxLogEntry{TxHash: common.HexToHash(hash), L2BlockNumber: n, Success: true}
	}
	// Log order inside a block follows seq, not the hash.
	require.NoError(t, WriteTxLog(db, 0, entry(2, "0xff")))
	require.NoError(t, WriteTxLog(db, 1, entry(2, "0x01")))
	require.NoError(t, WriteTxLog(db, 2, entry(1, "0x05")))

	got := ReadTxLog(db, common.HexToHash("0x01"))
	require.NotNil(t, got)
	assert.Equal(t, uint64(2), got.L2BlockNumber)

	entries, positions, err := ReadAllTxLogs(db)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, common.HexToHash("0x05"), entries[0].TxHash)
	assert.Equal(t, common.HexToHash("0xff"), entries[1].TxHash)
	assert.Equal(t, common.HexToHash("0x01"), entries[2].TxHash)
	assert.Equal(t, TxLogIndexEntry{L2BlockNumber: 2, Seq: 1, TxHash: common.HexToHash("0x01")}, positions[2])

	require.NoError(t, DeleteTxLog(db, positions[1]))
	assert.Nil(t, ReadTxLog(db, common.HexToHash("0xff")))
	index, err := ReadTxLogIndex(db)
	require.NoError(t, err)
	assert.Len(t, index, 2)
}

func TestSnapshotStorage(t *testing.T) {
	db := memorydb.New()
	snap := &types.StateSnapshot{L1AnchorBlock: 100, L2BlockNumber: 10, StateRoot: common.HexToHash("0xaa")}

	require.NoError(t, WriteSnapshot(db, snap))
	assert.Equal(t, snap, ReadSnapshot(db, 100))

	snaps, err := ReadAllSnapshots(db)
	require.NoError(t, err)
	assert.Equal(t, []*types.StateSnapshot{snap}, snaps)

	require.NoError(t, DeleteSnapshot(db, 100))
	assert.Nil(t, ReadSnapshot(db, 100))
}

func TestPrefixesDoNotCollide(t *testing.T) {
	db := memorydb.New()
	require.NoError(t, WriteAnchor(db, &types.L2AnchorPoint{L1BlockNumber: 1}))
	require.NoError(t, WriteSnapshot(db, &types.StateSnapshot{L1AnchorBlock: 1}))
	require.NoError(t, WriteTxLog(db, 0, &types.L2TxLogEntry{TxHash: common.HexToHash("0x01"), L2BlockNumber: 1}))

	anchors, err := ReadAllAnchors(db)
	require.NoError(t, err)
	assert.Len(t, anchors, 1)
	snaps, err := ReadAllSnapshots(db)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
	index, err := ReadTxLogIndex(db)
	require.NoError(t, err)
	assert.Len(t, index, 1)
}
