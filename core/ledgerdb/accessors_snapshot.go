package ledgerdb

import (
	"github.com/pkg/errors"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
)

// ReadSnapshot retrieves the state snapshot taken for the anchor at the
// given L1 height.
func ReadSnapshot(db ethdb.KeyValueReader, l1Number uint64) *types.StateSnapshot {
	data, _ := db.Get(snapshotKey(l1Number))
	if len(data) == 0 {
		return nil
	}
	snap, err := types.DecodeStateSnapshot(data)
	if err != nil {
		log.Error("Invalid state snapshot RLP", "l1", l1Number, "err", err)
		return nil
	}
	return snap
}

// WriteSnapshot stores a state snapshot.
func WriteSnapshot(db ethdb.KeyValueWriter, snap *types.StateSnapshot) error {
	data, err := types.Serialize(snap)
	if err != nil {
		return errors.Wrap(err, "failed to encode state snapshot")
	}
	if err := db.Put(snapshotKey(snap.L1AnchorBlock), data); err != nil {
		return errors.Wrapf(err, "failed to store state snapshot %d", snap.L1AnchorBlock)
	}
	return nil
}

// DeleteSnapshot removes the snapshot of the given L1 height.
func DeleteSnapshot(db ethdb.KeyValueWriter, l1Number uint64) error {
	if err := db.Delete(snapshotKey(l1Number)); err != nil {
		return errors.Wrapf(err, "failed to delete state snapshot %d", l1Number)
	}
	return nil
}

// ReadAllSnapshots returns every stored snapshot in ascending L1 order.
func ReadAllSnapshots(db ethdb.Iteratee) ([]*types.StateSnapshot, error) {
	it := db.NewIterator(snapshotPrefix, nil)
	defer it.Release()

	var snaps []*types.StateSnapshot
	for it.Next() {
		if len(it.Key()) != len(snapshotPrefix)+8 {
			continue
		}
		snap, err := types.DecodeStateSnapshot(it.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid state snapshot at key %x", it.Key())
		}
		snaps = append(snaps, snap)
	}
	return snaps, it.Error()
}
