package ledgerdb

import (
	"github.com/pkg/errors"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
)

// ReadAnchor retrieves the anchor recorded at the given L1 height.
func ReadAnchor(db ethdb.KeyValueReader, l1Number uint64) *types.L2AnchorPoint {
	data, _ := db.Get(anchorKey(l1Number))
	if len(data) == 0 {
		return nil
	}
	anchor, err := types.DecodeAnchorPoint(data)
	if err != nil {
		log.Error("Invalid anchor point RLP", "l1", l1Number, "err", err)
		return nil
	}
	return anchor
}

// WriteAnchor stores an anchor point.
func WriteAnchor(db ethdb.KeyValueWriter, anchor *types.L2AnchorPoint) error {
	data, err := types.Serialize(anchor)
	if err != nil {
		return errors.Wrap(err, "failed to encode anchor point")
	}
	if err := db.Put(anchorKey(anchor.L1BlockNumber), data); err != nil {
		return errors.Wrapf(err, "failed to store anchor point %d", anchor.L1BlockNumber)
	}
	return nil
}

// DeleteAnchor removes the anchor recorded at the given L1 height.
func DeleteAnchor(db ethdb.KeyValueWriter, l1Number uint64) error {
	if err := db.Delete(anchorKey(l1Number)); err != nil {
		return errors.Wrapf(err, "failed to delete anchor point %d", l1Number)
	}
	return nil
}

// ReadAllAnchors returns every stored anchor in ascending L1 order.
func ReadAllAnchors(db ethdb.Iteratee) ([]*types.L2AnchorPoint, error) {
	it := db.NewIterator(anchorPrefix, nil)
	defer it.Release()

	var anchors []*types.L2AnchorPoint
	for it.Next() {
		if len(it.Key()) != len(anchorPrefix)+8 {
			continue
		}
		anchor, err := types.DecodeAnchorPoint(it.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "invalid anchor point at key %x", it.Key())
		}
		anchors = append(anchors, anchor)
	}
	return anchors, it.Error()
}
