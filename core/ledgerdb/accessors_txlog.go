package ledgerdb

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
)

// TxLogIndexEntry is a position in the transaction log.
type TxLogIndexEntry struct {
	L2BlockNumber uint64
	Seq           uint64
	TxHash        common.Hash
}

// ReadTxLog retrieves a transaction log entry by hash.
func ReadTxLog(db ethdb.KeyValueReader, hash common.Hash) *types.L2TxLogEntry {
	data, _ := db.Get(txLogKey(hash))
	if len(data) == 0 {
		return nil
	}
	entry, err := types.DecodeTxLogEntry(data)
	if err != nil {
		log.Error("Invalid tx log RLP", "hash", hash, "err", err)
		return nil
	}
	return entry
}

// WriteTxLog stores a log entry and its position in the block index. seq
// orders the entries of one block.
func WriteTxLog(db ethdb.KeyValueWriter, seq uint64, entry *types.L2TxLogEntry) error {
	data, err := types.Serialize(entry)
	if err != nil {
		return errors.Wrap(err, "failed to encode tx log entry")
	}
	if err := db.Put(txLogKey(entry.TxHash), data); err != nil {
		return errors.Wrapf(err, "failed to store tx log entry %s", entry.TxHash)
	}
	if err := db.Put(txIndexKey(entry.L2BlockNumber, seq), entry.TxHash.Bytes()); err != nil {
		return errors.Wrapf(err, "failed to store tx log index %s", entry.TxHash)
	}
	return nil
}

// DeleteTxLog removes a log entry together with its index position.
func DeleteTxLog(db ethdb.KeyValueWriter, pos TxLogIndexEntry) error {
	if err := db.Delete(txLogKey(pos.TxHash)); err != nil {
		return errors.Wrapf(err, "failed to delete tx log entry %s", pos.TxHash)
	}
	if err := db.Delete(txIndexKey(pos.L2BlockNumber, pos.Seq)); err != nil {
		return errors.Wrapf(err, "failed to delete tx log index %s", pos.TxHash)
	}
	return nil
}

// ReadTxLogIndex returns the block index in log order.
func ReadTxLogIndex(db ethdb.Iteratee) ([]TxLogIndexEntry, error) {
	it := db.NewIterator(txIndexPrefix, nil)
	defer it.Release()

	var index []TxLogIndexEntry
	for it.Next() {
		key := it.Key()
		if len(key) != len(txIndexPrefix)+16 || len(it.Value()) != common.HashLength {
			continue
		}
		index = append(index, TxLogIndexEntry{
			L2BlockNumber: binary.BigEndian.Uint64(key[len(txIndexPrefix):]),
			Seq:           binary.BigEndian.Uint64(key[len(txIndexPrefix)+8:]),
			TxHash:        common.BytesToHash(it.Value()),
		})
	}
	return index, it.Error()
}

// ReadAllTxLogs returns every logged transaction in log order along with
// its index position.
func ReadAllTxLogs(db interface {
	ethdb.KeyValueReader
	ethdb.Iteratee
}) ([]*types.L2TxLogEntry, []TxLogIndexEntry, error) {
	index, err := ReadTxLogIndex(db)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]*types.L2TxLogEntry, 0, len(index))
	positions := make([]TxLogIndexEntry, 0, len(index))
	for _, pos := range index {
		entry := ReadTxLog(db, pos.TxHash)
		if entry == nil {
			log.Warn("Dangling tx log index", "number", pos.L2BlockNumber, "hash", pos.TxHash)
			continue
		}
		entries = append(entries, entry)
		positions = append(positions, pos)
	}
	return entries, positions, nil
}
