// Package ledgerdb contains the key layout and accessors of the anchor
// ledger: anchor points, the L2 transaction log and state snapshots.
package ledgerdb

import (
	"encoding/binary"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
)

// Store is the database the ledger is kept in.
type Store interface {
	ethdb.KeyValueReader
	ethdb.KeyValueWriter
	ethdb.Batcher
	ethdb.Iteratee
	io.Closer
}

// The fields below define the low level database schema prefixing.
var (
	anchorPrefix   = []byte("a") // anchorPrefix + l1 num (uint64 big endian) -> anchor
	txLogPrefix    = []byte("t") // txLogPrefix + tx hash -> tx log entry
	txIndexPrefix  = []byte("b") // txIndexPrefix + l2 num (uint64 big endian) + seq (uint64 big endian) -> tx hash
	snapshotPrefix = []byte("s") // snapshotPrefix + l1 num (uint64 big endian) -> state snapshot
)

// encodeBlockNumber encodes a block number as big endian uint64
func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

// anchorKey = anchorPrefix + num (uint64 big endian)
func anchorKey(number uint64) []byte {
	return append(append([]byte{}, anchorPrefix...), encodeBlockNumber(number)...)
}

// txLogKey = txLogPrefix + hash
func txLogKey(hash common.Hash) []byte {
	return append(append([]byte{}, txLogPrefix...), hash.Bytes()...)
}

// txIndexKey = txIndexPrefix + l2 num (uint64 big endian) + seq (uint64 big endian)
func txIndexKey(number uint64, seq uint64) []byte {
	key := append(append([]byte{}, txIndexPrefix...), encodeBlockNumber(number)...)
	return append(key, encodeBlockNumber(seq)...)
}

// snapshotKey = snapshotPrefix + num (uint64 big endian)
func snapshotKey(number uint64) []byte {
	return append(append([]byte{}, snapshotPrefix...), encodeBlockNumber(number)...)
}
