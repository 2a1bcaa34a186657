package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// L1BlockInfo is an L1 header as seen by the reorg monitor.
type L1BlockInfo struct {
	BlockNumber   uint64
	BlockHash     common.Hash
	ParentHash    common.Hash
	Timestamp     uint64
	Confirmations uint64
}

// Copy returns a copy of the header.
func (b *L1BlockInfo) Copy() *L1BlockInfo {
	if b == nil {
		return nil
	}
	cpy := *b
	return &cpy
}

func (b *L1BlockInfo) sanitize() error { return nil }

// L2AnchorPoint binds an L2 block to the L1 block its batch was posted in.
type L2AnchorPoint struct {
	L1BlockNumber uint64
	L1BlockHash   common.Hash
	L2BlockNumber uint64
	L2StateRoot   common.Hash
	BatchHash     common.Hash
	Timestamp     uint64
	Finalized     bool
}

// Copy returns a copy of the anchor.
func (a *L2AnchorPoint) Copy() *L2AnchorPoint {
	if a == nil {
		return nil
	}
	cpy := *a
	return &cpy
}

func (a *L2AnchorPoint) sanitize() error { return nil }

// L2TxLogEntry records an executed L2 transaction so it can be replayed
// after a revert.
type L2TxLogEntry struct {
	TxHash        common.Hash
	TxData        []byte
	L2BlockNumber uint64
	L1AnchorBlock uint64
	Timestamp     uint64
	Success       bool
	GasUsed       uint64
}

// Copy returns a deep copy of the entry.
func (e *L2TxLogEntry) Copy() *L2TxLogEntry {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.TxData = common.CopyBytes(e.TxData)
	return &cpy
}

func (e *L2TxLogEntry) sanitize() error {
	if len(e.TxData) == 0 {
		e.TxData = nil
	}
	return nil
}

// StateSnapshot is the persisted record of an L2 state snapshot taken when an
// anchor was recorded.
type StateSnapshot struct {
	L1AnchorBlock uint64
	L2BlockNumber uint64
	StateRoot     common.Hash
}

func (s *StateSnapshot) sanitize() error { return nil }
