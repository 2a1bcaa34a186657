package reorg

import (
	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
)

// StateManager owns the L2 state the monitor rewinds on a reorg.
type StateManager interface {
	GetStateRoot() common.Hash
	GetBlockNumber() uint64
	CreateSnapshot(l2Block, l1AnchorBlock uint64)
	RevertToSnapshot(anchor *types.L2AnchorPoint) bool
}

// SnapshotBatcher is implemented by state managers that can stage snapshot
// writes in the monitor's ledger batch, so an anchor and its snapshot are
// persisted together. The returned functions publish the change in memory
// after the batch was written.
type SnapshotBatcher interface {
	WriteSnapshot(w ethdb.KeyValueWriter, l2Block, l1AnchorBlock uint64) (func(), error)
	DeleteSnapshot(w ethdb.KeyValueWriter, l1AnchorBlock uint64) (func(), error)
}

// NotificationCallback is invoked after every handled reorg, successful or
// not.
type NotificationCallback func(detection *types.ReorgDetectionResult, recovery *types.ReorgRecoveryResult)
