package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// ReorgDetectionResult describes the outcome of comparing an L1 header with
// the held chain.
type ReorgDetectionResult struct {
	Detected      bool
	Depth         uint64
	ForkPoint     uint64      // first discarded L1 height
	ForkPointHash common.Hash // hash held at ForkPoint before the reorg
	OldTip        *L1BlockInfo
	NewTip        *L1BlockInfo
	Err           error
}

// ReorgRecoveryResult describes the outcome of handling a detected reorg.
type ReorgRecoveryResult struct {
	Success              bool
	Fatal                bool
	Anchor               *L2AnchorPoint
	NewStateRoot         common.Hash
	NewL2BlockNumber     uint64
	AffectedTransactions []common.Hash
	Err                  error
}
