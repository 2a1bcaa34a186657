// Package node wires the sequencer consensus engine, the L2 state and the
// reorg monitor of one L2 chain onto a shared anchor ledger.
package node

import (
	"errors"
	"sync"

	"github.com/gofrs/flock"
	perrors "github.com/pkg/errors"

	"github.com/cascoin/l2core/consensus/sequencer"
	"github.com/cascoin/l2core/core/l2state"
	"github.com/cascoin/l2core/core/ledgerdb"
	"github.com/cascoin/l2core/core/reorg"
	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

var (
	// ErrUnknownBlock is returned when anchoring a block that was not
	// finalized by the engine.
	ErrUnknownBlock = errors.New("block not finalized")

	ErrNodeClosed = errors.New("node closed")
)

// Node is the safety core of one L2 chain.
type Node struct {
	config Config
	log    log.Logger

	db      ledgerdb.Store
	dirLock *flock.Flock // nil for the in-memory ledger
	state   *l2state.Manager
	monitor *reorg.ReorgMonitor
	engine  *sequencer.SequencerConsensus

	lock   sync.Mutex
	closed bool
}

// New opens the ledger and builds the engine, state manager and reorg
// monitor on top of it. Persisted anchors, the transaction log and an open
// consensus round are restored.
func New(cfg *Config, weights sequencer.WeightProvider) (n *Node, err error) {
	var dirLock *flock.Flock
	if cfg.Ledger.Path != "" && cfg.Ledger.Backend != BackendMemory {
		if dirLock, err = lockLedger(cfg.Ledger.Path); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				dirLock.Unlock()
			}
		}()
	}
	db, err := openLedger(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()
	state, err := l2state.NewManager(db)
	if err != nil {
		return nil, err
	}
	monitor := reorg.New(cfg.Consensus.ChainID, cfg.Reorg, state, db)
	if err = monitor.LoadLedger(); err != nil {
		return nil, perrors.Wrap(err, "failed to load anchor ledger")
	}
	engine, err := sequencer.New(cfg.Consensus, weights)
	if err != nil {
		return nil, err
	}
	n = &Node{
		config:  *cfg,
		log:     log.New("chain", cfg.Consensus.ChainID),
		db:      db,
		dirLock: dirLock,
		state:   state,
		monitor: monitor,
		engine:  engine,
	}
	engine.RegisterConsensusCallback(n.applyFinalized)
	monitor.RegisterNotificationCallback(n.onReorg)

	if _, err := engine.RestoreFromJournal(); err != nil {
		n.log.Warn("Failed to restore consensus round", "err", err)
	}

	n.log.Info("Started L2 safety node", "backend", cfg.Ledger.Backend, "head", state.GetBlockNumber(),
		"root", state.GetStateRoot(), "anchors", len(monitor.GetAnchorPoints()))
	return n, nil
}

// applyFinalized moves the L2 head to a finalized block and logs its
// transactions for replay.
func (n *Node) applyFinalized(block *types.ConsensusBlock) {
	proposal := block.Proposal
	if n.monitor.Halted() {
		n.log.Error("Refusing finalized block while halted", "number", proposal.BlockNumber, "hash", block.Hash())
		return
	}
	n.state.SetState(proposal.BlockNumber, proposal.StateRoot)

	var l1 uint64
	if tip := n.monitor.GetCurrentL1Tip(); tip != nil {
		l1 = tip.BlockNumber
	}
	for _, hash := range proposal.TransactionHashes {
		err := n.monitor.LogTransaction(&types.L2TxLogEntry{
			TxHash:        hash,
			L2BlockNumber: proposal.BlockNumber,
			L1AnchorBlock: l1,
			Timestamp:     proposal.Timestamp,
			Success:       true,
		})
		if err != nil {
			n.log.Error("Failed to log transaction", "number", proposal.BlockNumber, "hash", hash, "err", err)
		}
	}
	n.log.Info("Applied finalized block", "number", proposal.BlockNumber, "hash", block.Hash(),
		"root", proposal.StateRoot, "txs", len(proposal.TransactionHashes))
}

// onReorg halts block production once the monitor halted. The open round
// is abandoned with it.
func (n *Node) onReorg(detection *types.ReorgDetectionResult, recovery *types.ReorgRecoveryResult) {
	if !recovery.Fatal {
		return
	}
	n.log.Error("Halting block production after fatal reorg", "fork", detection.ForkPoint, "depth", detection.Depth, "err", recovery.Err)
	n.engine.Halt()
}

// ResumeAfterRecovery restarts anchoring and block production once the L2
// state was repaired out of band.
func (n *Node) ResumeAfterRecovery() {
	n.monitor.ResumeAfterRecovery()
	n.engine.Resume()
}

// AnchorFinalizedBlock records that a finalized L2 block was committed in
// the given L1 block.
func (n *Node) AnchorFinalizedBlock(blockHash common.Hash, l1Number uint64, l1Hash, batchHash common.Hash) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	block := n.engine.GetFinalizedBlock(blockHash)
	if block == nil {
		return perrors.Wrapf(ErrUnknownBlock, "hash %s", blockHash)
	}
	return n.monitor.AddAnchorPoint(&types.L2AnchorPoint{
		L1BlockNumber: l1Number,
		L1BlockHash:   l1Hash,
		L2BlockNumber: block.Proposal.BlockNumber,
		L2StateRoot:   block.Proposal.StateRoot,
		BatchHash:     batchHash,
		Timestamp:     block.Proposal.Timestamp,
	})
}

// IngestL1Header feeds an L1 header to the reorg monitor and recovers from a
// reorg it reveals. The recovery result is nil when no reorg was detected.
func (n *Node) IngestL1Header(header *types.L1BlockInfo) (*types.ReorgDetectionResult, *types.ReorgRecoveryResult) {
	detection := n.monitor.ProcessL1Block(header)
	if !detection.Detected {
		return detection, nil
	}
	return detection, n.monitor.HandleReorg(detection)
}

// Engine returns the consensus engine.
func (n *Node) Engine() *sequencer.SequencerConsensus { return n.engine }

// Monitor returns the reorg monitor.
func (n *Node) Monitor() *reorg.ReorgMonitor { return n.monitor }

// State returns the L2 state manager.
func (n *Node) State() *l2state.Manager { return n.state }

// Halted reports whether an unrecoverable reorg stopped the chain.
func (n *Node) Halted() bool { return n.monitor.Halted() }

// Close shuts the engine journal and the ledger down.
func (n *Node) Close() error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	n.closed = true

	var errs []error
	if err := n.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := n.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if n.dirLock != nil {
		if err := n.dirLock.Unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
