// Package l2state keeps the current L2 state root and the snapshots taken at
// anchor points, so the state can be rewound after an L1 reorg.
package l2state

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/cascoin/l2core/core/ledgerdb"
	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
)

// rootHistory is how many recent block roots are remembered for snapshots
// of blocks older than the head.
const rootHistory = 1024

// Manager tracks the L2 head state and its anchor snapshots. It implements
// the state manager and snapshot batcher interfaces of the reorg monitor.
type Manager struct {
	mu sync.RWMutex

	db        ledgerdb.Store // optional
	root      common.Hash
	number    uint64
	roots     lru.BasicLRU[uint64, common.Hash]
	snapshots map[uint64]*types.StateSnapshot // keyed by L1 anchor block
}

// NewManager creates a state manager, loading persisted snapshots from db.
// A nil db keeps snapshots in memory only.
func NewManager(db ledgerdb.Store) (*Manager, error) {
	m := &Manager{
		db:        db,
		roots:     lru.NewBasicLRU[uint64, common.Hash](rootHistory),
		snapshots: make(map[uint64]*types.StateSnapshot),
	}
	if db == nil {
		return m, nil
	}
	snaps, err := ledgerdb.ReadAllSnapshots(db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load state snapshots")
	}
	for _, snap := range snaps {
		m.snapshots[snap.L1AnchorBlock] = snap
	}
	if n := len(snaps); n > 0 {
		latest := snaps[n-1]
		m.root, m.number = latest.StateRoot, latest.L2BlockNumber
		m.roots.Add(latest.L2BlockNumber, latest.StateRoot)
		log.Info("Loaded L2 state snapshots", "count", n, "number", m.number, "root", m.root)
	}
	return m, nil
}

// SetState advances the head to the given block.
func (m *Manager) SetState(number uint64, root common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.number, m.root = number, root
	m.roots.Add(number, root)
}

func (m *Manager) GetStateRoot() common.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

func (m *Manager) GetBlockNumber() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.number
}

// snapshotFor builds the snapshot record of an L2 block. The root is the one
// recorded for that block, or the head root if the block is unknown.
func (m *Manager) snapshotFor(l2Block, l1AnchorBlock uint64) *types.StateSnapshot {
	root, ok := m.roots.Peek(l2Block)
	if !ok {
		root = m.root
	}
	return &types.StateSnapshot{
		L1AnchorBlock: l1AnchorBlock,
		L2BlockNumber: l2Block,
		StateRoot:     root,
	}
}

// CreateSnapshot records and persists a snapshot of the L2 block for the
// given anchor.
func (m *Manager) CreateSnapshot(l2Block, l1AnchorBlock uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotFor(l2Block, l1AnchorBlock)
	if m.db != nil {
		if err := ledgerdb.WriteSnapshot(m.db, snap); err != nil {
			log.Error("Failed to persist state snapshot", "l1", l1AnchorBlock, "l2", l2Block, "err", err)
			return
		}
	}
	m.snapshots[l1AnchorBlock] = snap
}

// WriteSnapshot puts the snapshot record into w without making it visible.
// The returned commit function publishes it once w has been written.
func (m *Manager) WriteSnapshot(w ethdb.KeyValueWriter, l2Block, l1AnchorBlock uint64) (func(), error) {
	m.mu.RLock()
	snap := m.snapshotFor(l2Block, l1AnchorBlock)
	m.mu.RUnlock()

	if err := ledgerdb.WriteSnapshot(w, snap); err != nil {
		return nil, err
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.snapshots[l1AnchorBlock] = snap
	}, nil
}

// DeleteSnapshot puts the removal of a snapshot into w. The returned commit
// function drops it from memory once w has been written.
func (m *Manager) DeleteSnapshot(w ethdb.KeyValueWriter, l1AnchorBlock uint64) (func(), error) {
	if err := ledgerdb.DeleteSnapshot(w, l1AnchorBlock); err != nil {
		return nil, err
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.snapshots, l1AnchorBlock)
	}, nil
}

// RevertToSnapshot rewinds the head to the anchor's snapshot. It refuses if
// no snapshot was taken for the anchor or if it disagrees with the anchor.
func (m *Manager) RevertToSnapshot(anchor *types.L2AnchorPoint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[anchor.L1BlockNumber]
	if !ok {
		log.Warn("No state snapshot for anchor", "l1", anchor.L1BlockNumber, "l2", anchor.L2BlockNumber)
		return false
	}
	if snap.L2BlockNumber != anchor.L2BlockNumber || snap.StateRoot != anchor.L2StateRoot {
		log.Error("State snapshot does not match anchor", "l1", anchor.L1BlockNumber,
			"snapshot", snap.StateRoot, "anchor", anchor.L2StateRoot)
		return false
	}
	m.number, m.root = snap.L2BlockNumber, snap.StateRoot

	// Blocks above the snapshot belong to the abandoned branch.
	for _, number := range m.roots.Keys() {
		if number > snap.L2BlockNumber {
			m.roots.Remove(number)
		}
	}
	m.roots.Add(snap.L2BlockNumber, snap.StateRoot)
	return true
}

// Snapshot returns the snapshot taken for the anchor at the L1 height.
func (m *Manager) Snapshot(l1AnchorBlock uint64) *types.StateSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[l1AnchorBlock]
	if !ok {
		return nil
	}
	cpy := *snap
	return &cpy
}
