package reorg

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/cascoin/l2core/core/ledgerdb"
	"github.com/cascoin/l2core/core/types"
)

// AddAnchorPoint records that an L2 block was committed in an L1 block. The
// anchors form an append-only sequence ordered by L1 height. A snapshot of
// the L2 state is taken for the anchor and, with a ledger configured, both
// are persisted in one batch.
func (m *ReorgMonitor) AddAnchorPoint(anchor *types.L2AnchorPoint) error {
	if anchor == nil {
		return errNilAnchor
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		return ErrChainHalted
	}
	if n := len(m.anchors); n > 0 && anchor.L1BlockNumber <= m.anchors[n-1].L1BlockNumber {
		return errors.Wrapf(ErrAnchorOutOfOrder, "anchor %d, latest %d", anchor.L1BlockNumber, m.anchors[n-1].L1BlockNumber)
	}
	cpy := anchor.Copy()
	if m.isFinalized(cpy.L1BlockNumber) {
		cpy.Finalized = true
	}
	if err := m.persistAnchor(cpy); err != nil {
		return err
	}
	m.anchors = append(m.anchors, cpy)
	m.pruneAnchors()
	anchorsGauge.Update(int64(len(m.anchors)))

	m.log.Debug("Added anchor point", "l1", cpy.L1BlockNumber, "l2", cpy.L2BlockNumber, "root", cpy.L2StateRoot)
	return nil
}

// persistAnchor writes the anchor and takes its state snapshot. When both the
// ledger and a snapshot batcher are available they share one batch and the
// snapshot is only published after the batch was written.
func (m *ReorgMonitor) persistAnchor(anchor *types.L2AnchorPoint) error {
	batcher, canBatch := m.state.(SnapshotBatcher)
	if m.db == nil || !canBatch {
		if m.db != nil {
			if err := ledgerdb.WriteAnchor(m.db, anchor); err != nil {
				return err
			}
		}
		if m.state != nil {
			m.state.CreateSnapshot(anchor.L2BlockNumber, anchor.L1BlockNumber)
		}
		return nil
	}
	batch := m.db.NewBatch()
	if err := ledgerdb.WriteAnchor(batch, anchor); err != nil {
		return err
	}
	commit, err := batcher.WriteSnapshot(batch, anchor.L2BlockNumber, anchor.L1BlockNumber)
	if err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return errors.Wrapf(err, "failed to persist anchor %d", anchor.L1BlockNumber)
	}
	commit()
	return nil
}

// pruneAnchors drops the oldest finalized anchors beyond the configured
// maximum. Anchors that are not final yet are always kept.
func (m *ReorgMonitor) pruneAnchors() {
	excess := len(m.anchors) - m.config.MaxAnchorPoints
	if excess <= 0 {
		return
	}
	var drop []*types.L2AnchorPoint
	kept := m.anchors[:0:0]
	for _, anchor := range m.anchors {
		if excess > 0 && anchor.Finalized {
			drop = append(drop, anchor)
			excess--
			continue
		}
		kept = append(kept, anchor)
	}
	if len(drop) == 0 {
		return
	}
	if err := m.dropAnchors(drop); err != nil {
		m.log.Warn("Failed to prune anchor points", "count", len(drop), "err", err)
		return
	}
	m.anchors = kept
}

// dropAnchors removes anchors and their snapshots from the ledger in one
// batch. The in-memory anchor list is left to the caller.
func (m *ReorgMonitor) dropAnchors(anchors []*types.L2AnchorPoint) error {
	if m.db == nil || len(anchors) == 0 {
		return nil
	}
	batcher, _ := m.state.(SnapshotBatcher)

	batch := m.db.NewBatch()
	var commits []func()
	for _, anchor := range anchors {
		if err := ledgerdb.DeleteAnchor(batch, anchor.L1BlockNumber); err != nil {
			return err
		}
		if batcher != nil {
			commit, err := batcher.DeleteSnapshot(batch, anchor.L1BlockNumber)
			if err != nil {
				return err
			}
			commits = append(commits, commit)
		}
	}
	if err := batch.Write(); err != nil {
		return errors.Wrap(err, "failed to delete anchor points")
	}
	for _, commit := range commits {
		commit()
	}
	return nil
}

// isFinalized reports whether an L1 height has enough confirmations.
func (m *ReorgMonitor) isFinalized(l1Number uint64) bool {
	if m.tip == nil || m.tip.BlockNumber < l1Number {
		return false
	}
	return m.tip.BlockNumber-l1Number+1 >= m.config.FinalityDepth
}

// updateFinality flags anchors that became final. With reset set, flags of
// anchors short of the finality depth are cleared as well.
func (m *ReorgMonitor) updateFinality(reset bool) {
	for _, anchor := range m.anchors {
		final := m.isFinalized(anchor.L1BlockNumber)
		if anchor.Finalized == final || (anchor.Finalized && !reset) {
			continue
		}
		anchor.Finalized = final
		if m.db != nil {
			if err := ledgerdb.WriteAnchor(m.db, anchor); err != nil {
				m.log.Warn("Failed to persist anchor finality", "l1", anchor.L1BlockNumber, "err", err)
			}
		}
	}
}

// IsAnchorFinalized reports whether an anchor exists at the L1 height and
// has reached the finality depth.
func (m *ReorgMonitor) IsAnchorFinalized(l1Number uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	anchor := m.anchorAt(l1Number)
	return anchor != nil && (anchor.Finalized || m.isFinalized(l1Number))
}

func (m *ReorgMonitor) anchorAt(l1Number uint64) *types.L2AnchorPoint {
	i := sort.Search(len(m.anchors), func(i int) bool { return m.anchors[i].L1BlockNumber >= l1Number })
	if i < len(m.anchors) && m.anchors[i].L1BlockNumber == l1Number {
		return m.anchors[i]
	}
	return nil
}

// lastValidAnchor returns the index of the highest anchor strictly below the
// L1 height, or -1.
func (m *ReorgMonitor) lastValidAnchor(before uint64) int {
	return sort.Search(len(m.anchors), func(i int) bool { return m.anchors[i].L1BlockNumber >= before }) - 1
}

// GetLastValidAnchor returns the highest anchor with an L1 height below the
// given one, or nil.
func (m *ReorgMonitor) GetLastValidAnchor(before uint64) *types.L2AnchorPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.lastValidAnchor(before); i >= 0 {
		return m.anchors[i].Copy()
	}
	return nil
}

// GetAnchorPoints returns copies of all anchors in ascending L1 order.
func (m *ReorgMonitor) GetAnchorPoints() []*types.L2AnchorPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	anchors := make([]*types.L2AnchorPoint, len(m.anchors))
	for i, anchor := range m.anchors {
		anchors[i] = anchor.Copy()
	}
	return anchors
}

// GetLatestFinalizedAnchor returns the highest final anchor, or nil.
func (m *ReorgMonitor) GetLatestFinalizedAnchor() *types.L2AnchorPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.anchors) - 1; i >= 0; i-- {
		if m.anchors[i].Finalized {
			return m.anchors[i].Copy()
		}
	}
	return nil
}

// UpdateAnchorFinalization flags the anchor at the L1 height as final if the
// reported confirmations reach the finality depth.
func (m *ReorgMonitor) UpdateAnchorFinalization(l1Number uint64, confirmations uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	anchor := m.anchorAt(l1Number)
	if anchor == nil || anchor.Finalized || confirmations < m.config.FinalityDepth {
		return
	}
	anchor.Finalized = true
	if m.db != nil {
		if err := ledgerdb.WriteAnchor(m.db, anchor); err != nil {
			m.log.Warn("Failed to persist anchor finality", "l1", l1Number, "err", err)
		}
	}
}

// RevertToLastValidAnchor rewinds the L2 state to the highest anchor below
// the fork point and drops every anchor at or above it. Calling it again for
// the same fork point is a no-op that returns the same anchor, and retrying
// after a failure finishes the revert.
func (m *ReorgMonitor) RevertToLastValidAnchor(forkPoint uint64) (*types.L2AnchorPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	anchor, err := m.revertToLastValidAnchor(forkPoint)
	if err != nil {
		return nil, err
	}
	return anchor.Copy(), nil
}

func (m *ReorgMonitor) revertToLastValidAnchor(forkPoint uint64) (*types.L2AnchorPoint, error) {
	i := m.lastValidAnchor(forkPoint)
	if i < 0 {
		return nil, ErrNoValidAnchor
	}
	anchor := m.anchors[i]

	// Anchors at or above the fork point are gone from the ledger before the
	// state moves, so a failed write leaves both untouched.
	if stale := m.anchors[i+1:]; len(stale) > 0 {
		if err := m.dropAnchors(stale); err != nil {
			return nil, err
		}
		m.anchors = m.anchors[:i+1]
		anchorsGauge.Update(int64(len(m.anchors)))
	}
	if m.state != nil {
		current := m.state.GetBlockNumber() == anchor.L2BlockNumber && m.state.GetStateRoot() == anchor.L2StateRoot
		if !current && !m.state.RevertToSnapshot(anchor) {
			return nil, errors.Wrapf(ErrRevertFailed, "anchor %d", anchor.L1BlockNumber)
		}
	}
	revertCounter.Inc(1)
	m.log.Info("Reverted to anchor point", "fork", forkPoint, "l1", anchor.L1BlockNumber,
		"l2", anchor.L2BlockNumber, "root", anchor.L2StateRoot)
	return anchor, nil
}
