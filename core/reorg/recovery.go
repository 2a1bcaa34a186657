package reorg

import (
	"errors"

	"github.com/cascoin/l2core/core/types"
)

// HandleReorg recovers from a detected reorg: it collects the transactions
// that need replaying, rewinds the state to the last anchor below the fork
// point and drops the anchors above it. If no anchor survives the reorg, or
// the reorg is deeper than the monitor handles, the failure is fatal and the
// monitor halts until ResumeAfterRecovery is called. The notification
// callbacks are invoked in registration order in every case but the
// undetected one.
func (m *ReorgMonitor) HandleReorg(detection *types.ReorgDetectionResult) *types.ReorgRecoveryResult {
	if detection == nil || !detection.Detected {
		return &types.ReorgRecoveryResult{Err: ErrNoReorg}
	}
	m.mu.Lock()
	result := m.recover(detection)
	callbacks := append([]NotificationCallback(nil), m.callbacks...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(detection, copyRecovery(result))
	}
	return result
}

func (m *ReorgMonitor) recover(detection *types.ReorgDetectionResult) *types.ReorgRecoveryResult {
	if errors.Is(detection.Err, ErrReorgTooDeep) {
		m.halt(detection, ErrReorgTooDeep)
		return &types.ReorgRecoveryResult{Fatal: true, Err: ErrReorgTooDeep}
	}
	affected := m.affectedTransactions(detection.ForkPoint)

	anchor, err := m.revertToLastValidAnchor(detection.ForkPoint)
	switch {
	case errors.Is(err, ErrNoValidAnchor):
		m.halt(detection, err)
		return &types.ReorgRecoveryResult{Fatal: true, AffectedTransactions: affected, Err: err}

	case err != nil:
		m.log.Warn("Reorg recovery failed", "fork", detection.ForkPoint, "err", err)
		return &types.ReorgRecoveryResult{AffectedTransactions: affected, Err: err}
	}
	result := &types.ReorgRecoveryResult{
		Success:              true,
		Anchor:               anchor.Copy(),
		NewStateRoot:         anchor.L2StateRoot,
		NewL2BlockNumber:     anchor.L2BlockNumber,
		AffectedTransactions: affected,
	}
	if m.state != nil {
		result.NewStateRoot = m.state.GetStateRoot()
		result.NewL2BlockNumber = m.state.GetBlockNumber()
	}
	m.log.Info("Recovered from L1 reorg", "fork", detection.ForkPoint, "depth", detection.Depth,
		"l2", result.NewL2BlockNumber, "root", result.NewStateRoot, "replay", len(affected))
	return result
}

// halt stops anchoring until an operator intervenes.
func (m *ReorgMonitor) halt(detection *types.ReorgDetectionResult, err error) {
	m.halted = true
	haltedGauge.Update(1)
	fatalCounter.Inc(1)
	m.log.Error("Unrecoverable L1 reorg, halting", "fork", detection.ForkPoint, "depth", detection.Depth,
		"anchors", len(m.anchors), "err", err)
}

// Halted reports whether an unrecoverable reorg stopped the monitor.
func (m *ReorgMonitor) Halted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// ResumeAfterRecovery clears the halted state once the L2 was repaired out
// of band.
func (m *ReorgMonitor) ResumeAfterRecovery() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.halted {
		return
	}
	m.halted = false
	haltedGauge.Update(0)
	m.log.Warn("Resuming after manual recovery")
}

func copyRecovery(r *types.ReorgRecoveryResult) *types.ReorgRecoveryResult {
	cpy := *r
	cpy.Anchor = r.Anchor.Copy()
	if r.AffectedTransactions != nil {
		cpy.AffectedTransactions = append(cpy.AffectedTransactions[:0:0], r.AffectedTransactions...)
	}
	return &cpy
}
