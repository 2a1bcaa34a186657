// Package reorg tracks the L1 chain an L2 is anchored to. It detects L1
// reorganizations, rewinds the L2 state to the last anchor below the fork and
// reports the transactions that need to be replayed.
package reorg

import (
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/cascoin/l2core/core/ledgerdb"
	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// txLogRecord is a logged transaction and its position in the log.
type txLogRecord struct {
	entry *types.L2TxLogEntry
	seq   uint64
}

// blockTxs lists the logged transactions of one L2 block in log order.
type blockTxs struct {
	number uint64
	txs    []common.Hash
}

func blockTxsLess(a, b *blockTxs) bool { return a.number < b.number }

// ReorgMonitor follows the L1 headers, the anchor points of the L2 and the L2
// transaction log of one chain.
type ReorgMonitor struct {
	config  Config
	chainID uint64
	log     log.Logger

	mu    sync.RWMutex
	state StateManager   // optional
	db    ledgerdb.Store // optional

	headers map[uint64]*types.L1BlockInfo
	tip     *types.L1BlockInfo

	anchors []*types.L2AnchorPoint // ascending L1 block number

	txLogs  map[common.Hash]*txLogRecord
	txIndex *btree.BTreeG[*blockTxs]
	txSeq   uint64

	callbacks []NotificationCallback
	halted    bool
}

// New creates a reorg monitor. The state manager and the ledger store are
// optional; without a store nothing is persisted.
func New(chainID uint64, config Config, state StateManager, db ledgerdb.Store) *ReorgMonitor {
	return &ReorgMonitor{
		config:  config.sanitize(),
		chainID: chainID,
		log:     log.New("chain", chainID),
		state:   state,
		db:      db,
		headers: make(map[uint64]*types.L1BlockInfo),
		txLogs:  make(map[common.Hash]*txLogRecord),
		txIndex: btree.NewG[*blockTxs](32, blockTxsLess),
	}
}

// ProcessL1Block ingests an L1 header and reports whether it reorganized the
// held chain. On a reorg the held chain is cut at the fork point and the new
// header becomes the tip; recovery is left to HandleReorg.
func (m *ReorgMonitor) ProcessL1Block(block *types.L1BlockInfo) *types.ReorgDetectionResult {
	if block == nil {
		return &types.ReorgDetectionResult{Err: errNilHeader}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.checkForReorg(block)
	switch {
	case m.tip == nil:
		m.setTip(block)

	case result.Detected:
		for number := range m.headers {
			if number >= result.ForkPoint {
				delete(m.headers, number)
			}
		}
		m.setTip(block)

		reorgDetectedCounter.Inc(1)
		reorgDepthGauge.Update(int64(result.Depth))
		m.log.Warn("L1 reorg detected", "fork", result.ForkPoint, "depth", result.Depth,
			"oldtip", result.OldTip.BlockHash, "newtip", block.BlockHash, "err", result.Err)

	case block.BlockNumber > m.tip.BlockNumber:
		if block.BlockNumber > m.tip.BlockNumber+1 {
			m.log.Warn("Gap in L1 headers", "tip", m.tip.BlockNumber, "number", block.BlockNumber)
		}
		m.setTip(block)

	default:
		// Older header the held chain has no entry for, e.g. below a reorg.
		if _, ok := m.headers[block.BlockNumber]; !ok && m.tip.BlockNumber-block.BlockNumber < m.config.HistoryRetention {
			m.headers[block.BlockNumber] = block.Copy()
		}
	}
	m.updateFinality(false)
	m.pruneHeaders()
	return result
}

// CheckForReorg compares a header with the held chain without changing
// anything.
func (m *ReorgMonitor) CheckForReorg(candidate *types.L1BlockInfo) *types.ReorgDetectionResult {
	if candidate == nil {
		return &types.ReorgDetectionResult{Err: errNilHeader}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkForReorg(candidate)
}

func (m *ReorgMonitor) checkForReorg(candidate *types.L1BlockInfo) *types.ReorgDetectionResult {
	result := new(types.ReorgDetectionResult)
	if m.tip == nil {
		return result
	}
	var (
		number = candidate.BlockNumber
		tip    = m.tip.BlockNumber
		fork   uint64
	)
	switch {
	case number > tip+1:
		// Gap, nothing to compare against.
		return result

	case number == tip+1:
		if candidate.ParentHash == m.tip.BlockHash {
			return result
		}
		fork = tip

	default:
		held, ok := m.headers[number]
		if !ok || held.BlockHash == candidate.BlockHash {
			return result
		}
		fork = number
		if number > 0 {
			if parent, ok := m.headers[number-1]; ok && parent.BlockHash != candidate.ParentHash {
				fork = number - 1
			}
		}
	}
	result.Detected = true
	result.ForkPoint = fork
	result.Depth = tip - fork + 1
	if held, ok := m.headers[fork]; ok {
		result.ForkPointHash = held.BlockHash
	}
	result.OldTip = m.tip.Copy()
	result.NewTip = candidate.Copy()
	if result.Depth > m.config.MaxReorgDepth {
		result.Err = ErrReorgTooDeep
	}
	return result
}

func (m *ReorgMonitor) setTip(block *types.L1BlockInfo) {
	tip := block.Copy()
	m.headers[tip.BlockNumber] = tip
	m.tip = tip
	l1TipGauge.Update(int64(tip.BlockNumber))
}

// pruneHeaders drops headers that fell out of the retention window.
func (m *ReorgMonitor) pruneHeaders() {
	if m.tip == nil || m.tip.BlockNumber < m.config.HistoryRetention {
		return
	}
	floor := m.tip.BlockNumber - m.config.HistoryRetention + 1
	for number := range m.headers {
		if number < floor {
			delete(m.headers, number)
		}
	}
}

// GetCurrentL1Tip returns the latest L1 header, or nil before the first one.
func (m *ReorgMonitor) GetCurrentL1Tip() *types.L1BlockInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tip.Copy()
}

// GetL1Block returns the held header at the given height with its
// confirmations counted from the current tip.
func (m *ReorgMonitor) GetL1Block(number uint64) *types.L1BlockInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	header, ok := m.headers[number]
	if !ok {
		return nil
	}
	cpy := header.Copy()
	cpy.Confirmations = m.tip.BlockNumber - number + 1
	return cpy
}

// FinalityDepth returns the number of confirmations that make an anchor
// final.
func (m *ReorgMonitor) FinalityDepth() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.FinalityDepth
}

// SetFinalityDepth changes the confirmations that make an anchor final and
// re-evaluates every anchor against the current tip. Raising the depth can
// take the final flag off an anchor, including one confirmed through
// UpdateAnchorFinalization.
func (m *ReorgMonitor) SetFinalityDepth(depth uint64) {
	if depth == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config.FinalityDepth = depth
	m.updateFinality(true)
}

// RegisterNotificationCallback adds a listener for handled reorgs.
func (m *ReorgMonitor) RegisterNotificationCallback(cb NotificationCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Stats is a point-in-time summary of the monitor.
type Stats struct {
	ChainID          uint64
	L1Tip            uint64
	HeadersTracked   int
	AnchorPoints     int
	FinalizedAnchors int
	TransactionLogs  int
	FinalityDepth    uint64
	Callbacks        int
	Halted           bool
}

func (m *ReorgMonitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		ChainID:         m.chainID,
		HeadersTracked:  len(m.headers),
		AnchorPoints:    len(m.anchors),
		TransactionLogs: len(m.txLogs),
		FinalityDepth:   m.config.FinalityDepth,
		Callbacks:       len(m.callbacks),
		Halted:          m.halted,
	}
	if m.tip != nil {
		stats.L1Tip = m.tip.BlockNumber
	}
	for _, anchor := range m.anchors {
		if anchor.Finalized {
			stats.FinalizedAnchors++
		}
	}
	return stats
}

// IsHealthy reports false when the monitor is halted or when the L1 chain
// advanced past the anchor interval without any anchor being recorded.
func (m *ReorgMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.halted {
		return false
	}
	if m.tip == nil {
		return true
	}
	return len(m.anchors) > 0 || m.tip.BlockNumber <= m.config.MinAnchorInterval
}

// Clear drops all in-memory state. The ledger is not touched.
func (m *ReorgMonitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.headers = make(map[uint64]*types.L1BlockInfo)
	m.tip = nil
	m.anchors = nil
	m.txLogs = make(map[common.Hash]*txLogRecord)
	m.txIndex.Clear(false)
	m.txSeq = 0
	m.halted = false

	anchorsGauge.Update(0)
	txLogGauge.Update(0)
	haltedGauge.Update(0)
}

// LoadLedger rebuilds the anchors and the transaction log from the ledger,
// typically right after a restart.
func (m *ReorgMonitor) LoadLedger() error {
	if m.db == nil {
		return ErrNoLedger
	}
	anchors, err := ledgerdb.ReadAllAnchors(m.db)
	if err != nil {
		return err
	}
	entries, positions, err := ledgerdb.ReadAllTxLogs(m.db)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.Slice(anchors, func(i, j int) bool { return anchors[i].L1BlockNumber < anchors[j].L1BlockNumber })
	m.anchors = anchors

	m.txLogs = make(map[common.Hash]*txLogRecord, len(entries))
	m.txIndex.Clear(false)
	m.txSeq = 0
	for i, entry := range entries {
		m.indexTx(entry, positions[i].Seq)
		if positions[i].Seq >= m.txSeq {
			m.txSeq = positions[i].Seq + 1
		}
	}
	anchorsGauge.Update(int64(len(m.anchors)))
	txLogGauge.Update(int64(len(m.txLogs)))
	m.log.Info("Loaded anchor ledger", "anchors", len(m.anchors), "txs", len(m.txLogs))
	return nil
}
