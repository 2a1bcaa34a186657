package reorg

import (
	"github.com/pkg/errors"

	"github.com/cascoin/l2core/core/ledgerdb"
	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
)

// LogTransaction records an executed L2 transaction for replay after a
// reorg. Logging a hash again replaces the earlier entry. When the log grows
// beyond its bound the oldest L2 block is dropped.
func (m *ReorgMonitor) LogTransaction(entry *types.L2TxLogEntry) error {
	if entry == nil {
		return errNilTxLog
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var batch ethdb.Batch
	if m.db != nil {
		batch = m.db.NewBatch()
	}
	old, replaced := m.txLogs[entry.TxHash]
	if replaced && batch != nil {
		if err := ledgerdb.DeleteTxLog(batch, old.position()); err != nil {
			return err
		}
	}
	seq := m.txSeq
	cpy := entry.Copy()
	if batch != nil {
		if err := ledgerdb.WriteTxLog(batch, seq, cpy); err != nil {
			return err
		}
		if err := batch.Write(); err != nil {
			return errors.Wrapf(err, "failed to log transaction %s", entry.TxHash)
		}
	}
	if replaced {
		m.unindexTx(old)
	}
	m.indexTx(cpy, seq)
	m.txSeq++

	if len(m.txLogs) > m.config.MaxTxLogSize && m.txIndex.Len() > 1 {
		oldest, _ := m.txIndex.Min()
		m.pruneTransactionLogs(oldest.number + 1)
	}
	txLogGauge.Update(int64(len(m.txLogs)))
	return nil
}

func (r *txLogRecord) position() ledgerdb.TxLogIndexEntry {
	return ledgerdb.TxLogIndexEntry{L2BlockNumber: r.entry.L2BlockNumber, Seq: r.seq, TxHash: r.entry.TxHash}
}

// indexTx adds an entry to the hash map and the block index.
func (m *ReorgMonitor) indexTx(entry *types.L2TxLogEntry, seq uint64) {
	m.txLogs[entry.TxHash] = &txLogRecord{entry: entry, seq: seq}

	block, ok := m.txIndex.Get(&blockTxs{number: entry.L2BlockNumber})
	if !ok {
		block = &blockTxs{number: entry.L2BlockNumber}
		m.txIndex.ReplaceOrInsert(block)
	}
	block.txs = append(block.txs, entry.TxHash)
}

// unindexTx removes an entry from the hash map and the block index.
func (m *ReorgMonitor) unindexTx(record *txLogRecord) {
	delete(m.txLogs, record.entry.TxHash)

	block, ok := m.txIndex.Get(&blockTxs{number: record.entry.L2BlockNumber})
	if !ok {
		return
	}
	for i, hash := range block.txs {
		if hash == record.entry.TxHash {
			block.txs = append(block.txs[:i:i], block.txs[i+1:]...)
			break
		}
	}
	if len(block.txs) == 0 {
		m.txIndex.Delete(block)
	}
}

// GetTransactionLog returns the logged entry of a transaction, or nil.
func (m *ReorgMonitor) GetTransactionLog(hash common.Hash) *types.L2TxLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if record, ok := m.txLogs[hash]; ok {
		return record.entry.Copy()
	}
	return nil
}

// GetTransactionsInRange returns the logged entries of L2 blocks lo through
// hi inclusive, ordered by block and then log order.
func (m *ReorgMonitor) GetTransactionsInRange(lo, hi uint64) []*types.L2TxLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*types.L2TxLogEntry
	if lo > hi {
		return entries
	}
	m.txIndex.AscendGreaterOrEqual(&blockTxs{number: lo}, func(block *blockTxs) bool {
		if block.number > hi {
			return false
		}
		for _, hash := range block.txs {
			entries = append(entries, m.txLogs[hash].entry.Copy())
		}
		return true
	})
	return entries
}

// GetTransactionsForReplay returns the logged entries from the given L2 block
// onwards in replay order.
func (m *ReorgMonitor) GetTransactionsForReplay(fromL2Block uint64) []*types.L2TxLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []*types.L2TxLogEntry
	m.txIndex.AscendGreaterOrEqual(&blockTxs{number: fromL2Block}, func(block *blockTxs) bool {
		for _, hash := range block.txs {
			entries = append(entries, m.txLogs[hash].entry.Copy())
		}
		return true
	})
	return entries
}

// PruneTransactionLogs drops the entries of every L2 block below the given
// one and returns how many were removed.
func (m *ReorgMonitor) PruneTransactionLogs(before uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := m.pruneTransactionLogs(before)
	txLogGauge.Update(int64(len(m.txLogs)))
	return pruned
}

func (m *ReorgMonitor) pruneTransactionLogs(before uint64) int {
	var blocks []*blockTxs
	m.txIndex.AscendLessThan(&blockTxs{number: before}, func(block *blockTxs) bool {
		blocks = append(blocks, block)
		return true
	})
	if len(blocks) == 0 {
		return 0
	}
	if m.db != nil {
		batch := m.db.NewBatch()
		for _, block := range blocks {
			for _, hash := range block.txs {
				if err := ledgerdb.DeleteTxLog(batch, m.txLogs[hash].position()); err != nil {
					m.log.Warn("Failed to prune transaction log", "number", block.number, "err", err)
					return 0
				}
			}
		}
		if err := batch.Write(); err != nil {
			m.log.Warn("Failed to prune transaction log", "before", before, "err", err)
			return 0
		}
	}
	pruned := 0
	for _, block := range blocks {
		for _, hash := range block.txs {
			delete(m.txLogs, hash)
			pruned++
		}
		m.txIndex.Delete(block)
	}
	m.log.Debug("Pruned transaction log", "before", before, "count", pruned)
	return pruned
}

// GetAffectedTransactions returns the hashes of the logged transactions that
// a reorg at the given L1 height invalidates: those above the L2 block of
// the last anchor below it, or all of them without such an anchor.
func (m *ReorgMonitor) GetAffectedTransactions(forkPoint uint64) []common.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.affectedTransactions(forkPoint)
}

func (m *ReorgMonitor) affectedTransactions(forkPoint uint64) []common.Hash {
	var from uint64
	if i := m.lastValidAnchor(forkPoint); i >= 0 {
		from = m.anchors[i].L2BlockNumber + 1
		if from == 0 {
			// Anchor at the highest representable block.
			return nil
		}
	}
	var hashes []common.Hash
	m.txIndex.AscendGreaterOrEqual(&blockTxs{number: from}, func(block *blockTxs) bool {
		hashes = append(hashes, block.txs...)
		return true
	})
	return hashes
}
