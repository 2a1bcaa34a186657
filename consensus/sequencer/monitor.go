package sequencer

import (
	"encoding/json"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/log"
)

const maxSizeOfRecentSlots = 512

// equivocationEvidence is the pair of conflicting votes logged when a
// sequencer signs two different blocks for the same slot.
type equivocationEvidence struct {
	Voter  common.Address       `json:"voter"`
	Slot   uint64               `json:"slot"`
	First  *types.SequencerVote `json:"first"`
	Second *types.SequencerVote `json:"second"`
}

// EquivocationMonitor watches accepted votes for sequencers voting on two
// different blocks in one slot. It only reports, it does not punish.
type EquivocationMonitor struct {
	curVotes map[common.Address]*lru.Cache[uint64, *types.SequencerVote]
}

func NewEquivocationMonitor() *EquivocationMonitor {
	return &EquivocationMonitor{
		curVotes: make(map[common.Address]*lru.Cache[uint64, *types.SequencerVote]),
	}
}

// ConflictDetect records the vote and reports whether the voter already
// voted for a different block in the same slot.
func (m *EquivocationMonitor) ConflictDetect(newVote *types.SequencerVote) bool {
	if _, ok := m.curVotes[newVote.VoterAddress]; !ok {
		m.curVotes[newVote.VoterAddress] = lru.NewCache[uint64, *types.SequencerVote](maxSizeOfRecentSlots)
	}
	slots := m.curVotes[newVote.VoterAddress]

	prev, ok := slots.Get(newVote.SlotNumber)
	if !ok {
		slots.Add(newVote.SlotNumber, newVote)
		return false
	}
	if prev.BlockHash == newVote.BlockHash {
		return false
	}
	equivocationCounter.Inc(1)
	evidence := &equivocationEvidence{
		Voter:  newVote.VoterAddress,
		Slot:   newVote.SlotNumber,
		First:  prev,
		Second: newVote,
	}
	if evidenceJson, err := json.Marshal(evidence); err == nil {
		log.Warn("Equivocating sequencer vote", "evidence", string(evidenceJson))
	} else {
		log.Warn("Equivocating sequencer vote, marshal evidence failed", "voter", newVote.VoterAddress, "slot", newVote.SlotNumber)
	}
	return true
}
