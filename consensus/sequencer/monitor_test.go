package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
)

func TestEquivocationMonitor(t *testing.T) {
	m := NewEquivocationMonitor()
	voter := common.HexToAddress("0x1234")
	vote := func(slot uint64, hash string) *types.SequencerVote {
		return &types.SequencerVote{VoterAddress: voter, SlotNumber: slot, BlockHash: common.HexToHash(hash)}
	}

	assert.False(t, m.ConflictDetect(vote(1, "0x01")))
	assert.False(t, m.ConflictDetect(vote(1, "0x01")))
	assert.False(t, m.ConflictDetect(vote(2, "0x02")))
	assert.True(t, m.ConflictDetect(vote(1, "0x03")))

	// Another voter on the same slot is not a conflict.
	other := vote(1, "0x04")
	other.VoterAddress = common.HexToAddress("0x5678")
	assert.False(t, m.ConflictDetect(other))
}
