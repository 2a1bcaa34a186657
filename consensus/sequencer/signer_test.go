package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
)

func TestSignerAndVerify(t *testing.T) {
	signers, weights := newTestSigners(t, 5, 7)

	p := &types.L2BlockProposal{BlockNumber: 0, ChainID: testChainID}
	require.NoError(t, signers[0].SignProposal(p))
	assert.Equal(t, signers[0].Address(), p.ProposerAddress)
	assert.True(t, weights.VerifySignature(p.ProposerAddress, p.SigningHash(), p.Signature))
	assert.False(t, weights.VerifySignature(signers[1].Address(), p.SigningHash(), p.Signature))
	assert.False(t, weights.VerifySignature(p.ProposerAddress, p.SigningHash(), p.Signature[:64]))
	assert.False(t, weights.VerifySignature(p.ProposerAddress, common.Hash{}, p.Signature))
}

func TestStaticWeights(t *testing.T) {
	a, b, c := common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03")
	w := NewStaticWeights(map[common.Address]uint64{b: 20, a: 10, c: 0})

	assert.Equal(t, uint64(30), w.GetTotalRegisteredWeight())
	assert.Equal(t, uint64(10), w.GetWeight(a))
	assert.Zero(t, w.GetWeight(c))
	assert.Equal(t, []common.Address{a, b}, w.Sequencers())

	leader, ok := w.LeaderForSlot(0)
	assert.True(t, ok)
	assert.Equal(t, a, leader)
	leader, _ = w.LeaderForSlot(3)
	assert.Equal(t, b, leader)

	_, ok = NewStaticWeights(nil).LeaderForSlot(1)
	assert.False(t, ok)
}
