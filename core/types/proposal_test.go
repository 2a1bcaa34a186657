package types

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProposalValidateStructure(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name   string
		modify func(p *L2BlockProposal)
		err    error
	}{
		{"valid", func(p *L2BlockProposal) {}, nil},
		{"genesis without parent", func(p *L2BlockProposal) { p.BlockNumber, p.ParentHash = 0, common.Hash{} }, nil},
		{"missing parent", func(p *L2BlockProposal) { p.ParentHash = common.Hash{} }, ErrMissingParent},
		{"missing proposer", func(p *L2BlockProposal) { p.ProposerAddress = common.Address{} }, ErrMissingProposer},
		{"gas overflow", func(p *L2BlockProposal) { p.GasUsed = p.GasLimit + 1 }, ErrGasUsedExceedsLimit},
		{"skew boundary", func(p *L2BlockProposal) { p.Timestamp = uint64(now.Unix()) + 60 }, nil},
		{"future", func(p *L2BlockProposal) { p.Timestamp = uint64(now.Unix()) + 61 }, ErrFutureTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProposal()
			p.Timestamp = uint64(now.Unix())
			tt.modify(p)
			err := p.ValidateStructure(now)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestProposalHash(t *testing.T) {
	p := testProposal()
	h := p.Hash()

	// Signature and the explicit tx list are outside the hash.
	p.Signature = []byte{9, 9, 9}
	p.TransactionHashes = nil
	assert.Equal(t, h, p.Hash())
	assert.Equal(t, h, p.SigningHash())

	p.StateRoot = common.HexToHash("0xdead")
	assert.NotEqual(t, h, p.Hash())
}

func TestVoteHashes(t *testing.T) {
	v := testVote(VoteAccept)
	signing, exact := v.SigningHash(), v.Hash()

	v.Signature = []byte{7}
	assert.Equal(t, signing, v.SigningHash())
	assert.NotEqual(t, exact, v.Hash())

	v.Vote = VoteReject
	assert.NotEqual(t, signing, v.SigningHash())
}

func TestCopyIsDeep(t *testing.T) {
	p := testProposal()
	cpy := p.Copy()
	require.Equal(t, p, cpy)
	cpy.Signature[0] = 0xff
	cpy.TransactionHashes[0] = common.Hash{}
	assert.Equal(t, byte(1), p.Signature[0])
	assert.Equal(t, common.HexToHash("0xaa"), p.TransactionHashes[0])

	e := &L2TxLogEntry{TxData: []byte{1}}
	ecpy := e.Copy()
	ecpy.TxData[0] = 2
	assert.Equal(t, byte(1), e.TxData[0])
}

func TestConsensusResultPercent(t *testing.T) {
	r := &ConsensusResult{AcceptWeight: 200, RejectWeight: 50, TotalWeight: 400}
	assert.InDelta(t, 0.5, r.WeightedAcceptPercent(), 1e-9)
	assert.InDelta(t, 0.125, r.WeightedRejectPercent(), 1e-9)
	assert.Zero(t, (&ConsensusResult{AcceptWeight: 5}).WeightedAcceptPercent())
}
