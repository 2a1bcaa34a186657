package sequencer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const testChainID = 7

var testNow = time.Unix(1700000000, 0)

func newTestSigners(t *testing.T, weights ...uint64) ([]*Signer, *StaticWeights) {
	t.Helper()
	signers := make([]*Signer, len(weights))
	set := make(map[common.Address]uint64, len(weights))
	for i, w := range weights {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		signers[i] = NewSigner(key)
		set[signers[i].Address()] = w
	}
	return signers, NewStaticWeights(set)
}

func newTestEngine(t *testing.T, config Config, weights WeightProvider) *SequencerConsensus {
	t.Helper()
	config.ChainID = testChainID
	c, err := New(config, weights)
	require.NoError(t, err)
	c.now = func() time.Time { return testNow }
	t.Cleanup(func() { c.Close() })
	return c
}

func signedProposal(t *testing.T, signer *Signer, number uint64) *types.L2BlockProposal {
	t.Helper()
	p := &types.L2BlockProposal{
		BlockNumber:      number,
		ParentHash:       common.BigToHash(common.Big1),
		StateRoot:        crypto.Keccak256Hash([]byte{byte(number)}),
		TransactionsRoot: common.HexToHash("0x0b"),
		Timestamp:        uint64(testNow.Unix()),
		ChainID:          testChainID,
		GasLimit:         types.DefaultGasLimit,
		SlotNumber:       number,
	}
	require.NoError(t, signer.SignProposal(p))
	return p
}

func signedVote(t *testing.T, signer *Signer, hash common.Hash, kind types.VoteType) *types.SequencerVote {
	t.Helper()
	v := &types.SequencerVote{
		BlockHash:  hash,
		Vote:       kind,
		Timestamp:  uint64(testNow.Unix()),
		SlotNumber: 1,
	}
	if kind == types.VoteReject {
		v.RejectReason = "bad state root"
	}
	require.NoError(t, signer.SignVote(v))
	return v
}

func TestThresholdSafety(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100)
	c := newTestEngine(t, Config{}, weights)

	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))
	assert.Equal(t, types.CollectingVotes, c.GetState())

	hash := p.Hash()
	require.True(t, c.ProcessVote(signedVote(t, signers[0], hash, types.VoteAccept)))

	result, err := c.CalculateWeightedVotes(hash)
	require.NoError(t, err)
	assert.False(t, result.ConsensusReached)
	assert.Equal(t, uint64(100), result.AcceptWeight)
	assert.Equal(t, uint64(300), result.TotalWeight)
	assert.Nil(t, c.GetFinalizedBlock(hash))
	assert.False(t, c.HasConsensus(hash))

	// 200 of 300 is exactly two thirds, which is enough.
	require.True(t, c.ProcessVote(signedVote(t, signers[1], hash, types.VoteAccept)))
	block := c.GetFinalizedBlock(hash)
	require.NotNil(t, block)
	assert.True(t, block.Finalized)
	assert.True(t, block.Result.ConsensusReached)
	assert.Equal(t, uint64(200), block.Result.AcceptWeight)
	assert.Len(t, block.AcceptVotes, 2)
	assert.Equal(t, p, block.Proposal)
	assert.True(t, c.HasConsensus(hash))

	// The round is closed and the engine waits for the next proposal.
	assert.Equal(t, types.WaitingForProposal, c.GetState())
	assert.Nil(t, c.GetCurrentProposal())
	assert.False(t, c.ProcessVote(signedVote(t, signers[2], hash, types.VoteAccept)))
	_, err = c.CalculateWeightedVotes(hash)
	assert.ErrorIs(t, err, ErrRoundNotOpen)
}

func TestExactlyThresholdUnevenWeights(t *testing.T) {
	signers, weights := newTestSigners(t, 2, 1)
	c := newTestEngine(t, Config{}, weights)

	p := signedProposal(t, signers[1], 1)
	require.NoError(t, c.ProposeBlock(p))
	require.True(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteAccept)))
	assert.True(t, c.HasConsensus(p.Hash()))
}

func TestWeightedNotCounted(t *testing.T) {
	t.Run("small sequencers alone", func(t *testing.T) {
		signers, weights := newTestSigners(t, 1000, 100, 100)
		c := newTestEngine(t, Config{}, weights)
		p := signedProposal(t, signers[1], 1)
		require.NoError(t, c.ProposeBlock(p))

		require.True(t, c.ProcessVote(signedVote(t, signers[1], p.Hash(), types.VoteAccept)))
		require.True(t, c.ProcessVote(signedVote(t, signers[2], p.Hash(), types.VoteAccept)))

		result, err := c.CalculateWeightedVotes(p.Hash())
		require.NoError(t, err)
		assert.Equal(t, uint64(2), result.AcceptVotes)
		assert.False(t, result.ConsensusReached)
		assert.InDelta(t, 200.0/1200.0, result.WeightedAcceptPercent(), 1e-9)

		require.True(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteAccept)))
		assert.True(t, c.HasConsensus(p.Hash()))
	})
	t.Run("heavy sequencer rejects", func(t *testing.T) {
		signers, weights := newTestSigners(t, 1000, 100, 100)
		c := newTestEngine(t, Config{}, weights)
		p := signedProposal(t, signers[1], 1)
		require.NoError(t, c.ProposeBlock(p))

		require.True(t, c.ProcessVote(signedVote(t, signers[1], p.Hash(), types.VoteAccept)))
		require.True(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteReject)))
		assert.Equal(t, types.WaitingForProposal, c.GetState())
		assert.False(t, c.HasConsensus(p.Hash()))
		_, failed := c.GetFailedReason(p.Hash())
		assert.True(t, failed)
	})
}

func TestFailureSymmetry(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100)
	c := newTestEngine(t, Config{}, weights)

	var (
		failedHash common.Hash
		reasons    []string
	)
	c.RegisterConsensusFailedCallback(func(hash common.Hash, reason string) {
		failedHash = hash
		reasons = append(reasons, reason)
	})
	c.RegisterConsensusCallback(func(*types.ConsensusBlock) {
		t.Error("block finalized after rejection")
	})

	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))

	// A third of the weight rejecting still leaves the threshold reachable.
	require.True(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteReject)))
	assert.Equal(t, types.CollectingVotes, c.GetState())
	assert.Empty(t, reasons)

	require.True(t, c.ProcessVote(signedVote(t, signers[1], p.Hash(), types.VoteReject)))
	assert.Equal(t, types.WaitingForProposal, c.GetState())
	assert.Equal(t, p.Hash(), failedHash)
	require.Len(t, reasons, 1)

	reason, ok := c.GetFailedReason(p.Hash())
	require.True(t, ok)
	assert.Equal(t, reasons[0], reason)
	assert.Nil(t, c.GetFinalizedBlock(p.Hash()))
}

func TestAbstainCountsOnlyVoters(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100, 100)
	c := newTestEngine(t, Config{}, weights)
	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))

	require.True(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteAbstain)))
	require.True(t, c.ProcessVote(signedVote(t, signers[1], p.Hash(), types.VoteAbstain)))
	require.True(t, c.ProcessVote(signedVote(t, signers[2], p.Hash(), types.VoteAccept)))

	result, err := c.CalculateWeightedVotes(p.Hash())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), result.TotalVoters)
	assert.Equal(t, uint64(2), result.AbstainVotes)
	assert.Equal(t, uint64(200), result.AbstainWeight)
	assert.False(t, result.ConsensusReached)
	assert.Equal(t, types.CollectingVotes, c.GetState())
}

func TestNoDoubleVoting(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100)
	c := newTestEngine(t, Config{}, weights)
	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))

	first := signedVote(t, signers[0], p.Hash(), types.VoteAccept)
	require.True(t, c.ProcessVote(first))
	assert.False(t, c.ProcessVote(first))
	assert.False(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteReject)))

	votes := c.GetVotes(p.Hash())
	require.Len(t, votes, 1)
	assert.Equal(t, types.VoteAccept, votes[signers[0].Address()].Vote)
}

func TestRejectedVotesLeaveNoTrace(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100)
	outsider, _ := newTestSigners(t, 100)
	c := newTestEngine(t, Config{}, weights)

	// No round open yet.
	assert.False(t, c.ProcessVote(signedVote(t, signers[0], common.HexToHash("0x01"), types.VoteAccept)))

	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))
	hash := p.Hash()

	future := signedVote(t, signers[1], hash, types.VoteAccept)
	future.Timestamp = uint64(testNow.Add(2 * time.Minute).Unix())
	require.NoError(t, signers[1].SignVote(future))

	forged := signedVote(t, signers[2], hash, types.VoteAccept)
	forged.Signature[10] ^= 0xff

	stolen := signedVote(t, signers[2], hash, types.VoteAccept)
	stolen.VoterAddress = signers[1].Address()

	invalid := signedVote(t, signers[1], hash, types.VoteAccept)
	invalid.Vote = types.VoteType(9)

	for name, vote := range map[string]*types.SequencerVote{
		"nil":           nil,
		"wrong block":   signedVote(t, signers[1], common.HexToHash("0xdead"), types.VoteAccept),
		"unregistered":  signedVote(t, outsider[0], hash, types.VoteAccept),
		"future":        future,
		"forged":        forged,
		"stolen":        stolen,
		"unsigned":      {BlockHash: hash, VoterAddress: signers[1].Address(), Timestamp: uint64(testNow.Unix())},
		"invalid type":  invalid,
	} {
		assert.False(t, c.ProcessVote(vote), name)
	}
	assert.Empty(t, c.GetVotes(hash))
	result, err := c.CalculateWeightedVotes(hash)
	require.NoError(t, err)
	assert.Zero(t, result.TotalVoters)
}

func TestProposeBlockRejections(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100)
	outsider, _ := newTestSigners(t, 100)

	tests := []struct {
		name     string
		proposal func() *types.L2BlockProposal
		err      error
	}{
		{"nil", func() *types.L2BlockProposal { return nil }, ErrNilProposal},
		{"missing parent", func() *types.L2BlockProposal {
			p := signedProposal(t, signers[0], 1)
			p.ParentHash = common.Hash{}
			return p
		}, types.ErrMissingParent},
		{"chain mismatch", func() *types.L2BlockProposal {
			p := signedProposal(t, signers[0], 1)
			p.ChainID = testChainID + 1
			require.NoError(t, signers[0].SignProposal(p))
			return p
		}, ErrChainIDMismatch},
		{"unknown proposer", func() *types.L2BlockProposal { return signedProposal(t, outsider[0], 1) }, ErrUnknownProposer},
		{"bad signature", func() *types.L2BlockProposal {
			p := signedProposal(t, signers[0], 1)
			p.ProposerAddress = signers[1].Address()
			return p
		}, ErrInvalidProposerSignature},
		{"future", func() *types.L2BlockProposal {
			p := signedProposal(t, signers[0], 1)
			p.Timestamp = uint64(testNow.Add(time.Hour).Unix())
			require.NoError(t, signers[0].SignProposal(p))
			return p
		}, types.ErrFutureTimestamp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestEngine(t, Config{}, weights)
			err := c.ProposeBlock(tt.proposal())
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, types.WaitingForProposal, c.GetState())
			assert.Nil(t, c.GetCurrentProposal())
		})
	}

	t.Run("round in progress", func(t *testing.T) {
		c := newTestEngine(t, Config{}, weights)
		first := signedProposal(t, signers[0], 1)
		require.NoError(t, c.ProposeBlock(first))
		assert.ErrorIs(t, c.ProposeBlock(signedProposal(t, signers[1], 2)), ErrRoundInProgress)
		assert.Equal(t, first, c.GetCurrentProposal())
	})

	t.Run("not leader", func(t *testing.T) {
		c := newTestEngine(t, Config{}, weights)
		c.SetLeaderSchedule(weights)
		p := signedProposal(t, signers[0], 1)
		leader, _ := weights.LeaderForSlot(p.SlotNumber)
		if leader == signers[0].Address() {
			p = signedProposal(t, signers[0], 2)
		}
		assert.ErrorIs(t, c.ProposeBlock(p), ErrNotLeader)
	})
}

func TestCallbacksRunInOrderOutsideLock(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100)
	c := newTestEngine(t, Config{}, weights)

	var calls []int
	for i := 0; i < 3; i++ {
		i := i
		c.RegisterConsensusCallback(func(block *types.ConsensusBlock) {
			// Listeners may call back into the engine.
			assert.Equal(t, types.WaitingForProposal, c.GetState())
			assert.True(t, c.HasConsensus(block.Hash()))
			calls = append(calls, i)
		})
	}
	ch := make(chan FinalizedBlockEvent, 1)
	sub := c.SubscribeFinalizedBlocks(ch)
	defer sub.Unsubscribe()

	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))
	require.True(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteAccept)))
	assert.Empty(t, calls)
	require.True(t, c.ProcessVote(signedVote(t, signers[1], p.Hash(), types.VoteAccept)))
	assert.Equal(t, []int{0, 1, 2}, calls)

	ev := <-ch
	assert.Equal(t, p.Hash(), ev.Block.Hash())
}

func TestHandleConsensusFailed(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100)
	c := newTestEngine(t, Config{}, weights)

	var got string
	c.RegisterConsensusFailedCallback(func(_ common.Hash, reason string) { got = reason })

	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))
	assert.False(t, c.HandleConsensusFailed(common.HexToHash("0x01"), "timeout"))
	assert.True(t, c.HandleConsensusFailed(p.Hash(), "timeout"))
	assert.Equal(t, "timeout", got)
	assert.Equal(t, types.WaitingForProposal, c.GetState())
	assert.False(t, c.HandleConsensusFailed(p.Hash(), "timeout"))
}

func TestClearKeepsHistory(t *testing.T) {
	signers, weights := newTestSigners(t, 100)
	c := newTestEngine(t, Config{}, weights)

	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))
	require.True(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteAccept)))

	next := signedProposal(t, signers[0], 2)
	require.NoError(t, c.ProposeBlock(next))
	c.Clear()
	assert.Equal(t, types.WaitingForProposal, c.GetState())
	assert.Nil(t, c.GetCurrentProposal())
	assert.NotNil(t, c.GetFinalizedBlock(p.Hash()))
	require.NoError(t, c.ProposeBlock(next))
}

func TestHaltStopsBlockProduction(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100)
	c := newTestEngine(t, Config{}, weights)

	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))
	require.True(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteAccept)))

	c.Halt()
	assert.True(t, c.Halted())
	assert.Equal(t, types.WaitingForProposal, c.GetState())
	assert.Nil(t, c.GetCurrentProposal())

	assert.ErrorIs(t, c.ProposeBlock(p), ErrChainHalted)
	assert.False(t, c.ProcessVote(signedVote(t, signers[1], p.Hash(), types.VoteAccept)))
	_, err := c.VoteOnProposal(p, signers[2])
	assert.ErrorIs(t, err, ErrChainHalted)
	assert.False(t, c.HasConsensus(p.Hash()))
	assert.Nil(t, c.GetFinalizedBlock(p.Hash()))

	c.Resume()
	assert.False(t, c.Halted())
	require.NoError(t, c.ProposeBlock(p))
	require.True(t, c.ProcessVote(signedVote(t, signers[1], p.Hash(), types.VoteAccept)))
	require.True(t, c.ProcessVote(signedVote(t, signers[2], p.Hash(), types.VoteAccept)))
	assert.True(t, c.HasConsensus(p.Hash()))
}

func TestFinalizedHistoryPruned(t *testing.T) {
	signers, weights := newTestSigners(t, 1)
	c := newTestEngine(t, Config{MaxFinalizedBlocks: 2}, weights)

	var hashes []common.Hash
	for number := uint64(1); number <= 3; number++ {
		p := signedProposal(t, signers[0], number)
		require.NoError(t, c.ProposeBlock(p))
		require.True(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteAccept)))
		hashes = append(hashes, p.Hash())
	}
	assert.Nil(t, c.GetFinalizedBlock(hashes[0]))
	assert.NotNil(t, c.GetFinalizedBlock(hashes[1]))
	assert.NotNil(t, c.GetFinalizedBlock(hashes[2]))
}

func TestSetThreshold(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100, 100)
	c := newTestEngine(t, Config{}, weights)

	assert.ErrorIs(t, c.SetThreshold(3, 2), ErrInvalidThreshold)
	assert.ErrorIs(t, c.SetThreshold(1, 0), ErrInvalidThreshold)
	require.NoError(t, c.SetThreshold(1, 2))
	num, den := c.Threshold()
	assert.Equal(t, []uint64{1, 2}, []uint64{num, den})

	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))
	require.True(t, c.ProcessVote(signedVote(t, signers[0], p.Hash(), types.VoteAccept)))
	require.True(t, c.ProcessVote(signedVote(t, signers[1], p.Hash(), types.VoteAccept)))
	assert.True(t, c.HasConsensus(p.Hash()))
}

func TestVoteOnProposal(t *testing.T) {
	signers, weights := newTestSigners(t, 100, 100, 100)
	c := newTestEngine(t, Config{}, weights)

	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))

	vote, err := c.VoteOnProposal(p, signers[1])
	require.NoError(t, err)
	assert.Equal(t, types.VoteAccept, vote.Vote)
	assert.Equal(t, signers[1].Address(), vote.VoterAddress)
	assert.True(t, VerifySignature(vote.VoterAddress, vote.SigningHash(), vote.Signature))
	assert.Len(t, c.GetVotes(p.Hash()), 1)

	bad := p.Copy()
	bad.ChainID = testChainID + 1
	vote, err = c.VoteOnProposal(bad, signers[2])
	require.NoError(t, err)
	assert.Equal(t, types.VoteReject, vote.Vote)
	assert.NotEmpty(t, vote.RejectReason)
	assert.Len(t, c.GetVotes(p.Hash()), 1)
}

func TestConcurrentReaders(t *testing.T) {
	signers, weights := newTestSigners(t, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)
	c := newTestEngine(t, Config{}, weights)
	p := signedProposal(t, signers[0], 1)
	require.NoError(t, c.ProposeBlock(p))

	votes := make([]*types.SequencerVote, len(signers))
	for i, s := range signers {
		votes[i] = signedVote(t, s, p.Hash(), types.VoteAccept)
	}
	var g errgroup.Group
	for _, vote := range votes {
		vote := vote
		g.Go(func() error {
			c.ProcessVote(vote)
			return nil
		})
		g.Go(func() error {
			c.GetState()
			c.CalculateWeightedVotes(p.Hash())
			c.GetVotes(p.Hash())
			return nil
		})
	}
	require.NoError(t, g.Wait())

	block := c.GetFinalizedBlock(p.Hash())
	require.NotNil(t, block)
	// Finalization happens on the seventh accept vote, later votes are refused.
	assert.Equal(t, uint64(7), block.Result.AcceptWeight)
}
