package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ConsensusState is the phase of the current voting round.
type ConsensusState uint8

const (
	WaitingForProposal ConsensusState = iota
	CollectingVotes
	ConsensusReached
	ConsensusFailed
)

func (s ConsensusState) String() string {
	switch s {
	case WaitingForProposal:
		return "waiting"
	case CollectingVotes:
		return "collecting"
	case ConsensusReached:
		return "reached"
	case ConsensusFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConsensusState(%d)", uint8(s))
	}
}

// ConsensusResult is the tally of the votes held for one block. Weights are
// kept as integers, percentages are derived from them.
type ConsensusResult struct {
	BlockHash        common.Hash
	ConsensusReached bool
	TotalVoters      uint64
	AcceptVotes      uint64
	RejectVotes      uint64
	AbstainVotes     uint64
	AcceptWeight     uint64
	RejectWeight     uint64
	AbstainWeight    uint64
	TotalWeight      uint64 // total registered weight, not the weight that voted
	Timestamp        uint64
}

// WeightedAcceptPercent returns the accepted share of the registered weight.
func (r *ConsensusResult) WeightedAcceptPercent() float64 {
	return share(r.AcceptWeight, r.TotalWeight)
}

// WeightedRejectPercent returns the rejected share of the registered weight.
func (r *ConsensusResult) WeightedRejectPercent() float64 {
	return share(r.RejectWeight, r.TotalWeight)
}

func share(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// Copy returns a copy of the result.
func (r *ConsensusResult) Copy() *ConsensusResult {
	if r == nil {
		return nil
	}
	cpy := *r
	return &cpy
}

func (r *ConsensusResult) sanitize() error { return nil }

// ConsensusBlock is a finalized proposal together with the accept votes that
// finalized it.
type ConsensusBlock struct {
	Proposal    *L2BlockProposal
	AcceptVotes SequencerVotes
	Result      *ConsensusResult
	Finalized   bool
}

// Hash returns the hash of the finalized block.
func (b *ConsensusBlock) Hash() common.Hash {
	return b.Proposal.Hash()
}

// NumberU64 returns the L2 block number.
func (b *ConsensusBlock) NumberU64() uint64 {
	return b.Proposal.BlockNumber
}

// Copy returns a deep copy of the block.
func (b *ConsensusBlock) Copy() *ConsensusBlock {
	if b == nil {
		return nil
	}
	return &ConsensusBlock{
		Proposal:    b.Proposal.Copy(),
		AcceptVotes: b.AcceptVotes.copy(),
		Result:      b.Result.Copy(),
		Finalized:   b.Finalized,
	}
}

func (b *ConsensusBlock) sanitize() error {
	if b.Proposal == nil || b.Result == nil {
		return fmt.Errorf("%w: consensus block without proposal or result", ErrCorruptEncoding)
	}
	if err := b.Proposal.sanitize(); err != nil {
		return err
	}
	for _, v := range b.AcceptVotes {
		if err := v.sanitize(); err != nil {
			return err
		}
	}
	if len(b.AcceptVotes) == 0 {
		b.AcceptVotes = nil
	}
	return nil
}
