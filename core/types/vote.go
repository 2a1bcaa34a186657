package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// VoteType is a sequencer's decision on a proposal.
type VoteType uint8

const (
	VoteAccept VoteType = iota
	VoteReject
	VoteAbstain
)

// Valid reports whether v is one of the defined vote types.
func (v VoteType) Valid() bool {
	return v <= VoteAbstain
}

func (v VoteType) String() string {
	switch v {
	case VoteAccept:
		return "accept"
	case VoteReject:
		return "reject"
	case VoteAbstain:
		return "abstain"
	default:
		return fmt.Sprintf("VoteType(%d)", uint8(v))
	}
}

// SequencerVote is one sequencer's signed decision on a block.
type SequencerVote struct {
	BlockHash    common.Hash
	VoterAddress common.Address
	Vote         VoteType
	RejectReason string // diagnostics only
	Timestamp    uint64
	SlotNumber   uint64
	Signature    []byte
}

type SequencerVotes []*SequencerVote

// SigningHash returns the digest the voter signs.
func (v *SequencerVote) SigningHash() common.Hash {
	return rlpHash([]interface{}{
		v.BlockHash,
		v.VoterAddress,
		v.Vote,
		v.RejectReason,
		v.Timestamp,
		v.SlotNumber,
	})
}

// Hash identifies the exact vote message, signature included.
func (v *SequencerVote) Hash() common.Hash {
	return rlpHash(v)
}

func (v *SequencerVote) IsAccept() bool  { return v.Vote == VoteAccept }
func (v *SequencerVote) IsReject() bool  { return v.Vote == VoteReject }
func (v *SequencerVote) IsAbstain() bool { return v.Vote == VoteAbstain }

// Copy returns a deep copy of the vote.
func (v *SequencerVote) Copy() *SequencerVote {
	if v == nil {
		return nil
	}
	cpy := *v
	cpy.Signature = common.CopyBytes(v.Signature)
	return &cpy
}

func (v *SequencerVote) sanitize() error {
	if !v.Vote.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidVoteType, v.Vote)
	}
	if len(v.Signature) == 0 {
		v.Signature = nil
	}
	return nil
}

func (vs SequencerVotes) copy() SequencerVotes {
	if len(vs) == 0 {
		return nil
	}
	cpy := make(SequencerVotes, len(vs))
	for i, v := range vs {
		cpy[i] = v.Copy()
	}
	return cpy
}
