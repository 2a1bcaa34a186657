package types

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultGasLimit is the block gas limit used when a proposal is built
	// without an explicit one.
	DefaultGasLimit uint64 = 30_000_000

	// MaxClockSkew is the furthest a proposal or vote timestamp may lie ahead
	// of the local clock.
	MaxClockSkew = 60 * time.Second
)

var (
	ErrMissingParent       = errors.New("non-genesis proposal without parent hash")
	ErrFutureTimestamp     = errors.New("timestamp too far in the future")
	ErrGasUsedExceedsLimit = errors.New("gas used exceeds gas limit")
	ErrMissingProposer     = errors.New("proposal without proposer address")
)

// L2BlockProposal is a candidate L2 block put up for a vote by the slot
// leader.
type L2BlockProposal struct {
	BlockNumber       uint64
	ParentHash        common.Hash
	StateRoot         common.Hash
	TransactionsRoot  common.Hash
	TransactionHashes []common.Hash
	ProposerAddress   common.Address
	Timestamp         uint64
	ChainID           uint64
	GasLimit          uint64
	GasUsed           uint64
	SlotNumber        uint64
	Signature         []byte
}

// proposalHeader is the part of a proposal covered by its hash.
type proposalHeader struct {
	BlockNumber      uint64
	ParentHash       common.Hash
	StateRoot        common.Hash
	TransactionsRoot common.Hash
	ProposerAddress  common.Address
	Timestamp        uint64
	ChainID          uint64
	GasLimit         uint64
	GasUsed          uint64
	SlotNumber       uint64
}

// NewProposal returns an unsigned proposal with the default gas limit.
func NewProposal(number uint64, parent common.Hash, proposer common.Address, chainID, slot uint64) *L2BlockProposal {
	return &L2BlockProposal{
		BlockNumber:     number,
		ParentHash:      parent,
		ProposerAddress: proposer,
		Timestamp:       uint64(time.Now().Unix()),
		ChainID:         chainID,
		GasLimit:        DefaultGasLimit,
		SlotNumber:      slot,
	}
}

// Hash returns the block hash. The transaction list and the signature are not
// part of it; the list is committed to through TransactionsRoot.
func (p *L2BlockProposal) Hash() common.Hash {
	return rlpHash(&proposalHeader{
		BlockNumber:      p.BlockNumber,
		ParentHash:       p.ParentHash,
		StateRoot:        p.StateRoot,
		TransactionsRoot: p.TransactionsRoot,
		ProposerAddress:  p.ProposerAddress,
		Timestamp:        p.Timestamp,
		ChainID:          p.ChainID,
		GasLimit:         p.GasLimit,
		GasUsed:          p.GasUsed,
		SlotNumber:       p.SlotNumber,
	})
}

// SigningHash returns the digest the proposer signs.
func (p *L2BlockProposal) SigningHash() common.Hash {
	return p.Hash()
}

// ValidateStructure checks the proposal for internal consistency against the
// local clock. Signatures are not checked here.
func (p *L2BlockProposal) ValidateStructure(now time.Time) error {
	return p.ValidateStructureWithSkew(now, MaxClockSkew)
}

// ValidateStructureWithSkew is ValidateStructure with a custom clock skew.
func (p *L2BlockProposal) ValidateStructureWithSkew(now time.Time, skew time.Duration) error {
	if p.BlockNumber > 0 && p.ParentHash == (common.Hash{}) {
		return ErrMissingParent
	}
	if p.ProposerAddress == (common.Address{}) {
		return ErrMissingProposer
	}
	if p.GasUsed > p.GasLimit {
		return ErrGasUsedExceedsLimit
	}
	if limit := now.Add(skew).Unix(); limit >= 0 && p.Timestamp > uint64(limit) {
		return ErrFutureTimestamp
	}
	return nil
}

// Copy returns a deep copy of the proposal.
func (p *L2BlockProposal) Copy() *L2BlockProposal {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.TransactionHashes = copyHashes(p.TransactionHashes)
	cpy.Signature = common.CopyBytes(p.Signature)
	return &cpy
}

func (p *L2BlockProposal) sanitize() error {
	if len(p.TransactionHashes) == 0 {
		p.TransactionHashes = nil
	}
	if len(p.Signature) == 0 {
		p.Signature = nil
	}
	return nil
}
