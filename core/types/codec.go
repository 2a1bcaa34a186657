package types

import (
	"errors"

	perrors "github.com/pkg/errors"

	"github.com/ethereum/go-ethereum/rlp"
)

var (
	// ErrCorruptEncoding is returned when bytes do not decode into the
	// requested record.
	ErrCorruptEncoding = errors.New("corrupt encoding")

	// ErrInvalidVoteType is returned when a decoded vote carries a vote type
	// outside the defined set.
	ErrInvalidVoteType = errors.New("invalid vote type")
)

// Record is a type with a canonical byte encoding.
type Record interface {
	sanitize() error
}

// Serialize returns the canonical encoding of x.
func Serialize(x Record) ([]byte, error) {
	return rlp.EncodeToBytes(x)
}

// Deserialize decodes data into a new T. Trailing bytes are an error. Empty
// lists and byte strings decode to nil.
func Deserialize[T any, P interface {
	*T
	Record
}](data []byte) (*T, error) {
	x := P(new(T))
	if err := rlp.DecodeBytes(data, x); err != nil {
		return nil, perrors.Wrap(ErrCorruptEncoding, err.Error())
	}
	if err := x.sanitize(); err != nil {
		return nil, err
	}
	return (*T)(x), nil
}

func EncodeProposal(p *L2BlockProposal) ([]byte, error) { return Serialize(p) }
func EncodeVote(v *SequencerVote) ([]byte, error)       { return Serialize(v) }

func DecodeProposal(data []byte) (*L2BlockProposal, error) {
	return Deserialize[L2BlockProposal](data)
}

func DecodeVote(data []byte) (*SequencerVote, error) {
	return Deserialize[SequencerVote](data)
}

func DecodeConsensusResult(data []byte) (*ConsensusResult, error) {
	return Deserialize[ConsensusResult](data)
}

func DecodeConsensusBlock(data []byte) (*ConsensusBlock, error) {
	return Deserialize[ConsensusBlock](data)
}

func DecodeL1BlockInfo(data []byte) (*L1BlockInfo, error) {
	return Deserialize[L1BlockInfo](data)
}

func DecodeAnchorPoint(data []byte) (*L2AnchorPoint, error) {
	return Deserialize[L2AnchorPoint](data)
}

func DecodeTxLogEntry(data []byte) (*L2TxLogEntry, error) {
	return Deserialize[L2TxLogEntry](data)
}

func DecodeStateSnapshot(data []byte) (*StateSnapshot, error) {
	return Deserialize[StateSnapshot](data)
}
