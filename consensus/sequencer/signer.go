// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package sequencer

import (
	"crypto/ecdsa"

	"github.com/pkg/errors"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

// Signer signs proposals and votes with a sequencer key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *Signer) Address() common.Address {
	return s.address
}

// SignProposal sets the proposer address and signs the proposal.
func (s *Signer) SignProposal(p *types.L2BlockProposal) error {
	p.ProposerAddress = s.address
	hash := p.SigningHash()
	sig, err := crypto.Sign(hash[:], s.key)
	if err != nil {
		return errors.Wrap(err, "could not sign proposal")
	}
	p.Signature = sig
	log.Debug("Signed proposal", "number", p.BlockNumber, "hash", hash, "slot", p.SlotNumber)
	return nil
}

// SignVote sets the voter address and signs the vote.
func (s *Signer) SignVote(v *types.SequencerVote) error {
	v.VoterAddress = s.address
	hash := v.SigningHash()
	sig, err := crypto.Sign(hash[:], s.key)
	if err != nil {
		return errors.Wrap(err, "could not sign vote")
	}
	v.Signature = sig
	log.Debug("Signed vote", "block", v.BlockHash, "vote", v.Vote, "slot", v.SlotNumber)
	return nil
}

// VerifySignature reports whether sig is a signature of message by addr.
func VerifySignature(addr common.Address, message common.Hash, sig []byte) bool {
	if len(sig) != crypto.SignatureLength {
		return false
	}
	pub, err := crypto.SigToPub(message[:], sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == addr
}
