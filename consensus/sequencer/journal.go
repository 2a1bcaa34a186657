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
	"sync"

	"github.com/pkg/errors"
	"github.com/tidwall/wal"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

const (
	journalProposal uint8 = iota
	journalVote
	journalRoundClosed
)

// journalEntry is one record of the vote journal.
type journalEntry struct {
	Kind    uint8
	Payload []byte
}

// VoteJournal is an on-disk ring of the proposals and votes of the recent
// rounds, used to resume an open round after a restart.
type VoteJournal struct {
	mu sync.Mutex

	capacity uint64
	log      *wal.Log
}

// NewVoteJournal opens (or creates) the journal at path, keeping at most
// capacity entries.
func NewVoteJournal(path string, capacity int) (*VoteJournal, error) {
	if capacity <= 0 {
		capacity = defaultJournalCapacity
	}
	log, err := wal.Open(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open vote journal %s", path)
	}
	return &VoteJournal{
		capacity: uint64(capacity),
		log:      log,
	}, nil
}

// WriteProposal journals the opening of a round.
func (vj *VoteJournal) WriteProposal(p *types.L2BlockProposal) error {
	enc, err := types.EncodeProposal(p)
	if err != nil {
		return err
	}
	return vj.write(journalProposal, enc)
}

// WriteVote journals an accepted vote.
func (vj *VoteJournal) WriteVote(v *types.SequencerVote) error {
	enc, err := types.EncodeVote(v)
	if err != nil {
		return err
	}
	return vj.write(journalVote, enc)
}

// WriteRoundClosed journals that the round of the given block is over, so
// it is not resumed on restart.
func (vj *VoteJournal) WriteRoundClosed(hash common.Hash) error {
	return vj.write(journalRoundClosed, hash.Bytes())
}

func (vj *VoteJournal) write(kind uint8, payload []byte) error {
	vj.mu.Lock()
	defer vj.mu.Unlock()

	entry, err := rlp.EncodeToBytes(&journalEntry{Kind: kind, Payload: payload})
	if err != nil {
		return err
	}
	lastIndex, err := vj.log.LastIndex()
	if err != nil {
		return err
	}
	if err = vj.log.Write(lastIndex+1, entry); err != nil {
		return err
	}

	firstIndex, err := vj.log.FirstIndex()
	if err != nil {
		return err
	}
	if lastIndex+1-firstIndex+1 > vj.capacity {
		if err := vj.log.TruncateFront(lastIndex + 1 - vj.capacity + 1); err != nil {
			return err
		}
	}
	return nil
}

// LoadOpenRound returns the proposal of a round that was still open when
// the journal was last written, along with the votes accepted for it. A nil
// proposal means there is nothing to resume.
func (vj *VoteJournal) LoadOpenRound() (*types.L2BlockProposal, []*types.SequencerVote, error) {
	vj.mu.Lock()
	defer vj.mu.Unlock()

	firstIndex, err := vj.log.FirstIndex()
	if err != nil {
		return nil, nil, err
	}
	lastIndex, err := vj.log.LastIndex()
	if err != nil {
		return nil, nil, err
	}
	if lastIndex == 0 {
		return nil, nil, nil
	}
	var (
		proposal *types.L2BlockProposal
		hash     common.Hash
		votes    []*types.SequencerVote
	)
	for index := firstIndex; index <= lastIndex; index++ {
		data, err := vj.log.Read(index)
		if err != nil {
			return nil, nil, err
		}
		var entry journalEntry
		if err := rlp.DecodeBytes(data, &entry); err != nil {
			return nil, nil, errors.Wrapf(err, "corrupt journal entry %d", index)
		}
		switch entry.Kind {
		case journalProposal:
			if proposal, err = types.DecodeProposal(entry.Payload); err != nil {
				return nil, nil, err
			}
			hash, votes = proposal.Hash(), nil
		case journalVote:
			vote, err := types.DecodeVote(entry.Payload)
			if err != nil {
				return nil, nil, err
			}
			if proposal != nil && vote.BlockHash == hash {
				votes = append(votes, vote)
			}
		case journalRoundClosed:
			if proposal != nil && common.BytesToHash(entry.Payload) == hash {
				proposal, votes = nil, nil
			}
		default:
			return nil, nil, errors.Errorf("unknown journal entry kind %d at %d", entry.Kind, index)
		}
	}
	return proposal, votes, nil
}

func (vj *VoteJournal) Close() error {
	vj.mu.Lock()
	defer vj.mu.Unlock()
	return vj.log.Close()
}
