package sequencer

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// WeightProvider supplies the stake weights of the registered sequencers and
// verifies their signatures.
type WeightProvider interface {
	GetWeight(addr common.Address) uint64
	GetTotalRegisteredWeight() uint64
	VerifySignature(addr common.Address, message common.Hash, sig []byte) bool
}

// LeaderSchedule reports which sequencer may propose in a slot.
type LeaderSchedule interface {
	LeaderForSlot(slot uint64) (common.Address, bool)
}

// StaticWeights is a fixed sequencer set with secp256k1 signatures.
type StaticWeights struct {
	weights map[common.Address]uint64
	total   uint64
}

// NewStaticWeights creates a sequencer set from the given weights. Entries
// with zero weight are dropped.
func NewStaticWeights(weights map[common.Address]uint64) *StaticWeights {
	s := &StaticWeights{weights: make(map[common.Address]uint64, len(weights))}
	for addr, w := range weights {
		if w == 0 {
			continue
		}
		s.weights[addr] = w
		s.total += w
	}
	return s
}

func (s *StaticWeights) GetWeight(addr common.Address) uint64 {
	return s.weights[addr]
}

func (s *StaticWeights) GetTotalRegisteredWeight() uint64 {
	return s.total
}

func (s *StaticWeights) VerifySignature(addr common.Address, message common.Hash, sig []byte) bool {
	return VerifySignature(addr, message, sig)
}

// Sequencers returns the registered addresses in ascending order.
func (s *StaticWeights) Sequencers() []common.Address {
	addrs := make([]common.Address, 0, len(s.weights))
	for addr := range s.weights {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i][:], addrs[j][:]) < 0
	})
	return addrs
}

// LeaderForSlot rotates the leadership over the sorted sequencer set.
func (s *StaticWeights) LeaderForSlot(slot uint64) (common.Address, bool) {
	addrs := s.Sequencers()
	if len(addrs) == 0 {
		return common.Address{}, false
	}
	return addrs[slot%uint64(len(addrs))], true
}
