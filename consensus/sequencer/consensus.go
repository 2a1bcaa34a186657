package sequencer

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
	perrors "github.com/pkg/errors"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

var (
	ErrNilProposal              = errors.New("nil proposal")
	ErrRoundInProgress          = errors.New("consensus round already in progress")
	ErrChainIDMismatch          = errors.New("proposal for another chain")
	ErrInvalidProposerSignature = errors.New("invalid proposer signature")
	ErrUnknownProposer          = errors.New("proposer is not a registered sequencer")
	ErrNotLeader                = errors.New("proposer is not the slot leader")
	ErrRoundNotOpen             = errors.New("no open round for block")
	ErrInvalidThreshold         = errors.New("invalid consensus threshold")

	// ErrChainHalted is returned for proposals while block production is
	// halted.
	ErrChainHalted = errors.New("block production halted")
)

// ConsensusCallback is invoked with a copy of every finalized block.
type ConsensusCallback func(block *types.ConsensusBlock)

// ConsensusFailedCallback is invoked when a round fails.
type ConsensusFailedCallback func(blockHash common.Hash, reason string)

// FinalizedBlockEvent is posted to feed subscribers when a block reaches
// consensus.
type FinalizedBlockEvent struct {
	Block *types.ConsensusBlock
}

// notification carries the listeners to run once the engine lock is
// released.
type notification struct {
	finalized    *types.ConsensusBlock
	consensusCbs []ConsensusCallback

	failed     bool
	failedHash common.Hash
	reason     string
	failedCbs  []ConsensusFailedCallback
}

// SequencerConsensus runs weighted voting rounds over L2 block proposals. A
// block is final once the accept weight reaches the threshold of the total
// registered weight.
type SequencerConsensus struct {
	config Config
	log    log.Logger

	mu       sync.RWMutex
	state    types.ConsensusState
	proposal *types.L2BlockProposal
	current  common.Hash
	votes    map[common.Address]*types.SequencerVote
	order    []common.Address // voters in arrival order
	received mapset.Set[common.Hash]
	halted   bool

	finalized map[common.Hash]*types.ConsensusBlock
	failed    *lru.Cache[common.Hash, string]

	weights WeightProvider
	leaders LeaderSchedule
	journal *VoteJournal
	monitor *EquivocationMonitor
	now     func() time.Time

	consensusCallbacks []ConsensusCallback
	failedCallbacks    []ConsensusFailedCallback

	finalizedFeed event.Feed
	scope         event.SubscriptionScope
}

// New creates a consensus engine. If the config names a journal path, the
// vote journal is opened too; call RestoreFromJournal to resume a round that
// was open at shutdown.
func New(config Config, weights WeightProvider) (*SequencerConsensus, error) {
	conf := config.sanitize()
	c := &SequencerConsensus{
		config:    conf,
		log:       log.New("chain", conf.ChainID),
		state:     types.WaitingForProposal,
		votes:     make(map[common.Address]*types.SequencerVote),
		received:  mapset.NewThreadUnsafeSet[common.Hash](),
		finalized: make(map[common.Hash]*types.ConsensusBlock),
		failed:    lru.NewCache[common.Hash, string](conf.MaxFailedProposals),
		weights:   weights,
		monitor:   NewEquivocationMonitor(),
		now:       time.Now,
	}
	if conf.JournalPath != "" {
		journal, err := NewVoteJournal(conf.JournalPath, conf.JournalCapacity)
		if err != nil {
			return nil, err
		}
		c.journal = journal
	}
	return c, nil
}

// ChainID returns the chain the engine votes for.
func (c *SequencerConsensus) ChainID() uint64 {
	return c.config.ChainID
}

// SetWeightProvider replaces the source of sequencer weights.
func (c *SequencerConsensus) SetWeightProvider(p WeightProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weights = p
}

// SetLeaderSchedule installs a schedule that proposals are checked against.
// A nil schedule accepts any registered proposer.
func (c *SequencerConsensus) SetLeaderSchedule(s LeaderSchedule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaders = s
}

// Threshold returns the consensus threshold as a fraction.
func (c *SequencerConsensus) Threshold() (num, den uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.ThresholdNumerator, c.config.ThresholdDenominator
}

// SetThreshold changes the consensus threshold to num/den. It applies from
// the next tally on.
func (c *SequencerConsensus) SetThreshold(num, den uint64) error {
	if den == 0 || num == 0 || num > den {
		return fmt.Errorf("%w: %d/%d", ErrInvalidThreshold, num, den)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.ThresholdNumerator, c.config.ThresholdDenominator = num, den
	return nil
}

// ProposeBlock opens a voting round for the proposal. It fails without any
// change if a round is already open or the proposal does not validate.
func (c *SequencerConsensus) ProposeBlock(proposal *types.L2BlockProposal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.proposeBlock(proposal, true); err != nil {
		proposalRejectMeter.Mark(1)
		c.log.Debug("Rejected block proposal", "err", err)
		return err
	}
	return nil
}

func (c *SequencerConsensus) proposeBlock(proposal *types.L2BlockProposal, journal bool) error {
	if proposal == nil {
		return ErrNilProposal
	}
	if c.halted {
		return ErrChainHalted
	}
	if c.state != types.WaitingForProposal {
		return ErrRoundInProgress
	}
	if err := c.validateProposal(proposal); err != nil {
		return err
	}
	hash := proposal.Hash()
	if !c.weights.VerifySignature(proposal.ProposerAddress, proposal.SigningHash(), proposal.Signature) {
		return ErrInvalidProposerSignature
	}
	if journal && c.journal != nil {
		if err := c.journal.WriteProposal(proposal); err != nil {
			return perrors.Wrap(err, "failed to journal proposal")
		}
	}
	c.proposal = proposal.Copy()
	c.current = hash
	c.votes = make(map[common.Address]*types.SequencerVote)
	c.order = nil
	c.received.Clear()
	c.state = types.CollectingVotes

	proposalAcceptMeter.Mark(1)
	curVotesGauge.Update(0)
	c.log.Info("Collecting votes", "number", proposal.BlockNumber, "hash", hash, "slot", proposal.SlotNumber, "proposer", proposal.ProposerAddress)
	return nil
}

// validateProposal runs the checks that do not involve the signature.
func (c *SequencerConsensus) validateProposal(p *types.L2BlockProposal) error {
	if err := p.ValidateStructureWithSkew(c.now(), c.config.MaxClockSkew); err != nil {
		return err
	}
	if p.ChainID != c.config.ChainID {
		return fmt.Errorf("%w: have %d, want %d", ErrChainIDMismatch, p.ChainID, c.config.ChainID)
	}
	if c.weights.GetWeight(p.ProposerAddress) == 0 {
		return ErrUnknownProposer
	}
	if c.leaders != nil {
		if leader, ok := c.leaders.LeaderForSlot(p.SlotNumber); !ok || leader != p.ProposerAddress {
			return ErrNotLeader
		}
	}
	return nil
}

// ProcessVote adds a vote to the open round. It returns false, leaving the
// engine untouched, if the vote is not acceptable. Reaching the threshold
// finalizes the block, exceeding the complementary reject weight fails the
// round; listeners run after the engine lock is released.
func (c *SequencerConsensus) ProcessVote(vote *types.SequencerVote) bool {
	c.mu.Lock()
	n, ok := c.processVote(vote, true)
	c.mu.Unlock()

	if n != nil {
		c.notify(n)
	}
	return ok
}

func (c *SequencerConsensus) processVote(vote *types.SequencerVote, journal bool) (*notification, bool) {
	if reason := c.checkVote(vote); reason != "" {
		voteRejectMeter.Mark(1)
		if vote != nil {
			c.log.Debug("Rejected sequencer vote", "reason", reason, "voter", vote.VoterAddress, "block", vote.BlockHash)
		}
		return nil, false
	}
	if journal && c.journal != nil {
		if err := c.journal.WriteVote(vote); err != nil {
			voteRejectMeter.Mark(1)
			c.log.Error("Failed to journal vote", "voter", vote.VoterAddress, "err", err)
			return nil, false
		}
	}
	vote = vote.Copy()
	c.votes[vote.VoterAddress] = vote
	c.order = append(c.order, vote.VoterAddress)
	c.received.Add(vote.Hash())
	c.monitor.ConflictDetect(vote)

	voteAcceptMeter.Mark(1)
	curVotesGauge.Update(int64(len(c.votes)))
	c.log.Debug("Accepted sequencer vote", "voter", vote.VoterAddress, "vote", vote.Vote, "block", vote.BlockHash)

	result := c.tally()
	if result.ConsensusReached {
		return c.finalize(result), true
	}
	if c.rejectionExceeded(result.RejectWeight, result.TotalWeight) {
		return c.fail(fmt.Sprintf("reject weight %d of %d exceeds tolerance", result.RejectWeight, result.TotalWeight)), true
	}
	return nil, true
}

// checkVote returns why the vote can not be added to the open round, or the
// empty string if it can.
func (c *SequencerConsensus) checkVote(vote *types.SequencerVote) string {
	switch {
	case vote == nil:
		return "nil vote"
	case c.halted:
		return "chain halted"
	case c.state != types.CollectingVotes:
		return "no open round"
	case vote.BlockHash != c.current:
		return "vote for another block"
	case !vote.Vote.Valid():
		return "invalid vote type"
	case c.received.Contains(vote.Hash()):
		return "replayed vote"
	}
	if _, ok := c.votes[vote.VoterAddress]; ok {
		return "voter already voted"
	}
	if len(c.votes) >= c.config.MaxVotesPerBlock {
		return "too many votes"
	}
	if c.weights.GetWeight(vote.VoterAddress) == 0 {
		return "voter not registered"
	}
	if limit := c.now().Add(c.config.MaxClockSkew).Unix(); limit >= 0 && vote.Timestamp > uint64(limit) {
		return "vote timestamp in the future"
	}
	if !c.weights.VerifySignature(vote.VoterAddress, vote.SigningHash(), vote.Signature) {
		return "invalid signature"
	}
	return ""
}

// tally computes the weighted result of the votes held for the open round.
func (c *SequencerConsensus) tally() *types.ConsensusResult {
	result := &types.ConsensusResult{
		BlockHash:   c.current,
		TotalWeight: c.weights.GetTotalRegisteredWeight(),
		Timestamp:   uint64(c.now().Unix()),
	}
	for _, voter := range c.order {
		weight := c.weights.GetWeight(voter)
		result.TotalVoters++
		switch c.votes[voter].Vote {
		case types.VoteAccept:
			result.AcceptVotes++
			result.AcceptWeight += weight
		case types.VoteReject:
			result.RejectVotes++
			result.RejectWeight += weight
		case types.VoteAbstain:
			result.AbstainVotes++
			result.AbstainWeight += weight
		}
	}
	result.ConsensusReached = c.thresholdReached(result.AcceptWeight, result.TotalWeight)
	return result
}

// thresholdReached reports weight/total >= num/den.
func (c *SequencerConsensus) thresholdReached(weight, total uint64) bool {
	if total == 0 {
		return false
	}
	have := new(uint256.Int).Mul(uint256.NewInt(weight), uint256.NewInt(c.config.ThresholdDenominator))
	need := new(uint256.Int).Mul(uint256.NewInt(total), uint256.NewInt(c.config.ThresholdNumerator))
	return !have.Lt(need)
}

// rejectionExceeded reports weight/total > (den-num)/den, after which the
// threshold can no longer be reached.
func (c *SequencerConsensus) rejectionExceeded(weight, total uint64) bool {
	if total == 0 {
		return false
	}
	num, den := c.config.ThresholdNumerator, c.config.ThresholdDenominator
	have := new(uint256.Int).Mul(uint256.NewInt(weight), uint256.NewInt(den))
	tolerated := new(uint256.Int).Mul(uint256.NewInt(total), uint256.NewInt(den-num))
	return have.Gt(tolerated)
}

func (c *SequencerConsensus) finalize(result *types.ConsensusResult) *notification {
	hash := c.current
	block := &types.ConsensusBlock{
		Proposal:  c.proposal,
		Result:    result,
		Finalized: true,
	}
	for _, voter := range c.order {
		if vote := c.votes[voter]; vote.IsAccept() {
			block.AcceptVotes = append(block.AcceptVotes, vote)
		}
	}
	c.state = types.ConsensusReached
	c.finalized[hash] = block
	c.pruneFinalized()
	c.closeRound()

	finalizedCounter.Inc(1)
	finalizedBlockGauge.Update(int64(block.NumberU64()))
	c.log.Info("Sequencer consensus reached", "number", block.NumberU64(), "hash", hash,
		"accept", result.AcceptWeight, "total", result.TotalWeight, "voters", result.TotalVoters)

	return &notification{
		finalized:    block.Copy(),
		consensusCbs: append([]ConsensusCallback(nil), c.consensusCallbacks...),
	}
}

func (c *SequencerConsensus) fail(reason string) *notification {
	hash, number := c.current, c.proposal.BlockNumber
	c.state = types.ConsensusFailed
	c.failed.Add(hash, reason)
	c.closeRound()

	failedCounter.Inc(1)
	c.log.Warn("Sequencer consensus failed", "number", number, "hash", hash, "reason", reason)

	return &notification{
		failed:     true,
		failedHash: hash,
		reason:     reason,
		failedCbs:  append([]ConsensusFailedCallback(nil), c.failedCallbacks...),
	}
}

// closeRound drops the open round and returns to waiting for a proposal.
func (c *SequencerConsensus) closeRound() {
	if c.journal != nil && c.proposal != nil {
		if err := c.journal.WriteRoundClosed(c.current); err != nil {
			c.log.Error("Failed to journal round close", "hash", c.current, "err", err)
		}
	}
	c.proposal = nil
	c.current = common.Hash{}
	c.votes = make(map[common.Address]*types.SequencerVote)
	c.order = nil
	c.received.Clear()
	c.state = types.WaitingForProposal
	curVotesGauge.Update(0)
}

// pruneFinalized evicts the lowest blocks once the history is full.
func (c *SequencerConsensus) pruneFinalized() {
	for len(c.finalized) > c.config.MaxFinalizedBlocks {
		var (
			oldest common.Hash
			number uint64 = math.MaxUint64
		)
		for hash, block := range c.finalized {
			if n := block.NumberU64(); n < number || (n == number && bytes.Compare(hash[:], oldest[:]) < 0) {
				oldest, number = hash, n
			}
		}
		delete(c.finalized, oldest)
	}
}

func (c *SequencerConsensus) notify(n *notification) {
	if n.finalized != nil {
		for _, cb := range n.consensusCbs {
			cb(n.finalized.Copy())
		}
		c.finalizedFeed.Send(FinalizedBlockEvent{Block: n.finalized})
	}
	if n.failed {
		for _, cb := range n.failedCbs {
			cb(n.failedHash, n.reason)
		}
	}
}

// HandleConsensusFailed fails the open round of the given block, e.g. when
// its slot timed out. It reports whether a round was failed.
func (c *SequencerConsensus) HandleConsensusFailed(blockHash common.Hash, reason string) bool {
	c.mu.Lock()
	if c.state != types.CollectingVotes || blockHash != c.current {
		c.mu.Unlock()
		return false
	}
	n := c.fail(reason)
	c.mu.Unlock()

	c.notify(n)
	return true
}

// VoteOnProposal evaluates a proposal as the local sequencer, signs an accept
// or reject vote with signer, feeds it to the engine and returns it for
// broadcasting.
func (c *SequencerConsensus) VoteOnProposal(proposal *types.L2BlockProposal, signer *Signer) (*types.SequencerVote, error) {
	if proposal == nil {
		return nil, ErrNilProposal
	}
	c.mu.RLock()
	if c.halted {
		c.mu.RUnlock()
		return nil, ErrChainHalted
	}
	err := c.validateProposal(proposal)
	if err == nil && !c.weights.VerifySignature(proposal.ProposerAddress, proposal.SigningHash(), proposal.Signature) {
		err = ErrInvalidProposerSignature
	}
	now := c.now()
	c.mu.RUnlock()

	vote := &types.SequencerVote{
		BlockHash:  proposal.Hash(),
		Vote:       types.VoteAccept,
		Timestamp:  uint64(now.Unix()),
		SlotNumber: proposal.SlotNumber,
	}
	if err != nil {
		vote.Vote = types.VoteReject
		vote.RejectReason = err.Error()
	}
	if err := signer.SignVote(vote); err != nil {
		return nil, err
	}
	c.ProcessVote(vote)
	return vote, nil
}

// CalculateWeightedVotes tallies the votes of the open round without
// changing anything.
func (c *SequencerConsensus) CalculateWeightedVotes(blockHash common.Hash) (*types.ConsensusResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != types.CollectingVotes || blockHash != c.current {
		return nil, ErrRoundNotOpen
	}
	return c.tally(), nil
}

// HasConsensus reports whether the block has been finalized.
func (c *SequencerConsensus) HasConsensus(blockHash common.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.finalized[blockHash]; ok {
		return true
	}
	return c.state == types.CollectingVotes && blockHash == c.current && c.tally().ConsensusReached
}

// GetVotes returns the votes held for the open round of the block.
func (c *SequencerConsensus) GetVotes(blockHash common.Hash) map[common.Address]*types.SequencerVote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != types.CollectingVotes || blockHash != c.current {
		return nil
	}
	votes := make(map[common.Address]*types.SequencerVote, len(c.votes))
	for voter, vote := range c.votes {
		votes[voter] = vote.Copy()
	}
	return votes
}

// GetFinalizedBlock returns a finalized block from the retained history.
func (c *SequencerConsensus) GetFinalizedBlock(blockHash common.Hash) *types.ConsensusBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.finalized[blockHash].Copy()
}

// GetFailedReason returns why a recently failed proposal failed.
func (c *SequencerConsensus) GetFailedReason(blockHash common.Hash) (string, bool) {
	return c.failed.Get(blockHash)
}

// GetCurrentProposal returns the proposal of the open round, if any.
func (c *SequencerConsensus) GetCurrentProposal() *types.L2BlockProposal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proposal.Copy()
}

func (c *SequencerConsensus) GetState() types.ConsensusState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Clear abandons the open round. Finalized history is kept.
func (c *SequencerConsensus) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.proposal != nil {
		c.log.Info("Abandoning consensus round", "number", c.proposal.BlockNumber, "hash", c.current)
	}
	c.closeRound()
}

// Halt stops block production: the open round is abandoned and proposals
// and votes are refused until Resume is called.
func (c *SequencerConsensus) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted {
		return
	}
	c.halted = true
	haltedGauge.Update(1)
	if c.proposal != nil {
		c.log.Warn("Abandoning consensus round, block production halted", "number", c.proposal.BlockNumber, "hash", c.current)
	} else {
		c.log.Warn("Block production halted")
	}
	c.closeRound()
}

// Resume lifts a halt.
func (c *SequencerConsensus) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.halted {
		return
	}
	c.halted = false
	haltedGauge.Update(0)
	c.log.Info("Block production resumed")
}

// Halted reports whether block production is halted.
func (c *SequencerConsensus) Halted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.halted
}

// RegisterConsensusCallback adds a listener for finalized blocks.
func (c *SequencerConsensus) RegisterConsensusCallback(cb ConsensusCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consensusCallbacks = append(c.consensusCallbacks, cb)
}

// RegisterConsensusFailedCallback adds a listener for failed rounds.
func (c *SequencerConsensus) RegisterConsensusFailedCallback(cb ConsensusFailedCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedCallbacks = append(c.failedCallbacks, cb)
}

// SubscribeFinalizedBlocks registers a subscription of FinalizedBlockEvent.
func (c *SequencerConsensus) SubscribeFinalizedBlocks(ch chan<- FinalizedBlockEvent) event.Subscription {
	return c.scope.Track(c.finalizedFeed.Subscribe(ch))
}

// RestoreFromJournal reopens the round that was open when the journal was
// last written and replays its votes. It returns the number of votes
// restored.
func (c *SequencerConsensus) RestoreFromJournal() (int, error) {
	if c.journal == nil {
		return 0, nil
	}
	proposal, votes, err := c.journal.LoadOpenRound()
	if err != nil {
		return 0, perrors.Wrap(err, "failed to load vote journal")
	}
	if proposal == nil {
		return 0, nil
	}

	c.mu.Lock()
	if err := c.proposeBlock(proposal, false); err != nil {
		c.mu.Unlock()
		return 0, perrors.Wrap(err, "failed to restore journaled proposal")
	}
	var (
		restored int
		n        *notification
	)
	for _, vote := range votes {
		var ok bool
		if n, ok = c.processVote(vote, false); ok {
			restored++
		}
		if n != nil {
			break
		}
	}
	c.mu.Unlock()

	if n != nil {
		c.notify(n)
	}
	c.log.Info("Restored consensus round from journal", "number", proposal.BlockNumber, "hash", proposal.Hash(), "votes", restored)
	return restored, nil
}

// Close unsubscribes all feed subscribers and closes the journal.
func (c *SequencerConsensus) Close() error {
	c.scope.Close()
	if c.journal != nil {
		return c.journal.Close()
	}
	return nil
}
