package sequencer

import "github.com/ethereum/go-ethereum/metrics"

var (
	proposalAcceptMeter = metrics.NewRegisteredMeter("sequencer/proposals/accepted", nil)
	proposalRejectMeter = metrics.NewRegisteredMeter("sequencer/proposals/rejected", nil)

	voteAcceptMeter = metrics.NewRegisteredMeter("sequencer/votes/accepted", nil)
	voteRejectMeter = metrics.NewRegisteredMeter("sequencer/votes/rejected", nil)

	finalizedCounter = metrics.NewRegisteredCounter("sequencer/rounds/finalized", nil)
	failedCounter    = metrics.NewRegisteredCounter("sequencer/rounds/failed", nil)

	curVotesGauge       = metrics.NewRegisteredGauge("sequencer/votes/current", nil)
	finalizedBlockGauge = metrics.NewRegisteredGauge("sequencer/finalized/number", nil)
	haltedGauge         = metrics.NewRegisteredGauge("sequencer/halted", nil)

	equivocationCounter = metrics.NewRegisteredCounter("sequencer/votes/equivocation", nil)
)
