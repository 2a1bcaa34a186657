package sequencer

import (
	"time"

	"github.com/cascoin/l2core/core/types"
	"github.com/ethereum/go-ethereum/log"
)

const (
	defaultMaxFinalizedBlocks = 100
	defaultMaxFailedProposals = 256
	defaultMaxVotesPerBlock   = 1000

	// A round journals its proposal, up to MaxVotesPerBlock votes and the
	// close marker.
	defaultJournalCapacity = defaultMaxVotesPerBlock + 2
)

// Config holds the tunables of the consensus engine.
type Config struct {
	ChainID uint64

	// Votes are final once accept weight reaches
	// ThresholdNumerator/ThresholdDenominator of the registered weight.
	ThresholdNumerator   uint64
	ThresholdDenominator uint64

	MaxClockSkew       time.Duration
	MaxFinalizedBlocks int
	MaxFailedProposals int
	MaxVotesPerBlock   int

	JournalPath     string `toml:",omitempty"` // empty disables the vote journal
	JournalCapacity int    // raised to MaxVotesPerBlock+2 if smaller
}

// DefaultConfig contains the default settings of the engine.
var DefaultConfig = Config{
	ThresholdNumerator:   2,
	ThresholdDenominator: 3,
	MaxClockSkew:         types.MaxClockSkew,
	MaxFinalizedBlocks:   defaultMaxFinalizedBlocks,
	MaxFailedProposals:   defaultMaxFailedProposals,
	MaxVotesPerBlock:     defaultMaxVotesPerBlock,
	JournalCapacity:      defaultJournalCapacity,
}

// sanitize replaces unusable values with defaults.
func (c Config) sanitize() Config {
	conf := c
	if conf.ThresholdDenominator == 0 || conf.ThresholdNumerator == 0 || conf.ThresholdNumerator > conf.ThresholdDenominator {
		log.Warn("Sanitizing invalid consensus threshold", "provided", c.ThresholdNumerator, "over", c.ThresholdDenominator, "updated", "2/3")
		conf.ThresholdNumerator, conf.ThresholdDenominator = DefaultConfig.ThresholdNumerator, DefaultConfig.ThresholdDenominator
	}
	if conf.MaxClockSkew <= 0 {
		conf.MaxClockSkew = DefaultConfig.MaxClockSkew
	}
	if conf.MaxFinalizedBlocks <= 0 {
		conf.MaxFinalizedBlocks = DefaultConfig.MaxFinalizedBlocks
	}
	if conf.MaxFailedProposals <= 0 {
		conf.MaxFailedProposals = DefaultConfig.MaxFailedProposals
	}
	if conf.MaxVotesPerBlock <= 0 {
		conf.MaxVotesPerBlock = DefaultConfig.MaxVotesPerBlock
	}
	if conf.JournalCapacity <= 0 {
		conf.JournalCapacity = DefaultConfig.JournalCapacity
	}
	if floor := conf.MaxVotesPerBlock + 2; conf.JournalCapacity < floor {
		log.Warn("Sanitizing vote journal capacity", "provided", conf.JournalCapacity, "updated", floor)
		conf.JournalCapacity = floor
	}
	return conf
}
