package reorg

import (
	"errors"

	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultFinalityDepth     = 6
	DefaultMaxReorgDepth     = 100
	DefaultHistoryRetention  = 1000
	DefaultMaxAnchorPoints   = 500
	DefaultMaxTxLogSize      = 100000
	DefaultMinAnchorInterval = 10
)

var (
	// ErrNoValidAnchor is returned when no anchor lies below the fork point.
	// The monitor halts until ResumeAfterRecovery is called.
	ErrNoValidAnchor = errors.New("no valid anchor below fork point")

	// ErrRevertFailed is returned when the state manager refuses to revert.
	ErrRevertFailed = errors.New("state revert refused")

	ErrAnchorOutOfOrder = errors.New("anchor not above the latest anchor")
	ErrChainHalted      = errors.New("chain halted after unrecoverable reorg")
	ErrReorgTooDeep     = errors.New("reorg deeper than the maximum handled depth")
	ErrNoReorg          = errors.New("no reorg detected")
	ErrNoLedger         = errors.New("no ledger configured")

	errNilHeader = errors.New("nil L1 header")
	errNilAnchor = errors.New("nil anchor point")
	errNilTxLog  = errors.New("nil tx log entry")
)

// Config holds the tunables of the reorg monitor.
type Config struct {
	FinalityDepth     uint64 // confirmations after which an anchor is final
	MaxReorgDepth     uint64 // deeper reorgs need manual intervention
	HistoryRetention  uint64 // L1 headers kept below the tip
	MaxAnchorPoints   int
	MaxTxLogSize      int
	MinAnchorInterval uint64 // L1 blocks without anchors before the monitor is unhealthy
}

// DefaultConfig contains the default settings of the monitor.
var DefaultConfig = Config{
	FinalityDepth:     DefaultFinalityDepth,
	MaxReorgDepth:     DefaultMaxReorgDepth,
	HistoryRetention:  DefaultHistoryRetention,
	MaxAnchorPoints:   DefaultMaxAnchorPoints,
	MaxTxLogSize:      DefaultMaxTxLogSize,
	MinAnchorInterval: DefaultMinAnchorInterval,
}

// sanitize replaces unusable values with defaults.
func (c Config) sanitize() Config {
	conf := c
	if conf.FinalityDepth == 0 {
		log.Warn("Sanitizing invalid finality depth", "provided", c.FinalityDepth, "updated", DefaultFinalityDepth)
		conf.FinalityDepth = DefaultFinalityDepth
	}
	if conf.MaxReorgDepth == 0 {
		conf.MaxReorgDepth = DefaultMaxReorgDepth
	}
	if conf.HistoryRetention == 0 {
		conf.HistoryRetention = DefaultHistoryRetention
	}
	if conf.HistoryRetention < conf.MaxReorgDepth {
		log.Warn("Sanitizing L1 history retention", "provided", c.HistoryRetention, "updated", conf.MaxReorgDepth)
		conf.HistoryRetention = conf.MaxReorgDepth
	}
	if conf.MaxAnchorPoints <= 0 {
		conf.MaxAnchorPoints = DefaultMaxAnchorPoints
	}
	if conf.MaxTxLogSize <= 0 {
		conf.MaxTxLogSize = DefaultMaxTxLogSize
	}
	if conf.MinAnchorInterval == 0 {
		conf.MinAnchorInterval = DefaultMinAnchorInterval
	}
	return conf
}
