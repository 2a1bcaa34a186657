package reorg

import "github.com/ethereum/go-ethereum/metrics"

var (
	reorgDetectedCounter = metrics.NewRegisteredCounter("reorg/detected", nil)
	reorgDepthGauge      = metrics.NewRegisteredGauge("reorg/depth", nil)
	revertCounter        = metrics.NewRegisteredCounter("reorg/reverts", nil)
	fatalCounter         = metrics.NewRegisteredCounter("reorg/fatal", nil)

	l1TipGauge   = metrics.NewRegisteredGauge("reorg/l1/tip", nil)
	anchorsGauge = metrics.NewRegisteredGauge("reorg/anchors", nil)
	txLogGauge   = metrics.NewRegisteredGauge("reorg/txlog", nil)
	haltedGauge  = metrics.NewRegisteredGauge("reorg/halted", nil)
)
