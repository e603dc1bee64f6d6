package dvn

import (
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/nori-zk/dvn-worker/core/types"
)

var (
	trackedMeter     = metrics.NewRegisteredMeter("dvn/packets/tracked", nil)
	duplicateMeter   = metrics.NewRegisteredMeter("dvn/packets/duplicate", nil)
	decodeDropMeter  = metrics.NewRegisteredMeter("dvn/decode/dropped", nil)
	ignoredMeter     = metrics.NewRegisteredMeter("dvn/decode/ignored", nil)
	retryMeter       = metrics.NewRegisteredMeter("dvn/pipeline/retries", nil)
	awaitingMeter    = metrics.NewRegisteredMeter("dvn/pipeline/awaiting", nil)
	placeholderMeter = metrics.NewRegisteredMeter("dvn/pipeline/placeholders", nil)
	replayMeter      = metrics.NewRegisteredMeter("dvn/pipeline/replays", nil)
	inflightGauge    = metrics.NewRegisteredGauge("dvn/pipeline/inflight", nil)
	queueGauge       = metrics.NewRegisteredGauge("dvn/queue/size", nil)
	pipelineTimer    = metrics.NewRegisteredTimer("dvn/pipeline/duration", nil)
	submitTimer      = metrics.NewRegisteredTimer("dvn/submit/duration", nil)

	stateMeters = map[types.State]*metrics.Meter{
		types.StateConfirmed: metrics.NewRegisteredMeter("dvn/state/confirmed", nil),
		types.StateFailed:    metrics.NewRegisteredMeter("dvn/state/failed", nil),
	}
)
