package dht

import "github.com/ethereum/go-ethereum/metrics"

var (
	packetsInMeter    = metrics.NewRegisteredMeter("dht/packets/in", nil)
	packetsOutMeter   = metrics.NewRegisteredMeter("dht/packets/out", nil)
	malformedMeter    = metrics.NewRegisteredMeter("dht/packets/malformed", nil)
	orphanMeter       = metrics.NewRegisteredMeter("dht/responses/orphaned", nil)
	unknownTransMeter = metrics.NewRegisteredMeter("dht/responses/unknowntrans", nil)
	evictedMeter      = metrics.NewRegisteredMeter("dht/nodes/evicted", nil)
	sendErrorMeter    = metrics.NewRegisteredMeter("dht/send/errors", nil)
)
