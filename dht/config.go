package dht

import "time"

// Config holds the tunables of the bootstrap, discovery and maintenance
// loops. The zero value of any field falls back to DefaultConfig.
type Config struct {
	// SampleCount is how many nodes each loop iteration draws from the
	// table, and the population the bootstrap must exceed.
	SampleCount int

	// MaxBootstrapErrors is how many unanswered queries the seed may
	// accumulate before the bootstrap gives up.
	MaxBootstrapErrors int

	BootstrapInterval time.Duration
	FindInterval      time.Duration
	GCInterval        time.Duration

	// GCMaxAge is how long a node may stay silent before the maintenance
	// loop probes or evicts it.
	GCMaxAge time.Duration

	// GCMaxTrans is how many unanswered queries a stale node may hold
	// before it is evicted.
	GCMaxTrans int
}

// DefaultConfig is the parameter set used by the daemon
var DefaultConfig = Config{
	SampleCount:        8,
	MaxBootstrapErrors: 5,
	BootstrapInterval:  2 * time.Second,
	FindInterval:       2 * time.Second,
	GCInterval:         time.Second,
	GCMaxAge:           60 * time.Second,
	GCMaxTrans:         5,
}

func (c Config) withDefaults() Config {
	if c.SampleCount == 0 {
		c.SampleCount = DefaultConfig.SampleCount
	}
	if c.MaxBootstrapErrors == 0 {
		c.MaxBootstrapErrors = DefaultConfig.MaxBootstrapErrors
	}
	if c.BootstrapInterval == 0 {
		c.BootstrapInterval = DefaultConfig.BootstrapInterval
	}
	if c.FindInterval == 0 {
		c.FindInterval = DefaultConfig.FindInterval
	}
	if c.GCInterval == 0 {
		c.GCInterval = DefaultConfig.GCInterval
	}
	if c.GCMaxAge == 0 {
		c.GCMaxAge = DefaultConfig.GCMaxAge
	}
	if c.GCMaxTrans == 0 {
		c.GCMaxTrans = DefaultConfig.GCMaxTrans
	}
	return c
}
