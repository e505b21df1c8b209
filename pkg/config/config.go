// Package config provides configuration management for the anonnet core.
// Config is a single enumerated record: every tunable the core consults
// lives as a field here rather than behind a loader or schema, since
// config sourcing and hot-reload are external collaborators.
package config

import (
	"fmt"
	"time"
)

// Config holds every tunable the core components consult.
type Config struct {
	// Identity / admission
	DataDirectory    string // directory for the persisted identity record
	PowDifficulty    uint8  // proof-of-work difficulty this node mines at startup
	PowMinDifficulty uint8  // minimum difficulty this node accepts from peers

	// Kademlia routing table
	KBucketSize      int           // K: entries per k-bucket (default 20)
	LookupAlpha      int           // α: parallel queries per lookup round (default 3)
	MaxNodeAge       time.Duration // staleness horizon for routing-table entries
	RefreshInterval  time.Duration // bucket refresh sweep period
	MaxValuesPerKey  int           // DHT store: max publishers accepted per key
	DefaultValueTTL  time.Duration // DHT store: default record TTL

	// Circuits
	CircuitLengths   []int         // permitted hop counts, e.g. {1,3,8}
	CircuitLifetime  time.Duration // max age before a circuit is torn down
	CircuitBuildTime time.Duration // max time to build a circuit before aborting

	// Circuit pool
	CircuitPoolMinSize int // circuits kept warm in the pool
	CircuitPoolMaxSize int // circuits the pool will hold before discarding
	CircuitMaxReuse    int // max times a pooled circuit is handed out before retirement

	// Connections
	MaxConnectionsPerPeer int // MAX_CONNECTIONS_PER_PEER: simultaneous connections allowed to one address

	// Rate limiting: per-peer token bucket, spec.md §5/§7
	RateLimitMaxTokens        uint64        // bucket capacity in bytes
	RateLimitBytesPerSecond   uint64        // refill rate in bytes/s
	RateLimitBurstBytes       uint64        // largest single charge allowed before a penalty
	RateLimitViolationPenalty time.Duration // duration a peer is refused after a violation

	// Logging
	LogLevel string // debug, info, warn, error
}

// DefaultConfig returns a configuration with the constants spec.md §6 names.
func DefaultConfig() *Config {
	return &Config{
		DataDirectory:    "./anonnet-data",
		PowDifficulty:    12,
		PowMinDifficulty: 8,

		KBucketSize:     20,
		LookupAlpha:     3,
		MaxNodeAge:      2 * time.Hour,
		RefreshInterval: time.Hour,
		MaxValuesPerKey: 20,
		DefaultValueTTL: time.Hour,

		CircuitLengths:   []int{1, 3, 8},
		CircuitLifetime:  10 * time.Minute,
		CircuitBuildTime: 60 * time.Second,

		CircuitPoolMinSize: 2,
		CircuitPoolMaxSize: 10,
		CircuitMaxReuse:    100,

		MaxConnectionsPerPeer: 8,

		RateLimitMaxTokens:        10 * 1024 * 1024,
		RateLimitBytesPerSecond:   1024 * 1024,
		RateLimitBurstBytes:       5 * 1024 * 1024,
		RateLimitViolationPenalty: 60 * time.Second,

		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.DataDirectory == "" {
		return fmt.Errorf("DataDirectory is required")
	}
	if c.PowDifficulty < c.PowMinDifficulty {
		return fmt.Errorf("PowDifficulty (%d) must be >= PowMinDifficulty (%d)", c.PowDifficulty, c.PowMinDifficulty)
	}
	if c.KBucketSize < 1 {
		return fmt.Errorf("KBucketSize must be at least 1")
	}
	if c.LookupAlpha < 1 {
		return fmt.Errorf("LookupAlpha must be at least 1")
	}
	if c.MaxNodeAge <= 0 {
		return fmt.Errorf("MaxNodeAge must be positive")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("RefreshInterval must be positive")
	}
	if c.MaxValuesPerKey < 1 {
		return fmt.Errorf("MaxValuesPerKey must be at least 1")
	}
	if len(c.CircuitLengths) == 0 {
		return fmt.Errorf("CircuitLengths must name at least one permitted length")
	}
	for _, l := range c.CircuitLengths {
		if l < 1 {
			return fmt.Errorf("CircuitLengths entries must be positive, got %d", l)
		}
	}
	if c.CircuitBuildTime <= 0 {
		return fmt.Errorf("CircuitBuildTime must be positive")
	}
	if c.CircuitLifetime <= 0 {
		return fmt.Errorf("CircuitLifetime must be positive")
	}
	if c.CircuitPoolMaxSize < c.CircuitPoolMinSize {
		return fmt.Errorf("CircuitPoolMaxSize must be >= CircuitPoolMinSize")
	}
	if c.MaxConnectionsPerPeer < 1 {
		return fmt.Errorf("MaxConnectionsPerPeer must be at least 1")
	}
	if c.RateLimitMaxTokens < 1 {
		return fmt.Errorf("RateLimitMaxTokens must be at least 1")
	}
	if c.RateLimitBytesPerSecond < 1 {
		return fmt.Errorf("RateLimitBytesPerSecond must be at least 1")
	}
	if c.RateLimitBurstBytes < 1 {
		return fmt.Errorf("RateLimitBurstBytes must be at least 1")
	}
	if c.RateLimitViolationPenalty <= 0 {
		return fmt.Errorf("RateLimitViolationPenalty must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid LogLevel: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.CircuitLengths = append([]int{}, c.CircuitLengths...)
	return &clone
}
