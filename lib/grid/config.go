package grid

import "time"

// --------------------------------------------------------------------------
// Grid Configuration
// --------------------------------------------------------------------------

// Config holds all grid-level defaults. Storages built on the grid inherit
// these values unless their own options override them.
type Config struct {
	// RequestTimeout is the per-request deadline for correlated requests
	RequestTimeout time.Duration

	// MaxMessageKeys and MaxMessageValues bound how many encoded keys and
	// values a single outbound message may carry; larger requests are split
	// into chunks.
	MaxMessageKeys   int
	MaxMessageValues int

	// MaxCollectedEvents and MaxCollectedTime shape the storage event
	// batching window (whichever threshold fires first emits the batch).
	MaxCollectedEvents int
	MaxCollectedTime   time.Duration

	// IteratorBatchSize is the chunk size for cross-cluster iteration
	IteratorBatchSize int

	// Raft timings
	MinElectionTimeout time.Duration
	Heartbeat          time.Duration
	PeerTimeout        time.Duration
}

// DefaultConfig returns the default grid configuration
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     3 * time.Second,
		MaxMessageKeys:     1000,
		MaxMessageValues:   1000,
		MaxCollectedEvents: 100,
		MaxCollectedTime:   50 * time.Millisecond,
		IteratorBatchSize:  500,
		MinElectionTimeout: 500 * time.Millisecond,
		Heartbeat:          150 * time.Millisecond,
		PeerTimeout:        2 * time.Second,
	}
}

// withDefaults fills zero values with the defaults
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxMessageKeys <= 0 {
		c.MaxMessageKeys = d.MaxMessageKeys
	}
	if c.MaxMessageValues <= 0 {
		c.MaxMessageValues = d.MaxMessageValues
	}
	if c.MaxCollectedEvents <= 0 {
		c.MaxCollectedEvents = d.MaxCollectedEvents
	}
	if c.MaxCollectedTime <= 0 {
		c.MaxCollectedTime = d.MaxCollectedTime
	}
	if c.IteratorBatchSize <= 0 {
		c.IteratorBatchSize = d.IteratorBatchSize
	}
	if c.MinElectionTimeout <= 0 {
		c.MinElectionTimeout = d.MinElectionTimeout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = d.Heartbeat
	}
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = d.PeerTimeout
	}
	return c
}
