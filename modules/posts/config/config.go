package config

import (
	"time"

	"github.com/mapfeed/mapfeed-indexer/internal/postgres"
	"github.com/mapfeed/mapfeed-indexer/pkg/resilience"
)

type Config struct {
	Database   string          `mapstructure:"database"`   // e.g. `postgres`
	Postgres   postgres.Config `mapstructure:"postgres"`
	Datasource string          `mapstructure:"datasource"` // e.g. `bitcoin-node`

	// StartBlockHeight is the resume point for a fresh database.
	// -1 starts from the latest indexed height recorded in the database.
	StartBlockHeight int64 `mapstructure:"start_block_height"`

	// Mempool enables delivery of unconfirmed transactions through the same
	// handler as confirmed ones.
	Mempool bool `mapstructure:"mempool"`

	// ReorgRewindDepth is how many blocks the stream rewinds when a chain
	// reorganization is detected. Replays are idempotent.
	ReorgRewindDepth int64 `mapstructure:"reorg_rewind_depth"`

	Processor ProcessorConfig `mapstructure:"processor"`
}

type ProcessorConfig struct {
	// BatchSize bounds how many posts the persistence worker drains per cycle.
	BatchSize int `mapstructure:"batch_size"`

	// QueueSize bounds the intake queue between stream consumption and the
	// persistence worker.
	QueueSize int `mapstructure:"queue_size"`

	// MaxContentLength bounds free-text length after sanitization.
	MaxContentLength int `mapstructure:"max_content_length"`

	Resilience     resilience.Config    `mapstructure:"resilience"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	PendingOptions PendingOptionsConfig `mapstructure:"pending_options"`
}

type RateLimitConfig struct {
	Tokens   int           `mapstructure:"tokens"`
	Interval time.Duration `mapstructure:"interval"`
}

type PendingOptionsConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

const (
	DefaultBatchSize        = 100
	DefaultQueueSize        = 1000
	DefaultMaxContentLength = 65536
	DefaultRateLimitTokens  = 100
	DefaultPendingCapacity  = 10000
	DefaultPendingTTL       = 10 * time.Minute
	DefaultRateLimitWindow  = time.Minute
	DefaultReorgRewindDepth = 6
)

// WithDefaults fills the zero values of the processor tuning knobs.
func (c ProcessorConfig) WithDefaults() ProcessorConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = DefaultMaxContentLength
	}
	if c.RateLimit.Tokens <= 0 {
		c.RateLimit.Tokens = DefaultRateLimitTokens
	}
	if c.RateLimit.Interval <= 0 {
		c.RateLimit.Interval = DefaultRateLimitWindow
	}
	if c.PendingOptions.Capacity <= 0 {
		c.PendingOptions.Capacity = DefaultPendingCapacity
	}
	if c.PendingOptions.TTL <= 0 {
		c.PendingOptions.TTL = DefaultPendingTTL
	}
	return c
}
