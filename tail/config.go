package tail

import (
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/ktail/logger"
	"github.com/hugolhafner/ktail/metrics"
)

type Config struct {
	// BatchSize is the flush threshold for the message batcher.
	BatchSize int

	// PauseInterval is how long the loop sleeps between state checks while
	// paused. A keep-alive is issued on every interval.
	PauseInterval time.Duration

	// IdleBackoff yields the poll timeout from the 1-based idle attempt
	// number. The counter resets the moment a poll returns records.
	IdleBackoff backoff.Backoff

	Logger  logger.Logger
	Metrics metrics.Collector
}

type Option func(*Config)

func WithBatchSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.BatchSize = size
		}
	}
}

func WithPauseInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PauseInterval = d
		}
	}
}

func WithIdleBackoff(b backoff.Backoff) Option {
	return func(c *Config) {
		if b != nil {
			c.IdleBackoff = b
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

func defaultConfig() Config {
	return Config{
		BatchSize:     50,
		PauseInterval: 20 * time.Millisecond,
		IdleBackoff: backoff.NewExponential(
			backoff.WithInitialInterval(250*time.Millisecond),
			backoff.WithMaxInterval(5*time.Second),
		),
		Logger:        logger.NewNoopLogger(),
		Metrics:       metrics.NewNop(),
	}
}
