package mockkafka

import (
	"time"
)

// Option is a functional option for configuring a mock Consumer.
type Option func(*Consumer)

// WithMaxPollRecords sets the maximum number of records returned per Poll
// call. Default is 10.
func WithMaxPollRecords(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.maxPollRecords = n
		}
	}
}

// WithPollDelay adds an artificial delay to every Poll call.
func WithPollDelay(d time.Duration) Option {
	return func(c *Consumer) {
		c.pollDelay = d
	}
}

// WithSubscribeError configures an error to be returned by SubscribeAndSeek.
func WithSubscribeError(err error) Option {
	return func(c *Consumer) {
		c.subscribeErr = err
	}
}

// WithPollError configures an error to be returned by all Poll calls.
func WithPollError(err error) Option {
	return func(c *Consumer) {
		c.pollErr = func() error { return err }
	}
}

// WithCommitError configures an error to be passed to every commit callback.
func WithCommitError(err error) Option {
	return func(c *Consumer) {
		c.commitErr = func() error { return err }
	}
}
