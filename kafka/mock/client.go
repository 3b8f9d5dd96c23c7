package mockkafka

import (
	"context"
	"sync"
	"time"

	"github.com/hugolhafner/ktail/kafka"
)

var _ kafka.Consumer = (*Consumer)(nil)

// Consumer is an in-memory kafka.Consumer for tests. Records are staged per
// partition with AddRecords and handed out round-robin by Poll; positions,
// committed offsets and keep-alives are tracked for assertions.
type Consumer struct {
	mu sync.Mutex

	recordQueues   map[kafka.TopicPartition][]kafka.ConsumerRecord
	queuePositions map[kafka.TopicPartition]int
	baseOffsets    map[kafka.TopicPartition]int64

	committedOffsets map[kafka.TopicPartition]kafka.Offset

	subscriptions []string
	subscribed    bool

	maxPollRecords int
	pollDelay      time.Duration

	subscribeErr error
	pollErr      func() error
	commitErr    func() error

	pollCalls   int
	commitCalls int
	keepAlives  int

	closed bool
}

func NewConsumer(opts ...Option) *Consumer {
	c := &Consumer{
		recordQueues:     make(map[kafka.TopicPartition][]kafka.ConsumerRecord),
		queuePositions:   make(map[kafka.TopicPartition]int),
		baseOffsets:      make(map[kafka.TopicPartition]int64),
		committedOffsets: make(map[kafka.TopicPartition]kafka.Offset),
		maxPollRecords:   10,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SubscribeAndSeek registers the subscription, seeks every staged partition of
// the requested topics to its start or end, and returns the log-end offsets.
func (c *Consumer) SubscribeAndSeek(ctx context.Context, topics []string, fromStart bool) (map[kafka.TopicPartition]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}

	c.subscriptions = topics
	c.subscribed = true

	endOffsets := make(map[kafka.TopicPartition]int64)
	for tp, queue := range c.recordQueues {
		for _, topic := range topics {
			if tp.Topic != topic {
				continue
			}

			endOffsets[tp] = c.baseOffsets[tp] + int64(len(queue))
			if fromStart {
				c.queuePositions[tp] = 0
			} else {
				c.queuePositions[tp] = len(queue)
			}
			break
		}
	}

	return endOffsets, nil
}

// CurrentPosition returns the next offset Poll would hand out per partition.
func (c *Consumer) CurrentPosition(partitions []kafka.TopicPartition) map[kafka.TopicPartition]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := make(map[kafka.TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		if _, ok := c.recordQueues[tp]; !ok {
			continue
		}

		current[tp] = c.baseOffsets[tp] + int64(c.queuePositions[tp])
	}

	return current
}

// Poll returns up to maxPollRecords records round-robin across partitions.
// When nothing is staged it blocks for the timeout, like a real consumer.
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) ([]kafka.ConsumerRecord, error) {
	c.mu.Lock()

	c.pollCalls++

	if c.pollDelay > 0 {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollDelay):
		}
		c.mu.Lock()
	}

	if c.pollErr != nil {
		if err := c.pollErr(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}

	var records []kafka.ConsumerRecord

	// round robin across partitions to preserve per-partition order
	for len(records) < c.maxPollRecords {
		progressMade := false

		for tp, queue := range c.recordQueues {
			pos := c.queuePositions[tp]
			if pos >= len(queue) {
				continue
			}

			// hand out copies so callers can't mutate staged records
			records = append(records, queue[pos].Copy())
			c.queuePositions[tp]++
			progressMade = true

			if len(records) >= c.maxPollRecords {
				break
			}
		}

		if !progressMade {
			break
		}
	}
	c.mu.Unlock()

	if len(records) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(timeout):
		}
	}

	return records, nil
}

// CommitAsync records the committed offsets and invokes the callback
// synchronously.
func (c *Consumer) CommitAsync(offsets map[kafka.TopicPartition]kafka.Offset, cb kafka.CommitCallback) {
	c.mu.Lock()

	c.commitCalls++

	var err error
	if c.commitErr != nil {
		err = c.commitErr()
	}

	if err == nil {
		for tp, offset := range offsets {
			c.committedOffsets[tp] = offset
		}
	}
	c.mu.Unlock()

	if cb != nil {
		cb(offsets, err)
	}
}

func (c *Consumer) KeepAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.keepAlives++
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

// AddPartition registers an empty partition so it shows up in
// SubscribeAndSeek even before any records are staged.
func (c *Consumer) AddPartition(topic string, partition int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tp := kafka.TopicPartition{Topic: topic, Partition: partition}
	if _, ok := c.recordQueues[tp]; !ok {
		c.recordQueues[tp] = nil
	}
}

// AddRecords stages records for a partition. Topic, partition and missing
// offsets are filled in; offsets continue from the existing queue.
func (c *Consumer) AddRecords(topic string, partition int32, records ...kafka.ConsumerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tp := kafka.TopicPartition{Topic: topic, Partition: partition}

	for i := range records {
		records[i].Topic = topic
		records[i].Partition = partition
		if records[i].Offset == 0 {
			records[i].Offset = c.baseOffsets[tp] + int64(len(c.recordQueues[tp])+i)
		}
	}

	c.recordQueues[tp] = append(c.recordQueues[tp], records...)
}

// SetPollError configures an error to be returned on all Poll calls.
// Pass nil to clear the error.
func (c *Consumer) SetPollError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.pollErr = nil
	} else {
		c.pollErr = func() error { return err }
	}
}

// SetCommitError configures an error to be passed to every commit callback.
func (c *Consumer) SetCommitError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		c.commitErr = nil
	} else {
		c.commitErr = func() error { return err }
	}
}

// CommittedOffsets returns a copy of all committed offsets.
func (c *Consumer) CommittedOffsets() map[kafka.TopicPartition]kafka.Offset {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[kafka.TopicPartition]kafka.Offset, len(c.committedOffsets))
	for k, v := range c.committedOffsets {
		result[k] = v
	}
	return result
}

// CommittedOffset returns the committed offset for a topic-partition.
func (c *Consumer) CommittedOffset(tp kafka.TopicPartition) (kafka.Offset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	offset, ok := c.committedOffsets[tp]
	return offset, ok
}

// Subscriptions returns the topics the consumer is subscribed to.
func (c *Consumer) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, len(c.subscriptions))
	copy(result, c.subscriptions)
	return result
}

func (c *Consumer) PollCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pollCalls
}

func (c *Consumer) CommitCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.commitCalls
}

func (c *Consumer) KeepAlives() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.keepAlives
}

func (c *Consumer) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}
