package kafka

import (
	"context"
	"time"
)

// CommitCallback is invoked when an asynchronous offset commit completes.
// It may run on any goroutine and must not assume it runs on the poll loop.
type CommitCallback func(offsets map[TopicPartition]Offset, err error)

// Consumer is the subscription resource a tail task drives. The task's poll
// goroutine exclusively owns it; only CommitAsync completion callbacks escape
// that goroutine.
type Consumer interface {
	// SubscribeAndSeek subscribes to the given topics, seeks every partition
	// to its start or end depending on fromStart, and returns the log-end
	// offset of each partition at subscription time.
	SubscribeAndSeek(ctx context.Context, topics []string, fromStart bool) (map[TopicPartition]int64, error)

	// CurrentPosition returns the live consume position for the given
	// partitions. Partitions the consumer knows nothing about are omitted.
	CurrentPosition(partitions []TopicPartition) map[TopicPartition]int64

	// Poll fetches a bounded batch of records, blocking up to timeout.
	// An empty slice with a nil error means the timeout elapsed quietly.
	Poll(ctx context.Context, timeout time.Duration) ([]ConsumerRecord, error)

	// CommitAsync issues an offset commit without blocking the caller.
	// The callback fires once the broker acknowledges or rejects it.
	CommitAsync(offsets map[TopicPartition]Offset, cb CommitCallback)

	// KeepAlive signals liveness to the broker while the task is idle or
	// paused. Implementations whose client heartbeats on its own may no-op.
	KeepAlive()

	Close() error
}
