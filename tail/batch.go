package tail

import (
	"github.com/hugolhafner/ktail/kafka"
)

// batcher accumulates filtered messages and the highest acknowledged offset
// per partition for the current batch. Only the poll goroutine touches it, so
// no locking is needed.
type batcher struct {
	size     int
	messages []ConsumedMessage
	commits  map[kafka.TopicPartition]kafka.Offset

	// seen counts every accepted record, filtered or not, for the lifetime
	// of the task. It survives drains.
	seen int64
}

func newBatcher(size int) *batcher {
	return &batcher{
		size:     size,
		messages: make([]ConsumedMessage, 0, size),
		commits:  make(map[kafka.TopicPartition]kafka.Offset),
	}
}

// accept feeds one fetched record into the batch. Records that failed the
// filter still count towards the total but are neither buffered nor committed.
// The commit value is the next offset to read, and a later record for the
// same partition overwrites an earlier one.
func (b *batcher) accept(rec kafka.ConsumerRecord, passedFilter bool) {
	b.seen++

	if !passedFilter {
		return
	}

	b.messages = append(b.messages, asConsumedMessage(rec))
	b.commits[rec.TopicPartition()] = kafka.Offset{
		Offset:      rec.Offset + 1,
		LeaderEpoch: rec.LeaderEpoch,
	}
}

func (b *batcher) full() bool {
	return len(b.messages) >= b.size
}

// drain returns the buffered messages and commits and resets both. The
// total-records counter is deliberately not reset.
func (b *batcher) drain() ([]ConsumedMessage, map[kafka.TopicPartition]kafka.Offset) {
	messages := b.messages
	commits := b.commits

	b.messages = make([]ConsumedMessage, 0, b.size)
	b.commits = make(map[kafka.TopicPartition]kafka.Offset)

	return messages, commits
}

func (b *batcher) totalRecords() int64 {
	return b.seen
}
