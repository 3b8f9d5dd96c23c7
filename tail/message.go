package tail

import (
	"time"

	"github.com/hugolhafner/ktail/kafka"
)

// ConsumedMessage is the slice of a fetched record surfaced to the sink.
type ConsumedMessage struct {
	Topic     string         `json:"topic"`
	Partition int32          `json:"partition"`
	Offset    int64          `json:"offset"`
	Timestamp time.Time      `json:"timestamp"`
	Key       []byte         `json:"key"`
	Value     []byte         `json:"value"`
	Headers   []kafka.Header `json:"headers,omitempty"`
}

func asConsumedMessage(rec kafka.ConsumerRecord) ConsumedMessage {
	return ConsumedMessage{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Timestamp: rec.Timestamp,
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   rec.Headers,
	}
}

// Response is one forwarded batch plus the progress snapshot taken at flush
// time. The message slice may be empty when every record in a fetch was
// filtered out; the position still advances.
type Response struct {
	Messages []ConsumedMessage `json:"messages"`
	Position ConsumerPosition  `json:"position"`
}

// Sink receives batches from a task. It is invoked synchronously on the poll
// goroutine and blocks the loop until it returns; a slow sink is the task's
// backpressure.
type Sink func(Response)
