package tail_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/stretchr/testify/require"

	"github.com/hugolhafner/ktail/filter"
	"github.com/hugolhafner/ktail/kafka"
	mockkafka "github.com/hugolhafner/ktail/kafka/mock"
	mocklogger "github.com/hugolhafner/ktail/logger/mock"
	"github.com/hugolhafner/ktail/tail"
)

// fastOpts keeps poll timeouts and pause sleeps tiny so tests turn around
// quickly.
func fastOpts(extra ...tail.Option) []tail.Option {
	opts := []tail.Option{
		tail.WithIdleBackoff(backoff.NewFixed(time.Millisecond)),
		tail.WithPauseInterval(time.Millisecond),
	}
	return append(opts, extra...)
}

func stageRecords(consumer *mockkafka.Consumer, topic string, partition int32, n int) {
	records := make([]kafka.ConsumerRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, mockkafka.SimpleRecord(fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i)))
	}
	consumer.AddRecords(topic, partition, records...)
}

// sinkRecorder collects forwarded responses for assertions.
type sinkRecorder struct {
	mu        sync.Mutex
	responses []tail.Response
}

func (s *sinkRecorder) Sink(resp tail.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responses = append(s.responses, resp)
}

func (s *sinkRecorder) Responses() []tail.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]tail.Response, len(s.responses))
	copy(copied, s.responses)
	return copied
}

func (s *sinkRecorder) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, resp := range s.responses {
		total += len(resp.Messages)
	}
	return total
}

func runTask(t *testing.T, task *tail.Task) chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- task.Run(context.Background())
	}()
	return errCh
}

func stopTask(t *testing.T, task *tail.Task, errCh chan error) {
	t.Helper()

	task.Close()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for task to stop")
	}
}

func TestTask_EmptyTopicNeverFlushes(t *testing.T) {
	consumer := mockkafka.NewConsumer()
	consumer.AddPartition("orders", 0)

	task := tail.New(
		consumer,
		tail.SubscriptionRequest{Topics: []string{"orders"}, FromStart: true},
		fastOpts()...,
	)

	sink := &sinkRecorder{}
	task.RegisterSink(sink.Sink)

	errCh := runTask(t, task)

	require.Eventually(
		t, func() bool {
			return consumer.PollCalls() > 3 && consumer.KeepAlives() > 3
		}, 3*time.Second, 5*time.Millisecond, "idle polls should keep the consumer alive",
	)

	stopTask(t, task, errCh)

	require.Empty(t, sink.Responses())
	require.Empty(t, consumer.CommittedOffsets())
	require.Zero(t, consumer.CommitCalls())
}

func TestTask_BatchesFetchIntoBatchSizeChunks(t *testing.T) {
	consumer := mockkafka.NewConsumer(mockkafka.WithMaxPollRecords(200))
	stageRecords(consumer, "orders", 0, 120)

	task := tail.New(
		consumer,
		tail.SubscriptionRequest{Topics: []string{"orders"}, FromStart: true},
		fastOpts(tail.WithBatchSize(50))...,
	)

	sink := &sinkRecorder{}
	task.RegisterSink(sink.Sink)

	errCh := runTask(t, task)

	require.Eventually(
		t, func() bool {
			return sink.MessageCount() == 120
		}, 3*time.Second, 5*time.Millisecond, "all 120 records should be forwarded",
	)

	stopTask(t, task, errCh)

	responses := sink.Responses()
	require.Len(t, responses, 3)
	require.Len(t, responses[0].Messages, 50)
	require.Len(t, responses[1].Messages, 50)
	require.Len(t, responses[2].Messages, 20)

	final := responses[2].Position
	require.Equal(t, 100, final.Percentage)
	require.Equal(t, int64(120), final.TotalRecords)

	// messages arrive in fetch order within the partition
	require.Equal(t, int64(0), responses[0].Messages[0].Offset)
	require.Equal(t, int64(119), responses[2].Messages[19].Offset)

	committed, ok := consumer.CommittedOffset(kafka.TopicPartition{Topic: "orders", Partition: 0})
	require.True(t, ok)
	require.Equal(t, int64(120), committed.Offset)
	require.Equal(t, 3, consumer.CommitCalls())
}

func TestTask_FilterRejectingEverythingStillFlushesProgress(t *testing.T) {
	consumer := mockkafka.NewConsumer(mockkafka.WithMaxPollRecords(200))
	stageRecords(consumer, "orders", 0, 120)

	task := tail.New(
		consumer,
		tail.SubscriptionRequest{
			Topics:    []string{"orders"},
			Filters:   []filter.Spec{{Field: filter.FieldKey, Op: filter.OpEquals, Value: "no-such-key"}},
			FromStart: true,
		},
		fastOpts(tail.WithBatchSize(50))...,
	)

	sink := &sinkRecorder{}
	task.RegisterSink(sink.Sink)

	errCh := runTask(t, task)

	require.Eventually(
		t, func() bool {
			responses := sink.Responses()
			return len(responses) > 0 && responses[len(responses)-1].Position.TotalRecords == 120
		}, 3*time.Second, 5*time.Millisecond, "the empty flush should still report progress",
	)

	stopTask(t, task, errCh)

	require.Zero(t, sink.MessageCount())
	require.Zero(t, consumer.CommitCalls())
	require.Empty(t, consumer.CommittedOffsets())

	responses := sink.Responses()
	last := responses[len(responses)-1].Position
	require.Equal(t, 100, last.Percentage)
}

func TestTask_PauseStopsFetchingButKeepsAlive(t *testing.T) {
	consumer := mockkafka.NewConsumer()
	stageRecords(consumer, "orders", 0, 10)

	task := tail.New(
		consumer,
		tail.SubscriptionRequest{Topics: []string{"orders"}, FromStart: true},
		fastOpts()...,
	)
	task.Pause()

	sink := &sinkRecorder{}
	task.RegisterSink(sink.Sink)

	errCh := runTask(t, task)

	require.Eventually(
		t, func() bool {
			return consumer.KeepAlives() > 3
		}, 3*time.Second, 5*time.Millisecond, "paused task should keep the consumer alive",
	)

	require.Zero(t, consumer.PollCalls())
	require.Empty(t, sink.Responses())
	require.True(t, task.IsPaused())

	// close while paused exits without fetching
	stopTask(t, task, errCh)
	require.Zero(t, consumer.PollCalls())
}

func TestTask_ResumeRestartsFetching(t *testing.T) {
	consumer := mockkafka.NewConsumer()
	stageRecords(consumer, "orders", 0, 10)

	task := tail.New(
		consumer,
		tail.SubscriptionRequest{Topics: []string{"orders"}, FromStart: true},
		fastOpts()...,
	)
	task.Pause()

	sink := &sinkRecorder{}
	task.RegisterSink(sink.Sink)

	errCh := runTask(t, task)

	require.Eventually(
		t, func() bool {
			return consumer.KeepAlives() > 1
		}, 3*time.Second, 5*time.Millisecond,
	)
	require.Zero(t, consumer.PollCalls())

	task.Resume()

	require.Eventually(
		t, func() bool {
			return sink.MessageCount() == 10
		}, 3*time.Second, 5*time.Millisecond, "records should flow after resume",
	)

	stopTask(t, task, errCh)
}

func TestTask_UpdateSwapsFilterForNextFetch(t *testing.T) {
	consumer := mockkafka.NewConsumer(mockkafka.WithMaxPollRecords(50))
	stageRecords(consumer, "orders", 0, 10)

	task := tail.New(
		consumer,
		tail.SubscriptionRequest{Topics: []string{"orders"}, FromStart: true},
		fastOpts()...,
	)

	sink := &sinkRecorder{}
	task.RegisterSink(sink.Sink)

	errCh := runTask(t, task)

	require.Eventually(
		t, func() bool {
			return sink.MessageCount() == 10
		}, 3*time.Second, 5*time.Millisecond, "first batch passes the match-all filter",
	)

	err := task.Update(tail.SubscriptionRequest{
		Filters: []filter.Spec{{Field: filter.FieldKey, Op: filter.OpEquals, Value: "no-such-key"}},
	})
	require.NoError(t, err)

	// records staged after the update are filtered with the new predicate
	stageRecords(consumer, "orders", 0, 10)

	require.Eventually(
		t, func() bool {
			responses := sink.Responses()
			return len(responses) > 0 && responses[len(responses)-1].Position.TotalRecords == 20
		}, 3*time.Second, 5*time.Millisecond, "the second fetch should be consumed",
	)

	stopTask(t, task, errCh)

	require.Equal(t, 10, sink.MessageCount(), "no record may pass the new filter")
}

func TestTask_UpdateRejectsInvalidFilters(t *testing.T) {
	consumer := mockkafka.NewConsumer()

	task := tail.New(consumer, tail.SubscriptionRequest{Topics: []string{"orders"}}, fastOpts()...)

	err := task.Update(tail.SubscriptionRequest{
		Filters: []filter.Spec{{Field: filter.FieldValue, Op: filter.OpMatches, Value: "(unclosed"}},
	})
	require.Error(t, err)
}

func TestTask_UpdateResumesPausedTask(t *testing.T) {
	consumer := mockkafka.NewConsumer()

	task := tail.New(consumer, tail.SubscriptionRequest{Topics: []string{"orders"}}, fastOpts()...)
	task.Pause()
	require.True(t, task.IsPaused())

	require.NoError(t, task.Update(tail.SubscriptionRequest{}))
	require.False(t, task.IsPaused())
}

func TestTask_NoForwardAfterClose(t *testing.T) {
	consumer := mockkafka.NewConsumer(mockkafka.WithMaxPollRecords(200))
	stageRecords(consumer, "orders", 0, 120)

	task := tail.New(
		consumer,
		tail.SubscriptionRequest{Topics: []string{"orders"}, FromStart: true},
		fastOpts(tail.WithBatchSize(10))...,
	)

	var (
		mu    sync.Mutex
		calls int
	)
	task.RegisterSink(func(resp tail.Response) {
		mu.Lock()
		calls++
		mu.Unlock()

		// closing from inside the sink: everything still buffered must
		// be dropped, not forwarded
		task.Close()
	})

	errCh := runTask(t, task)

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for task to stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)

	// the one forwarded batch is still committed
	committed, ok := consumer.CommittedOffset(kafka.TopicPartition{Topic: "orders", Partition: 0})
	require.True(t, ok)
	require.Equal(t, int64(10), committed.Offset)
}

func TestTask_CloseIsIdempotent(t *testing.T) {
	consumer := mockkafka.NewConsumer()

	task := tail.New(consumer, tail.SubscriptionRequest{Topics: []string{"orders"}}, fastOpts()...)

	require.False(t, task.IsClosed())
	task.Close()
	task.Close()
	require.True(t, task.IsClosed())
}

func TestTask_PollErrorEndsTask(t *testing.T) {
	consumer := mockkafka.NewConsumer(mockkafka.WithPollError(errors.New("broker unreachable")))
	consumer.AddPartition("orders", 0)

	logger := mocklogger.New()
	task := tail.New(
		consumer,
		tail.SubscriptionRequest{Topics: []string{"orders"}, FromStart: true},
		fastOpts(tail.WithLogger(logger))...,
	)

	errCh := runTask(t, task)

	select {
	case err := <-errCh:
		require.ErrorContains(t, err, "broker unreachable")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for task to fail")
	}

	logger.AssertCalledWithMessage(t, "Error polling records, ending task")
}

func TestTask_SubscribeErrorEndsTask(t *testing.T) {
	consumer := mockkafka.NewConsumer(mockkafka.WithSubscribeError(errors.New("unauthorised")))

	task := tail.New(consumer, tail.SubscriptionRequest{Topics: []string{"orders"}}, fastOpts()...)

	err := task.Run(context.Background())
	require.ErrorContains(t, err, "unauthorised")
}

func TestTask_CommitFailureIsLoggedNotFatal(t *testing.T) {
	consumer := mockkafka.NewConsumer(
		mockkafka.WithMaxPollRecords(200),
		mockkafka.WithCommitError(errors.New("rebalance in progress")),
	)
	stageRecords(consumer, "orders", 0, 10)

	logger := mocklogger.New()
	task := tail.New(
		consumer,
		tail.SubscriptionRequest{Topics: []string{"orders"}, FromStart: true},
		fastOpts(tail.WithLogger(logger))...,
	)

	sink := &sinkRecorder{}
	task.RegisterSink(sink.Sink)

	errCh := runTask(t, task)

	require.Eventually(
		t, func() bool {
			return sink.MessageCount() == 10
		}, 3*time.Second, 5*time.Millisecond,
	)

	stopTask(t, task, errCh)

	logger.AssertCalledWithMessage(t, "Failed to commit offsets")
	require.Empty(t, consumer.CommittedOffsets())
}

func TestTask_ContextCancellationClosesTask(t *testing.T) {
	consumer := mockkafka.NewConsumer()
	consumer.AddPartition("orders", 0)

	task := tail.New(
		consumer,
		tail.SubscriptionRequest{Topics: []string{"orders"}, FromStart: true},
		fastOpts()...,
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- task.Run(ctx)
	}()

	require.Eventually(
		t, func() bool {
			return consumer.PollCalls() > 0
		}, 3*time.Second, 5*time.Millisecond,
	)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for task to stop")
	}

	require.True(t, task.IsClosed())
}

func TestTask_WarnsWhenNoSinkRegistered(t *testing.T) {
	consumer := mockkafka.NewConsumer(mockkafka.WithMaxPollRecords(200))
	stageRecords(consumer, "orders", 0, 5)

	logger := mocklogger.New()
	task := tail.New(
		consumer,
		tail.SubscriptionRequest{Topics: []string{"orders"}, FromStart: true},
		fastOpts(tail.WithLogger(logger))...,
	)

	errCh := runTask(t, task)

	require.Eventually(
		t, func() bool {
			committed, ok := consumer.CommittedOffset(kafka.TopicPartition{Topic: "orders", Partition: 0})
			return ok && committed.Offset == 5
		}, 3*time.Second, 5*time.Millisecond, "records are still consumed and committed",
	)

	stopTask(t, task, errCh)

	logger.AssertCalledWithMessage(t, "No sink registered for tail task, dropping batch")
}
