// Package tail implements a long-lived task that continuously consumes
// records from a set of Kafka topics, filters them against a dynamically
// updatable predicate list, batches matches, tracks consumption progress and
// forwards batches to a sink while committing processed offsets
// asynchronously.
package tail

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hugolhafner/ktail/filter"
	"github.com/hugolhafner/ktail/kafka"
	"github.com/hugolhafner/ktail/logger"
	"github.com/hugolhafner/ktail/metrics"
)

// SubscriptionRequest describes what a task consumes. Topics and the start
// position are fixed for the task's lifetime; the filter list can be replaced
// via Update without restarting the subscription.
type SubscriptionRequest struct {
	Topics    []string
	Filters   []filter.Spec
	FromStart bool
}

// Task is the poll-loop driver. Run owns one goroutine; Update, RegisterSink,
// Pause, Resume and Close may be called from any other goroutine and
// communicate with the loop through atomically swapped values only.
type Task struct {
	consumer  kafka.Consumer
	topics    []string
	fromStart bool
	config    Config

	filters atomic.Pointer[[]filter.Spec]
	sink    atomic.Pointer[Sink]
	closed  atomic.Bool
	paused  atomic.Bool

	logger  logger.Logger
	metrics metrics.Collector
}

func New(consumer kafka.Consumer, req SubscriptionRequest, opts ...Option) *Task {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	t := &Task{
		consumer:  consumer,
		topics:    append([]string(nil), req.Topics...),
		fromStart: req.FromStart,
		config:    config,
		logger:    config.Logger.With("component", "tail-task"),
		metrics:   config.Metrics,
	}

	specs := append([]filter.Spec(nil), req.Filters...)
	t.filters.Store(&specs)

	var noSink Sink = func(Response) {
		t.logger.Warn("No sink registered for tail task, dropping batch")
	}
	t.sink.Store(&noSink)

	return t
}

// Update replaces the active filter list. Invalid specs are rejected and the
// previous list stays active. A fetch already in flight keeps its predicate;
// the new list takes effect on the next poll iteration. Updating also
// resumes a paused task.
func (t *Task) Update(req SubscriptionRequest) error {
	specs := append([]filter.Spec(nil), req.Filters...)
	if _, err := filter.Compile(specs); err != nil {
		return fmt.Errorf("compile filters: %w", err)
	}

	t.filters.Store(&specs)
	t.paused.Store(false)

	return nil
}

// RegisterSink installs or replaces the forwarding callback.
func (t *Task) RegisterSink(sink Sink) {
	if sink == nil {
		return
	}

	t.sink.Store(&sink)
}

// Pause stops fetching until Resume or Update. The loop keeps issuing
// keep-alives so the broker does not consider the consumer dead.
func (t *Task) Pause() {
	t.paused.Store(true)
}

func (t *Task) Resume() {
	t.paused.Store(false)
}

func (t *Task) IsPaused() bool {
	return t.paused.Load()
}

// Close requests task termination. Idempotent and irreversible. The loop
// observes the flag at the outer iteration, per fetched record and before
// every forward, so a close is honoured within roughly one poll timeout.
func (t *Task) Close() {
	if t.closed.CompareAndSwap(false, true) {
		t.logger.Info("Tail task set to close, closing")
	}
}

func (t *Task) IsClosed() bool {
	return t.closed.Load()
}

// Run subscribes and drives the fetch → filter → batch → forward → commit
// loop until the task is closed, the context is cancelled or polling fails.
// It must be called exactly once, on a dedicated goroutine.
func (t *Task) Run(ctx context.Context) error {
	endOffsets, err := t.consumer.SubscribeAndSeek(ctx, t.topics, t.fromStart)
	if err != nil {
		t.logger.Error("Failed to subscribe", "topics", t.topics, "error", err)
		return fmt.Errorf("subscribe and seek: %w", err)
	}

	partitions := make([]kafka.TopicPartition, 0, len(endOffsets))
	for tp := range endOffsets {
		partitions = append(partitions, tp)
	}

	startOffsets := t.consumer.CurrentPosition(partitions)

	t.logger.Info("Tail task started", "topics", t.topics, "partitions", len(partitions))

	batch := newBatcher(t.config.BatchSize)
	predicate := filter.Predicate(filter.All)
	var idleCount uint

	for !t.closed.Load() {
		if ctx.Err() != nil {
			t.Close()
			continue
		}

		if t.paused.Load() {
			t.sleep(ctx, t.config.PauseInterval)
			t.consumer.KeepAlive()
			continue
		}

		records, err := t.consumer.Poll(ctx, t.config.IdleBackoff.Next(idleCount+1))
		if err != nil {
			if ctx.Err() != nil {
				t.Close()
				continue
			}

			t.logger.Error("Error polling records, ending task", "error", err)
			return fmt.Errorf("poll: %w", err)
		}

		if len(records) == 0 {
			idleCount++
			t.metrics.IdlePoll()
			t.logger.Debug("No records polled", "topics", t.topics, "idleCount", idleCount)
			t.consumer.KeepAlive()
			continue
		}

		idleCount = 0
		t.metrics.RecordsFetched(len(records))

		// one filter snapshot per fetch: an Update mid-iteration applies
		// to the next poll, never to records already pulled
		predicate = t.compileFilters(predicate)

		matched := 0
		for _, rec := range records {
			if t.closed.Load() {
				break
			}

			passed := predicate(rec)
			if passed {
				matched++
			}

			batch.accept(rec, passed)

			if batch.full() {
				t.flush(batch, startOffsets, endOffsets, partitions)
			}
		}
		t.metrics.RecordsMatched(matched)

		// fetch exhausted: flush whatever remains so no record is held
		// across poll iterations
		t.flush(batch, startOffsets, endOffsets, partitions)
	}

	t.logger.Info("Tail task completed")
	return nil
}

// compileFilters compiles the current spec snapshot. Update validates specs,
// so compilation failing here means a bug; the previous predicate stays
// active and the error is logged.
func (t *Task) compileFilters(previous filter.Predicate) filter.Predicate {
	specs := *t.filters.Load()

	predicate, err := filter.Compile(specs)
	if err != nil {
		t.logger.Error("Failed to compile filters, keeping previous predicate", "error", err)
		return previous
	}

	return predicate
}

// flush forwards the batch to the sink and commits its offsets. Skipped
// entirely once the task is closed: nothing is delivered or committed after
// Close. The sink call blocks the loop on purpose; a slow sink is the only
// backpressure mechanism.
func (t *Task) flush(batch *batcher, startOffsets, endOffsets map[kafka.TopicPartition]int64, partitions []kafka.TopicPartition) {
	if t.closed.Load() {
		return
	}

	position := trackPosition(startOffsets, endOffsets, t.consumer.CurrentPosition(partitions), batch.totalRecords())
	messages, commits := batch.drain()

	sink := *t.sink.Load()
	sink(Response{Messages: messages, Position: position})
	t.metrics.BatchForwarded(len(messages))

	if len(commits) > 0 {
		t.consumer.CommitAsync(commits, t.logCommit)
	}

	t.consumer.KeepAlive()
}

// logCommit runs on the commit callback's goroutine and must only log and
// count; it never touches loop state.
func (t *Task) logCommit(offsets map[kafka.TopicPartition]kafka.Offset, err error) {
	if err != nil {
		t.metrics.CommitFailed()
		t.logger.Error("Failed to commit offsets", "error", err)
		return
	}

	t.metrics.CommitSucceeded()
	t.logger.Debug("Committed offsets", "offsets", offsets)
}

func (t *Task) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
