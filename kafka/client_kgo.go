package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kzap"
	"go.uber.org/zap"
)

var _ Consumer = (*KgoConsumer)(nil)

type KgoConsumerConfig struct {
	BootstrapServers []string
	GroupID          string
	Logger           *zap.Logger
}

func defaultConsumerConfig() KgoConsumerConfig {
	return KgoConsumerConfig{
		BootstrapServers: []string{"localhost:9092"},
		GroupID:          fmt.Sprintf("ktail-%d", time.Now().UnixNano()),
		Logger:           zap.NewNop(),
	}
}

type KgoOption func(*KgoConsumerConfig)

func WithBootstrapServers(servers []string) KgoOption {
	return func(cfg *KgoConsumerConfig) {
		cfg.BootstrapServers = servers
	}
}

func WithGroupID(id string) KgoOption {
	return func(cfg *KgoConsumerConfig) {
		cfg.GroupID = id
	}
}

func WithZapLogger(l *zap.Logger) KgoOption {
	return func(cfg *KgoConsumerConfig) {
		cfg.Logger = l
	}
}

// KgoConsumer implements Consumer on top of a franz-go client. The kgo client
// is created lazily in SubscribeAndSeek because the seek direction is a
// construction-time option in kgo.
type KgoConsumer struct {
	config KgoConsumerConfig

	mu        sync.Mutex
	client    *kgo.Client
	positions map[TopicPartition]int64
}

func NewKgoConsumer(opts ...KgoOption) *KgoConsumer {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &KgoConsumer{
		config:    cfg,
		positions: make(map[TopicPartition]int64),
	}
}

func (k *KgoConsumer) SubscribeAndSeek(ctx context.Context, topics []string, fromStart bool) (map[TopicPartition]int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.client != nil {
		return nil, errors.New("already subscribed")
	}

	reset := kgo.NewOffset().AtEnd()
	if fromStart {
		reset = kgo.NewOffset().AtStart()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.config.BootstrapServers...),
		kgo.ConsumerGroup(k.config.GroupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.DisableAutoCommit(),
		kgo.WithLogger(kzap.New(k.config.Logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("create kgo client: %w", err)
	}

	adm := kadm.NewClient(client)

	ends, err := adm.ListEndOffsets(ctx, topics...)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("list end offsets: %w", err)
	}
	if err := ends.Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("list end offsets: %w", err)
	}

	initial := ends
	if fromStart {
		starts, err := adm.ListStartOffsets(ctx, topics...)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("list start offsets: %w", err)
		}
		if err := starts.Error(); err != nil {
			client.Close()
			return nil, fmt.Errorf("list start offsets: %w", err)
		}
		initial = starts
	}

	endOffsets := make(map[TopicPartition]int64)
	ends.Each(func(o kadm.ListedOffset) {
		endOffsets[TopicPartition{Topic: o.Topic, Partition: o.Partition}] = o.Offset
	})
	initial.Each(func(o kadm.ListedOffset) {
		k.positions[TopicPartition{Topic: o.Topic, Partition: o.Partition}] = o.Offset
	})

	k.client = client

	return endOffsets, nil
}

func (k *KgoConsumer) CurrentPosition(partitions []TopicPartition) map[TopicPartition]int64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	current := make(map[TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		if pos, ok := k.positions[tp]; ok {
			current[tp] = pos
		}
	}

	return current
}

func (k *KgoConsumer) Poll(ctx context.Context, timeout time.Duration) ([]ConsumerRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := k.client.PollFetches(ctx)
	if errs := fetches.Errors(); len(errs) > 0 {
		for _, err := range errs {
			if !errors.Is(err.Err, context.DeadlineExceeded) && !errors.Is(err.Err, context.Canceled) {
				return nil, fmt.Errorf("poll: %w", err.Err)
			}
		}
	}

	records := convertRecords(fetches.Records())

	k.mu.Lock()
	for _, r := range records {
		k.positions[r.TopicPartition()] = r.Offset + 1
	}
	k.mu.Unlock()

	return records, nil
}

func (k *KgoConsumer) CommitAsync(offsets map[TopicPartition]Offset, cb CommitCallback) {
	toCommit := make(map[string]map[int32]kgo.EpochOffset)
	for tp, offset := range offsets {
		if _, ok := toCommit[tp.Topic]; !ok {
			toCommit[tp.Topic] = make(map[int32]kgo.EpochOffset)
		}

		toCommit[tp.Topic][tp.Partition] = kgo.EpochOffset{
			Offset: offset.Offset,
			Epoch:  offset.LeaderEpoch,
		}
	}

	onDone := func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, _ *kmsg.OffsetCommitResponse, err error) {
		if cb != nil {
			cb(offsets, err)
		}
	}

	k.client.CommitOffsets(context.Background(), toCommit, onDone)
}

// KeepAlive is a no-op: kgo heartbeats the group from its own goroutine.
func (k *KgoConsumer) KeepAlive() {}

func (k *KgoConsumer) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.client != nil {
		k.client.Close()
		k.client = nil
	}

	return nil
}

func convertRecords(records []*kgo.Record) []ConsumerRecord {
	converted := make([]ConsumerRecord, len(records))
	for i, r := range records {
		converted[i] = ConsumerRecord{
			Topic:       r.Topic,
			Partition:   r.Partition,
			Offset:      r.Offset,
			Key:         r.Key,
			Value:       r.Value,
			Headers:     convertFromKgoHeaders(r.Headers),
			Timestamp:   r.Timestamp,
			LeaderEpoch: r.LeaderEpoch,
		}
	}

	return converted
}

func convertFromKgoHeaders(headers []kgo.RecordHeader) []Header {
	converted := make([]Header, len(headers))
	for i, h := range headers {
		converted[i] = Header{Key: h.Key, Value: h.Value}
	}

	return converted
}
