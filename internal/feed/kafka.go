package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the subset of *kafka.Reader the source uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaConfig holds Kafka tick source configuration.
type KafkaConfig struct {
	Brokers    []string
	Topic      string
	GroupID    string
	BufferSize int
	RetryDelay time.Duration
	Logger     *zap.Logger

	// Reader overrides the reader built from Brokers/Topic/GroupID.
	Reader MessageReader
}

// KafkaSource consumes FeedTick messages from a topic. A message value is
// either one tick object or an array of ticks.
type KafkaSource struct {
	reader     MessageReader
	topic      string
	ticks      chan *types.FeedTick
	retryDelay time.Duration
	logger     *zap.Logger
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewKafkaSource creates a Kafka tick source.
func NewKafkaSource(cfg *KafkaConfig) (*KafkaSource, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	reader := cfg.Reader
	if reader == nil {
		if len(cfg.Brokers) == 0 || cfg.Topic == "" {
			return nil, errors.New("kafka source needs brokers and a topic")
		}
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:           cfg.Brokers,
			Topic:             cfg.Topic,
			GroupID:           cfg.GroupID,
			MinBytes:          1,
			MaxBytes:          10e6,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
			CommitInterval:    time.Second,
			StartOffset:       kafka.LastOffset,
		})
	}

	return &KafkaSource{
		reader:     reader,
		topic:      cfg.Topic,
		ticks:      make(chan *types.FeedTick, cfg.BufferSize),
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Start launches the consume loop. The tick channel closes when ctx ends.
func (s *KafkaSource) Start(ctx context.Context) error {
	s.logger.Info("kafka-source-starting", zap.String("topic", s.topic))

	s.wg.Add(1)
	go s.consume(ctx)
	return nil
}

func (s *KafkaSource) consume(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.ticks)

	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ReadErrorsTotal.Inc()
			s.logger.Warn("kafka-read-failed", zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryDelay):
			}
			continue
		}

		ticks, err := decodeTicks(msg.Value)
		if err != nil {
			MessagesTotal.WithLabelValues("invalid").Inc()
			s.logger.Debug("kafka-message-invalid",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}
		MessagesTotal.WithLabelValues("ok").Inc()

		for _, tick := range ticks {
			select {
			case s.ticks <- tick:
				TicksTotal.Inc()
			default:
				TicksDroppedTotal.Inc()
				s.logger.Warn("tick-channel-full",
					zap.String("venue", tick.Venue),
					zap.String("market-id", tick.MarketID))
			}
		}
	}
}

func decodeTicks(value []byte) ([]*types.FeedTick, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return nil, errors.New("empty message")
	}

	if value[0] == '[' {
		var ticks []*types.FeedTick
		err := json.Unmarshal(value, &ticks)
		if err != nil {
			return nil, fmt.Errorf("decode tick array: %w", err)
		}
		return ticks, nil
	}

	var tick types.FeedTick
	err := json.Unmarshal(value, &tick)
	if err != nil {
		return nil, fmt.Errorf("decode tick: %w", err)
	}
	return []*types.FeedTick{&tick}, nil
}

// Ticks returns the decoded tick stream.
func (s *KafkaSource) Ticks() <-chan *types.FeedTick {
	return s.ticks
}

// Close waits for the consume loop and closes the reader. The caller
// cancels the Start context first.
func (s *KafkaSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.wg.Wait()
		err = s.reader.Close()
		s.logger.Info("kafka-source-closed")
	})
	return err
}
