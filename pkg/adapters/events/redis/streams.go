package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// DefaultStreamPrefix namespaces stream keys.
const DefaultStreamPrefix = "stepflow:events:"

// DefaultMaxLen caps each stream; trimming is approximate.
const DefaultMaxLen = 10000

// StreamsEventBus implements ports.EventBus using Redis Streams.
//
// Without a consumer group every subscriber reads the whole stream from the
// moment it subscribed. With a group, subscribers sharing the group split the
// stream between them and acknowledge what they handled.
type StreamsEventBus struct {
	client        redis.UniversalClient
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
	prefix        string
	maxLen        int64
	block         time.Duration
}

var _ ports.EventBus = (*StreamsEventBus)(nil)

// NewStreamsEventBus creates a Redis Streams event bus. An empty consumerGroup
// selects broadcast reads.
func NewStreamsEventBus(client redis.UniversalClient, consumerGroup, consumerName string, logger *zap.Logger) *StreamsEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		prefix:        DefaultStreamPrefix,
		maxLen:        DefaultMaxLen,
		block:         time.Second,
	}
}

// WithPrefix returns a copy of the bus using a different stream key prefix.
func (e *StreamsEventBus) WithPrefix(prefix string) *StreamsEventBus {
	c := *e
	c.prefix = prefix
	return &c
}

// Publish appends event to the topic's stream.
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := e.streamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: e.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("stream", streamKey))
	return nil
}

// Subscribe starts reading the topic's stream until ctx is canceled.
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := e.streamKey(topic)

	if e.consumerGroup == "" {
		// start after the current tail so only new entries are delivered
		lastID := "0-0"
		if msgs, err := e.client.XRevRangeN(ctx, streamKey, "+", "-", 1).Result(); err == nil && len(msgs) > 0 {
			lastID = msgs[0].ID
		}
		go e.readBroadcast(ctx, streamKey, lastID, handler)
	} else {
		err := e.client.XGroupCreateMkStream(ctx, streamKey, e.consumerGroup, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
		go e.readGroup(ctx, streamKey, handler)
	}

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("consumer_group", e.consumerGroup),
		zap.String("consumer", e.consumerName))
	return nil
}

func (e *StreamsEventBus) readBroadcast(ctx context.Context, streamKey, lastID string, handler ports.EventHandler) {
	for ctx.Err() == nil {
		streams, err := e.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey, lastID},
			Count:   100,
			Block:   e.block,
		}).Result()
		if err != nil {
			if !e.retryable(ctx, streamKey, err) {
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				lastID = message.ID
				e.handle(ctx, streamKey, message, handler)
			}
		}
	}
}

func (e *StreamsEventBus) readGroup(ctx context.Context, streamKey string, handler ports.EventHandler) {
	for ctx.Err() == nil {
		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.consumerGroup,
			Consumer: e.consumerName,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    e.block,
		}).Result()
		if err != nil {
			if !e.retryable(ctx, streamKey, err) {
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if !e.handle(ctx, streamKey, message, handler) {
					continue
				}
				if err := e.client.XAck(ctx, streamKey, e.consumerGroup, message.ID).Err(); err != nil {
					e.logger.Error("failed to acknowledge message",
						zap.String("stream", streamKey),
						zap.String("message_id", message.ID),
						zap.Error(err))
				}
			}
		}
	}
}

// retryable reports whether the read loop should continue after err.
func (e *StreamsEventBus) retryable(ctx context.Context, streamKey string, err error) bool {
	if errors.Is(err, redis.Nil) {
		return true
	}
	if ctx.Err() != nil {
		return false
	}
	e.logger.Error("failed to read from stream",
		zap.String("stream", streamKey),
		zap.Error(err))

	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Second):
		return true
	}
}

func (e *StreamsEventBus) handle(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) bool {
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return false
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return false
	}

	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return false
	}
	return true
}

// Close is a no-op; the Redis client is owned by the caller.
func (e *StreamsEventBus) Close() error {
	return nil
}

func (e *StreamsEventBus) streamKey(topic string) string {
	return e.prefix + topic
}
