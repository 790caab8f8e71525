package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamClient is the part of *redis.Client a Consumer reads through.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Handler receives every decoded session event.
type Handler func(ctx context.Context, payload *SessionEventPayload) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
}

// Consumer reads session events relayed to a Redis stream through a consumer
// group and acknowledges each one its handler accepted.
type Consumer struct {
	redis   StreamClient
	config  ConsumerConfig
	handler Handler
	logger  *slog.Logger
}

func NewConsumer(client StreamClient, config ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	if config.Group == "" {
		config.Group = "browserenv-session-consumers"
	}
	if config.Consumer == "" {
		config.Consumer = "consumer-1"
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	return &Consumer{
		redis:   client,
		config:  config,
		handler: handler,
		logger:  logger.With("component", "event_consumer"),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.config.Stream, "group", c.config.Group)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.config.Group,
			Consumer: c.config.Consumer,
			Streams:  []string{c.config.Stream, ">"},
			Count:    10,
			Block:    c.config.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := c.processMessage(ctx, message); err != nil {
					c.logger.Error("failed to process message", "id", message.ID, "error", err)
					continue
				}

				if err := c.redis.XAck(ctx, c.config.Stream, c.config.Group, message.ID).Err(); err != nil {
					c.logger.Error("failed to acknowledge message", "id", message.ID, "error", err)
				}
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	payload, err := DecodeMessage(msg)
	if err != nil {
		return err
	}
	return c.handler(ctx, payload)
}

// DecodeMessage extracts the session payload from a stream entry written by
// the outbox relay.
func DecodeMessage(msg redis.XMessage) (*SessionEventPayload, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data in message %s", msg.ID)
	}

	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse message %s: %w", msg.ID, err)
	}
	if len(envelope.Payload) == 0 {
		return nil, fmt.Errorf("missing payload in message %s", msg.ID)
	}

	payload := &SessionEventPayload{}
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload of %s: %w", msg.ID, err)
	}
	if payload.EventType == "" {
		payload.EventType = envelope.Type
	}
	return payload, nil
}
