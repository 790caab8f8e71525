package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the part of *redis.Client the relay writes through.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxRepo is the outbox side of the relay.
type OutboxRepo interface {
	Due(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

// Relay forwards recorded session events to their Redis stream. Test runs
// only ever write to the outbox table; the relay is the one process that
// needs Redis.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	source    string
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// Source is written into the metadata of every stream entry.
	Source string
}

func NewRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Source == "" {
		config.Source = "browserenv"
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		source:    config.Source,
	}
}

// Run forwards one batch immediately and then one per poll interval until
// ctx is cancelled. Batch errors are logged and the next tick tries again.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("session relay running",
		"poll_interval", r.interval,
		"batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.relayBatch(ctx); err != nil {
			r.logger.Error("session relay batch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("session relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain forwards batches until one comes back short, for a final flush on
// shutdown.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.relayBatch(ctx)
		if err != nil {
			return total, err
		}
		total += n
		if n < r.batchSize {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// relayBatch returns how many events were due, whether or not each one
// reached Redis. A failing event never stops the rest of the batch.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	due, err := r.outbox.Due(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read due session events: %w", err)
	}

	if len(due) > 0 {
		r.logger.Debug("forwarding session events", "count", len(due))
	}

	for _, event := range due {
		if err := r.forward(ctx, event); err != nil {
			r.logger.Error("session event not forwarded",
				"outbox_id", event.ID,
				"run_id", event.AggregateID,
				"attempt", event.RetryCount+1,
				"error", err)
		}
	}

	return len(due), nil
}

func (r *Relay) forward(ctx context.Context, event *OutboxEvent) error {
	if err := r.publish(ctx, event); err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to record relay failure", "outbox_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		// The entry is already on the stream; consumers may see it twice.
		r.logger.Error("forwarded event not marked processed", "outbox_id", event.ID, "error", err)
		return err
	}

	r.logger.Info("session event forwarded",
		"event_type", event.EventType,
		"run_id", event.AggregateID,
		"stream", event.TargetStream)

	return nil
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	stream, values, err := r.streamEntry(event)
	if err != nil {
		return err
	}

	if err := r.redis.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", stream, err)
	}
	return nil
}

// streamEntry builds the fields of a stream entry. "data" carries the JSON
// envelope that events.DecodeMessage reads; the flat fields let
// redis-cli users filter without parsing it.
func (r *Relay) streamEntry(event *OutboxEvent) (string, map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return "", nil, fmt.Errorf("payload of %s is not a JSON object: %w", event.ID, err)
	}

	stream := event.TargetStream
	if stream == "" {
		stream = DefaultStream
	}

	envelope, err := json.Marshal(map[string]any{
		"id":             event.ID.String(),
		"type":           event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"timestamp":      event.CreatedAt.Format(time.RFC3339),
		"payload":        payload,
		"metadata": map[string]any{
			"source":        r.source,
			"outbox_id":     event.ID.String(),
			"retry_count":   event.RetryCount,
			"target_stream": stream,
		},
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode envelope of %s: %w", event.ID, err)
	}

	return stream, map[string]any{
		"data":           string(envelope),
		"timestamp":      strconv.FormatInt(event.CreatedAt.UnixNano(), 10),
		"original_id":    event.ID.String(),
		"aggregate_id":   event.AggregateID,
		"aggregate_type": event.AggregateType,
		"event_type":     event.EventType,
	}, nil
}

// PendingCount returns the number of events still waiting for the relay.
func (r *Relay) PendingCount(ctx context.Context) (int64, error) {
	return r.outbox.CountByStatus(ctx, OutboxStatusPending, OutboxStatusFailed)
}

// DeadLetterCount returns the number of events the relay gave up on.
func (r *Relay) DeadLetterCount(ctx context.Context) (int64, error) {
	return r.outbox.CountByStatus(ctx, OutboxStatusDeadLetter)
}
