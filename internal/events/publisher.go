// Package events records browser session lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/browserenv/internal/database"
)

type EventType string

const (
	EventTypeSessionStarted EventType = "BROWSER_SESSION_STARTED"
	// EventTypeLaunchFallback is published when the primary launch failed and
	// plain chromium was used instead.
	EventTypeLaunchFallback EventType = "BROWSER_LAUNCH_FALLBACK"
	EventTypeSessionClosed  EventType = "BROWSER_SESSION_CLOSED"
)

// SessionEventPayload is the JSON body of every session event.
type SessionEventPayload struct {
	EventID          string    `json:"event_id"`
	EventType        string    `json:"event_type"`
	Timestamp        time.Time `json:"timestamp"`
	RunID            string    `json:"run_id"`
	Profile          string    `json:"profile"`
	RequestedBrowser string    `json:"requested_browser"`
	LaunchedBrowser  string    `json:"launched_browser"`
	Channel          string    `json:"channel,omitempty"`
	Headless         bool      `json:"headless"`
	FallbackUsed     bool      `json:"fallback_used"`
	PrimaryError     string    `json:"primary_error,omitempty"`
	CloseError       string    `json:"close_error,omitempty"`
	Source           string    `json:"source"`
}

func (p *SessionEventPayload) setDefaults(eventType EventType) {
	if p.EventID == "" {
		p.EventID = uuid.New().String()
	}
	if p.EventType == "" {
		p.EventType = string(eventType)
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	if p.Source == "" {
		p.Source = "browserenv"
	}
}

// SessionPublisher is implemented by every event sink.
type SessionPublisher interface {
	PublishSessionEvent(ctx context.Context, eventType EventType, payload *SessionEventPayload) error
}

// Publisher writes session events to the transactional outbox.
type Publisher struct {
	db     *database.DB
	outbox *database.OutboxRepository
	stream string
	logger *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		db:     db,
		outbox: database.NewOutboxRepository(db),
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) PublishSessionEvent(ctx context.Context, eventType EventType, payload *SessionEventPayload) error {
	if payload.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	payload.setDefaults(eventType)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: "session",
		AggregateID:   payload.RunID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.outbox.InsertWithTx(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"run_id", payload.RunID,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}

// LogPublisher logs session events instead of storing them.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "event_publisher")}
}

func (p *LogPublisher) PublishSessionEvent(_ context.Context, eventType EventType, payload *SessionEventPayload) error {
	payload.setDefaults(eventType)

	attrs := []any{
		"type", payload.EventType,
		"event_id", payload.EventID,
		"run_id", payload.RunID,
		"profile", payload.Profile,
		"requested_browser", payload.RequestedBrowser,
		"launched_browser", payload.LaunchedBrowser,
		"headless", payload.Headless,
		"fallback_used", payload.FallbackUsed,
	}
	if payload.PrimaryError != "" {
		attrs = append(attrs, "primary_error", payload.PrimaryError)
	}
	if payload.CloseError != "" {
		attrs = append(attrs, "close_error", payload.CloseError)
	}

	p.logger.Info("session event", attrs...)
	return nil
}
