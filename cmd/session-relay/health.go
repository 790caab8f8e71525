package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

type outboxCounter interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

func newHealthRouter(counter outboxCounter, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]any{"status": "ok"}
		status := http.StatusOK

		pending, pendingErr := counter.PendingCount(r.Context())
		dead, deadErr := counter.DeadLetterCount(r.Context())

		switch {
		case pendingErr != nil || deadErr != nil:
			logger.Error("failed to read outbox counts", "pending_error", pendingErr, "dead_letter_error", deadErr)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			status = http.StatusServiceUnavailable
		case dead > deadLetterErrorThreshold:
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		case pending > pendingWarnThreshold:
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}

		if pendingErr == nil && deadErr == nil {
			health["outbox"] = map[string]int64{
				"pending":     pending,
				"dead_letter": dead,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Error("failed to encode response", "error", err)
		}
	})

	return r
}
