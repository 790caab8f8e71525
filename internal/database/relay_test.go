package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Due(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	args := m.Called(ctx, statuses)
	return args.Get(0).(int64), args.Error(1)
}

func newTestRelay(redisClient RedisClient, outbox OutboxRepo, batchSize int) *Relay {
	return NewRelay(outbox, redisClient, slog.Default(), RelayConfig{
		PollInterval: 20 * time.Millisecond,
		BatchSize:    batchSize,
	})
}

func streamValues(args *redis.XAddArgs) map[string]any {
	values, _ := args.Values.(map[string]any)
	return values
}

func relayEvent(runID string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "session",
		AggregateID:   runID,
		EventType:     "BROWSER_SESSION_STARTED",
		Payload:       json.RawMessage(`{"run_id":"` + runID + `","launched_browser":"chromium"}`),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Now(),
	}
}

func TestNewRelay_Defaults(t *testing.T) {
	r := NewRelay(new(MockOutboxRepository), new(MockRedisClient), slog.Default(), RelayConfig{})

	assert.Equal(t, 5*time.Second, r.interval)
	assert.Equal(t, 100, r.batchSize)
	assert.Equal(t, "browserenv", r.source)
}

func TestRelay_RelayBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("successfully process and publish events", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		events := []*OutboxEvent{relayEvent("run-1"), relayEvent("run-2")}
		mockOutbox.On("Due", ctx, 10).Return(events, nil)

		for _, event := range events {
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == event.TargetStream &&
					streamValues(args)["event_type"] == event.EventType &&
					streamValues(args)["aggregate_id"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		_, err := relay.relayBatch(ctx)
		require.NoError(t, err)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("handle Redis publish failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		event := relayEvent("run-1")
		mockOutbox.On("Due", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to add to stream "+DefaultStream+": redis connection failed"
		})).Return(nil)

		_, err := relay.relayBatch(ctx)
		assert.NoError(t, err)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("malformed payload is marked failed", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		event := relayEvent("run-1")
		event.Payload = json.RawMessage(`not json`)
		mockOutbox.On("Due", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.Anything).Return(nil)

		_, err := relay.relayBatch(ctx)
		assert.NoError(t, err)

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("handle empty event batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		mockOutbox.On("Due", ctx, 10).Return([]*OutboxEvent{}, nil)

		_, err := relay.relayBatch(ctx)
		require.NoError(t, err)

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("outbox read failure", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(new(MockRedisClient), mockOutbox, 10)

		mockOutbox.On("Due", ctx, 10).Return(nil, errors.New("db down"))

		_, err := relay.relayBatch(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
	})

	t.Run("continue processing on individual event failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox, 10)

		events := []*OutboxEvent{relayEvent("run-1"), relayEvent("run-2")}
		mockOutbox.On("Due", ctx, 10).Return(events, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValues(args)["aggregate_id"] == "run-1"
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValues(args)["aggregate_id"] == "run-2"
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, events[1].ID).Return(nil)

		n, err := relay.relayBatch(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "failed events still count as fetched")

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})
}

func TestRelay_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("stream data format", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		relay := newTestRelay(mockRedis, new(MockOutboxRepository), 10)
		event := relayEvent("run-7")

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			val, ok := streamValues(args)["data"].(string)
			if !ok {
				return false
			}

			var data map[string]any
			if err := json.Unmarshal([]byte(val), &data); err != nil {
				return false
			}

			payload, ok := data["payload"].(map[string]any)
			if !ok {
				return false
			}
			metadata, ok := data["metadata"].(map[string]any)
			if !ok {
				return false
			}

			return data["id"] == event.ID.String() &&
				data["type"] == "BROWSER_SESSION_STARTED" &&
				data["aggregate_type"] == "session" &&
				data["aggregate_id"] == "run-7" &&
				payload["launched_browser"] == "chromium" &&
				metadata["source"] == "browserenv"
		})).Return(nil)

		require.NoError(t, relay.publish(ctx, event))
		mockRedis.AssertExpectations(t)
	})

	t.Run("empty target stream uses default", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		relay := newTestRelay(mockRedis, new(MockOutboxRepository), 10)
		event := relayEvent("run-8")
		event.TargetStream = ""

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Stream == DefaultStream
		})).Return(nil)

		require.NoError(t, relay.publish(ctx, event))
		mockRedis.AssertExpectations(t)
	})
}

func TestRelay_Drain(t *testing.T) {
	ctx := context.Background()
	mockRedis := new(MockRedisClient)
	mockOutbox := new(MockOutboxRepository)
	relay := newTestRelay(mockRedis, mockOutbox, 2)

	first := []*OutboxEvent{relayEvent("run-1"), relayEvent("run-2")}
	second := []*OutboxEvent{relayEvent("run-3")}

	mockOutbox.On("Due", ctx, 2).Return(first, nil).Once()
	mockOutbox.On("Due", ctx, 2).Return(second, nil).Once()
	mockRedis.On("XAdd", ctx, mock.Anything).Return(nil)
	mockOutbox.On("MarkProcessed", ctx, mock.Anything).Return(nil)

	n, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	mockOutbox.AssertNumberOfCalls(t, "Due", 2)
	mockOutbox.AssertNumberOfCalls(t, "MarkProcessed", 3)
}

func TestRelay_Counts(t *testing.T) {
	ctx := context.Background()
	mockOutbox := new(MockOutboxRepository)
	relay := newTestRelay(new(MockRedisClient), mockOutbox, 10)

	mockOutbox.On("CountByStatus", ctx, []string{OutboxStatusPending, OutboxStatusFailed}).Return(int64(4), nil)
	mockOutbox.On("CountByStatus", ctx, []string{OutboxStatusDeadLetter}).Return(int64(1), nil)

	pending, err := relay.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), pending)

	dead, err := relay.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}

func TestRelay_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	mockOutbox := new(MockOutboxRepository)
	relay := newTestRelay(new(MockRedisClient), mockOutbox, 10)

	mockOutbox.On("Due", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- relay.Run(ctx)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}
