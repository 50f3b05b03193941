package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/electivas-ubb/electivas-api/pkg/jobs"
)

// Event names published by the enrollment engine.
const (
	EventEnrollmentCreated     = "enrollment.created"
	EventEnrollmentReviewed    = "enrollment.reviewed"
	EventEnrollmentDeleted     = "enrollment.deleted"
	EventRequestReviewed       = "request.reviewed"
	EventElectiveStatusChanged = "elective.status_changed"
)

// Envelope is the JSON document written to the pub/sub channel.
type Envelope struct {
	Event      string      `json:"event"`
	Payload    interface{} `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Broadcaster publishes domain events to subscribers. Delivery is best
// effort: failures are logged and never propagated to the request path.
type Broadcaster struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewRedisBroadcaster builds a Broadcaster that publishes envelopes to a
// Redis channel through a background worker queue.
func NewRedisBroadcaster(client *redis.Client, channel string, workers int, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		body, ok := job.Payload.([]byte)
		if !ok {
			return fmt.Errorf("notify: unexpected payload type %T", job.Payload)
		}
		return client.Publish(ctx, channel, body).Err()
	}
	queue := jobs.NewQueue("notifications", handler, jobs.QueueConfig{
		Workers: workers,
		Logger:  logger,
	})
	return &Broadcaster{queue: queue, logger: logger}
}

// Start launches the delivery workers.
func (b *Broadcaster) Start(ctx context.Context) {
	if b == nil {
		return
	}
	b.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (b *Broadcaster) Stop() {
	if b == nil {
		return
	}
	b.queue.Stop()
}

// Notify enqueues an event for asynchronous delivery. It never blocks the
// caller on the broker and never returns an error to it.
func (b *Broadcaster) Notify(event string, payload interface{}) {
	if b == nil {
		return
	}
	body, err := json.Marshal(Envelope{Event: event, Payload: payload, OccurredAt: time.Now().UTC()})
	if err != nil {
		b.logger.Warn("failed to encode notification", zap.String("event", event), zap.Error(err))
		return
	}
	if err := b.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: event, Payload: body}); err != nil {
		b.logger.Warn("failed to enqueue notification", zap.String("event", event), zap.Error(err))
	}
}

// Nop is a Broadcaster substitute that drops every event.
type Nop struct{}

// Notify implements the notifier contract and discards the event.
func (Nop) Notify(string, interface{}) {}
