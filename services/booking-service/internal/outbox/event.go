package outbox

import (
	"context"
	"encoding/json"
	"time"

	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
)

const (
	EventHoldCreated = "booking.hold.created.v1"
	EventConfirmed   = "booking.confirmed.v1"
	EventCancelled   = "booking.cancelled.v1"
	EventRescheduled = "booking.rescheduled.v1"
	EventExpired     = "booking.expired.v1"
)

// Event is the domain event envelope written to the outbox table in the same transaction
// as the state change. The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Trace         otelx.TraceContext
}

// NewEvent marshals payload and captures the caller's trace context.
func NewEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		Trace:         otelx.CaptureTraceContext(ctx),
	}, nil
}

// Record is a stored, not yet published event.
type Record struct {
	ID        int64
	EventID   string
	Event     Event
	CreatedAt time.Time
}
