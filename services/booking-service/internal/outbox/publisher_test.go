package outbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type sliceSource struct {
	pending []Record
	done    []Record
}

func (s *sliceSource) Drain(ctx context.Context, limit int, send func(context.Context, []Record) error) (int, error) {
	n := min(limit, len(s.pending))
	if n == 0 {
		return 0, nil
	}
	batch := s.pending[:n]
	if err := send(ctx, batch); err != nil {
		return 0, err
	}
	s.done = append(s.done, batch...)
	s.pending = s.pending[n:]
	return n, nil
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func record(id int64, eventType, aggregateID string) Record {
	return Record{
		ID:      id,
		EventID: "evt-" + aggregateID,
		Event: Event{
			AggregateType: "booking",
			AggregateID:   aggregateID,
			EventType:     eventType,
			Payload:       []byte(`{"booking_id":"` + aggregateID + `"}`),
		},
	}
}

func TestPublishBatchWritesTopicPerEventType(t *testing.T) {
	src := &sliceSource{pending: []Record{
		record(1, EventHoldCreated, "b-1"),
		record(2, EventConfirmed, "b-1"),
		record(3, EventCancelled, "b-2"),
	}}
	w := &recordingWriter{}
	var published []string
	p := NewPublisher(src, w, slog.New(slog.DiscardHandler), PublisherConfig{
		BatchSize: 2,
		OnPublish: func(eventType string) { published = append(published, eventType) },
	})

	n, err := p.PublishBatch(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("first batch: n=%d err=%v", n, err)
	}
	if len(w.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(w.msgs))
	}
	msg := w.msgs[1]
	if msg.Topic != EventConfirmed || string(msg.Key) != "b-1" {
		t.Fatalf("unexpected message routing: topic=%s key=%s", msg.Topic, msg.Key)
	}
	if kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventID) != "evt-b-1" ||
		kafkax.HeaderValue(msg.Headers, kafkax.HeaderEventType) != EventConfirmed {
		t.Fatalf("missing event headers: %+v", msg.Headers)
	}

	if n, _ := p.PublishBatch(context.Background()); n != 1 {
		t.Fatalf("second batch: expected 1, got %d", n)
	}
	if n, _ := p.PublishBatch(context.Background()); n != 0 {
		t.Fatalf("drained source: expected 0, got %d", n)
	}
	if len(published) != 3 {
		t.Fatalf("expected 3 publish callbacks, got %v", published)
	}
}

func TestPublishBatchKeepsEventsOnWriteFailure(t *testing.T) {
	src := &sliceSource{pending: []Record{record(1, EventExpired, "b-1")}}
	w := &recordingWriter{err: errors.New("broker down")}
	p := NewPublisher(src, w, slog.New(slog.DiscardHandler), PublisherConfig{})

	if _, err := p.PublishBatch(context.Background()); err == nil {
		t.Fatalf("expected write error")
	}
	if len(src.pending) != 1 || len(src.done) != 0 {
		t.Fatalf("event must stay pending after failure")
	}

	w.err = nil
	if n, err := p.PublishBatch(context.Background()); err != nil || n != 1 {
		t.Fatalf("retry: n=%d err=%v", n, err)
	}
}
