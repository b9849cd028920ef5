package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

func seedMemory(t *testing.T) (*Memory, model.Slot) {
	t.Helper()
	ctx := context.Background()
	m := NewMemory()
	if err := m.CreateLocation(ctx, &model.Location{ID: "loc-1", Name: "Main", Timezone: "UTC"}); err != nil {
		t.Fatalf("location: %v", err)
	}
	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	slot, created, err := m.InsertSlotIfAbsent(ctx, model.Slot{
		ID: "s-1", LocationID: "loc-1", Date: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		StartAt: start, EndAt: start.Add(30 * time.Minute), Capacity: 2,
	})
	if err != nil || !created {
		t.Fatalf("insert slot: created=%v err=%v", created, err)
	}
	return m, slot
}

func TestMemoryInsertSlotIfAbsentDedupes(t *testing.T) {
	m, slot := seedMemory(t)
	dup := slot
	dup.ID = "s-2"
	dup.StartAt = slot.StartAt.In(time.FixedZone("X", 3600))

	got, created, err := m.InsertSlotIfAbsent(context.Background(), dup)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created || got.ID != "s-1" {
		t.Fatalf("expected existing s-1, got created=%v id=%s", created, got.ID)
	}
}

func TestMemoryTxRollbackDiscardsWrites(t *testing.T) {
	m, slot := seedMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.InTx(ctx, func(ctx context.Context, tx Tx) error {
		s, err := tx.LockSlot(ctx, slot.ID)
		if err != nil {
			return err
		}
		s.Hold++
		if err := tx.SaveSlot(ctx, s); err != nil {
			return err
		}
		if _, err := tx.InsertIdempotencyKey(ctx, "k", "b"); err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, outbox.Event{EventType: outbox.EventHoldCreated}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := m.GetSlot(ctx, slot.ID)
	if got.Hold != 0 {
		t.Fatalf("hold leaked from rolled back tx: %d", got.Hold)
	}
	if _, ok, _ := m.LookupIdempotencyKey(ctx, "k"); ok {
		t.Fatalf("idempotency key leaked from rolled back tx")
	}
	if len(m.PendingEvents()) != 0 {
		t.Fatalf("event leaked from rolled back tx")
	}
}

func TestMemorySaveSlotRejectsOverCapacity(t *testing.T) {
	m, slot := seedMemory(t)
	err := m.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		slot.Booked = 2
		slot.Hold = 1
		return tx.SaveSlot(ctx, slot)
	})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestMemoryCreateDuplicateIDs(t *testing.T) {
	m, _ := seedMemory(t)
	ctx := context.Background()

	err := m.CreateLocation(ctx, &model.Location{ID: "loc-1", Name: "Again", Timezone: "UTC"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("location: expected ErrAlreadyExists, got %v", err)
	}
	if err := m.CreatePerson(ctx, &model.Person{ID: "p-1", LocationID: "loc-1", Name: "A"}); err != nil {
		t.Fatalf("person: %v", err)
	}
	err = m.CreatePerson(ctx, &model.Person{ID: "p-1", LocationID: "loc-1", Name: "B"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("person: expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryListBookingsFiltersAndPages(t *testing.T) {
	m, slot := seedMemory(t)
	ctx := context.Background()

	err := m.InTx(ctx, func(ctx context.Context, tx Tx) error {
		for i := 0; i < 5; i++ {
			status := model.BookingHeld
			if i%2 == 1 {
				status = model.BookingCancelled
			}
			b := &model.Booking{
				ID:       fmt.Sprintf("b-%d", i),
				SlotID:   slot.ID,
				Customer: model.Customer{Name: "n", Phone: fmt.Sprintf("+1555000%d", i)},
				Status:   status,
			}
			if err := tx.InsertBooking(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	items, total, err := m.ListBookings(ctx, BookingFilter{Status: model.BookingHeld, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("expected 2 of 3 held, got %d of %d", len(items), total)
	}
	if items[0].Slot.ID != slot.ID {
		t.Fatalf("slot not joined")
	}

	items, total, _ = m.ListBookings(ctx, BookingFilter{Query: "+15550004"})
	if total != 1 || items[0].ID != "b-4" {
		t.Fatalf("query filter failed: %+v", items)
	}

	items, _, _ = m.ListBookings(ctx, BookingFilter{Offset: 10})
	if len(items) != 0 {
		t.Fatalf("expected empty page past the end")
	}
}

func TestMemoryDrainKeepsEventsOnSendFailure(t *testing.T) {
	m, _ := seedMemory(t)
	ctx := context.Background()
	_ = m.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_ = tx.Enqueue(ctx, outbox.Event{EventType: outbox.EventConfirmed, AggregateID: "b-1"})
		return tx.Enqueue(ctx, outbox.Event{EventType: outbox.EventCancelled, AggregateID: "b-1"})
	})

	_, err := m.Drain(ctx, 10, func(context.Context, []outbox.Record) error { return errors.New("kafka down") })
	if err == nil {
		t.Fatalf("expected send error")
	}
	if len(m.PendingEvents()) != 2 {
		t.Fatalf("events lost after failed send")
	}

	var sent []outbox.Record
	n, err := m.Drain(ctx, 1, func(_ context.Context, recs []outbox.Record) error {
		sent = append(sent, recs...)
		return nil
	})
	if err != nil || n != 1 || sent[0].Event.EventType != outbox.EventConfirmed {
		t.Fatalf("unexpected drain result n=%d err=%v sent=%+v", n, err, sent)
	}
	if len(m.PendingEvents()) != 1 {
		t.Fatalf("expected one pending event")
	}
}
