// Package booking implements the hold, confirm, cancel and reschedule lifecycle on top of
// storage transactions. Every mutation locks the booking row first and then its slot rows in
// ascending id order, so concurrent callers cannot oversell a slot or deadlock each other.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrSlotFull    = errors.New("slot full")
	ErrHoldExpired = errors.New("hold expired")
	ErrConflict    = errors.New("booking state conflict")
	ErrInvalid     = errors.New("invalid booking request")
)

// errReplay aborts a hold transaction whose idempotency key was recorded by someone else.
var errReplay = errors.New("idempotency key already recorded")

const (
	DefaultHoldTTL   = 10 * time.Minute
	DefaultSweepSize = 200
)

type Config struct {
	HoldTTL        time.Duration
	SweepBatchSize int
}

type Service struct {
	store      storage.Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	holdTTL    time.Duration
	sweepBatch int
	now        func() time.Time
	newID      func() string
}

func NewService(store storage.Store, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Service {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = DefaultHoldTTL
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = DefaultSweepSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		store:      store,
		logger:     logger,
		metrics:    m,
		tracer:     otel.Tracer("booking-service/booking"),
		holdTTL:    cfg.HoldTTL,
		sweepBatch: cfg.SweepBatchSize,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// HoldTTL is the TTL applied when a request does not carry its own.
func (s *Service) HoldTTL() time.Duration {
	return s.holdTTL
}

type HoldRequest struct {
	SlotID         string
	IdempotencyKey string
	UserID         string
	Customer       model.Customer
	Notes          string
	Consent        json.RawMessage
	Source         string
	TTL            time.Duration
}

// CreateHold reserves one unit of the slot's capacity for TTL. Retrying with the same
// idempotency key returns the original booking without touching the slot again.
func (s *Service) CreateHold(ctx context.Context, req HoldRequest) (model.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.CreateHold", trace.WithAttributes(attribute.String("slot_id", req.SlotID)))
	defer span.End()

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		return model.Booking{}, fmt.Errorf("%w: idempotency key required", ErrInvalid)
	}
	if req.SlotID == "" {
		return model.Booking{}, fmt.Errorf("%w: slot id required", ErrInvalid)
	}

	if b, ok, err := s.replay(ctx, req.IdempotencyKey); err != nil || ok {
		return b, err
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.holdTTL
	}
	now := s.now()
	expires := now.Add(ttl)
	b := model.Booking{
		ID:            s.newID(),
		SlotID:        req.SlotID,
		UserID:        req.UserID,
		Customer:      req.Customer,
		Notes:         req.Notes,
		Status:        model.BookingHeld,
		HoldExpiresAt: &expires,
		Consent:       req.Consent,
		Source:        req.Source,
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		// The key goes in first so a concurrent retry waits on it rather than on the slot.
		inserted, err := tx.InsertIdempotencyKey(ctx, req.IdempotencyKey, b.ID)
		if err != nil {
			return err
		}
		if !inserted {
			return errReplay
		}

		slot, err := tx.LockSlot(ctx, req.SlotID)
		if err != nil {
			return err
		}
		if !slot.Bookable() {
			return fmt.Errorf("slot %s is %s: %w", slot.ID, slot.Status(), ErrSlotFull)
		}
		slot.Reserve(model.BookingHeld)
		if err := tx.SaveSlot(ctx, slot); err != nil {
			return err
		}
		if err := tx.InsertBooking(ctx, &b); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, outbox.EventHoldCreated, b, slot, nil)
	})
	if errors.Is(err, errReplay) {
		existing, ok, rerr := s.replay(ctx, req.IdempotencyKey)
		if rerr != nil {
			return model.Booking{}, rerr
		}
		if ok {
			return existing, nil
		}
		return model.Booking{}, fmt.Errorf("idempotency key %q recorded without booking", req.IdempotencyKey)
	}
	if err != nil {
		s.reject("hold", err)
		return model.Booking{}, err
	}

	s.metrics.Transition("hold")
	s.logger.Info("booking held", "booking_id", b.ID, "slot_id", b.SlotID, "expires_at", expires)
	return b, nil
}

func (s *Service) replay(ctx context.Context, key string) (model.Booking, bool, error) {
	id, ok, err := s.store.LookupIdempotencyKey(ctx, key)
	if err != nil || !ok {
		return model.Booking{}, false, err
	}
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return model.Booking{}, false, err
	}
	return b, true, nil
}

// Confirm turns a live hold into a confirmed booking.
func (s *Service) Confirm(ctx context.Context, bookingID string) (model.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Confirm", trace.WithAttributes(attribute.String("booking_id", bookingID)))
	defer span.End()

	var out model.Booking
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != model.BookingHeld {
			return fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, ErrConflict)
		}
		now := s.now()
		if b.HoldExpired(now) {
			return fmt.Errorf("booking %s hold expired at %s: %w", b.ID, b.HoldExpiresAt.Format(time.RFC3339), ErrHoldExpired)
		}

		slot, err := tx.LockSlot(ctx, b.SlotID)
		if err != nil {
			return err
		}
		slot.Release(model.BookingHeld)
		slot.Reserve(model.BookingConfirmed)
		if err := tx.SaveSlot(ctx, slot); err != nil {
			return err
		}

		b.Status = model.BookingConfirmed
		b.ConfirmedAt = &now
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		out = b
		return s.enqueue(ctx, tx, outbox.EventConfirmed, b, slot, nil)
	})
	if err != nil {
		s.reject("confirm", err)
		return model.Booking{}, err
	}
	s.metrics.Transition("confirm")
	s.logger.Info("booking confirmed", "booking_id", out.ID, "slot_id", out.SlotID)
	return out, nil
}

// Cancel releases a held or confirmed booking's capacity. reason travels with the event.
func (s *Service) Cancel(ctx context.Context, bookingID, reason string) (model.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Cancel", trace.WithAttributes(attribute.String("booking_id", bookingID)))
	defer span.End()

	var out model.Booking
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.Status.Live() {
			return fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, ErrConflict)
		}

		slot, err := tx.LockSlot(ctx, b.SlotID)
		if err != nil {
			return err
		}
		slot.Release(b.Status)
		if err := tx.SaveSlot(ctx, slot); err != nil {
			return err
		}

		now := s.now()
		b.Status = model.BookingCancelled
		b.CancelledAt = &now
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		out = b
		var extra map[string]any
		if reason != "" {
			extra = map[string]any{"reason": reason}
		}
		return s.enqueue(ctx, tx, outbox.EventCancelled, b, slot, extra)
	})
	if err != nil {
		s.reject("cancel", err)
		return model.Booking{}, err
	}
	s.metrics.Transition("cancel")
	s.logger.Info("booking cancelled", "booking_id", out.ID, "slot_id", out.SlotID, "reason", reason)
	return out, nil
}

// Reschedule moves a live booking to another slot, keeping its status and timestamps.
func (s *Service) Reschedule(ctx context.Context, bookingID, newSlotID string) (model.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Reschedule", trace.WithAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("new_slot_id", newSlotID),
	))
	defer span.End()

	if newSlotID == "" {
		return model.Booking{}, fmt.Errorf("%w: new slot id required", ErrInvalid)
	}

	var out model.Booking
	var moved bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.Status.Live() {
			return fmt.Errorf("booking %s is %s: %w", b.ID, b.Status, ErrConflict)
		}
		if b.SlotID == newSlotID {
			out = b
			return nil
		}

		slots, err := tx.LockSlots(ctx, b.SlotID, newSlotID)
		if err != nil {
			return err
		}
		oldSlot, newSlot := slots[b.SlotID], slots[newSlotID]
		if !newSlot.Bookable() {
			return fmt.Errorf("slot %s is %s: %w", newSlot.ID, newSlot.Status(), ErrSlotFull)
		}

		oldSlot.Release(b.Status)
		newSlot.Reserve(b.Status)
		// Save in lock order.
		for _, slot := range orderByID(oldSlot, newSlot) {
			if err := tx.SaveSlot(ctx, slot); err != nil {
				return err
			}
		}

		b.SlotID = newSlot.ID
		if err := tx.SaveBooking(ctx, b); err != nil {
			return err
		}
		out, moved = b, true
		return s.enqueue(ctx, tx, outbox.EventRescheduled, b, newSlot, map[string]any{"from_slot_id": oldSlot.ID})
	})
	if err != nil {
		s.reject("reschedule", err)
		return model.Booking{}, err
	}
	if moved {
		s.metrics.Transition("reschedule")
		s.logger.Info("booking rescheduled", "booking_id", out.ID, "slot_id", out.SlotID)
	}
	return out, nil
}

// ExpireHolds releases every hold whose TTL passed at now and returns how many it expired.
// Rows locked by a concurrent sweep or an in-flight confirm are skipped, so running it
// from many places at once never double-releases a hold.
func (s *Service) ExpireHolds(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "booking.ExpireHolds")
	defer span.End()

	start := time.Now()
	total := 0
	for {
		n, err := s.expireBatch(ctx, now)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.sweepBatch {
			break
		}
	}
	s.metrics.Sweep(total, time.Since(start))
	span.SetAttributes(attribute.Int("expired", total))
	if total > 0 {
		s.logger.Info("holds expired", "count", total)
	}
	return total, nil
}

func (s *Service) expireBatch(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		held, err := tx.LockExpiredHolds(ctx, now, s.sweepBatch)
		if err != nil || len(held) == 0 {
			return err
		}

		ids := make([]string, 0, len(held))
		for _, b := range held {
			ids = append(ids, b.SlotID)
		}
		slots, err := tx.LockSlots(ctx, ids...)
		if err != nil {
			return err
		}

		for _, b := range held {
			slot := slots[b.SlotID]
			slot.Release(model.BookingHeld)
			slots[b.SlotID] = slot

			expiredAt := now
			b.Status = model.BookingExpired
			b.ExpiredAt = &expiredAt
			if err := tx.SaveBooking(ctx, b); err != nil {
				return err
			}
			if err := s.enqueue(ctx, tx, outbox.EventExpired, b, slot, nil); err != nil {
				return err
			}
		}
		for _, slot := range orderByID(mapValues(slots)...) {
			if err := tx.SaveSlot(ctx, slot); err != nil {
				return err
			}
		}
		n = len(held)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// BlockSlot applies the sticky blocked override. Existing bookings keep their capacity.
func (s *Service) BlockSlot(ctx context.Context, slotID string) (model.Slot, error) {
	var out model.Slot
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		slot, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Blocked {
			out = slot
			return nil
		}
		slot.Blocked = true
		if err := tx.SaveSlot(ctx, slot); err != nil {
			return err
		}
		out = slot
		return nil
	})
	if err != nil {
		return model.Slot{}, err
	}
	s.logger.Info("slot blocked", "slot_id", out.ID)
	return out, nil
}

func (s *Service) enqueue(ctx context.Context, tx storage.Tx, eventType string, b model.Booking, slot model.Slot, extra map[string]any) error {
	payload := map[string]any{
		"booking_id":  b.ID,
		"slot_id":     b.SlotID,
		"location_id": slot.LocationID,
		"person_id":   slot.PersonID,
		"status":      string(b.Status),
		"start_at":    slot.StartAt.UTC().Format(time.RFC3339),
		"end_at":      slot.EndAt.UTC().Format(time.RFC3339),
		"occurred_at": s.now().Format(time.RFC3339Nano),
	}
	if b.UserID != "" {
		payload["user_id"] = b.UserID
	}
	for k, v := range extra {
		payload[k] = v
	}
	evt, err := outbox.NewEvent(ctx, "booking", b.ID, eventType, payload)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	return tx.Enqueue(ctx, evt)
}

func (s *Service) reject(op string, err error) {
	switch {
	case errors.Is(err, ErrSlotFull):
		s.metrics.Rejected(op, "slot_full")
	case errors.Is(err, ErrHoldExpired):
		s.metrics.Rejected(op, "hold_expired")
	case errors.Is(err, ErrConflict):
		s.metrics.Rejected(op, "conflict")
	case errors.Is(err, storage.ErrNotFound):
		s.metrics.Rejected(op, "not_found")
	default:
		s.logger.Error("booking operation failed", "op", op, "err", err)
	}
}

func orderByID(slots ...model.Slot) []model.Slot {
	out := append([]model.Slot(nil), slots...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ID < out[j-1].ID; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func mapValues(m map[string]model.Slot) []model.Slot {
	out := make([]model.Slot, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
