package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

// Memory is an in-process Store for tests and single-node development. A transaction holds
// the store mutex for its whole duration, which serializes every mutation; writes are staged
// and become visible only when fn returns nil.
type Memory struct {
	mu        sync.Mutex
	locations map[string]model.Location
	people    map[string]model.Person
	rules     []model.AvailabilityRule
	slots     map[string]model.Slot
	slotIndex map[slotKey]string
	bookings  map[string]model.Booking
	keys      map[string]string

	outboxMu  sync.Mutex
	events    []memEvent
	nextEvent int64
}

type slotKey struct {
	locationID string
	personID   string
	startNano  int64
}

type memEvent struct {
	record    outbox.Record
	published bool
}

func NewMemory() *Memory {
	return &Memory{
		locations: map[string]model.Location{},
		people:    map[string]model.Person{},
		slots:     map[string]model.Slot{},
		slotIndex: map[slotKey]string{},
		bookings:  map[string]model.Booking{},
		keys:      map[string]string{},
	}
}

func keyOf(s model.Slot) slotKey {
	return slotKey{locationID: s.LocationID, personID: s.PersonID, startNano: s.StartAt.UTC().UnixNano()}
}

func (s *Memory) Ping(context.Context) error { return nil }

func (s *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		slots:    map[string]model.Slot{},
		bookings: map[string]model.Booking{},
		keys:     map[string]string{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, slot := range tx.slots {
		s.slots[id] = slot
	}
	for id, b := range tx.bookings {
		s.bookings[id] = b
	}
	for k, id := range tx.keys {
		s.keys[k] = id
	}
	if len(tx.events) > 0 {
		s.outboxMu.Lock()
		now := time.Now().UTC()
		for _, evt := range tx.events {
			s.nextEvent++
			s.events = append(s.events, memEvent{record: outbox.Record{
				ID:        s.nextEvent,
				EventID:   fmt.Sprintf("mem-%d", s.nextEvent),
				Event:     evt,
				CreatedAt: now,
			}})
		}
		s.outboxMu.Unlock()
	}
	return nil
}

func (s *Memory) GetLocation(_ context.Context, id string) (model.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[id]
	if !ok {
		return model.Location{}, fmt.Errorf("location %s: %w", id, ErrNotFound)
	}
	return loc, nil
}

func (s *Memory) CreateLocation(_ context.Context, loc *model.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[loc.ID]; ok {
		return fmt.Errorf("location %s: %w", loc.ID, ErrAlreadyExists)
	}
	loc.CreatedAt = time.Now().UTC()
	s.locations[loc.ID] = *loc
	return nil
}

func (s *Memory) GetPerson(_ context.Context, id string) (model.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.people[id]
	if !ok {
		return model.Person{}, fmt.Errorf("person %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *Memory) CreatePerson(_ context.Context, p *model.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[p.LocationID]; !ok {
		return fmt.Errorf("location %s: %w", p.LocationID, ErrNotFound)
	}
	if _, ok := s.people[p.ID]; ok {
		return fmt.Errorf("person %s: %w", p.ID, ErrAlreadyExists)
	}
	p.CreatedAt = time.Now().UTC()
	s.people[p.ID] = *p
	return nil
}

func (s *Memory) UpsertRule(_ context.Context, rule *model.AvailabilityRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[rule.LocationID]; !ok {
		return fmt.Errorf("location %s: %w", rule.LocationID, ErrNotFound)
	}
	if rule.PersonID != "" {
		if _, ok := s.people[rule.PersonID]; !ok {
			return fmt.Errorf("person %s: %w", rule.PersonID, ErrNotFound)
		}
	}
	stored := *rule
	stored.DaysOfWeek = slices.Clone(rule.DaysOfWeek)
	for i, existing := range s.rules {
		if existing.ID == rule.ID {
			stored.CreatedAt = existing.CreatedAt
			stored.LocationID = existing.LocationID
			s.rules[i] = stored
			rule.CreatedAt = stored.CreatedAt
			return nil
		}
	}
	stored.CreatedAt = time.Now().UTC()
	rule.CreatedAt = stored.CreatedAt
	s.rules = append(s.rules, stored)
	return nil
}

func (s *Memory) ListRules(_ context.Context, locationID string) ([]model.AvailabilityRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AvailabilityRule
	for _, r := range s.rules {
		if r.LocationID == locationID {
			r.DaysOfWeek = slices.Clone(r.DaysOfWeek)
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Memory) ListSlots(_ context.Context, f SlotFilter) ([]model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Slot
	for _, slot := range s.slots {
		if f.LocationID != "" && slot.LocationID != f.LocationID {
			continue
		}
		if f.PersonID != "" && slot.PersonID != f.PersonID {
			continue
		}
		if !f.From.IsZero() && slot.Date.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && slot.Date.After(f.To) {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Memory) GetSlot(_ context.Context, id string) (model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return model.Slot{}, fmt.Errorf("slot %s: %w", id, ErrNotFound)
	}
	return slot, nil
}

func (s *Memory) InsertSlotIfAbsent(_ context.Context, slot model.Slot) (model.Slot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[slot.LocationID]; !ok {
		return model.Slot{}, false, fmt.Errorf("location %s: %w", slot.LocationID, ErrNotFound)
	}
	if slot.Capacity <= 0 {
		return model.Slot{}, false, fmt.Errorf("slot capacity must be positive (got %d)", slot.Capacity)
	}
	k := keyOf(slot)
	if id, ok := s.slotIndex[k]; ok {
		return s.slots[id], false, nil
	}
	slot.StartAt = slot.StartAt.UTC()
	slot.EndAt = slot.EndAt.UTC()
	slot.Booked, slot.Hold, slot.Blocked = 0, 0, false
	slot.CreatedAt = time.Now().UTC()
	s.slots[slot.ID] = slot
	s.slotIndex[k] = slot.ID
	return slot, true, nil
}

func (s *Memory) GetBooking(_ context.Context, id string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (s *Memory) ListBookings(_ context.Context, f BookingFilter) ([]model.BookingWithSlot, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []model.BookingWithSlot
	for _, b := range s.bookings {
		slot := s.slots[b.SlotID]
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if f.PersonID != "" && slot.PersonID != f.PersonID {
			continue
		}
		if f.LocationID != "" && slot.LocationID != f.LocationID {
			continue
		}
		if f.DateFrom != nil && slot.Date.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && slot.Date.After(*f.DateTo) {
			continue
		}
		if f.Query != "" && f.Query != b.Customer.Phone && f.Query != b.Customer.Email {
			continue
		}
		matched = append(matched, model.BookingWithSlot{Booking: b, Slot: slot})
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	start := min(max(f.Offset, 0), total)
	end := min(start+limit, total)
	return matched[start:end], total, nil
}

func (s *Memory) LookupIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.keys[key]
	return id, ok, nil
}

// Drain implements outbox.Source.
func (s *Memory) Drain(ctx context.Context, limit int, send func(context.Context, []outbox.Record) error) (int, error) {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()

	var idx []int
	var batch []outbox.Record
	for i := range s.events {
		if len(batch) >= limit {
			break
		}
		if s.events[i].published {
			continue
		}
		idx = append(idx, i)
		batch = append(batch, s.events[i].record)
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := send(ctx, batch); err != nil {
		return 0, err
	}
	for _, i := range idx {
		s.events[i].published = true
	}
	return len(batch), nil
}

// PendingEvents returns the unpublished outbox events in insertion order.
func (s *Memory) PendingEvents() []outbox.Event {
	s.outboxMu.Lock()
	defer s.outboxMu.Unlock()
	var out []outbox.Event
	for _, e := range s.events {
		if !e.published {
			out = append(out, e.record.Event)
		}
	}
	return out
}

type memTx struct {
	s        *Memory
	slots    map[string]model.Slot
	bookings map[string]model.Booking
	keys     map[string]string
	events   []outbox.Event
}

func (t *memTx) slot(id string) (model.Slot, bool) {
	if slot, ok := t.slots[id]; ok {
		return slot, true
	}
	slot, ok := t.s.slots[id]
	return slot, ok
}

func (t *memTx) booking(id string) (model.Booking, bool) {
	if b, ok := t.bookings[id]; ok {
		return b, true
	}
	b, ok := t.s.bookings[id]
	return b, ok
}

func (t *memTx) LockSlot(_ context.Context, id string) (model.Slot, error) {
	slot, ok := t.slot(id)
	if !ok {
		return model.Slot{}, fmt.Errorf("slot %s: %w", id, ErrNotFound)
	}
	return slot, nil
}

func (t *memTx) LockSlots(ctx context.Context, ids ...string) (map[string]model.Slot, error) {
	out := make(map[string]model.Slot, len(ids))
	for _, id := range sortedUnique(ids) {
		slot, err := t.LockSlot(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = slot
	}
	return out, nil
}

func (t *memTx) LockBooking(_ context.Context, id string) (model.Booking, error) {
	b, ok := t.booking(id)
	if !ok {
		return model.Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (t *memTx) LockExpiredHolds(_ context.Context, now time.Time, limit int) ([]model.Booking, error) {
	var out []model.Booking
	seen := map[string]bool{}
	consider := func(b model.Booking) {
		if seen[b.ID] {
			return
		}
		seen[b.ID] = true
		if b.HoldExpired(now) {
			out = append(out, b)
		}
	}
	for _, b := range t.bookings {
		consider(b)
	}
	for _, b := range t.s.bookings {
		consider(b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].HoldExpiresAt.Equal(*out[j].HoldExpiresAt) {
			return out[i].HoldExpiresAt.Before(*out[j].HoldExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) SaveSlot(_ context.Context, slot model.Slot) error {
	if _, ok := t.slot(slot.ID); !ok {
		return fmt.Errorf("slot %s: %w", slot.ID, ErrNotFound)
	}
	if slot.Booked < 0 || slot.Hold < 0 || slot.Booked+slot.Hold > slot.Capacity {
		return fmt.Errorf("slot %s (booked=%d hold=%d capacity=%d): %w", slot.ID, slot.Booked, slot.Hold, slot.Capacity, ErrCapacityExceeded)
	}
	t.slots[slot.ID] = slot
	return nil
}

func (t *memTx) InsertBooking(_ context.Context, b *model.Booking) error {
	if _, ok := t.booking(b.ID); ok {
		return fmt.Errorf("booking %s: %w", b.ID, ErrAlreadyExists)
	}
	if _, ok := t.slot(b.SlotID); !ok {
		return fmt.Errorf("slot %s: %w", b.SlotID, ErrNotFound)
	}
	b.CreatedAt = time.Now().UTC()
	t.bookings[b.ID] = *b
	return nil
}

func (t *memTx) SaveBooking(_ context.Context, b model.Booking) error {
	if _, ok := t.booking(b.ID); !ok {
		return fmt.Errorf("booking %s: %w", b.ID, ErrNotFound)
	}
	t.bookings[b.ID] = b
	return nil
}

func (t *memTx) InsertIdempotencyKey(_ context.Context, key, bookingID string) (bool, error) {
	if _, ok := t.keys[key]; ok {
		return false, nil
	}
	if _, ok := t.s.keys[key]; ok {
		return false, nil
	}
	t.keys[key] = bookingID
	return true, nil
}

func (t *memTx) LookupIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	if id, ok := t.keys[key]; ok {
		return id, true, nil
	}
	id, ok := t.s.keys[key]
	return id, ok, nil
}

func (t *memTx) Enqueue(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

var (
	_ Store         = (*Memory)(nil)
	_ outbox.Source = (*Memory)(nil)
)
