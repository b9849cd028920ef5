package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

var (
	// ErrNotFound is returned (wrapped with the entity name) when a referenced row is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports an insert whose id is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrCapacityExceeded reports slot counts outside 0 <= booked+hold <= capacity.
	ErrCapacityExceeded = errors.New("slot counts exceed capacity")
)

// SlotFilter selects slots by optional location, person and local date range (inclusive).
type SlotFilter struct {
	LocationID string
	PersonID   string
	From       time.Time
	To         time.Time
}

type BookingFilter struct {
	Status     model.BookingStatus
	PersonID   string
	LocationID string
	DateFrom   *time.Time
	DateTo     *time.Time
	// Query matches the customer phone or email exactly.
	Query  string
	Limit  int
	Offset int
}

// Store is the persistent state of the booking service. Reads outside InTx take no locks
// and may observe slightly stale counts.
type Store interface {
	// InTx runs fn in one transaction. Returning an error rolls back every write made through tx.
	// fn must only use tx, not the Store, for the duration of the call.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetLocation(ctx context.Context, id string) (model.Location, error)
	CreateLocation(ctx context.Context, loc *model.Location) error
	GetPerson(ctx context.Context, id string) (model.Person, error)
	CreatePerson(ctx context.Context, p *model.Person) error

	UpsertRule(ctx context.Context, rule *model.AvailabilityRule) error
	ListRules(ctx context.Context, locationID string) ([]model.AvailabilityRule, error)

	ListSlots(ctx context.Context, f SlotFilter) ([]model.Slot, error)
	GetSlot(ctx context.Context, id string) (model.Slot, error)
	// InsertSlotIfAbsent inserts slot unless (location, person, start) already exists, in which
	// case the existing row is returned with created=false.
	InsertSlotIfAbsent(ctx context.Context, slot model.Slot) (model.Slot, bool, error)

	GetBooking(ctx context.Context, id string) (model.Booking, error)
	ListBookings(ctx context.Context, f BookingFilter) ([]model.BookingWithSlot, int, error)
	LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error)

	Ping(ctx context.Context) error
}

// Tx holds row locks until the enclosing InTx returns. Lock order is booking first,
// then slots in ascending id order.
type Tx interface {
	LockSlot(ctx context.Context, id string) (model.Slot, error)
	// LockSlots locks every id in ascending order. Duplicates are locked once.
	LockSlots(ctx context.Context, ids ...string) (map[string]model.Slot, error)
	LockBooking(ctx context.Context, id string) (model.Booking, error)
	// LockExpiredHolds locks held bookings whose TTL passed, skipping rows another
	// transaction already holds.
	LockExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)

	SaveSlot(ctx context.Context, slot model.Slot) error
	InsertBooking(ctx context.Context, b *model.Booking) error
	SaveBooking(ctx context.Context, b model.Booking) error

	// InsertIdempotencyKey reports false when the key is already recorded.
	InsertIdempotencyKey(ctx context.Context, key, bookingID string) (bool, error)
	LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error)

	Enqueue(ctx context.Context, evt outbox.Event) error
}

func sortedUnique(ids []string) []string {
	out := append([]string(nil), ids...)
	slices.Sort(out)
	return slices.Compact(out)
}
