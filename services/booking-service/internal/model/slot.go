package model

import "time"

type SlotStatus string

const (
	SlotOpen    SlotStatus = "open"
	SlotPartial SlotStatus = "partial"
	SlotFull    SlotStatus = "full"
	SlotBlocked SlotStatus = "blocked"
)

// DateLayout is the calendar-date format used for slot dates and query parameters.
const DateLayout = "2006-01-02"

// Slot is a concrete bookable window. Status is derived from the counts and the blocked flag,
// never stored independently.
type Slot struct {
	ID         string
	LocationID string
	PersonID   string // empty means any person
	Date       time.Time
	StartAt    time.Time
	EndAt      time.Time
	Capacity   int
	Booked     int
	Hold       int
	Blocked    bool
	CreatedAt  time.Time
}

func (s Slot) Remaining() int {
	return s.Capacity - (s.Booked + s.Hold)
}

func (s Slot) Status() SlotStatus {
	switch {
	case s.Blocked:
		return SlotBlocked
	case s.Remaining() <= 0:
		return SlotFull
	case s.Booked > 0 || s.Hold > 0:
		return SlotPartial
	default:
		return SlotOpen
	}
}

// Bookable reports whether one more hold fits.
func (s Slot) Bookable() bool {
	return !s.Blocked && s.Remaining() > 0
}

// Reserve takes one unit of capacity for a booking in the given status.
func (s *Slot) Reserve(status BookingStatus) {
	if status == BookingConfirmed {
		s.Booked++
		return
	}
	s.Hold++
}

// Release gives back the unit held by a booking in the given status, flooring at zero.
func (s *Slot) Release(status BookingStatus) {
	switch status {
	case BookingConfirmed:
		if s.Booked > 0 {
			s.Booked--
		}
	case BookingHeld:
		if s.Hold > 0 {
			s.Hold--
		}
	}
}

// PersonKey is the uniqueness key of a slot within its location.
type PersonKey struct {
	PersonID string
	StartAt  time.Time
}

func (s Slot) Key() PersonKey {
	return PersonKey{PersonID: s.PersonID, StartAt: s.StartAt.UTC()}
}
