package model

import (
	"encoding/json"
	"time"
)

type BookingStatus string

const (
	BookingHeld      BookingStatus = "held"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingExpired   BookingStatus = "expired"
)

// Live reports whether the booking currently occupies capacity on its slot.
func (s BookingStatus) Live() bool {
	return s == BookingHeld || s == BookingConfirmed
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingHeld, BookingConfirmed, BookingCancelled, BookingExpired:
		return true
	}
	return false
}

type Customer struct {
	Name  string
	Phone string
	Email string
}

type Booking struct {
	ID            string
	SlotID        string
	UserID        string
	Customer      Customer
	Notes         string
	Status        BookingStatus
	HoldExpiresAt *time.Time
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
	CancelledAt   *time.Time
	ExpiredAt     *time.Time
	Consent       json.RawMessage
	Source        string
}

// HoldExpired reports whether a held booking is past its TTL at now.
func (b Booking) HoldExpired(now time.Time) bool {
	return b.Status == BookingHeld && b.HoldExpiresAt != nil && !b.HoldExpiresAt.After(now)
}

// BookingWithSlot is a booking joined with the slot it currently points at.
type BookingWithSlot struct {
	Booking
	Slot Slot
}
