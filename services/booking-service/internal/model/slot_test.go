package model

import (
	"testing"
	"time"
)

func TestSlotStatus(t *testing.T) {
	cases := []struct {
		name string
		slot Slot
		want SlotStatus
	}{
		{"open", Slot{Capacity: 2}, SlotOpen},
		{"partial hold", Slot{Capacity: 2, Hold: 1}, SlotPartial},
		{"partial booked", Slot{Capacity: 2, Booked: 1}, SlotPartial},
		{"full", Slot{Capacity: 2, Booked: 1, Hold: 1}, SlotFull},
		{"blocked sticky", Slot{Capacity: 2, Blocked: true}, SlotBlocked},
		{"blocked over full", Slot{Capacity: 1, Booked: 1, Blocked: true}, SlotBlocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.slot.Status(); got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestSlotReleaseFloorsAtZero(t *testing.T) {
	s := Slot{Capacity: 1}
	s.Release(BookingHeld)
	s.Release(BookingConfirmed)
	if s.Hold != 0 || s.Booked != 0 {
		t.Fatalf("counts went negative: %+v", s)
	}
	s.Reserve(BookingHeld)
	if s.Hold != 1 || s.Bookable() {
		t.Fatalf("expected one hold and no capacity left: %+v", s)
	}
}

func TestRuleCovers(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
	r := AvailabilityRule{ValidFrom: &from, ValidTo: &to}

	if !r.Covers(time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("valid_to is inclusive")
	}
	if r.Covers(time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date before valid_from covered")
	}
	if !(AvailabilityRule{}).Covers(from) {
		t.Fatalf("open-ended rule should cover everything")
	}
}
