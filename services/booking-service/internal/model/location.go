package model

import "time"

type Location struct {
	ID        string
	Name      string
	Timezone  string
	CreatedAt time.Time
}

type Person struct {
	ID         string
	LocationID string
	Name       string
	Active     bool
	CreatedAt  time.Time
}

const RuleWeekly = "weekly"

// AvailabilityRule is a recurring template expanded into slots. Start and end are
// local wall-clock minutes from midnight in the location's timezone.
type AvailabilityRule struct {
	ID                     string
	LocationID             string
	PersonID               string
	Kind                   string
	DaysOfWeek             []string
	StartMinute            int
	EndMinute              int
	SlotCapacity           int
	SlotGranularityMinutes int
	SlotDurationMinutes    *int
	ValidFrom              *time.Time
	ValidTo                *time.Time
	IsClosed               bool
	CreatedAt              time.Time
}

// Covers reports whether date falls inside the inclusive validity window.
func (r AvailabilityRule) Covers(date time.Time) bool {
	d := dateOnly(date)
	if r.ValidFrom != nil && d.Before(dateOnly(*r.ValidFrom)) {
		return false
	}
	if r.ValidTo != nil && d.After(dateOnly(*r.ValidTo)) {
		return false
	}
	return true
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
