package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/days"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200

	// maxPage keeps (page-1)*page_size well inside an int32 OFFSET.
	maxPage = 100_000
)

type createLocationRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

func (a *API) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req createLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Name == "" || req.Timezone == "" {
		unprocessable(w, "name and timezone are required")
		return
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		unprocessable(w, "unknown timezone "+strconv.Quote(req.Timezone))
		return
	}
	id, ok := resolveID(w, req.ID)
	if !ok {
		return
	}

	loc := model.Location{ID: id, Name: req.Name, Timezone: req.Timezone}
	if err := a.store.CreateLocation(r.Context(), &loc); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"location_id": loc.ID})
}

type createPersonRequest struct {
	ID         string `json:"id"`
	LocationID string `json:"location_id"`
	Name       string `json:"name"`
	Active     *bool  `json:"active"`
}

func (a *API) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req createPersonRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.Name = strings.TrimSpace(req.Name)
	if req.LocationID == "" || req.Name == "" {
		unprocessable(w, "location_id and name are required")
		return
	}
	id, ok := resolveID(w, req.ID)
	if !ok {
		return
	}

	p := model.Person{ID: id, LocationID: req.LocationID, Name: req.Name, Active: true}
	if req.Active != nil {
		p.Active = *req.Active
	}
	if err := a.store.CreatePerson(r.Context(), &p); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"person_id": p.ID})
}

type createRuleRequest struct {
	LocationID             string   `json:"location_id"`
	PersonID               string   `json:"person_id"`
	RuleKind               string   `json:"rule_kind"`
	DaysOfWeek             []string `json:"days_of_week"`
	StartTime              string   `json:"start_time"`
	EndTime                string   `json:"end_time"`
	SlotCapacity           *int     `json:"slot_capacity"`
	SlotGranularityMinutes *int     `json:"slot_granularity_minutes"`
	SlotDurationMinutes    *int     `json:"slot_duration_minutes"`
	ValidFrom              string   `json:"valid_from"`
	ValidTo                string   `json:"valid_to"`
	IsClosed               bool     `json:"is_closed"`
}

func (a *API) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	rule, err := req.toRule()
	if err != nil {
		unprocessable(w, err.Error())
		return
	}

	ctx := r.Context()
	if _, err := a.store.GetLocation(ctx, rule.LocationID); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if rule.PersonID != "" {
		p, err := a.store.GetPerson(ctx, rule.PersonID)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		if p.LocationID != rule.LocationID {
			unprocessable(w, "person does not belong to location")
			return
		}
	}

	rule.ID = uuid.NewString()
	if err := a.store.UpsertRule(ctx, &rule); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"rule_id": rule.ID})
}

func (req createRuleRequest) toRule() (model.AvailabilityRule, error) {
	rule := model.AvailabilityRule{
		LocationID:             strings.TrimSpace(req.LocationID),
		PersonID:               strings.TrimSpace(req.PersonID),
		Kind:                   strings.TrimSpace(req.RuleKind),
		SlotCapacity:           intOr(req.SlotCapacity, 1),
		SlotGranularityMinutes: intOr(req.SlotGranularityMinutes, 15),
		IsClosed:               req.IsClosed,
	}
	if rule.LocationID == "" {
		return rule, fmt.Errorf("location_id is required")
	}
	if rule.Kind == "" {
		rule.Kind = model.RuleWeekly
	}
	if len(req.DaysOfWeek) > 0 {
		names, err := days.NormalizeList(req.DaysOfWeek)
		if err != nil {
			return rule, err
		}
		rule.DaysOfWeek = names
	}

	var err error
	if rule.StartMinute, err = parseClock(req.StartTime); err != nil {
		return rule, fmt.Errorf("start_time: %w", err)
	}
	if rule.EndMinute, err = parseClock(req.EndTime); err != nil {
		return rule, fmt.Errorf("end_time: %w", err)
	}
	if rule.StartMinute >= rule.EndMinute {
		return rule, fmt.Errorf("start_time must be before end_time")
	}
	if rule.SlotCapacity <= 0 {
		return rule, fmt.Errorf("slot_capacity must be > 0")
	}
	if rule.SlotGranularityMinutes <= 0 {
		return rule, fmt.Errorf("slot_granularity_minutes must be > 0")
	}
	duration := intOr(req.SlotDurationMinutes, 30)
	if duration <= 0 {
		return rule, fmt.Errorf("slot_duration_minutes must be > 0")
	}
	rule.SlotDurationMinutes = &duration

	if req.ValidFrom != "" {
		d, err := parseDate(req.ValidFrom)
		if err != nil {
			return rule, fmt.Errorf("valid_from must be a date")
		}
		rule.ValidFrom = &d
	}
	if req.ValidTo != "" {
		d, err := parseDate(req.ValidTo)
		if err != nil {
			return rule, fmt.Errorf("valid_to must be a date")
		}
		rule.ValidTo = &d
	}
	if rule.ValidFrom != nil && rule.ValidTo != nil && rule.ValidTo.Before(*rule.ValidFrom) {
		return rule, fmt.Errorf("valid_to must not be before valid_from")
	}
	return rule, nil
}

// parseClock turns "HH:MM" or "HH:MM:SS" into minutes after midnight. Seconds are dropped.
func parseClock(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("invalid time %q (want HH:MM)", raw)
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

type generateRequest struct {
	LocationID string `json:"location_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	DryRun     bool   `json:"dry_run"`
}

type generateResponse struct {
	Created int  `json:"created"`
	Skipped int  `json:"skipped"`
	DryRun  bool `json:"dry_run"`
}

func (a *API) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.LocationID = strings.TrimSpace(req.LocationID)
	if req.LocationID == "" {
		unprocessable(w, "location_id is required")
		return
	}
	from, err := parseDate(req.From)
	if err != nil {
		unprocessable(w, "from must be a date (YYYY-MM-DD)")
		return
	}
	to, err := parseDate(req.To)
	if err != nil {
		unprocessable(w, "to must be a date (YYYY-MM-DD)")
		return
	}
	if to.Before(from) {
		unprocessable(w, "to must be greater than or equal to from")
		return
	}

	res, err := a.generator.Generate(r.Context(), req.LocationID, from, to, req.DryRun)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Created: res.Created, Skipped: res.Skipped, DryRun: req.DryRun})
}

func (a *API) BlockSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := a.bookings.BlockSlot(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slot_id":   slot.ID,
		"status":    string(slot.Status()),
		"remaining": slot.Remaining(),
	})
}

type bookingListItem struct {
	BookingID string          `json:"booking_id"`
	Status    string          `json:"status"`
	SlotID    string          `json:"slot_id"`
	Date      string          `json:"date"`
	StartAt   string          `json:"start_at"`
	Customer  customerPayload `json:"customer"`
	PersonID  *string         `json:"person_id"`
}

type bookingListResponse struct {
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Total    int               `json:"total"`
	Items    []bookingListItem `json:"items"`
}

func (a *API) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, ok := queryInt(w, q.Get("page"), "page", 1, 1, maxPage)
	if !ok {
		return
	}
	pageSize, ok := queryInt(w, q.Get("page_size"), "page_size", defaultPageSize, 1, maxPageSize)
	if !ok {
		return
	}

	f := storage.BookingFilter{
		Status:     model.BookingStatus(strings.TrimSpace(q.Get("status"))),
		PersonID:   strings.TrimSpace(q.Get("person_id")),
		LocationID: strings.TrimSpace(q.Get("location_id")),
		Query:      strings.TrimSpace(q.Get("q")),
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	}
	if f.Status != "" && !f.Status.Valid() {
		unprocessable(w, "unknown status "+strconv.Quote(string(f.Status)))
		return
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"date_from", &f.DateFrom}, {"date_to", &f.DateTo}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		d, err := parseDate(raw)
		if err != nil {
			unprocessable(w, p.name+" must be a date (YYYY-MM-DD)")
			return
		}
		*p.dst = &d
	}

	ctx := r.Context()
	a.expireHolds(ctx)

	rows, total, err := a.store.ListBookings(ctx, f)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	zones := map[string]*time.Location{}
	zoneFor := func(locationID string) *time.Location {
		if tz, ok := zones[locationID]; ok {
			return tz
		}
		tz := time.UTC
		if loc, err := a.store.GetLocation(ctx, locationID); err == nil {
			if l, err := time.LoadLocation(loc.Timezone); err == nil {
				tz = l
			}
		}
		zones[locationID] = tz
		return tz
	}

	resp := bookingListResponse{Page: page, PageSize: pageSize, Total: total, Items: make([]bookingListItem, 0, len(rows))}
	for _, row := range rows {
		item := bookingListItem{
			BookingID: row.Booking.ID,
			Status:    string(row.Booking.Status),
			SlotID:    row.Slot.ID,
			Date:      row.Slot.Date.Format(model.DateLayout),
			StartAt:   formatTime(row.Slot.StartAt, zoneFor(row.Slot.LocationID)),
			Customer: customerPayload{
				Name:  row.Booking.Customer.Name,
				Phone: row.Booking.Customer.Phone,
				Email: row.Booking.Customer.Email,
			},
		}
		if row.Slot.PersonID != "" {
			personID := row.Slot.PersonID
			item.PersonID = &personID
		}
		resp.Items = append(resp.Items, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryInt parses an optional integer parameter. hi <= 0 means unbounded.
func queryInt(w http.ResponseWriter, raw, name string, def, lo, hi int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || (hi > 0 && n > hi) {
		if hi > 0 {
			unprocessable(w, fmt.Sprintf("%s must be between %d and %d", name, lo, hi))
		} else {
			unprocessable(w, fmt.Sprintf("%s must be >= %d", name, lo))
		}
		return 0, false
	}
	return n, true
}

type patchBookingRequest struct {
	Action    string `json:"action"`
	Reason    string `json:"reason"`
	NewSlotID string `json:"new_slot_id"`
}

func (a *API) PatchBooking(w http.ResponseWriter, r *http.Request) {
	var req patchBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.Action = strings.TrimSpace(req.Action)
	req.Reason = strings.TrimSpace(req.Reason)
	req.NewSlotID = strings.TrimSpace(req.NewSlotID)

	switch {
	case req.Action != "cancel" && req.Action != "reschedule":
		unprocessable(w, "action must be cancel or reschedule")
		return
	case req.Action == "cancel" && req.Reason == "":
		unprocessable(w, "reason is required when cancelling")
		return
	case req.Action == "reschedule" && req.NewSlotID == "":
		unprocessable(w, "new_slot_id is required when rescheduling")
		return
	}

	ctx := r.Context()
	a.expireHolds(ctx)

	var (
		b   model.Booking
		err error
	)
	if req.Action == "cancel" {
		b, err = a.bookings.Cancel(ctx, r.PathValue("id"), req.Reason)
	} else {
		b, err = a.bookings.Reschedule(ctx, r.PathValue("id"), req.NewSlotID)
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{BookingID: b.ID, Status: string(b.Status), SlotID: b.SlotID})
}

// resolveID accepts a caller-supplied uuid or mints one.
func resolveID(w http.ResponseWriter, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.NewString(), true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		unprocessable(w, "id must be a uuid")
		return "", false
	}
	return id.String(), true
}
