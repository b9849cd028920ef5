package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/exposure"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

const (
	defaultDateDays = 30
	maxDateDays     = 90
)

type dateItem struct {
	Date            string `json:"date"`
	HasAvailability bool   `json:"has_availability"`
	TotalSlots      int    `json:"total_slots"`
}

type datesResponse struct {
	From  string     `json:"from"`
	To    string     `json:"to"`
	Dates []dateItem `json:"dates"`
}

func (a *API) Dates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := a.now().Truncate(24 * time.Hour)
	if raw := q.Get("from"); raw != "" {
		d, err := parseDate(raw)
		if err != nil {
			unprocessable(w, "from must be a date (YYYY-MM-DD)")
			return
		}
		from = d
	}
	days := defaultDateDays
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxDateDays {
			unprocessable(w, "days must be between 1 and 90")
			return
		}
		days = n
	}
	to := from.AddDate(0, 0, days)

	ctx := r.Context()
	a.expireHolds(ctx)
	slots, err := a.store.ListSlots(ctx, storage.SlotFilter{
		LocationID: strings.TrimSpace(q.Get("location_id")),
		PersonID:   strings.TrimSpace(q.Get("person_id")),
		From:       from,
		To:         to,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	counts := map[string]int{}
	for _, slot := range slots {
		if slot.Bookable() {
			counts[slot.Date.Format(model.DateLayout)]++
		}
	}
	resp := datesResponse{
		From:  from.Format(model.DateLayout),
		To:    to.Format(model.DateLayout),
		Dates: make([]dateItem, 0, days+1),
	}
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(model.DateLayout)
		resp.Dates = append(resp.Dates, dateItem{Date: key, HasAvailability: counts[key] > 0, TotalSlots: counts[key]})
	}
	writeJSON(w, http.StatusOK, resp)
}

type exposedSlot struct {
	SlotID    string `json:"slot_id"`
	StartAt   string `json:"start_at"`
	EndAt     string `json:"end_at"`
	Remaining int    `json:"remaining"`
}

type slotsResponse struct {
	Date           string        `json:"date"`
	PersonID       *string       `json:"person_id"`
	TotalAvailable int           `json:"total_available"`
	HasMore        bool          `json:"has_more"`
	ExposedSlots   []exposedSlot `json:"exposed_slots"`
}

func (a *API) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	locationID := strings.TrimSpace(q.Get("location_id"))
	if locationID == "" {
		unprocessable(w, "location_id is required")
		return
	}
	date, err := parseDate(q.Get("date"))
	if err != nil {
		unprocessable(w, "date must be a date (YYYY-MM-DD)")
		return
	}
	personID := strings.TrimSpace(q.Get("person_id"))

	ctx := r.Context()
	a.expireHolds(ctx)

	loc, err := a.store.GetLocation(ctx, locationID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if personID != "" {
		if _, err := a.store.GetPerson(ctx, personID); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
	}
	tzName := strings.TrimSpace(q.Get("timezone"))
	if tzName == "" {
		tzName = loc.Timezone
	}
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		unprocessable(w, "unknown timezone "+strconv.Quote(tzName))
		return
	}

	slots, err := a.store.ListSlots(ctx, storage.SlotFilter{LocationID: locationID, PersonID: personID, From: date, To: date})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	var available []model.Slot
	for _, slot := range slots {
		if slot.Bookable() {
			available = append(available, slot)
		}
	}

	dateKey := date.Format(model.DateLayout)
	resp := slotsResponse{Date: dateKey, TotalAvailable: len(available), ExposedSlots: []exposedSlot{}}
	if personID != "" {
		resp.PersonID = &personID
	}
	if len(available) > 0 {
		exposed := a.exposure.Select(ctx, available, tz, exposure.Key{User: callerKey(r), Date: dateKey, Filter: personID})
		for _, slot := range exposed {
			resp.ExposedSlots = append(resp.ExposedSlots, exposedSlot{
				SlotID:    slot.ID,
				StartAt:   formatTime(slot.StartAt, tz),
				EndAt:     formatTime(slot.EndAt, tz),
				Remaining: slot.Remaining(),
			})
		}
		resp.HasMore = len(available) > len(resp.ExposedSlots)
	}
	writeJSON(w, http.StatusOK, resp)
}

type customerPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type createBookingRequest struct {
	SlotID   string          `json:"slot_id"`
	Customer customerPayload `json:"customer"`
	Notes    string          `json:"notes"`
	Consent  json.RawMessage `json:"consent"`
	Source   string          `json:"source"`
}

type bookingResponse struct {
	BookingID     string  `json:"booking_id"`
	Status        string  `json:"status"`
	SlotID        string  `json:"slot_id"`
	HoldExpiresAt *string `json:"hold_expires_at,omitempty"`
}

func toBookingResponse(b model.Booking) bookingResponse {
	resp := bookingResponse{BookingID: b.ID, Status: string(b.Status), SlotID: b.SlotID}
	if b.HoldExpiresAt != nil {
		s := b.HoldExpiresAt.UTC().Format(time.RFC3339)
		resp.HoldExpiresAt = &s
	}
	return resp
}

func (a *API) CreateBooking(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		badRequest(w, "Idempotency-Key header is required")
		return
	}

	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	req.SlotID = strings.TrimSpace(req.SlotID)
	req.Customer.Name = strings.TrimSpace(req.Customer.Name)
	req.Customer.Phone = strings.TrimSpace(req.Customer.Phone)
	if req.SlotID == "" || req.Customer.Name == "" || req.Customer.Phone == "" {
		unprocessable(w, "slot_id, customer.name and customer.phone are required")
		return
	}
	consent := bytes.TrimSpace(req.Consent)
	if bytes.Equal(consent, []byte("null")) {
		consent = nil
	}
	if len(consent) > 0 && consent[0] != '{' {
		unprocessable(w, "consent must be an object")
		return
	}

	ctx := r.Context()
	a.expireHolds(ctx)

	b, err := a.bookings.CreateHold(ctx, booking.HoldRequest{
		SlotID:         req.SlotID,
		IdempotencyKey: key,
		UserID:         strings.TrimSpace(r.Header.Get("X-User-Id")),
		Customer: model.Customer{
			Name:  req.Customer.Name,
			Phone: req.Customer.Phone,
			Email: strings.TrimSpace(req.Customer.Email),
		},
		Notes:   strings.TrimSpace(req.Notes),
		Consent: json.RawMessage(consent),
		Source:  strings.TrimSpace(req.Source),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (a *API) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a.expireHolds(ctx)

	b, err := a.bookings.Confirm(ctx, r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{BookingID: b.ID, Status: string(b.Status), SlotID: b.SlotID})
}
