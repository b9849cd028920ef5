package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/exposure"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

// API is the HTTP surface of the booking service. It validates input, runs the
// freshness sweep and maps domain errors to status codes; all state changes go
// through the booking service.
type API struct {
	store     storage.Store
	bookings  *booking.Service
	generator *availability.Generator
	exposure  *exposure.Selector
	logger    *slog.Logger
	now       func() time.Time
}

func New(store storage.Store, bookings *booking.Service, generator *availability.Generator, selector *exposure.Selector, logger *slog.Logger) *API {
	return &API{
		store:     store,
		bookings:  bookings,
		generator: generator,
		exposure:  selector,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Public serves the end-user routes under /v1/.
func (a *API) Public() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/dates", a.Dates)
	mux.HandleFunc("GET /v1/slots", a.Slots)
	mux.HandleFunc("POST /v1/bookings", a.CreateBooking)
	mux.HandleFunc("POST /v1/bookings/{id}/confirm", a.ConfirmBooking)
	return mux
}

// Admin serves the operator routes under /admin/v1/. Callers are expected to put it behind auth.
func (a *API) Admin() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/v1/locations", a.CreateLocation)
	mux.HandleFunc("POST /admin/v1/people", a.CreatePerson)
	mux.HandleFunc("POST /admin/v1/availabilities", a.CreateRule)
	mux.HandleFunc("POST /admin/v1/slots/generate", a.GenerateSlots)
	mux.HandleFunc("POST /admin/v1/slots/{id}/block", a.BlockSlot)
	mux.HandleFunc("GET /admin/v1/bookings", a.ListBookings)
	mux.HandleFunc("PATCH /admin/v1/bookings/{id}", a.PatchBooking)
	return mux
}

// expireHolds releases stale holds before a request reads or changes capacity.
// A failed sweep is logged and the request continues; the background worker retries.
func (a *API) expireHolds(ctx context.Context) {
	if _, err := a.bookings.ExpireHolds(ctx, a.now()); err != nil {
		a.logger.Warn("freshness sweep failed", "err", err)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "INVALID_REQUEST", message)
}

func unprocessable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", message)
}

// writeServiceError maps domain failures to HTTP responses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, storage.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, booking.ErrSlotFull), errors.Is(err, storage.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "SLOT_FULL", "Selected time is no longer available.")
	case errors.Is(err, booking.ErrHoldExpired):
		writeError(w, http.StatusConflict, "HOLD_EXPIRED", err.Error())
	case errors.Is(err, booking.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, booking.ErrInvalid):
		badRequest(w, err.Error())
	case errors.Is(err, availability.ErrInvalidRange), errors.Is(err, availability.ErrInvalidTimezone):
		unprocessable(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "TIMEOUT", "request timed out")
	default:
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(model.DateLayout, strings.TrimSpace(raw))
}

func formatTime(t time.Time, tz *time.Location) string {
	return t.In(tz).Format(time.RFC3339)
}

// callerKey identifies whose exposure view is being built.
func callerKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-User-Id")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Session-Id")); v != "" {
		return v
	}
	return "anonymous"
}
