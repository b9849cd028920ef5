package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/days"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
)

const slotColumns = `id::text, location_id::text, COALESCE(person_id::text, ''), date, start_at, end_at,
	capacity, booked, hold, blocked, created_at`

const bookingColumns = `b.id::text, b.slot_id::text, COALESCE(b.user_id, ''), b.customer_name, b.customer_phone,
	COALESCE(b.customer_email, ''), COALESCE(b.notes, ''), b.status, b.hold_expires_at, b.created_at,
	b.confirmed_at, b.cancelled_at, b.expired_at, b.consent, COALESCE(b.source, '')`

const ruleColumns = `id::text, location_id::text, COALESCE(person_id::text, ''), rule_kind, days_of_week,
	start_minute, end_minute, slot_capacity, slot_granularity_minutes, slot_duration_minutes,
	valid_from, valid_to, is_closed, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// Postgres is the production Store. Slot and booking mutations take row locks with
// SELECT ... FOR UPDATE inside InTx.
type Postgres struct {
	pool   db.Querier
	outbox *outbox.Repository
}

func NewPostgres(pool db.Querier) *Postgres {
	return &Postgres{pool: pool, outbox: outbox.NewRepository(pool)}
}

// Outbox exposes the event source for the publisher.
func (s *Postgres) Outbox() *outbox.Repository {
	return s.outbox
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx, outbox: s.outbox}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) GetLocation(ctx context.Context, id string) (model.Location, error) {
	var loc model.Location
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, name, timezone, created_at
		FROM locations
		WHERE id = $1
	`, id).Scan(&loc.ID, &loc.Name, &loc.Timezone, &loc.CreatedAt)
	if err != nil {
		return model.Location{}, notFound(err, "location", id)
	}
	return loc, nil
}

func (s *Postgres) CreateLocation(ctx context.Context, loc *model.Location) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO locations (id, name, timezone)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, loc.ID, loc.Name, loc.Timezone).Scan(&loc.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("location %s: %w", loc.ID, ErrAlreadyExists)
	}
	return err
}

func (s *Postgres) GetPerson(ctx context.Context, id string) (model.Person, error) {
	var p model.Person
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, location_id::text, name, active, created_at
		FROM people
		WHERE id = $1
	`, id).Scan(&p.ID, &p.LocationID, &p.Name, &p.Active, &p.CreatedAt)
	if err != nil {
		return model.Person{}, notFound(err, "person", id)
	}
	return p, nil
}

func (s *Postgres) CreatePerson(ctx context.Context, p *model.Person) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO people (id, location_id, name, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, p.ID, p.LocationID, p.Name, p.Active).Scan(&p.CreatedAt)
	switch {
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("location %s: %w", p.LocationID, ErrNotFound)
	case db.IsUniqueViolation(err):
		return fmt.Errorf("person %s: %w", p.ID, ErrAlreadyExists)
	}
	return err
}

func (s *Postgres) UpsertRule(ctx context.Context, rule *model.AvailabilityRule) error {
	var daysJSON []byte
	if len(rule.DaysOfWeek) > 0 {
		b, err := json.Marshal(rule.DaysOfWeek)
		if err != nil {
			return err
		}
		daysJSON = b
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO availability_rules
			(id, location_id, person_id, rule_kind, days_of_week, start_minute, end_minute,
			 slot_capacity, slot_granularity_minutes, slot_duration_minutes, valid_from, valid_to, is_closed)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			person_id = EXCLUDED.person_id,
			rule_kind = EXCLUDED.rule_kind,
			days_of_week = EXCLUDED.days_of_week,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			slot_capacity = EXCLUDED.slot_capacity,
			slot_granularity_minutes = EXCLUDED.slot_granularity_minutes,
			slot_duration_minutes = EXCLUDED.slot_duration_minutes,
			valid_from = EXCLUDED.valid_from,
			valid_to = EXCLUDED.valid_to,
			is_closed = EXCLUDED.is_closed,
			updated_at = now()
		RETURNING created_at
	`, rule.ID, rule.LocationID, rule.PersonID, rule.Kind, daysJSON, rule.StartMinute, rule.EndMinute,
		rule.SlotCapacity, rule.SlotGranularityMinutes, rule.SlotDurationMinutes, rule.ValidFrom, rule.ValidTo,
		rule.IsClosed).Scan(&rule.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("rule references: %w", ErrNotFound)
	}
	return err
}

func (s *Postgres) ListRules(ctx context.Context, locationID string) ([]model.AvailabilityRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM availability_rules
		WHERE location_id = $1
		ORDER BY created_at, id
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.AvailabilityRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

func (s *Postgres) ListSlots(ctx context.Context, f SlotFilter) ([]model.Slot, error) {
	var w where
	if f.LocationID != "" {
		w.add("location_id = $%d", f.LocationID)
	}
	if f.PersonID != "" {
		w.add("person_id = $%d", f.PersonID)
	}
	if !f.From.IsZero() {
		w.add("date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		w.add("date <= $%d", f.To)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slot_instances
		WHERE `+w.sql()+`
		ORDER BY start_at, id
	`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}

func (s *Postgres) GetSlot(ctx context.Context, id string) (model.Slot, error) {
	slot, err := scanSlot(s.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM slot_instances WHERE id = $1`, id))
	if err != nil {
		return model.Slot{}, notFound(err, "slot", id)
	}
	return slot, nil
}

func (s *Postgres) InsertSlotIfAbsent(ctx context.Context, slot model.Slot) (model.Slot, bool, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO slot_instances (id, location_id, person_id, date, start_at, end_at, capacity)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT slot_instances_unique_start DO NOTHING
		RETURNING created_at
	`, slot.ID, slot.LocationID, slot.PersonID, slot.Date, slot.StartAt.UTC(), slot.EndAt.UTC(), slot.Capacity).Scan(&slot.CreatedAt)
	if err == nil {
		return slot, true, nil
	}
	if !db.IsNotFound(err) {
		return model.Slot{}, false, err
	}

	// Lost the race (or the slot already existed): hand back the row that won.
	existing, err := scanSlot(s.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slot_instances
		WHERE location_id = $1
			AND person_id IS NOT DISTINCT FROM NULLIF($2, '')::uuid
			AND start_at = $3
	`, slot.LocationID, slot.PersonID, slot.StartAt.UTC()))
	if err != nil {
		return model.Slot{}, false, err
	}
	return existing, false, nil
}

func (s *Postgres) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanBooking(s.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.id = $1`, id))
	if err != nil {
		return model.Booking{}, notFound(err, "booking", id)
	}
	return b, nil
}

func (s *Postgres) ListBookings(ctx context.Context, f BookingFilter) ([]model.BookingWithSlot, int, error) {
	var w where
	w.raw("TRUE")
	if f.Status != "" {
		w.add("b.status = $%d", string(f.Status))
	}
	if f.PersonID != "" {
		w.add("s.person_id = $%d", f.PersonID)
	}
	if f.LocationID != "" {
		w.add("s.location_id = $%d", f.LocationID)
	}
	if f.DateFrom != nil {
		w.add("s.date >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		w.add("s.date <= $%d", *f.DateTo)
	}
	if f.Query != "" {
		w.add("(b.customer_phone = $%[1]d OR b.customer_email = $%[1]d)", f.Query)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM bookings b
		JOIN slot_instances s ON s.id = b.slot_id
		WHERE `+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args := append(append([]any{}, w.args...), limit, f.Offset)
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookingColumns+`,
			s.id::text, s.location_id::text, COALESCE(s.person_id::text, ''), s.date, s.start_at, s.end_at,
			s.capacity, s.booked, s.hold, s.blocked, s.created_at
		FROM bookings b
		JOIN slot_instances s ON s.id = b.slot_id
		WHERE `+w.sql()+`
		ORDER BY b.created_at DESC, b.id
		LIMIT $`+strconv.Itoa(len(w.args)+1)+` OFFSET $`+strconv.Itoa(len(w.args)+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []model.BookingWithSlot
	for rows.Next() {
		var item model.BookingWithSlot
		var status string
		var consent []byte
		sl := &item.Slot
		if err := rows.Scan(
			&item.ID, &item.SlotID, &item.UserID, &item.Customer.Name, &item.Customer.Phone,
			&item.Customer.Email, &item.Notes, &status, &item.HoldExpiresAt, &item.CreatedAt,
			&item.ConfirmedAt, &item.CancelledAt, &item.ExpiredAt, &consent, &item.Source,
			&sl.ID, &sl.LocationID, &sl.PersonID, &sl.Date, &sl.StartAt, &sl.EndAt,
			&sl.Capacity, &sl.Booked, &sl.Hold, &sl.Blocked, &sl.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		item.Status = model.BookingStatus(status)
		item.Consent = consent
		out = append(out, item)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return out, total, nil
}

func (s *Postgres) LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	return lookupIdempotencyKey(ctx, s.pool, key)
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) LockSlot(ctx context.Context, id string) (model.Slot, error) {
	slot, err := scanSlot(t.tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slot_instances
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return model.Slot{}, notFound(err, "slot", id)
	}
	return slot, nil
}

func (t *pgTx) LockSlots(ctx context.Context, ids ...string) (map[string]model.Slot, error) {
	ids = sortedUnique(ids)
	rows, err := t.tx.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slot_instances
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, notFound(err, "slot", strings.Join(ids, ","))
	}
	defer rows.Close()

	out := make(map[string]model.Slot, len(ids))
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out[slot.ID] = slot
	}
	if err := rows.Err(); err != nil {
		return nil, notFound(err, "slot", strings.Join(ids, ","))
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("slot %s: %w", id, ErrNotFound)
		}
	}
	return out, nil
}

func (t *pgTx) LockBooking(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b
		WHERE b.id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return model.Booking{}, notFound(err, "booking", id)
	}
	return b, nil
}

func (t *pgTx) LockExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b
		WHERE b.status = 'held'
			AND b.hold_expires_at IS NOT NULL
			AND b.hold_expires_at <= $1
		ORDER BY b.hold_expires_at, b.id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (t *pgTx) SaveSlot(ctx context.Context, slot model.Slot) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE slot_instances
		SET booked = $2, hold = $3, blocked = $4, updated_at = now()
		WHERE id = $1
	`, slot.ID, slot.Booked, slot.Hold, slot.Blocked)
	if db.IsCheckViolation(err) {
		return fmt.Errorf("slot %s: %w", slot.ID, ErrCapacityExceeded)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("slot %s: %w", slot.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	var consent []byte
	if len(b.Consent) > 0 {
		consent = b.Consent
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO bookings
			(id, slot_id, user_id, customer_name, customer_phone, customer_email, notes, status,
			 hold_expires_at, consent, source)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, NULLIF($11, ''))
		RETURNING created_at
	`, b.ID, b.SlotID, b.UserID, b.Customer.Name, b.Customer.Phone, b.Customer.Email, b.Notes,
		string(b.Status), b.HoldExpiresAt, consent, b.Source).Scan(&b.CreatedAt)
}

func (t *pgTx) SaveBooking(ctx context.Context, b model.Booking) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET slot_id = $2,
			status = $3,
			hold_expires_at = $4,
			confirmed_at = $5,
			cancelled_at = $6,
			expired_at = $7
		WHERE id = $1
	`, b.ID, b.SlotID, string(b.Status), b.HoldExpiresAt, b.ConfirmedAt, b.CancelledAt, b.ExpiredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", b.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertIdempotencyKey(ctx context.Context, key, bookingID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO idempotency_keys (key, booking_id)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, bookingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	return lookupIdempotencyKey(ctx, t.tx, key)
}

func (t *pgTx) Enqueue(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lookupIdempotencyKey(ctx context.Context, q rowQuerier, key string) (string, bool, error) {
	var bookingID string
	err := q.QueryRow(ctx, `SELECT booking_id::text FROM idempotency_keys WHERE key = $1`, key).Scan(&bookingID)
	if db.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return bookingID, true, nil
}

func scanSlot(row rowScanner) (model.Slot, error) {
	var s model.Slot
	err := row.Scan(
		&s.ID,
		&s.LocationID,
		&s.PersonID,
		&s.Date,
		&s.StartAt,
		&s.EndAt,
		&s.Capacity,
		&s.Booked,
		&s.Hold,
		&s.Blocked,
		&s.CreatedAt,
	)
	return s, err
}

func scanBooking(row rowScanner) (model.Booking, error) {
	var b model.Booking
	var status string
	var consent []byte
	err := row.Scan(
		&b.ID,
		&b.SlotID,
		&b.UserID,
		&b.Customer.Name,
		&b.Customer.Phone,
		&b.Customer.Email,
		&b.Notes,
		&status,
		&b.HoldExpiresAt,
		&b.CreatedAt,
		&b.ConfirmedAt,
		&b.CancelledAt,
		&b.ExpiredAt,
		&consent,
		&b.Source,
	)
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingStatus(status)
	b.Consent = consent
	return b, nil
}

func scanRule(row rowScanner) (model.AvailabilityRule, error) {
	var r model.AvailabilityRule
	var daysJSON []byte
	err := row.Scan(
		&r.ID,
		&r.LocationID,
		&r.PersonID,
		&r.Kind,
		&daysJSON,
		&r.StartMinute,
		&r.EndMinute,
		&r.SlotCapacity,
		&r.SlotGranularityMinutes,
		&r.SlotDurationMinutes,
		&r.ValidFrom,
		&r.ValidTo,
		&r.IsClosed,
		&r.CreatedAt,
	)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	if len(daysJSON) > 0 {
		var raw []any
		if err := json.Unmarshal(daysJSON, &raw); err != nil {
			return model.AvailabilityRule{}, fmt.Errorf("rule %s days_of_week: %w", r.ID, err)
		}
		r.DaysOfWeek = days.Decode(raw)
	}
	return r, nil
}

func notFound(err error, entity, id string) error {
	// A malformed id cannot match any row.
	if db.IsNotFound(err) || db.IsInvalidText(err) {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return err
}

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) raw(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(w.clauses, " AND ")
}

var _ Store = (*Postgres)(nil)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
