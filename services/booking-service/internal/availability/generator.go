package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/days"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// MaxRangeDays bounds a single generation request.
const MaxRangeDays = 366

var (
	ErrInvalidRange    = errors.New("invalid date range")
	ErrInvalidTimezone = errors.New("invalid location timezone")
)

type Result struct {
	Created int
	Skipped int
}

// Generator expands a location's availability rules into slot instances.
type Generator struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	newID   func() string
}

func NewGenerator(store storage.Store, logger *slog.Logger, m *metrics.Metrics) *Generator {
	return &Generator{store: store, logger: logger, metrics: m, newID: uuid.NewString}
}

// Generate materializes slots for every local date in [from, to]. Existing slots with the same
// (person, start) are counted as skipped; when two rules produce the same instant the first one
// wins. A dry run walks the same path without writing and reports the same counts.
func (g *Generator) Generate(ctx context.Context, locationID string, from, to time.Time, dryRun bool) (Result, error) {
	ctx, span := otel.Tracer("booking-service/availability").Start(ctx, "availability.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("location_id", locationID),
		attribute.Bool("dry_run", dryRun),
	)

	from, to = dateOf(from), dateOf(to)
	if to.Before(from) {
		return Result{}, fmt.Errorf("%w: to %s is before from %s", ErrInvalidRange, to.Format(model.DateLayout), from.Format(model.DateLayout))
	}
	if int(to.Sub(from).Hours()/24) >= MaxRangeDays {
		return Result{}, fmt.Errorf("%w: at most %d days per request", ErrInvalidRange, MaxRangeDays)
	}

	loc, err := g.store.GetLocation(ctx, locationID)
	if err != nil {
		return Result{}, err
	}
	tz, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		return Result{}, fmt.Errorf("%w %q: %v", ErrInvalidTimezone, loc.Timezone, err)
	}

	rules, err := g.store.ListRules(ctx, locationID)
	if err != nil {
		return Result{}, fmt.Errorf("list rules: %w", err)
	}
	active := rules[:0:0]
	for _, r := range rules {
		if r.IsClosed || r.PersonID == "" || r.SlotDurationMinutes == nil || *r.SlotDurationMinutes <= 0 || r.SlotGranularityMinutes <= 0 {
			continue
		}
		active = append(active, r)
	}

	existing, err := g.store.ListSlots(ctx, storage.SlotFilter{LocationID: locationID, From: from, To: to})
	if err != nil {
		return Result{}, fmt.Errorf("list slots: %w", err)
	}
	index := make(map[model.PersonKey]struct{}, len(existing))
	for _, s := range existing {
		index[s.Key()] = struct{}{}
	}

	var res Result
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		weekday := days.ISOWeekday(d)
		for _, rule := range active {
			if len(rule.DaysOfWeek) > 0 && !days.ToISO(rule.DaysOfWeek)[weekday] {
				continue
			}
			if !rule.Covers(d) {
				continue
			}
			for _, c := range candidates(rule, d, tz) {
				key := model.PersonKey{PersonID: rule.PersonID, StartAt: c.start}
				if _, seen := index[key]; seen {
					res.Skipped++
					continue
				}
				index[key] = struct{}{}
				if dryRun {
					res.Created++
					continue
				}
				_, created, err := g.store.InsertSlotIfAbsent(ctx, model.Slot{
					ID:         g.newID(),
					LocationID: locationID,
					PersonID:   rule.PersonID,
					Date:       d,
					StartAt:    c.start,
					EndAt:      c.end,
					Capacity:   rule.SlotCapacity,
				})
				if err != nil {
					return res, fmt.Errorf("insert slot %s: %w", c.start.Format(time.RFC3339), err)
				}
				if created {
					res.Created++
				} else {
					res.Skipped++
				}
			}
		}
	}

	g.metrics.Generated(res.Created, res.Skipped, dryRun)
	span.SetAttributes(attribute.Int("created", res.Created), attribute.Int("skipped", res.Skipped))
	if g.logger != nil {
		g.logger.Info("slots generated",
			"location_id", locationID,
			"from", from.Format(model.DateLayout),
			"to", to.Format(model.DateLayout),
			"dry_run", dryRun,
			"created", res.Created,
			"skipped", res.Skipped,
		)
	}
	return res, nil
}

type window struct {
	start time.Time
	end   time.Time
}

// candidates walks the rule's local window on date d. The cursor is a wall-clock offset, so
// time.Date resolves DST gaps the same way on every run; two offsets that land on the same
// instant are deduplicated by the caller.
func candidates(rule model.AvailabilityRule, d time.Time, tz *time.Location) []window {
	dur := *rule.SlotDurationMinutes
	var out []window
	for off := rule.StartMinute; off+dur <= rule.EndMinute; off += rule.SlotGranularityMinutes {
		start := time.Date(d.Year(), d.Month(), d.Day(), 0, off, 0, 0, tz).UTC()
		out = append(out, window{start: start, end: start.Add(time.Duration(dur) * time.Minute)})
	}
	return out
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
