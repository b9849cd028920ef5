package exposure

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
)

var fixedNow = time.Date(2026, 6, 1, 8, 15, 0, 0, time.UTC)

func daySlots(hours ...int) []model.Slot {
	day := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	out := make([]model.Slot, 0, len(hours))
	for i, h := range hours {
		start := day.Add(time.Duration(h) * time.Hour)
		out = append(out, model.Slot{
			ID:       fmt.Sprintf("s-%02d", i),
			StartAt:  start,
			EndAt:    start.Add(30 * time.Minute),
			Capacity: 1,
		})
	}
	return out
}

func newTestSelector(cfg Config) *Selector {
	s := NewSelector(NewMemoryCache(), nil, cfg)
	s.now = func() time.Time { return fixedNow }
	return s
}

func ids(slots []model.Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.ID
	}
	return out
}

func TestSelectDeterministicAcrossProcesses(t *testing.T) {
	slots := daySlots(7, 8, 9, 10, 13, 14, 15, 18, 19, 20, 23)
	key := Key{User: "u-1", Date: "2026-06-02"}

	a := newTestSelector(Config{}).Select(context.Background(), slots, time.UTC, key)
	b := newTestSelector(Config{}).Select(context.Background(), slots, time.UTC, key)
	if fmt.Sprint(ids(a)) != fmt.Sprint(ids(b)) {
		t.Fatalf("selection differs: %v vs %v", ids(a), ids(b))
	}
	if len(a) < DefaultMinSlots || len(a) > DefaultMaxSlots {
		t.Fatalf("count %d outside [%d,%d]", len(a), DefaultMinSlots, DefaultMaxSlots)
	}
}

func TestSelectIgnoresInputOrder(t *testing.T) {
	slots := daySlots(6, 7, 8, 9, 10, 11, 13, 14, 15, 18, 19, 20)
	reversed := make([]model.Slot, len(slots))
	for i, slot := range slots {
		reversed[len(slots)-1-i] = slot
	}

	for seed := uint64(0); seed < 50; seed++ {
		a := choose(slots, time.UTC, seed, 2, 5)
		b := choose(reversed, time.UTC, seed, 2, 5)
		if fmt.Sprint(ids(a)) != fmt.Sprint(ids(b)) {
			t.Fatalf("seed %d: %v vs reversed %v", seed, ids(a), ids(b))
		}
	}

	key := Key{User: "u-9", Date: "2026-06-02"}
	a := newTestSelector(Config{}).Select(context.Background(), slots, time.UTC, key)
	b := newTestSelector(Config{}).Select(context.Background(), reversed, time.UTC, key)
	if fmt.Sprint(ids(a)) != fmt.Sprint(ids(b)) {
		t.Fatalf("Select differs by input order: %v vs %v", ids(a), ids(b))
	}
}

func TestSelectReturnsAllWhenAtOrBelowMin(t *testing.T) {
	slots := daySlots(9, 10)
	got := newTestSelector(Config{MinSlots: 2, MaxSlots: 5}).Select(context.Background(), slots, time.UTC, Key{User: "u"})
	if len(got) != 2 {
		t.Fatalf("expected both slots, got %v", ids(got))
	}
	if got := newTestSelector(Config{}).Select(context.Background(), nil, time.UTC, Key{User: "u"}); got != nil {
		t.Fatalf("expected nil for no slots, got %v", ids(got))
	}
}

func TestSelectSpreadsAcrossDayParts(t *testing.T) {
	slots := daySlots(6, 7, 8, 9, 10, 11, 12, 13, 17, 23)
	s := newTestSelector(Config{MinSlots: 3, MaxSlots: 3})

	for _, user := range []string{"a", "b", "c", "d", "e"} {
		got := s.Select(context.Background(), slots, time.UTC, Key{User: user, Date: "2026-06-02"})
		if len(got) != 3 {
			t.Fatalf("user %s: expected 3 slots, got %v", user, ids(got))
		}
		parts := map[dayPart]bool{}
		for _, slot := range got {
			parts[partOf(slot.StartAt.Hour())] = true
		}
		if !parts[morning] || !parts[afternoon] || !parts[evening] {
			t.Fatalf("user %s: expected one slot per day part, got %v", user, ids(got))
		}
	}
}

func TestSelectDayPartUsesTimezone(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// In June, 08:00 UTC is 04:00 in New York and 23:00 UTC is 19:00 there.
	slots := daySlots(3, 4, 8, 23)
	cfg := Config{MinSlots: 1, MaxSlots: 1}
	key := Key{User: "u", Date: "2026-06-02"}

	if got := newTestSelector(cfg).Select(context.Background(), slots, time.UTC, key); len(got) != 1 || got[0].StartAt.Hour() != 8 {
		t.Fatalf("UTC: expected the morning slot, got %v", ids(got))
	}
	if got := newTestSelector(cfg).Select(context.Background(), slots, ny, key); len(got) != 1 || got[0].StartAt.Hour() != 23 {
		t.Fatalf("New York: expected the evening slot, got %v", ids(got))
	}
}

func TestSelectCacheKeepsSurvivors(t *testing.T) {
	slots := daySlots(7, 8, 9, 10, 13, 14, 15, 18, 19, 20)
	s := newTestSelector(Config{MinSlots: 3, MaxSlots: 3})
	key := Key{User: "u-1", Date: "2026-06-02", Filter: "p-1"}
	ctx := context.Background()

	first := s.Select(ctx, slots, time.UTC, key)

	// One exposed slot fills up; the others stay exposed and nothing new is added.
	var remaining []model.Slot
	for _, slot := range slots {
		if slot.ID != first[0].ID {
			remaining = append(remaining, slot)
		}
	}
	s.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	second := s.Select(ctx, remaining, time.UTC, key)
	if fmt.Sprint(ids(second)) != fmt.Sprint(ids(first[1:])) {
		t.Fatalf("expected survivors %v, got %v", ids(first[1:]), ids(second))
	}

	// All exposed slots gone: recompute from what is left.
	exposed := map[string]bool{}
	for _, slot := range first {
		exposed[slot.ID] = true
	}
	var rest []model.Slot
	for _, slot := range slots {
		if !exposed[slot.ID] {
			rest = append(rest, slot)
		}
	}
	third := s.Select(ctx, rest, time.UTC, key)
	if len(third) != 3 {
		t.Fatalf("expected fresh selection of 3, got %v", ids(third))
	}
	for _, slot := range third {
		if exposed[slot.ID] {
			t.Fatalf("recomputed selection reused unavailable slot %s", slot.ID)
		}
	}
}

func TestSelectCacheKeyIncludesBounds(t *testing.T) {
	s := newTestSelector(Config{MinSlots: 2, MaxSlots: 4})
	got := s.cacheKey(Key{User: "anonymous", Date: "2026-06-02"})
	if got != "expose:anonymous:2026-06-02:all:2-4" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestExposureCountWithinBounds(t *testing.T) {
	for seed := uint64(0); seed < 50; seed++ {
		n := exposureCount(10, seed, 2, 5)
		if n < 2 || n > 5 {
			t.Fatalf("seed %d: count %d outside [2,5]", seed, n)
		}
		if exposureCount(10, seed, 2, 5) != n {
			t.Fatalf("seed %d: count not deterministic", seed)
		}
	}
	if n := exposureCount(3, 1, 2, 2); n != 2 {
		t.Fatalf("expected upper bound 2, got %d", n)
	}
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache()
	now := fixedNow
	c.now = func() time.Time { return now }
	c.Set(context.Background(), "k", []string{"a"}, time.Minute)

	if got, ok := c.Get(context.Background(), "k"); !ok || len(got) != 1 {
		t.Fatalf("expected hit, got %v %v", got, ok)
	}
	now = now.Add(time.Minute)
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatalf("expected expiry at ttl")
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := NewRedisCache(rdb)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("expected miss")
	}
	c.Set(ctx, "k", []string{"a", "b"}, time.Minute)
	got, ok := c.Get(ctx, "k")
	if !ok || fmt.Sprint(got) != "[a b]" {
		t.Fatalf("unexpected cached ids %v %v", got, ok)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("expected expiry")
	}
}
