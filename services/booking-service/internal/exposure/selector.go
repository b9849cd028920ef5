// Package exposure chooses the small, stable subset of open slots shown to one caller. The
// choice is a pure function of the caller, date, filter, UTC hour and bounds, and is cached so a
// caller who reloads sees the same slots for a while.
package exposure

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

const (
	DefaultTTL      = 420 * time.Second
	DefaultMinSlots = 2
	DefaultMaxSlots = 5
)

// Key identifies whose view is being built. Filter is usually a person id; empty means all.
type Key struct {
	User   string
	Date   string
	Filter string
}

func (k Key) filter() string {
	if k.Filter == "" {
		return "all"
	}
	return k.Filter
}

type Config struct {
	TTL      time.Duration
	MinSlots int
	MaxSlots int
}

type Selector struct {
	cache   Cache
	metrics *metrics.Metrics
	ttl     time.Duration
	min     int
	max     int
	now     func() time.Time
}

func NewSelector(cache Cache, m *metrics.Metrics, cfg Config) *Selector {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MinSlots <= 0 {
		cfg.MinSlots = DefaultMinSlots
	}
	if cfg.MaxSlots < cfg.MinSlots {
		cfg.MaxSlots = max(cfg.MinSlots, DefaultMaxSlots)
	}
	return &Selector{
		cache:   cache,
		metrics: m,
		ttl:     cfg.TTL,
		min:     cfg.MinSlots,
		max:     cfg.MaxSlots,
		now:     time.Now,
	}
}

func (s *Selector) cacheKey(k Key) string {
	return fmt.Sprintf("expose:%s:%s:%s:%d-%d", k.User, k.Date, k.filter(), s.min, s.max)
}

// Select returns the exposed subset of available. tz decides which day part a slot falls in.
// Cached ids that are no longer available are dropped; if none survive the set is recomputed.
func (s *Selector) Select(ctx context.Context, available []model.Slot, tz *time.Location, k Key) []model.Slot {
	if len(available) == 0 {
		return nil
	}
	key := s.cacheKey(k)
	if ids, ok := s.cache.Get(ctx, key); ok {
		if kept := preserve(available, ids); len(kept) > 0 {
			s.metrics.ExposureCache("hit")
			return kept
		}
		s.metrics.ExposureCache("stale")
	} else {
		s.metrics.ExposureCache("miss")
	}

	seed := seedOf(k.User, k.Date, k.filter(),
		strconv.Itoa(s.now().UTC().Hour()), strconv.Itoa(s.min), strconv.Itoa(s.max))
	pick := choose(available, tz, seed, s.min, s.max)

	ids := make([]string, len(pick))
	for i, slot := range pick {
		ids[i] = slot.ID
	}
	s.cache.Set(ctx, key, ids, s.ttl)
	return pick
}

func preserve(available []model.Slot, ids []string) []model.Slot {
	byID := make(map[string]model.Slot, len(available))
	for _, slot := range available {
		byID[slot.ID] = slot
	}
	var out []model.Slot
	for _, id := range ids {
		if slot, ok := byID[id]; ok {
			out = append(out, slot)
		}
	}
	return out
}

func seedOf(parts ...string) uint64 {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return binary.BigEndian.Uint64(sum[:8])
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// exposureCount draws the number of slots to show from [lo, min(hi, total)].
func exposureCount(total int, seed uint64, lo, hi int) int {
	if total <= lo {
		return total
	}
	upper := min(total, hi)
	if upper <= lo {
		return upper
	}
	return newRand(seed).IntN(upper-lo+1) + lo
}

type dayPart int

const (
	morning dayPart = iota
	afternoon
	evening
	other
)

func partOf(hour int) dayPart {
	switch {
	case hour >= 6 && hour < 12:
		return morning
	case hour >= 12 && hour < 17:
		return afternoon
	case hour >= 17 && hour < 22:
		return evening
	default:
		return other
	}
}

func choose(available []model.Slot, tz *time.Location, seed uint64, lo, hi int) []model.Slot {
	if tz == nil {
		tz = time.UTC
	}
	shuffled := append([]model.Slot(nil), available...)
	// Canonical order first so the permutation depends on the seed alone.
	slices.SortFunc(shuffled, func(a, b model.Slot) int { return strings.Compare(a.ID, b.ID) })
	newRand(seed).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	total := len(shuffled)
	k := max(1, min(exposureCount(total, seed, lo, hi), total))

	first := map[dayPart]int{}
	for i, slot := range shuffled {
		p := partOf(slot.StartAt.In(tz).Hour())
		if _, ok := first[p]; !ok {
			first[p] = i
		}
	}

	picked := make(map[int]bool, k)
	out := make([]model.Slot, 0, k)
	for _, p := range []dayPart{morning, afternoon, evening} {
		if i, ok := first[p]; ok && len(out) < k {
			picked[i] = true
			out = append(out, shuffled[i])
		}
	}
	for i := 0; i < total && len(out) < k; i++ {
		if !picked[i] {
			picked[i] = true
			out = append(out, shuffled[i])
		}
	}
	return out
}
