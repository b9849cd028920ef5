// Package days converts weekday tokens between the canonical three-letter names
// used internally ("mon".."sun") and ISO weekday numbers (1..7).
package days

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var nameToISO = map[string]int{
	"mon": 1,
	"tue": 2,
	"wed": 3,
	"thu": 4,
	"fri": 5,
	"sat": 6,
	"sun": 7,
}

var isoToName = [8]string{"", "mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func NormalizeName(value string) (string, error) {
	candidate := strings.ToLower(strings.TrimSpace(value))
	if _, ok := nameToISO[candidate]; !ok {
		return "", fmt.Errorf("invalid day of week value %q", value)
	}
	return candidate, nil
}

// NormalizeList is the strict form used for admin input: any bad entry fails the list.
func NormalizeList(values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		name, err := NormalizeName(v)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

// Decode reads stored weekday values, which may be names or legacy ISO integers.
// Unrecognized entries are dropped rather than failing the whole list.
func Decode(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch x := v.(type) {
		case string:
			if name, err := NormalizeName(x); err == nil {
				out = append(out, name)
			}
		case int:
			if name, ok := FromISO(x); ok {
				out = append(out, name)
			}
		case int64:
			if name, ok := FromISO(int(x)); ok {
				out = append(out, name)
			}
		case float64:
			// encoding/json decodes numbers as float64.
			if x == math.Trunc(x) {
				if name, ok := FromISO(int(x)); ok {
					out = append(out, name)
				}
			}
		}
	}
	return out
}

func FromISO(n int) (string, bool) {
	if n < 1 || n > 7 {
		return "", false
	}
	return isoToName[n], true
}

// ToISO maps normalized names to ISO weekday numbers. Unknown names are ignored.
func ToISO(names []string) map[int]bool {
	out := make(map[int]bool, len(names))
	for _, n := range names {
		if iso, ok := nameToISO[n]; ok {
			out[iso] = true
		}
	}
	return out
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
