package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Transition("confirm")
	m.Transition("confirm")
	m.Rejected("hold", "slot_full")
	m.Sweep(3, 20*time.Millisecond)
	m.Generated(4, 1, false)
	m.ExposureCache("hit")
	m.Published("booking.confirmed.v1")

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("confirm")); got != 2 {
		t.Fatalf("confirm transitions = %v", got)
	}
	if got := testutil.ToFloat64(m.expiredHolds); got != 3 {
		t.Fatalf("expired holds = %v", got)
	}
	if got := testutil.ToFloat64(m.slotsGenerated.WithLabelValues("skipped", "false")); got != 1 {
		t.Fatalf("skipped = %v", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Transition("hold")
	m.Rejected("hold", "slot_full")
	m.Sweep(1, time.Second)
	m.Generated(1, 1, true)
	m.ExposureCache("miss")
	m.Published("x")
}
