package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"git.home.luguber.info/inful/isoforge/internal/events"
)

func TestPhaseHandlerCountsByStatus(t *testing.T) {
	m := New()
	h := m.PhaseHandler()

	for _, status := range []string{"completed", "completed", "failed", "skipped"} {
		if err := h(events.PhaseFinished{RunID: "r1", Phase: "x", Status: status}); err != nil {
			t.Fatalf("handler: %v", err)
		}
	}
	// Non-phase events pass through untouched.
	if err := h(events.BuildFinished{RunID: "r1", Outcome: "failed"}); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if got := testutil.ToFloat64(m.phases.WithLabelValues("completed")); got != 2 {
		t.Errorf("completed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.phases.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.phases.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
}

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveRecovery("disk_space", "recovered")
	m.ObserveRecovery("disk_space", "recovered")
	m.ObserveStuckMounts(3)
	m.ObserveRolledBack(5)
	m.ObserveDuration(42.5)

	if got := testutil.ToFloat64(m.recoveries.WithLabelValues("disk_space", "recovered")); got != 2 {
		t.Errorf("recoveries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.stuck); got != 3 {
		t.Errorf("stuck = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.rolledBack); got != 5 {
		t.Errorf("rolledBack = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.duration); got != 42.5 {
		t.Errorf("duration = %v, want 42.5", got)
	}
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	m.ObserveDuration(1)

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "isoforge_build_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Error("duration gauge not registered")
	}
}
