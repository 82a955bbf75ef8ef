package workload

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadTracking(t *testing.T) {
	m := NewMonitor(1.0, 0.3, 20, testLogger())
	m.Track("w1", 4)

	if load := m.CurrentLoad("w1"); load != 0 {
		t.Fatalf("expected zero load, got %f", load)
	}

	m.TrackAssignment("w1", time.Second)
	m.TrackAssignment("w1", time.Second)

	if load := m.CurrentLoad("w1"); math.Abs(load-0.5) > 1e-9 {
		t.Errorf("expected load 0.5, got %f", load)
	}

	m.TrackCompletion("w1", "compute", 800*time.Millisecond, true)

	if load := m.CurrentLoad("w1"); math.Abs(load-0.25) > 1e-9 {
		t.Errorf("expected load 0.25 after completion, got %f", load)
	}
}

func TestStaleCompletionDropped(t *testing.T) {
	m := NewMonitor(1.0, 0.3, 20, testLogger())
	m.Track("w1", 2)

	if accepted := m.TrackCompletion("w1", "compute", time.Second, true); accepted {
		t.Error("completion with no tracked assignment must be dropped")
	}
	if accepted := m.TrackCompletion("ghost", "compute", time.Second, true); accepted {
		t.Error("completion for unknown worker must be dropped")
	}

	if load := m.CurrentLoad("w1"); load != 0 {
		t.Errorf("stale completion must not change load, got %f", load)
	}
}

func TestFilterAvailable(t *testing.T) {
	m := NewMonitor(1.0, 0.3, 20, testLogger())
	m.Track("idle", 2)
	m.Track("half", 2)
	m.Track("full", 2)

	m.TrackAssignment("half", time.Second)
	m.TrackAssignment("full", time.Second)
	m.TrackAssignment("full", time.Second)

	got := m.FilterAvailable([]string{"idle", "half", "full", "untracked"})

	if len(got) != 2 {
		t.Fatalf("expected 2 available workers, got %d", len(got))
	}
	if got[0].WorkerID != "idle" || got[0].AvailabilityScore != 1.0 {
		t.Errorf("expected idle with score 1.0, got %+v", got[0])
	}
	if got[1].WorkerID != "half" || math.Abs(got[1].AvailabilityScore-0.5) > 1e-9 {
		t.Errorf("expected half with score 0.5, got %+v", got[1])
	}
}

func TestSoftLoadCap(t *testing.T) {
	m := NewMonitor(0.5, 0.3, 20, testLogger())
	m.Track("w1", 4)
	m.TrackAssignment("w1", time.Second)
	m.TrackAssignment("w1", time.Second)

	// Load is 0.5, which is at the cap, not below it.
	if m.Available("w1") {
		t.Error("worker at the soft cap must not be available")
	}
}

func TestHistoryRates(t *testing.T) {
	m := NewMonitor(1.0, 0.5, 4, testLogger())
	m.Track("w1", 10)

	if rate := m.TypeSuccessRate("w1", "compute"); rate != 1.0 {
		t.Errorf("expected optimistic prior 1.0, got %f", rate)
	}
	if rate := m.RecentSuccessRate("w1"); rate != 1.0 {
		t.Errorf("expected optimistic prior 1.0, got %f", rate)
	}

	outcomes := []bool{true, false, false, true}
	for _, success := range outcomes {
		m.TrackAssignment("w1", time.Second)
		m.TrackCompletion("w1", "compute", time.Second, success)
	}

	// EWMA with alpha 0.5 seeded at 1.0: 1.0 -> 0.5 -> 0.25 -> 0.625.
	if rate := m.TypeSuccessRate("w1", "compute"); math.Abs(rate-0.625) > 1e-9 {
		t.Errorf("expected smoothed rate 0.625, got %f", rate)
	}
	if rate := m.RecentSuccessRate("w1"); math.Abs(rate-0.5) > 1e-9 {
		t.Errorf("expected recent rate 0.5, got %f", rate)
	}

	// Independence from type: a different type starts fresh.
	if rate := m.TypeSuccessRate("w1", "other"); rate != 1.0 {
		t.Errorf("expected 1.0 for unseen type, got %f", rate)
	}
}

func TestForget(t *testing.T) {
	m := NewMonitor(1.0, 0.3, 20, testLogger())
	m.Track("w1", 2)
	m.TrackAssignment("w1", time.Second)
	m.Forget("w1")

	if got := m.FilterAvailable([]string{"w1"}); len(got) != 0 {
		t.Errorf("forgotten worker must not be filterable, got %v", got)
	}
}
