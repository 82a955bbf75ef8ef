package pool

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flotilla-dev/flotilla/pkg/provision"
	"github.com/flotilla-dev/flotilla/pkg/registry"
	"github.com/flotilla-dev/flotilla/pkg/scoring"
	"github.com/flotilla-dev/flotilla/pkg/workload"
	"github.com/flotilla-dev/flotilla/task"
	"github.com/flotilla-dev/flotilla/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, cfg Config, fake *provision.Fake) (*Manager, *workload.Monitor) {
	t.Helper()

	scorer, err := scoring.NewScorer(scoring.DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger := testLogger()
	mon := workload.NewMonitor(1.0, 0.3, 20, logger)

	return NewManager(cfg, registry.New(), mon, scorer, fake, logger), mon
}

func idleWorker(id string, caps ...string) worker.Worker {
	return worker.Worker{
		ID:           id,
		Type:         "generic",
		Capabilities: caps,
		Status:       worker.Available,
	}
}

func TestReusePreference(t *testing.T) {
	fake := provision.NewFake()
	mgr, _ := newTestManager(t, DefaultConfig(), fake)
	mgr.Admit(idleWorker("a", "x"), 1)

	req := task.NewRequest("compute", []string{"x"}, 1)
	ranked, err := mgr.Rank(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reserved := mgr.Reserve("req-1", req, ranked, req.MaxWorkers)

	if len(reserved) != 1 || reserved[0].Worker.ID != "a" {
		t.Fatalf("expected idle worker a to be reused, got %+v", reserved)
	}
	if !reserved[0].Reused {
		t.Error("reservation must be flagged as reuse")
	}
	if fake.Attempts() != 0 {
		t.Errorf("idle capacity was sufficient; spawn attempts: %d", fake.Attempts())
	}
}

func TestRankOrdersByScore(t *testing.T) {
	fake := provision.NewFake()
	mgr, _ := newTestManager(t, DefaultConfig(), fake)
	mgr.Admit(idleWorker("b", "x"), 1)
	mgr.Admit(idleWorker("a", "x", "y"), 1)

	ranked, err := mgr.Rank(task.NewRequest("compute", []string{"x"}, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ranked) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(ranked))
	}
	// a carries an extra relevant capability; its match bonus wins.
	if ranked[0].Worker.ID != "a" {
		t.Errorf("expected a ranked first, got %s", ranked[0].Worker.ID)
	}
}

func TestRankSkipsBusyWorkers(t *testing.T) {
	fake := provision.NewFake()
	mgr, _ := newTestManager(t, DefaultConfig(), fake)
	mgr.Admit(idleWorker("a", "x"), 1)

	req := task.NewRequest("compute", []string{"x"}, 1)
	ranked, _ := mgr.Rank(req)
	if got := mgr.Reserve("req-1", req, ranked, 1); len(got) != 1 {
		t.Fatalf("expected reservation, got %+v", got)
	}

	ranked, err := mgr.Rank(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranked) != 0 {
		t.Errorf("busy worker must not be a candidate, got %+v", ranked)
	}
}

func TestSpawnCoversCapabilityGap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerTypes = []TypeSpec{
		{Name: "broad", Capabilities: []string{"x", "y", "z"}, Concurrency: 2},
		{Name: "narrow", Capabilities: []string{"x", "y"}, Concurrency: 2},
	}
	fake := provision.NewFake()
	mgr, _ := newTestManager(t, cfg, fake)

	req := task.NewRequest("compute", []string{"x", "y"}, 2)
	spawned, err := mgr.Spawn(context.Background(), "req-1", req, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(spawned) != 2 {
		t.Fatalf("expected 2 spawned workers, got %d", len(spawned))
	}
	for _, a := range spawned {
		// The smallest covering type wins.
		if a.Worker.Type != "narrow" {
			t.Errorf("expected type narrow, got %s", a.Worker.Type)
		}
		if !a.Worker.HasCapabilities(req.RequiredCapabilities) {
			t.Errorf("spawned worker lacks required capabilities: %v", a.Worker.Capabilities)
		}
		if a.Reused {
			t.Error("spawned worker must not be flagged as reused")
		}
	}

	// Spawned workers are registered before being returned.
	stats := mgr.Stats()
	if stats.TotalWorkers != 2 || stats.Busy != 2 {
		t.Errorf("expected 2 busy workers in pool, got %+v", stats)
	}
}

func TestSpawnFailureDegradesToPartial(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpawnBackoff = time.Millisecond
	cfg.WorkerTypes = []TypeSpec{{Name: "generic", Capabilities: []string{"z"}}}
	fake := provision.NewFake()
	fake.FailFirst = 1000
	mgr, _ := newTestManager(t, cfg, fake)

	spawned, err := mgr.Spawn(context.Background(), "req-1", task.NewRequest("compute", []string{"z"}, 1), 1)
	if err == nil {
		t.Fatal("expected spawn error")
	}
	if len(spawned) != 0 {
		t.Errorf("expected no spawned workers, got %d", len(spawned))
	}
	if got := fake.Attempts(); got != 3 {
		t.Errorf("expected 3 bounded retries, got %d", got)
	}
}

func TestSpawnWithoutCoveringTypeOrFallback(t *testing.T) {
	fake := provision.NewFake()
	mgr, _ := newTestManager(t, DefaultConfig(), fake)

	_, err := mgr.Spawn(context.Background(), "req-1", task.NewRequest("compute", []string{"q"}, 1), 1)
	if !errors.Is(err, ErrNoTypeForGap) {
		t.Fatalf("expected ErrNoTypeForGap, got %v", err)
	}
}

func TestSpawnFallbackGraftsRequiredCapabilities(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FallbackType = "generic"
	cfg.WorkerTypes = []TypeSpec{{Name: "generic", Capabilities: []string{"base"}, Concurrency: 2}}
	fake := provision.NewFake()
	mgr, _ := newTestManager(t, cfg, fake)

	req := task.NewRequest("compute", []string{"q"}, 1)
	spawned, err := mgr.Spawn(context.Background(), "req-1", req, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spawned) != 1 {
		t.Fatalf("expected 1 spawned worker, got %d", len(spawned))
	}
	w := spawned[0].Worker
	if !w.HasCapabilities([]string{"q", "base"}) {
		t.Errorf("fallback worker must carry required plus default capabilities, got %v", w.Capabilities)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	fake := provision.NewFake()
	mgr, mon := newTestManager(t, DefaultConfig(), fake)
	mgr.Admit(idleWorker("a", "x"), 2)

	req := task.NewRequest("compute", []string{"x"}, 1)
	ranked, _ := mgr.Rank(req)
	mgr.Reserve("req-1", req, ranked, 1)
	mon.TrackCompletion("a", "compute", time.Second, true)

	mgr.Release("req-1", []string{"a"})
	mgr.Release("req-1", []string{"a"})
	mgr.Release("other-request", []string{"a"})

	w, err := mgr.Get("a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Status != worker.Available {
		t.Errorf("expected worker available after release, got %s", w.Status)
	}

	// The worker can be reserved exactly once again.
	ranked, _ = mgr.Rank(req)
	if got := mgr.Reserve("req-2", req, ranked, 1); len(got) != 1 {
		t.Errorf("expected worker reusable after release, got %+v", got)
	}
}

func TestReleaseUnderPoolPressureRetires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIdle = 1
	fake := provision.NewFake()
	mgr, _ := newTestManager(t, cfg, fake)
	mgr.Admit(idleWorker("a", "x"), 1)
	mgr.Admit(idleWorker("b", "x"), 1)

	req := task.NewRequest("compute", []string{"x"}, 2)
	ranked, _ := mgr.Rank(req)
	reserved := mgr.Reserve("req-1", req, ranked, 2)
	if len(reserved) != 2 {
		t.Fatalf("expected both workers reserved, got %d", len(reserved))
	}

	// Releasing the second worker exceeds MaxIdle and retires it.
	mgr.Release("req-1", []string{"a"})
	mgr.Release("req-1", []string{"b"})

	stats := mgr.Stats()
	if stats.TotalWorkers != 1 {
		t.Errorf("expected retirement down to 1 worker, got %+v", stats)
	}
}

func TestConcurrentReservationNoDoubleAssignment(t *testing.T) {
	fake := provision.NewFake()
	mgr, _ := newTestManager(t, DefaultConfig(), fake)
	mgr.Admit(idleWorker("a", "x"), 1)

	req := task.NewRequest("compute", []string{"x"}, 1)
	ranked, err := mgr.Rank(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const callers = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got := mgr.Reserve(string(rune('A'+n)), req, ranked, 1)
			mu.Lock()
			total += len(got)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if total != 1 {
		t.Errorf("exactly one caller may reserve the worker, got %d reservations", total)
	}
}

func TestOptimizeRetiresIdleWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	fake := provision.NewFake()
	mgr, _ := newTestManager(t, cfg, fake)

	stale := idleWorker("a", "x")
	stale.LastActivity = time.Now().Add(-time.Minute)
	mgr.Admit(stale, 1)
	mgr.Admit(idleWorker("b", "x"), 1)

	report := mgr.Optimize()

	if len(report.Retired) != 1 || report.Retired[0] != "a" {
		t.Fatalf("expected only the stale worker retired, got %v", report.Retired)
	}
	if report.TotalWorkers != 1 {
		t.Errorf("expected 1 worker left, got %d", report.TotalWorkers)
	}
	if report.CapabilityCoverage["x"] != 1 {
		t.Errorf("expected coverage rebuilt, got %v", report.CapabilityCoverage)
	}
}

func TestStatsReuseRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WorkerTypes = []TypeSpec{{Name: "generic", Capabilities: []string{"x"}, Concurrency: 2}}
	fake := provision.NewFake()
	mgr, _ := newTestManager(t, cfg, fake)
	mgr.Admit(idleWorker("a", "x"), 2)

	req := task.NewRequest("compute", []string{"x"}, 1)
	ranked, _ := mgr.Rank(req)
	mgr.Reserve("req-1", req, ranked, 1)

	if _, err := mgr.Spawn(context.Background(), "req-1", req, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := mgr.Stats()
	if stats.ReuseRate != 0.5 {
		t.Errorf("expected reuse rate 0.5, got %f", stats.ReuseRate)
	}
	if stats.Busy != 2 {
		t.Errorf("expected 2 busy workers, got %+v", stats)
	}
}
