package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/flotilla-dev/flotilla/pkg/metrics"
	"github.com/flotilla-dev/flotilla/pkg/provision"
	"github.com/flotilla-dev/flotilla/pkg/registry"
	"github.com/flotilla-dev/flotilla/pkg/scoring"
	"github.com/flotilla-dev/flotilla/pkg/workload"
	"github.com/flotilla-dev/flotilla/task"
	"github.com/flotilla-dev/flotilla/worker"
)

var (
	ErrWorkerNotFound = errors.New("worker not found in pool")
	ErrNoTypeForGap   = errors.New("no worker type covers the capability gap")
)

// TypeSpec is one entry of the worker-type catalog: a tag plus the
// default capability set granted to workers spawned under it.
type TypeSpec struct {
	Name         string   `toml:"name"`
	Capabilities []string `toml:"capabilities"`
	Priority     int      `toml:"priority"`
	Concurrency  int      `toml:"concurrency"`
}

type Config struct {
	MaxWorkers          int
	MaxIdle             int
	IdleTimeout         time.Duration
	DefaultConcurrency  int
	SpawnRetries        uint
	SpawnBackoff        time.Duration
	FallbackType        string
	ShrinkIdleThreshold float64
	ShrinkWindow        time.Duration
	WorkerTypes         []TypeSpec
}

func DefaultConfig() Config {
	return Config{
		MaxWorkers:          32,
		MaxIdle:             8,
		IdleTimeout:         5 * time.Minute,
		DefaultConcurrency:  4,
		SpawnRetries:        3,
		SpawnBackoff:        100 * time.Millisecond,
		ShrinkIdleThreshold: 0.75,
		ShrinkWindow:        time.Minute,
	}
}

// Candidate is a ranked, still-unreserved worker.
type Candidate struct {
	Worker       worker.Worker
	Availability workload.Availability
	Score        scoring.Score
}

// AcquiredWorker is one worker handed to a request, either reused from
// the pool or freshly spawned.
type AcquiredWorker struct {
	Worker worker.Worker `json:"worker"`
	Reused bool          `json:"reused"`
	Score  scoring.Score `json:"score"`
}

// Manager owns the worker lifecycle: reuse-first acquisition, spawning,
// release, cleanup and dynamic sizing. It is the single ownership path
// for Worker records; the registry and monitor hold denormalized views
// updated atomically with the pool map.
type Manager struct {
	mu          sync.Mutex
	workers     map[string]*worker.Worker
	assignments map[string]string // worker id -> request id holding the reservation

	reuseCount  uint64
	assignCount uint64

	// highIdleSince marks when the idle ratio last rose above the
	// shrink threshold; zero while below it.
	highIdleSince time.Time

	cfg         Config
	registry    *registry.Registry
	monitor     *workload.Monitor
	scorer      *scoring.Scorer
	provisioner provision.Provisioner
	logger      *slog.Logger
}

func NewManager(
	cfg Config,
	reg *registry.Registry,
	mon *workload.Monitor,
	scorer *scoring.Scorer,
	provisioner provision.Provisioner,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		workers:     make(map[string]*worker.Worker),
		assignments: make(map[string]string),
		cfg:         cfg,
		registry:    reg,
		monitor:     mon,
		scorer:      scorer,
		provisioner: provisioner,
		logger:      logger,
	}
}

// Admit takes ownership of an externally created worker: it enters the
// pool map, the capability registry and the workload monitor in one
// critical section.
func (m *Manager) Admit(w worker.Worker, concurrency int) {
	if concurrency < 1 {
		concurrency = m.cfg.DefaultConcurrency
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	if w.LastActivity.IsZero() {
		w.LastActivity = w.CreatedAt
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[w.ID] = &w
	m.registry.Register(w.ID, w.Capabilities)
	m.monitor.Track(w.ID, concurrency)
	metrics.WorkersByStatus.WithLabelValues(w.Status.String()).Inc()
}

// Get returns a copy of the worker record.
func (m *Manager) Get(workerID string) (worker.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return worker.Worker{}, fmt.Errorf("%w: %s", ErrWorkerNotFound, workerID)
	}
	out := *w
	out.CurrentLoad = m.monitor.CurrentLoad(workerID)

	return out, nil
}

// Rank performs the synchronous part of acquisition: candidate lookup,
// availability filtering and scoring. The result is sorted descending
// by total score, ties broken by availability and then worker id.
func (m *Manager) Rank(req task.Request) ([]Candidate, error) {
	ids, err := m.registry.FindCandidates(req.RequiredCapabilities)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	eligible := make([]string, 0, len(ids))
	snapshots := make(map[string]worker.Worker, len(ids))
	priorities := make([]int, 0, len(m.workers))
	for _, w := range m.workers {
		priorities = append(priorities, w.Priority)
	}
	for _, id := range ids {
		w, ok := m.workers[id]
		if !ok || w.Status != worker.Available {
			continue
		}
		eligible = append(eligible, id)
		snapshots[id] = *w
	}
	m.mu.Unlock()

	available := m.monitor.FilterAvailable(eligible)
	threshold := m.scorer.PriorityThreshold(priorities)

	candidates := make([]Candidate, 0, len(available))
	scores := make([]scoring.Score, 0, len(available))
	byID := make(map[string]Candidate, len(available))
	for _, a := range available {
		w := snapshots[a.WorkerID]
		w.CurrentLoad = a.CurrentLoad
		score := m.scorer.Score(w, req.RequiredCapabilities, scoring.Inputs{
			Availability:      a.AvailabilityScore,
			TypeSuccessRate:   m.monitor.TypeSuccessRate(a.WorkerID, req.Type),
			RecentSuccessRate: m.monitor.RecentSuccessRate(a.WorkerID),
			PriorityThreshold: threshold,
		})
		scores = append(scores, score)
		byID[a.WorkerID] = Candidate{Worker: w, Availability: a, Score: score}
	}
	scoring.Rank(scores)
	for _, s := range scores {
		candidates = append(candidates, byID[s.WorkerID])
	}

	return candidates, nil
}

// Reserve walks the ranked candidates and atomically flips up to k of
// them to busy on behalf of the request. A candidate whose state moved
// since ranking is skipped, not an error: the next-ranked one is tried.
func (m *Manager) Reserve(requestID string, req task.Request, ranked []Candidate, k int) []AcquiredWorker {
	reserved := make([]AcquiredWorker, 0, k)
	for _, c := range ranked {
		if len(reserved) >= k {
			break
		}
		w, ok := m.tryReserve(requestID, c.Worker.ID)
		if !ok {
			continue
		}
		m.monitor.TrackAssignment(w.ID, req.EstimatedDuration)
		reserved = append(reserved, AcquiredWorker{Worker: w, Reused: true, Score: c.Score})
	}

	if len(reserved) > 0 {
		m.mu.Lock()
		m.reuseCount += uint64(len(reserved))
		m.assignCount += uint64(len(reserved))
		metrics.ReuseRate.Set(float64(m.reuseCount) / float64(m.assignCount))
		m.mu.Unlock()
	}

	return reserved
}

// tryReserve is the single atomic critical section per worker that
// prevents double assignment under concurrent acquisitions.
func (m *Manager) tryReserve(requestID, workerID string) (worker.Worker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok || w.Status != worker.Available || !m.monitor.Available(workerID) {
		return worker.Worker{}, false
	}

	metrics.WorkersByStatus.WithLabelValues(w.Status.String()).Dec()
	w.Status = worker.Busy
	w.LastActivity = time.Now()
	m.assignments[workerID] = requestID
	metrics.WorkersByStatus.WithLabelValues(w.Status.String()).Inc()

	return *w, true
}

// Spawn provisions up to n new workers to cover the request's
// capability gap and registers each before returning it. No worker
// lock is held while the backend call is in flight. Spawn failures
// after the retry budget degrade to a partial result: the workers
// provisioned so far are returned alongside the error.
func (m *Manager) Spawn(ctx context.Context, requestID string, req task.Request, n int) ([]AcquiredWorker, error) {
	spec, err := m.specForGap(req)
	if err != nil {
		return nil, err
	}

	spawned := make([]AcquiredWorker, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return spawned, err
		}

		w, err := m.spawnOne(ctx, spec)
		if err != nil {
			metrics.SpawnAttemptsTotal.WithLabelValues("failure").Inc()

			return spawned, fmt.Errorf("spawning worker %d of %d: %w", i+1, n, err)
		}
		metrics.SpawnAttemptsTotal.WithLabelValues("success").Inc()

		w.Status = worker.Busy
		w.LastActivity = time.Now()

		m.mu.Lock()
		m.workers[w.ID] = &w
		m.assignments[w.ID] = requestID
		m.registry.Register(w.ID, w.Capabilities)
		m.monitor.Track(w.ID, spec.Concurrency)
		m.assignCount++
		metrics.ReuseRate.Set(float64(m.reuseCount) / float64(m.assignCount))
		m.mu.Unlock()

		m.monitor.TrackAssignment(w.ID, req.EstimatedDuration)
		metrics.WorkersByStatus.WithLabelValues(w.Status.String()).Inc()

		m.logger.Info("spawned worker",
			slog.String("worker_id", w.ID),
			slog.String("worker_type", w.Type),
			slog.String("request_id", requestID))

		spawned = append(spawned, AcquiredWorker{Worker: w, Reused: false})
	}

	return spawned, nil
}

func (m *Manager) spawnOne(ctx context.Context, spec provision.Spec) (worker.Worker, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.SpawnBackoff

	return backoff.Retry(ctx, func() (worker.Worker, error) {
		return m.provisioner.Spawn(ctx, spec)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(m.cfg.SpawnRetries))
}

// specForGap picks the worker type whose default capability set is the
// smallest superset of the required capabilities, falling back to the
// configured fallback type with the required set grafted on.
func (m *Manager) specForGap(req task.Request) (provision.Spec, error) {
	var best *TypeSpec
	for i := range m.cfg.WorkerTypes {
		ts := &m.cfg.WorkerTypes[i]
		if !coversAll(ts.Capabilities, req.RequiredCapabilities) {
			continue
		}
		if best == nil || len(ts.Capabilities) < len(best.Capabilities) {
			best = ts
		}
	}
	if best != nil {
		return provision.Spec{
			Type:         best.Name,
			Capabilities: best.Capabilities,
			Priority:     best.Priority,
			Concurrency:  m.concurrencyFor(best),
		}, nil
	}

	if m.cfg.FallbackType == "" {
		return provision.Spec{}, fmt.Errorf("%w: %v", ErrNoTypeForGap, req.RequiredCapabilities)
	}

	caps := slices.Clone(req.RequiredCapabilities)
	var fallback *TypeSpec
	for i := range m.cfg.WorkerTypes {
		if m.cfg.WorkerTypes[i].Name == m.cfg.FallbackType {
			fallback = &m.cfg.WorkerTypes[i]

			break
		}
	}
	if fallback != nil {
		for _, c := range fallback.Capabilities {
			if !slices.Contains(caps, c) {
				caps = append(caps, c)
			}
		}

		return provision.Spec{
			Type:         fallback.Name,
			Capabilities: caps,
			Priority:     fallback.Priority,
			Concurrency:  m.concurrencyFor(fallback),
		}, nil
	}

	return provision.Spec{
		Type:         m.cfg.FallbackType,
		Capabilities: caps,
		Concurrency:  m.cfg.DefaultConcurrency,
	}, nil
}

func (m *Manager) concurrencyFor(ts *TypeSpec) int {
	if ts.Concurrency > 0 {
		return ts.Concurrency
	}

	return m.cfg.DefaultConcurrency
}

func coversAll(capabilities, required []string) bool {
	for _, c := range required {
		if !slices.Contains(capabilities, c) {
			return false
		}
	}

	return true
}

// Release returns the request's workers to the pool. It is idempotent:
// a worker not reserved by this request is skipped. Released workers
// that fail the retention policy are drained and terminated instead of
// idling indefinitely.
func (m *Manager) Release(requestID string, workerIDs []string) {
	for _, id := range workerIDs {
		m.releaseOne(requestID, id)
	}
}

func (m *Manager) releaseOne(requestID, workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	holder, ok := m.assignments[workerID]
	if !ok || holder != requestID {
		return
	}
	delete(m.assignments, workerID)

	w, ok := m.workers[workerID]
	if !ok {
		return
	}
	if w.Status == worker.Busy {
		metrics.WorkersByStatus.WithLabelValues(w.Status.String()).Dec()
		w.Status = worker.Available
		metrics.WorkersByStatus.WithLabelValues(w.Status.String()).Inc()
	}
	w.LastActivity = time.Now()

	if m.shouldCleanupLocked() {
		m.retireLocked(w)
	}
}

// shouldCleanupLocked applies pool-size pressure at release time; idle
// duration is handled by the periodic Optimize pass.
func (m *Manager) shouldCleanupLocked() bool {
	if len(m.workers) > m.cfg.MaxWorkers {
		return true
	}

	idle := 0
	for _, w := range m.workers {
		if w.Status == worker.Available {
			idle++
		}
	}

	return idle > m.cfg.MaxIdle
}

// retireLocked drains and terminates a worker, removing it from the
// pool map, the registry and the monitor atomically.
func (m *Manager) retireLocked(w *worker.Worker) {
	metrics.WorkersByStatus.WithLabelValues(w.Status.String()).Dec()
	w.Status = worker.Draining

	delete(m.workers, w.ID)
	delete(m.assignments, w.ID)
	m.registry.Unregister(w.ID)
	m.monitor.Forget(w.ID)

	w.Status = worker.Terminated

	m.logger.Info("retired worker",
		slog.String("worker_id", w.ID),
		slog.String("worker_type", w.Type))
}

// Stats summarizes the pool for external observers.
type Stats struct {
	TotalWorkers        int     `json:"total_workers"`
	Available           int     `json:"available"`
	Busy                int     `json:"busy"`
	ReuseRate           float64 `json:"reuse_rate"`
	CapabilitiesCovered int     `json:"capabilities_covered"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{TotalWorkers: len(m.workers)}
	for _, w := range m.workers {
		switch w.Status {
		case worker.Available:
			s.Available++
		case worker.Busy:
			s.Busy++
		}
	}
	if m.assignCount > 0 {
		s.ReuseRate = float64(m.reuseCount) / float64(m.assignCount)
	}
	s.CapabilitiesCovered = len(m.registry.Coverage())

	return s
}

// Workers returns a page of worker records sorted by id.
func (m *Manager) Workers(offset, limit uint64) worker.Page {
	m.mu.Lock()
	all := make([]worker.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		out := *w
		out.CurrentLoad = m.monitor.CurrentLoad(w.ID)
		all = append(all, out)
	}
	m.mu.Unlock()

	slices.SortFunc(all, func(a, b worker.Worker) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	total := uint64(len(all))
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit == 0 || end > total {
		end = total
	}

	return worker.Page{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Workers: all[offset:end],
	}
}
