package workload

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flotilla-dev/flotilla/worker"
)

// Availability is the monitor's view of one candidate worker.
type Availability struct {
	WorkerID          string
	ActiveTasks       int
	CurrentLoad       float64
	AvailabilityScore float64
}

type load struct {
	active    int
	limit     int
	estimates []time.Duration
}

// Monitor tracks each worker's in-flight task count and performance
// history. It holds its own tables keyed by worker id; it never owns
// worker records.
type Monitor struct {
	mu        sync.Mutex
	loads     map[string]*load
	histories map[string]*worker.History

	softLoadCap  float64
	ewmaAlpha    float64
	recentWindow int
	logger       *slog.Logger
}

const defaultSoftLoadCap = 1.0

func NewMonitor(softLoadCap, ewmaAlpha float64, recentWindow int, logger *slog.Logger) *Monitor {
	if softLoadCap <= 0 {
		softLoadCap = defaultSoftLoadCap
	}

	return &Monitor{
		loads:        make(map[string]*load),
		histories:    make(map[string]*worker.History),
		softLoadCap:  softLoadCap,
		ewmaAlpha:    ewmaAlpha,
		recentWindow: recentWindow,
		logger:       logger,
	}
}

// Track registers a worker with its concurrency limit. Tracking an
// already-known worker resets its limit but keeps load and history.
func (m *Monitor) Track(workerID string, concurrencyLimit int) {
	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.loads[workerID]; ok {
		l.limit = concurrencyLimit

		return
	}
	m.loads[workerID] = &load{limit: concurrencyLimit}
	m.histories[workerID] = worker.NewHistory(m.ewmaAlpha, m.recentWindow)
}

// Forget drops all state for a worker.
func (m *Monitor) Forget(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.loads, workerID)
	delete(m.histories, workerID)
}

// TrackAssignment records one more in-flight task for the worker and
// remembers the duration estimate for later deviation bookkeeping.
func (m *Monitor) TrackAssignment(workerID string, estimate time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loads[workerID]
	if !ok {
		m.logger.Warn("assignment for untracked worker",
			slog.String("worker_id", workerID))

		return
	}
	l.active++
	l.estimates = append(l.estimates, estimate)
}

// TrackCompletion records a completion report from the execution
// backend. A report for a worker with no recorded assignment is stale:
// logged and dropped, never fatal. It reports whether the completion
// was accepted.
func (m *Monitor) TrackCompletion(workerID, taskType string, actual time.Duration, success bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.loads[workerID]
	if !ok || l.active == 0 {
		m.logger.Warn("dropping stale completion report",
			slog.String("worker_id", workerID),
			slog.String("task_type", taskType),
			slog.Duration("duration", actual))

		return false
	}

	l.active--
	if len(l.estimates) > 0 {
		estimate := l.estimates[0]
		l.estimates = l.estimates[1:]
		if estimate > 0 && actual > 2*estimate {
			m.logger.Debug("task overran its estimate",
				slog.String("worker_id", workerID),
				slog.Duration("estimate", estimate),
				slog.Duration("actual", actual))
		}
	}

	if h, ok := m.histories[workerID]; ok {
		h.Record(taskType, success)
	}

	return true
}

// CurrentLoad returns activeTasks / concurrencyLimit for the worker.
func (m *Monitor) CurrentLoad(workerID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.loadLocked(workerID)
}

func (m *Monitor) loadLocked(workerID string) float64 {
	l, ok := m.loads[workerID]
	if !ok {
		return 0
	}

	return float64(l.active) / float64(l.limit)
}

// Available reports whether the worker is below the soft load cap.
func (m *Monitor) Available(workerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.loadLocked(workerID) < m.softLoadCap
}

// FilterAvailable keeps the candidates below the soft load cap and
// annotates each with its load and availability score.
func (m *Monitor) FilterAvailable(candidates []string) []Availability {
	m.mu.Lock()
	defer m.mu.Unlock()

	available := make([]Availability, 0, len(candidates))
	for _, id := range candidates {
		l, ok := m.loads[id]
		if !ok {
			continue
		}
		current := float64(l.active) / float64(l.limit)
		if current >= m.softLoadCap {
			continue
		}
		available = append(available, Availability{
			WorkerID:          id,
			ActiveTasks:       l.active,
			CurrentLoad:       current,
			AvailabilityScore: max(0, 1-current),
		})
	}

	return available
}

// TypeSuccessRate returns the smoothed success rate of the worker for a
// task type, with an optimistic prior for unseen types.
func (m *Monitor) TypeSuccessRate(workerID, taskType string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.histories[workerID]
	if !ok {
		return 1.0
	}

	return h.TypeRate(taskType)
}

// RecentSuccessRate returns the fraction of the worker's last
// completions that succeeded, independent of task type.
func (m *Monitor) RecentSuccessRate(workerID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.histories[workerID]
	if !ok {
		return 1.0
	}

	return h.RecentRate()
}
