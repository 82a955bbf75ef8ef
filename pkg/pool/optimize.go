package pool

import (
	"log/slog"
	"slices"
	"time"

	"github.com/flotilla-dev/flotilla/worker"
)

// OptimizationReport is the outcome of one periodic pool-health pass.
type OptimizationReport struct {
	Timestamp          time.Time      `json:"timestamp"`
	TotalWorkers       int            `json:"total_workers"`
	Available          int            `json:"available"`
	Busy               int            `json:"busy"`
	IdleRatio          float64        `json:"idle_ratio"`
	ReuseRate          float64        `json:"reuse_rate"`
	CapabilityCoverage map[string]int `json:"capability_coverage"`
	Retired            []string       `json:"retired"`
}

// Optimize runs one pool-sizing pass: it retires workers idle beyond
// the timeout and, when the idle ratio has stayed above the shrink
// threshold for the whole shrink window, trims idle capacity down to
// the configured maximum. It takes only short per-worker critical
// sections and never blocks in-flight acquisitions for its duration.
func (m *Manager) Optimize() OptimizationReport {
	now := time.Now()
	report := OptimizationReport{Timestamp: now}

	m.mu.Lock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.mu.Lock()
		w, ok := m.workers[id]
		if ok && w.Status == worker.Available && now.Sub(w.LastActivity) > m.cfg.IdleTimeout {
			m.retireLocked(w)
			report.Retired = append(report.Retired, id)
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	report.TotalWorkers = len(m.workers)
	var idleIDs []string
	var idleSince []time.Time
	for id, w := range m.workers {
		switch w.Status {
		case worker.Available:
			report.Available++
			idleIDs = append(idleIDs, id)
			idleSince = append(idleSince, w.LastActivity)
		case worker.Busy:
			report.Busy++
		}
	}
	if report.TotalWorkers > 0 {
		report.IdleRatio = float64(report.Available) / float64(report.TotalWorkers)
	}
	if m.assignCount > 0 {
		report.ReuseRate = float64(m.reuseCount) / float64(m.assignCount)
	}

	sustained := false
	if report.IdleRatio > m.cfg.ShrinkIdleThreshold {
		if m.highIdleSince.IsZero() {
			m.highIdleSince = now
		} else if now.Sub(m.highIdleSince) >= m.cfg.ShrinkWindow {
			sustained = true
		}
	} else {
		m.highIdleSince = time.Time{}
	}
	m.mu.Unlock()

	if sustained {
		report.Retired = append(report.Retired, m.shrinkIdle(idleIDs, idleSince)...)
	}

	report.CapabilityCoverage = m.registry.Coverage()

	if len(report.Retired) > 0 {
		m.logger.Info("pool optimization retired workers",
			slog.Int("count", len(report.Retired)),
			slog.Float64("idle_ratio", report.IdleRatio))
	}

	return report
}

// shrinkIdle retires the longest-idle available workers beyond MaxIdle.
func (m *Manager) shrinkIdle(idleIDs []string, idleSince []time.Time) []string {
	excess := len(idleIDs) - m.cfg.MaxIdle
	if excess <= 0 {
		return nil
	}

	// Oldest activity first.
	order := make([]int, len(idleIDs))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		return idleSince[a].Compare(idleSince[b])
	})

	var retired []string
	for _, idx := range order {
		if len(retired) >= excess {
			break
		}
		id := idleIDs[idx]

		m.mu.Lock()
		w, ok := m.workers[id]
		if ok && w.Status == worker.Available {
			m.retireLocked(w)
			retired = append(retired, id)
		}
		m.mu.Unlock()
	}

	return retired
}
