package worker

// History is the rolling performance record for a single worker. It keeps
// an exponentially weighted success rate per task type and a ring of the
// most recent completion outcomes across all types.
//
// History is not goroutine safe; the workload monitor serializes access.
type History struct {
	alpha  float64
	window int

	typeRates map[string]float64
	recent    []bool
	next      int
}

func NewHistory(alpha float64, window int) *History {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultEWMAAlpha
	}
	if window < 1 {
		window = DefaultRecentWindow
	}

	return &History{
		alpha:     alpha,
		window:    window,
		typeRates: make(map[string]float64),
		recent:    make([]bool, 0, window),
	}
}

const (
	DefaultEWMAAlpha    = 0.3
	DefaultRecentWindow = 20
)

// Record folds one completion outcome into the history.
func (h *History) Record(taskType string, success bool) {
	observed := 0.0
	if success {
		observed = 1.0
	}

	rate, ok := h.typeRates[taskType]
	if !ok {
		rate = observed
	} else {
		rate = h.alpha*observed + (1-h.alpha)*rate
	}
	h.typeRates[taskType] = rate

	if len(h.recent) < h.window {
		h.recent = append(h.recent, success)

		return
	}
	h.recent[h.next] = success
	h.next = (h.next + 1) % h.window
}

// TypeRate returns the smoothed success rate for a task type. Workers
// with no history for the type get an optimistic 1.0 so new and reused
// workers are not starved.
func (h *History) TypeRate(taskType string) float64 {
	rate, ok := h.typeRates[taskType]
	if !ok {
		return 1.0
	}

	return rate
}

// RecentRate returns the fraction of the last recorded completions that
// finished without error, independent of task type.
func (h *History) RecentRate() float64 {
	if len(h.recent) == 0 {
		return 1.0
	}

	ok := 0
	for _, success := range h.recent {
		if success {
			ok++
		}
	}

	return float64(ok) / float64(len(h.recent))
}

// Completions returns the number of outcomes currently held in the
// recent ring.
func (h *History) Completions() int {
	return len(h.recent)
}
