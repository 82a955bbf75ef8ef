package scoring

import (
	"errors"
	"fmt"
	"slices"

	"github.com/flotilla-dev/flotilla/worker"
)

var ErrInvalidWeights = errors.New("invalid scoring weights")

// Weights combine the five score components into a ranking value. They
// need not sum to exactly 1; this is a ranking function, not a
// probability.
type Weights struct {
	Capability   float64 `toml:"capability"`
	Performance  float64 `toml:"performance"`
	Availability float64 `toml:"availability"`
	Success      float64 `toml:"success"`
	Priority     float64 `toml:"priority"`
}

func DefaultWeights() Weights {
	return Weights{
		Capability:   0.4,
		Performance:  0.3,
		Availability: 0.2,
		Success:      0.08,
		Priority:     0.02,
	}
}

const maxWeightSum = 1.2

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"capability":   w.Capability,
		"performance":  w.Performance,
		"availability": w.Availability,
		"success":      w.Success,
		"priority":     w.Priority,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s weight is negative", ErrInvalidWeights, name)
		}
	}

	sum := w.Capability + w.Performance + w.Availability + w.Success + w.Priority
	if sum > maxWeightSum {
		return fmt.Errorf("%w: weights sum to %.3f, limit is %.1f", ErrInvalidWeights, sum, maxWeightSum)
	}

	return nil
}

type Config struct {
	Weights            Weights `toml:"weights"`
	ExtraCapBonus      float64 `toml:"extra_cap_bonus"`
	ExtraCapBonusCap   float64 `toml:"extra_cap_bonus_cap"`
	PriorityBonus      float64 `toml:"priority_bonus"`
	PriorityPercentile float64 `toml:"priority_percentile"`
}

func DefaultConfig() Config {
	return Config{
		Weights:            DefaultWeights(),
		ExtraCapBonus:      0.05,
		ExtraCapBonusCap:   0.2,
		PriorityBonus:      0.2,
		PriorityPercentile: 0.8,
	}
}

// Score is ephemeral, computed per (worker, request) pair and never
// persisted beyond the selection decision.
type Score struct {
	WorkerID        string  `json:"worker_id"`
	CapabilityMatch float64 `json:"capability_match"`
	Performance     float64 `json:"performance"`
	Availability    float64 `json:"availability"`
	RecentSuccess   float64 `json:"recent_success"`
	PriorityBonus   float64 `json:"priority_bonus"`
	Total           float64 `json:"total"`
}

// Inputs carry the per-candidate signals the scorer does not compute
// itself: the workload monitor's availability score and history rates,
// and the pool-wide priority threshold.
type Inputs struct {
	Availability      float64
	TypeSuccessRate   float64
	RecentSuccessRate float64
	PriorityThreshold int
}

type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}

	return &Scorer{cfg: cfg}, nil
}

// Score computes the multi-criteria fitness of a worker for a set of
// required capabilities. Identical inputs produce identical scores.
func (s *Scorer) Score(w worker.Worker, required []string, in Inputs) Score {
	score := Score{
		WorkerID:        w.ID,
		CapabilityMatch: s.capabilityMatch(w.Capabilities, required),
		Performance:     clamp01(in.TypeSuccessRate),
		Availability:    clamp01(in.Availability),
		RecentSuccess:   clamp01(in.RecentSuccessRate),
	}
	if w.Priority > in.PriorityThreshold {
		score.PriorityBonus = s.cfg.PriorityBonus
	}

	weights := s.cfg.Weights
	score.Total = weights.Capability*score.CapabilityMatch +
		weights.Performance*score.Performance +
		weights.Availability*score.Availability +
		weights.Success*score.RecentSuccess +
		weights.Priority*score.PriorityBonus

	return score
}

// capabilityMatch is |caps ∩ required| / |required|, plus a bonus per
// capability beyond the required set, capped so generalists are
// rewarded without dominating exact matches.
func (s *Scorer) capabilityMatch(capabilities, required []string) float64 {
	matched := 0
	for _, c := range required {
		if slices.Contains(capabilities, c) {
			matched++
		}
	}
	base := float64(matched) / float64(len(required))

	extra := len(capabilities) - matched
	if extra < 0 {
		extra = 0
	}
	bonus := min(s.cfg.ExtraCapBonusCap, float64(extra)*s.cfg.ExtraCapBonus)

	return base + bonus
}

// Rank sorts scores descending by total, breaking ties by availability
// and then worker id so results are reproducible.
func Rank(scores []Score) {
	slices.SortFunc(scores, func(a, b Score) int {
		switch {
		case a.Total > b.Total:
			return -1
		case a.Total < b.Total:
			return 1
		}
		switch {
		case a.Availability > b.Availability:
			return -1
		case a.Availability < b.Availability:
			return 1
		}

		return cmpString(a.WorkerID, b.WorkerID)
	})
}

// PriorityThreshold returns the configured percentile of the given
// worker priorities, used as the cutoff for the priority bonus.
func (s *Scorer) PriorityThreshold(priorities []int) int {
	if len(priorities) == 0 {
		return 0
	}

	sorted := make([]int, len(priorities))
	copy(sorted, priorities)
	slices.Sort(sorted)

	idx := int(float64(len(sorted)) * s.cfg.PriorityPercentile)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}

	return v
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
