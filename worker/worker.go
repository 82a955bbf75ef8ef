package worker

import (
	"slices"
	"time"
)

type Status uint8

const (
	Available Status = iota
	Busy
	Draining
	Terminated
)

func (s Status) String() string {
	switch s {
	case Available:
		return "Available"
	case Busy:
		return "Busy"
	case Draining:
		return "Draining"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Worker is a unit of execution capacity. The pool manager is the sole
// owner of Worker records; other components hold worker ids plus
// denormalized indexes.
type Worker struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Capabilities []string  `json:"capabilities"`
	Status       Status    `json:"status"`
	CurrentLoad  float64   `json:"current_load"`
	Priority     int       `json:"priority"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// HasCapabilities reports whether the worker's capability set is a
// superset of required.
func (w Worker) HasCapabilities(required []string) bool {
	for _, c := range required {
		if !slices.Contains(w.Capabilities, c) {
			return false
		}
	}

	return true
}

type Page struct {
	Offset  uint64   `json:"offset"`
	Limit   uint64   `json:"limit"`
	Total   uint64   `json:"total"`
	Workers []Worker `json:"workers"`
}

func FilterAvailable(workers []Worker) []Worker {
	var available []Worker
	for _, w := range workers {
		if w.Status == Available {
			available = append(available, w)
		}
	}

	return available
}

func FilterBusy(workers []Worker) []Worker {
	var busy []Worker
	for _, w := range workers {
		if w.Status == Busy {
			busy = append(busy, w)
		}
	}

	return busy
}

func CountByStatus(workers []Worker) map[Status]int {
	counts := make(map[Status]int)
	for _, w := range workers {
		counts[w.Status]++
	}

	return counts
}
