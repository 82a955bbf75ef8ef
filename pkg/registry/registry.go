package registry

import (
	"fmt"
	"slices"
	"sync"

	pkgerrors "github.com/flotilla-dev/flotilla/pkg/errors"
)

// Registry indexes workers by capability so that candidate lookup is an
// intersection of per-capability sets rather than a scan of the pool.
// It holds worker ids only; worker records stay with the pool manager.
type Registry struct {
	mu           sync.RWMutex
	byCapability map[string]map[string]struct{}
	capabilities map[string][]string
}

func New() *Registry {
	return &Registry{
		byCapability: make(map[string]map[string]struct{}),
		capabilities: make(map[string][]string),
	}
}

// Register records a worker under each of its capabilities. Registering
// an already-known worker replaces its previous entries, so the index is
// rebuilt rather than left to drift.
func (r *Registry) Register(workerID string, capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(workerID)

	caps := make([]string, len(capabilities))
	copy(caps, capabilities)
	slices.Sort(caps)
	caps = slices.Compact(caps)
	r.capabilities[workerID] = caps

	for _, c := range caps {
		set, ok := r.byCapability[c]
		if !ok {
			set = make(map[string]struct{})
			r.byCapability[c] = set
		}
		set[workerID] = struct{}{}
	}
}

// Unregister removes the worker from every capability set.
func (r *Registry) Unregister(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(workerID)
}

func (r *Registry) removeLocked(workerID string) {
	caps, ok := r.capabilities[workerID]
	if !ok {
		return
	}
	for _, c := range caps {
		set := r.byCapability[c]
		delete(set, workerID)
		if len(set) == 0 {
			delete(r.byCapability, c)
		}
	}
	delete(r.capabilities, workerID)
}

// FindCandidates returns the ids of workers whose capability set is a
// superset of required, sorted for deterministic ranking downstream. An
// empty result is not an error; the caller decides whether to spawn.
func (r *Registry) FindCandidates(required []string) ([]string, error) {
	if len(required) == 0 {
		return nil, fmt.Errorf("%w: required capabilities must not be empty", pkgerrors.ErrInvalidRequest)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Intersect starting from the smallest capability set.
	sets := make([]map[string]struct{}, 0, len(required))
	for _, c := range required {
		set, ok := r.byCapability[c]
		if !ok {
			return nil, nil
		}
		sets = append(sets, set)
	}
	slices.SortFunc(sets, func(a, b map[string]struct{}) int {
		return len(a) - len(b)
	})

	candidates := make([]string, 0, len(sets[0]))
	for id := range sets[0] {
		member := true
		for _, set := range sets[1:] {
			if _, ok := set[id]; !ok {
				member = false

				break
			}
		}
		if member {
			candidates = append(candidates, id)
		}
	}
	slices.Sort(candidates)

	return candidates, nil
}

// Capabilities returns the registered capability set for a worker.
func (r *Registry) Capabilities(workerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps, ok := r.capabilities[workerID]
	if !ok {
		return nil
	}

	out := make([]string, len(caps))
	copy(out, caps)

	return out
}

// Coverage returns the number of registered workers per capability.
func (r *Registry) Coverage() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coverage := make(map[string]int, len(r.byCapability))
	for c, set := range r.byCapability {
		coverage[c] = len(set)
	}

	return coverage
}

// Snapshot returns the full index as capability -> sorted worker ids.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string][]string, len(r.byCapability))
	for c, set := range r.byCapability {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		snapshot[c] = ids
	}

	return snapshot
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.capabilities)
}
