package provision

import (
	"context"
	"fmt"
	"sync"

	"github.com/flotilla-dev/flotilla/worker"
)

// Fake is a deterministic in-memory provisioning backend for tests. It
// implements the same contract as production backends: ids are
// sequential, and the first FailFirst spawn attempts return an error.
type Fake struct {
	mu        sync.Mutex
	seq       int
	attempts  int
	FailFirst int
	Spawned   []worker.Worker
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Spawn(ctx context.Context, spec Spec) (worker.Worker, error) {
	if err := ctx.Err(); err != nil {
		return worker.Worker{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.attempts <= f.FailFirst {
		return worker.Worker{}, fmt.Errorf("%w: backend unavailable", ErrSpawnFailed)
	}

	f.seq++
	caps := make([]string, len(spec.Capabilities))
	copy(caps, spec.Capabilities)
	w := worker.Worker{
		ID:           fmt.Sprintf("spawned-%03d", f.seq),
		Name:         fmt.Sprintf("fake-%03d", f.seq),
		Type:         spec.Type,
		Capabilities: caps,
		Status:       worker.Available,
		Priority:     spec.Priority,
	}
	f.Spawned = append(f.Spawned, w)

	return w, nil
}

// Attempts returns the number of spawn calls received, including the
// failed ones.
func (f *Fake) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.attempts
}
