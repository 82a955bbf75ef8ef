package provision

import (
	"context"
	"errors"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/flotilla-dev/flotilla/worker"
	"github.com/google/uuid"
)

var ErrSpawnFailed = errors.New("worker provisioning failed")

// Spec describes the worker a caller wants provisioned. The backend may
// grant a different capability set; the granted set on the returned
// worker is authoritative.
type Spec struct {
	Type         string
	Capabilities []string
	Priority     int
	Concurrency  int
}

// Provisioner is the provisioning backend boundary: it asynchronously
// creates a new worker of the requested type, or fails.
type Provisioner interface {
	Spawn(ctx context.Context, spec Spec) (worker.Worker, error)
}

var namegen = namegenerator.NewGenerator()

// InProcess provisions workers inside the coordinating process. It is
// the default backend when no external provisioner is wired in.
type InProcess struct {
	// Latency simulates the variable creation delay of a real backend.
	Latency time.Duration
}

func NewInProcess(latency time.Duration) *InProcess {
	return &InProcess{Latency: latency}
}

func (p *InProcess) Spawn(ctx context.Context, spec Spec) (worker.Worker, error) {
	if p.Latency > 0 {
		select {
		case <-time.After(p.Latency):
		case <-ctx.Done():
			return worker.Worker{}, ctx.Err()
		}
	}

	now := time.Now()
	caps := make([]string, len(spec.Capabilities))
	copy(caps, spec.Capabilities)

	return worker.Worker{
		ID:           uuid.NewString(),
		Name:         namegen.Generate(),
		Type:         spec.Type,
		Capabilities: caps,
		Status:       worker.Available,
		Priority:     spec.Priority,
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}
