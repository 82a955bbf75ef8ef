package task

import (
	"fmt"
	"time"

	pkgerrors "github.com/flotilla-dev/flotilla/pkg/errors"
)

// Request is the unit of scheduling demand: a set of required
// capabilities plus bounds on how many workers may serve it.
type Request struct {
	ID                   string        `json:"id"`
	Type                 string        `json:"type"`
	RequiredCapabilities []string      `json:"required_capabilities"`
	MaxWorkers           int           `json:"max_workers"`
	Priority             int           `json:"priority"`
	PreferReuse          bool          `json:"prefer_reuse"`
	EstimatedDuration    time.Duration `json:"estimated_duration"`
}

// NewRequest builds a request with the defaults callers usually want.
func NewRequest(taskType string, capabilities []string, maxWorkers int) Request {
	return Request{
		Type:                 taskType,
		RequiredCapabilities: capabilities,
		MaxWorkers:           maxWorkers,
		PreferReuse:          true,
	}
}

func (r Request) Validate() error {
	if len(r.RequiredCapabilities) == 0 {
		return fmt.Errorf("%w: required capabilities must not be empty", pkgerrors.ErrInvalidRequest)
	}
	for _, c := range r.RequiredCapabilities {
		if c == "" {
			return fmt.Errorf("%w: empty capability tag", pkgerrors.ErrInvalidRequest)
		}
	}
	if r.MaxWorkers < 1 {
		return fmt.Errorf("%w: max workers must be at least 1, got %d", pkgerrors.ErrInvalidRequest, r.MaxWorkers)
	}

	return nil
}
