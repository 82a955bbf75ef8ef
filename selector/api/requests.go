package api

import "time"

type acquireRequestDTO struct {
	TaskType             string   `json:"task_type"`
	RequiredCapabilities []string `json:"required_capabilities"`
	MaxWorkers           int      `json:"max_workers"`
	Priority             int      `json:"priority"`
	PreferReuse          *bool    `json:"prefer_reuse,omitempty"`
	EstimatedDurationMS  int64    `json:"estimated_duration_ms"`
}

func (r acquireRequestDTO) estimatedDuration() time.Duration {
	return time.Duration(r.EstimatedDurationMS) * time.Millisecond
}

type releaseRequestDTO struct {
	RequestID string   `json:"request_id"`
	WorkerIDs []string `json:"worker_ids"`
}

type listWorkersRequestDTO struct {
	Offset uint64
	Limit  uint64
}

type getWorkerRequestDTO struct {
	WorkerID string
}
