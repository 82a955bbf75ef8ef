package api

import (
	"github.com/flotilla-dev/flotilla/pkg/scoring"
)

type assignedWorkerDTO struct {
	WorkerID     string        `json:"worker_id"`
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Capabilities []string      `json:"capabilities"`
	Reused       bool          `json:"reused"`
	Score        scoring.Score `json:"score"`
}

type acquireResponseDTO struct {
	RequestID string              `json:"request_id"`
	Status    string              `json:"status"`
	Requested int                 `json:"requested"`
	Assigned  []assignedWorkerDTO `json:"assigned"`
	Spawned   int                 `json:"spawned"`
}

type releaseResponseDTO struct {
	Released int `json:"released"`
}
