package api

import (
	"context"

	"github.com/flotilla-dev/flotilla/selector"
	"github.com/flotilla-dev/flotilla/task"
	"github.com/go-kit/kit/endpoint"
)

func makeAcquireEndpoint(svc selector.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(acquireRequestDTO)

		tr := task.NewRequest(req.TaskType, req.RequiredCapabilities, req.MaxWorkers)
		tr.Priority = req.Priority
		tr.EstimatedDuration = req.estimatedDuration()
		if req.PreferReuse != nil {
			tr.PreferReuse = *req.PreferReuse
		}

		result, err := svc.Acquire(ctx, tr)
		if err != nil {
			return nil, err
		}

		resp := acquireResponseDTO{
			RequestID: result.RequestID,
			Status:    result.Status.String(),
			Requested: result.Requested,
			Spawned:   result.Spawned,
			Assigned:  make([]assignedWorkerDTO, 0, len(result.Assigned)),
		}
		for _, a := range result.Assigned {
			resp.Assigned = append(resp.Assigned, assignedWorkerDTO{
				WorkerID:     a.Worker.ID,
				Name:         a.Worker.Name,
				Type:         a.Worker.Type,
				Capabilities: a.Worker.Capabilities,
				Reused:       a.Reused,
				Score:        a.Score,
			})
		}

		return resp, nil
	}
}

func makeReleaseEndpoint(svc selector.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(releaseRequestDTO)

		if err := svc.Release(ctx, req.RequestID, req.WorkerIDs); err != nil {
			return nil, err
		}

		return releaseResponseDTO{Released: len(req.WorkerIDs)}, nil
	}
}

func makeStatsEndpoint(svc selector.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ interface{}) (interface{}, error) {
		return svc.PoolStats(ctx), nil
	}
}

func makeListWorkersEndpoint(svc selector.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(listWorkersRequestDTO)

		return svc.Workers(ctx, req.Offset, req.Limit), nil
	}
}

func makeGetWorkerEndpoint(svc selector.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(getWorkerRequestDTO)

		return svc.GetWorker(ctx, req.WorkerID)
	}
}
