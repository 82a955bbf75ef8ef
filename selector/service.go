package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pkgerrors "github.com/flotilla-dev/flotilla/pkg/errors"
	"github.com/flotilla-dev/flotilla/pkg/metrics"
	"github.com/flotilla-dev/flotilla/pkg/mqtt"
	"github.com/flotilla-dev/flotilla/pkg/pool"
	"github.com/flotilla-dev/flotilla/pkg/workload"
	"github.com/flotilla-dev/flotilla/task"
	"github.com/flotilla-dev/flotilla/worker"
	"github.com/google/uuid"
)

// Result is the structured outcome of one acquisition. PartiallyAssigned
// is a valid terminal state and is carried explicitly, never inferred.
type Result struct {
	RequestID string                `json:"request_id"`
	Status    State                 `json:"status"`
	Requested int                   `json:"requested"`
	Assigned  []pool.AcquiredWorker `json:"assigned"`
	Spawned   int                   `json:"spawned"`
}

// Service is the public entry point of the engine: it answers which
// workers should handle a task. It is stateless across requests; all
// durable state lives in the pool manager, registry and monitor.
type Service interface {
	Acquire(ctx context.Context, req task.Request) (Result, error)
	Release(ctx context.Context, requestID string, workerIDs []string) error
	PoolStats(ctx context.Context) pool.Stats
	Optimize(ctx context.Context) pool.OptimizationReport
	Workers(ctx context.Context, offset, limit uint64) worker.Page
	GetWorker(ctx context.Context, workerID string) (worker.Worker, error)
	HandleCompletionReport(topic string, msg map[string]any) error
}

type service struct {
	manager   *pool.Manager
	monitor   *workload.Monitor
	pubsub    mqtt.PubSub
	baseTopic string
	sm        stateMachine
	logger    *slog.Logger
}

// New builds the orchestrator. pubsub may be nil when no broker is
// wired in; assignment events are then not emitted.
func New(manager *pool.Manager, monitor *workload.Monitor, pubsub mqtt.PubSub, baseTopic string, logger *slog.Logger) Service {
	return &service{
		manager:   manager,
		monitor:   monitor,
		pubsub:    pubsub,
		baseTopic: baseTopic,
		logger:    logger,
	}
}

func (svc *service) Acquire(ctx context.Context, req task.Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	started := time.Now()
	state := Received
	result := Result{RequestID: req.ID, Requested: req.MaxWorkers}

	candidates, err := svc.manager.Rank(req)
	if err != nil {
		return svc.finish(result, started, Failed), err
	}
	svc.mustTransition(&state, CandidatesFound)
	svc.mustTransition(&state, Scored)

	if req.PreferReuse {
		result.Assigned = svc.manager.Reserve(req.ID, req, candidates, req.MaxWorkers)
		if len(result.Assigned) > 0 {
			svc.mustTransition(&state, Reserved)
		}
	}

	if missing := req.MaxWorkers - len(result.Assigned); missing > 0 {
		svc.mustTransition(&state, Spawning)

		spawned, err := svc.manager.Spawn(ctx, req.ID, req, missing)
		result.Assigned = append(result.Assigned, spawned...)
		result.Spawned = len(spawned)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				svc.rollback(req.ID, result.Assigned)

				return svc.finish(Result{RequestID: req.ID, Requested: req.MaxWorkers}, started, Failed), ctxErr
			}
			svc.logger.Warn("spawn degraded acquisition",
				slog.String("request_id", req.ID),
				slog.Int("assigned", len(result.Assigned)),
				slog.Int("requested", req.MaxWorkers),
				slog.Any("error", err))
		}
	}

	// Requests that prefer spawning still fall back to idle workers
	// when provisioning cannot cover the full request.
	if !req.PreferReuse && len(result.Assigned) < req.MaxWorkers {
		reserved := svc.manager.Reserve(req.ID, req, candidates, req.MaxWorkers-len(result.Assigned))
		result.Assigned = append(result.Assigned, reserved...)
	}

	terminal := Failed
	switch {
	case len(result.Assigned) >= req.MaxWorkers:
		terminal = Assigned
	case len(result.Assigned) > 0:
		terminal = PartiallyAssigned
	}
	svc.mustTransition(&state, terminal)

	if terminal != Failed {
		svc.emitAssignment(ctx, req, result)
	}

	return svc.finish(result, started, terminal), nil
}

func (svc *service) finish(result Result, started time.Time, terminal State) Result {
	result.Status = terminal
	metrics.AcquisitionTotal.WithLabelValues(terminal.String()).Inc()
	metrics.AcquisitionDuration.Observe(time.Since(started).Seconds())
	svc.logger.Info("acquisition finished",
		slog.String("request_id", result.RequestID),
		slog.String("status", terminal.String()),
		slog.Int("assigned", len(result.Assigned)),
		slog.Int("requested", result.Requested))

	return result
}

// rollback releases everything a cancelled request had acquired so no
// worker is leaked in the busy state.
func (svc *service) rollback(requestID string, acquired []pool.AcquiredWorker) {
	ids := make([]string, 0, len(acquired))
	for _, a := range acquired {
		ids = append(ids, a.Worker.ID)
	}
	svc.manager.Release(requestID, ids)
	svc.logger.Info("acquisition cancelled, released reserved workers",
		slog.String("request_id", requestID),
		slog.Int("released", len(ids)))
}

func (svc *service) mustTransition(state *State, to State) {
	if err := svc.sm.transition(state, to); err != nil {
		svc.logger.Error("request state machine violation",
			slog.String("from", state.String()),
			slog.String("to", to.String()))
	}
}

func (svc *service) emitAssignment(ctx context.Context, req task.Request, result Result) {
	if svc.pubsub == nil {
		return
	}

	ids := make([]string, 0, len(result.Assigned))
	for _, a := range result.Assigned {
		ids = append(ids, a.Worker.ID)
	}
	payload := map[string]any{
		"request_id": result.RequestID,
		"task_type":  req.Type,
		"worker_ids": ids,
		"spawned":    result.Spawned,
	}
	topic := svc.baseTopic + "/events/assignment"
	if err := svc.pubsub.Publish(ctx, topic, payload); err != nil {
		svc.logger.Warn("failed to publish assignment event",
			slog.String("request_id", result.RequestID),
			slog.Any("error", err))
	}
}

func (svc *service) Release(ctx context.Context, requestID string, workerIDs []string) error {
	if requestID == "" || len(workerIDs) == 0 {
		return fmt.Errorf("release needs a request id and at least one worker id: %w", pkgerrors.ErrInvalidRequest)
	}

	svc.manager.Release(requestID, workerIDs)
	svc.logger.Info("released workers",
		slog.String("request_id", requestID),
		slog.Int("count", len(workerIDs)))

	return nil
}

func (svc *service) PoolStats(ctx context.Context) pool.Stats {
	return svc.manager.Stats()
}

func (svc *service) Optimize(ctx context.Context) pool.OptimizationReport {
	return svc.manager.Optimize()
}

func (svc *service) Workers(ctx context.Context, offset, limit uint64) worker.Page {
	return svc.manager.Workers(offset, limit)
}

func (svc *service) GetWorker(ctx context.Context, workerID string) (worker.Worker, error) {
	return svc.manager.Get(workerID)
}

// HandleCompletionReport ingests one execution-backend report from the
// broker and feeds it to the workload monitor. Reports for untracked
// assignments are counted and dropped.
func (svc *service) HandleCompletionReport(_ string, msg map[string]any) error {
	workerID, _ := msg["worker_id"].(string)
	if workerID == "" {
		return errors.New("completion report missing worker_id")
	}
	taskType, _ := msg["task_type"].(string)
	durationMS, _ := msg["duration_ms"].(float64)
	success, _ := msg["success"].(bool)

	accepted := svc.monitor.TrackCompletion(workerID, taskType, time.Duration(durationMS)*time.Millisecond, success)
	if !accepted {
		metrics.StaleReportsTotal.Inc()
	}

	return nil
}
