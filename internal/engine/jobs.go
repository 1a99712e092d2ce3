package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
	"github.com/google/uuid"
)

// Runner executes a batch request.
type Runner interface {
	Run(ctx context.Context, req BatchRequest) (*service.BatchSummary, error)
}

type runningJob struct {
	done   chan struct{}
	cancel context.CancelFunc
}

// JobTracker runs batches in the background and keeps a persisted status
// record for each so callers can poll instead of holding the batch open.
type JobTracker struct {
	store   service.JobStore
	runner  Runner
	logger  *slog.Logger
	running map[uuid.UUID]*runningJob
	now     func() time.Time
	mu      sync.Mutex
}

// NewJobTracker creates a job tracker.
func NewJobTracker(store service.JobStore, runner Runner, logger *slog.Logger) *JobTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobTracker{
		store:   store,
		runner:  runner,
		logger:  logger,
		running: make(map[uuid.UUID]*runningJob),
		now:     time.Now,
	}
}

// Start records a running job and executes req in a goroutine. The job
// outlives ctx; use Cancel to stop it.
func (t *JobTracker) Start(ctx context.Context, req BatchRequest) (uuid.UUID, error) {
	if err := req.Validate(); err != nil {
		return uuid.Nil, err
	}

	job := &model.Job{
		ID:        uuid.New(),
		Kind:      req.Kind,
		Target:    req.EmployeeID,
		Status:    model.JobRunning,
		StartedAt: t.now().UTC(),
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to record job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rj := &runningJob{done: make(chan struct{}), cancel: cancel}

	t.mu.Lock()
	t.running[job.ID] = rj
	t.mu.Unlock()

	t.logger.Info("job started", "job_id", job.ID, "kind", job.Kind, "target", job.Target)

	go t.run(runCtx, job, req, rj)
	return job.ID, nil
}

func (t *JobTracker) run(ctx context.Context, job *model.Job, req BatchRequest, rj *runningJob) {
	defer func() {
		rj.cancel()
		t.mu.Lock()
		delete(t.running, job.ID)
		t.mu.Unlock()
		close(rj.done)
	}()

	summary, err := t.runner.Run(ctx, req)

	completed := t.now().UTC()
	job.CompletedAt = &completed
	if summary != nil {
		job.Total = summary.Total
		job.Succeeded = summary.Succeeded
		job.Failed = summary.Failed
		job.Failures = summary.Failures
	}

	switch {
	case err != nil:
		job.Status = model.JobFailed
		job.Error = err.Error()
	case summary != nil && summary.Canceled:
		job.Status = model.JobFailed
		job.Error = "canceled"
	default:
		job.Status = model.JobCompleted
	}

	if err := t.store.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		t.logger.Error("failed to record job result", "job_id", job.ID, "error", err)
		return
	}
	t.logger.Info("job finished",
		"job_id", job.ID,
		"status", job.Status,
		"succeeded", job.Succeeded,
		"failed", job.Failed)
}

// Cancel stops a running job between items. It reports whether the job was
// still running.
func (t *JobTracker) Cancel(id uuid.UUID) bool {
	t.mu.Lock()
	rj, ok := t.running[id]
	t.mu.Unlock()
	if ok {
		rj.cancel()
	}
	return ok
}

// Wait blocks until the job finishes or ctx is done, then returns its record.
func (t *JobTracker) Wait(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	t.mu.Lock()
	rj, ok := t.running[id]
	t.mu.Unlock()

	if ok {
		select {
		case <-rj.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return t.store.GetJob(ctx, id)
}

// Get returns the current record of a job.
func (t *JobTracker) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return t.store.GetJob(ctx, id)
}
