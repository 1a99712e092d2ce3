package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/metrics"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
)

// ProgressFunc is called after every batch item.
type ProgressFunc func(done, total int)

// BatchRequest describes one bounded batch.
type BatchRequest struct {
	Progress   ProgressFunc  `json:"-"`
	Kind       model.JobKind `json:"kind"`
	EmployeeID string        `json:"employee_id,omitempty"`
	Limit      int           `json:"limit,omitempty"`
}

// Validate checks that the request names a known kind and its target.
func (r BatchRequest) Validate() error {
	switch r.Kind {
	case model.JobAnalyzeEmployee:
		if r.EmployeeID == "" {
			return &common.ConfigurationError{Field: "employee_id", Reason: "required for " + string(r.Kind)}
		}
	case model.JobAnalyzePending, model.JobEvaluateEmployees:
	default:
		return &common.ConfigurationError{Field: "kind", Reason: fmt.Sprintf("unknown batch kind %q", r.Kind)}
	}
	if r.Limit < 0 {
		return &common.ConfigurationError{Field: "limit", Reason: "must not be negative"}
	}
	return nil
}

// BatchStore is the persistence a batch run reads from.
type BatchStore interface {
	GetEmployee(ctx context.Context, id string) (*model.Employee, error)
	ListCommunications(ctx context.Context, filter service.CommunicationFilter) ([]model.Communication, error)
	Ping(ctx context.Context) error
}

// EmployeeRecomputer refreshes employee risk profiles.
type EmployeeRecomputer interface {
	Recompute(ctx context.Context, employeeID string) (*model.EmployeeRiskProfile, error)
	RecomputeAll(ctx context.Context) (*service.BatchSummary, error)
}

// BatchRunner processes batches as a sequence of independent
// per-communication analyses.
type BatchRunner struct {
	analyzer *Analyzer
	store    BatchStore
	risk     EmployeeRecomputer
	logger   *slog.Logger
	cfg      Config
}

// NewBatchRunner creates a batch runner.
func NewBatchRunner(analyzer *Analyzer, store BatchStore, risk EmployeeRecomputer, cfg Config, logger *slog.Logger) *BatchRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchRunner{
		analyzer: analyzer,
		store:    store,
		risk:     risk,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Run executes req. Per-item failures are recorded in the summary; only a
// failure to reach storage at all aborts the batch. Cancellation is checked
// between items and never discards overlays that were already written.
func (b *BatchRunner) Run(ctx context.Context, req BatchRequest) (*service.BatchSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Kind == model.JobEvaluateEmployees {
		return b.risk.RecomputeAll(ctx)
	}

	start := time.Now()
	comms, err := b.selectCommunications(ctx, req)
	if err != nil {
		return nil, err
	}

	snapshot, err := b.analyzer.categories.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	b.logger.Debug("batch started",
		"kind", req.Kind,
		"items", len(comms),
		"categories", snapshot.Len(),
		"snapshot_loaded_at", snapshot.LoadedAt())

	summary := &service.BatchSummary{Total: len(comms)}
	affected := make(map[string]struct{})

	for i := range comms {
		if ctx.Err() != nil {
			summary.Canceled = true
			break
		}

		comm := &comms[i]
		outcome, err := b.analyzer.AnalyzeWithSnapshot(ctx, snapshot, comm.ID)
		if outcome != nil {
			affected[comm.EmployeeID] = struct{}{}
		}
		switch {
		case err == nil:
			summary.Succeeded++
			if outcome.Verdict.Flagged {
				summary.Flagged++
			}
			metrics.BatchItemsTotal.WithLabelValues("succeeded").Inc()
		case ctx.Err() != nil:
			summary.Canceled = true
		default:
			if pingErr := b.store.Ping(ctx); pingErr != nil {
				summary.Duration = time.Since(start)
				return summary, fmt.Errorf("storage unavailable, batch aborted after %d items: %w", i, pingErr)
			}
			summary.Failed++
			summary.Failures = append(summary.Failures, model.ItemFailure{ItemID: comm.ID, Error: err.Error()})
			metrics.BatchItemsTotal.WithLabelValues("failed").Inc()
			b.logger.Error("failed to analyze communication",
				"communication_id", comm.ID,
				"employee_id", comm.EmployeeID,
				"error", err)
		}

		if summary.Canceled {
			break
		}
		if req.Progress != nil {
			req.Progress(i+1, len(comms))
		}
	}

	b.recomputeAffected(ctx, affected)

	summary.Duration = time.Since(start)
	b.logger.Info("batch finished",
		"kind", req.Kind,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"flagged", summary.Flagged,
		"canceled", summary.Canceled)
	return summary, nil
}

func (b *BatchRunner) selectCommunications(ctx context.Context, req BatchRequest) ([]model.Communication, error) {
	limit := req.Limit
	if limit == 0 {
		limit = b.cfg.BatchSize
	}

	filter := service.CommunicationFilter{Limit: limit}
	switch req.Kind {
	case model.JobAnalyzeEmployee:
		if _, err := b.store.GetEmployee(ctx, req.EmployeeID); err != nil {
			return nil, err
		}
		filter.EmployeeID = req.EmployeeID
	case model.JobAnalyzePending:
		filter.OnlyUnanalyzed = true
	}

	comms, err := b.store.ListCommunications(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to select communications: %w", err)
	}
	return comms, nil
}

// recomputeAffected runs after every overlay of the batch is persisted. It
// detaches from cancellation so profiles reflect the overlays written before
// a cancel.
func (b *BatchRunner) recomputeAffected(ctx context.Context, affected map[string]struct{}) {
	ids := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if _, err := b.risk.Recompute(ctx, id); err != nil && !errors.Is(err, common.ErrNotFound) {
			b.logger.Error("failed to recompute employee risk", "employee_id", id, "error", err)
		}
	}
}
