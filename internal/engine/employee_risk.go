package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
)

// severityScores maps an active violation's severity to its risk contribution.
var severityScores = map[model.Severity]float64{
	model.SeverityCritical: 90,
	model.SeverityHigh:     70,
	model.SeverityMedium:   50,
	model.SeverityLow:      30,
}

// EmployeeRisk is the result of ComputeEmployeeRisk.
type EmployeeRisk struct {
	CommunicationComponent *float64
	ViolationComponent     float64
	Score                  int
	Level                  model.RiskLevel
	CommunicationCount     int
	ActiveViolationCount   int
}

// ComputeEmployeeRisk combines recent communication risk with the severity
// of active violations. Communication scores are averaged with a weight of
// max(1, window-ageDays) so newer messages count more; communications outside
// the window or not yet analyzed are ignored. When either component is absent
// the other alone decides the score.
func ComputeEmployeeRisk(now time.Time, comms []model.Communication, violations []model.Violation, cfg RiskConfig) EmployeeRisk {
	cfg = cfg.withDefaults()
	window := float64(cfg.WindowDays)
	cutoff := now.Add(-time.Duration(cfg.WindowDays) * 24 * time.Hour)

	var out EmployeeRisk

	var weighted, weights float64
	for i := range comms {
		c := &comms[i]
		if !c.Analysis.IsAnalyzed || c.SentAt.Before(cutoff) || c.SentAt.After(now) {
			continue
		}
		ageDays := math.Floor(now.Sub(c.SentAt).Hours() / 24)
		w := math.Max(1, window-ageDays)
		weighted += w * float64(c.Analysis.RiskScore)
		weights += w
		out.CommunicationCount++
	}
	if weights > 0 {
		component := weighted / weights
		out.CommunicationComponent = &component
	}

	var violationSum float64
	for i := range violations {
		v := &violations[i]
		if v.Status != model.StatusActive && v.Status != model.StatusInvestigating {
			continue
		}
		violationSum += severityScores[v.Severity]
		out.ActiveViolationCount++
	}
	if out.ActiveViolationCount > 0 {
		out.ViolationComponent = violationSum / float64(out.ActiveViolationCount)
	}

	var score float64
	switch {
	case out.CommunicationComponent != nil && out.ActiveViolationCount > 0:
		comm := *out.CommunicationComponent
		total := cfg.CommunicationWeight + cfg.ViolationWeight
		score = (cfg.CommunicationWeight*comm + cfg.ViolationWeight*out.ViolationComponent) / total
	case out.CommunicationComponent != nil:
		score = *out.CommunicationComponent
	default:
		score = out.ViolationComponent
	}

	out.Score = int(math.Round(math.Max(0, math.Min(100, score))))
	out.Level = model.LevelForScore(out.Score)
	return out
}

// RiskStore is the persistence the employee risk aggregator needs.
type RiskStore interface {
	GetEmployee(ctx context.Context, id string) (*model.Employee, error)
	ListEmployees(ctx context.Context, activeOnly bool) ([]model.Employee, error)
	ListCommunications(ctx context.Context, filter service.CommunicationFilter) ([]model.Communication, error)
	ListViolations(ctx context.Context, filter service.ViolationFilter) ([]model.Violation, error)
	SaveRiskProfile(ctx context.Context, profile *model.EmployeeRiskProfile) error
}

// RiskAggregator recomputes and stores employee risk profiles.
type RiskAggregator struct {
	store  RiskStore
	logger *slog.Logger
	now    func() time.Time
	cfg    RiskConfig
}

// NewRiskAggregator creates a risk aggregator.
func NewRiskAggregator(store RiskStore, cfg RiskConfig, logger *slog.Logger) *RiskAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskAggregator{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Recompute rebuilds one employee's risk profile from stored state. It is
// idempotent: the same stored inputs always produce the same profile.
func (r *RiskAggregator) Recompute(ctx context.Context, employeeID string) (*model.EmployeeRiskProfile, error) {
	if _, err := r.store.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	since := now.Add(-time.Duration(r.cfg.WindowDays) * 24 * time.Hour)
	comms, err := r.store.ListCommunications(ctx, service.CommunicationFilter{
		EmployeeID:   employeeID,
		Since:        &since,
		OnlyAnalyzed: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load communications: %w", err)
	}

	violations, err := r.store.ListViolations(ctx, service.ViolationFilter{
		EmployeeID: employeeID,
		Statuses:   []model.ViolationStatus{model.StatusActive, model.StatusInvestigating},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load violations: %w", err)
	}

	risk := ComputeEmployeeRisk(now, comms, violations, r.cfg)
	profile := &model.EmployeeRiskProfile{
		EmployeeID:             employeeID,
		RiskScore:              risk.Score,
		RiskLevel:              risk.Level,
		CommunicationComponent: risk.CommunicationComponent,
		ViolationComponent:     risk.ViolationComponent,
		CommunicationCount:     risk.CommunicationCount,
		ActiveViolationCount:   risk.ActiveViolationCount,
		LastUpdated:            now,
	}
	if err := r.store.SaveRiskProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save risk profile: %w", err)
	}

	r.logger.Debug("employee risk recomputed",
		"employee_id", employeeID,
		"risk_score", profile.RiskScore,
		"risk_level", profile.RiskLevel)
	return profile, nil
}

// RecomputeAll refreshes every active employee and returns a per-item tally.
func (r *RiskAggregator) RecomputeAll(ctx context.Context) (*service.BatchSummary, error) {
	start := time.Now()
	employees, err := r.store.ListEmployees(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}

	summary := &service.BatchSummary{Total: len(employees)}
	for _, e := range employees {
		if ctx.Err() != nil {
			summary.Canceled = true
			break
		}
		if _, err := r.Recompute(ctx, e.ID); err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, model.ItemFailure{ItemID: e.ID, Error: err.Error()})
			r.logger.Error("failed to recompute employee risk", "employee_id", e.ID, "error", err)
			continue
		}
		summary.Succeeded++
	}
	summary.Duration = time.Since(start)
	return summary, nil
}
