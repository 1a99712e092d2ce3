package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Veraticus/tripwire/internal/category"
	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/detection"
	"github.com/Veraticus/tripwire/internal/metrics"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/violation"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// AnalyzerStore is the persistence a single analysis pass needs.
type AnalyzerStore interface {
	detection.FrequencyCounter
	GetCommunication(ctx context.Context, id string) (*model.Communication, error)
	GetEmployee(ctx context.Context, id string) (*model.Employee, error)
	SaveAnalysis(ctx context.Context, communicationID string, analysis model.Analysis, results []model.DetectionResult) error
	FindOpenViolation(ctx context.Context, communicationID string, categoryID int) (*model.Violation, error)
}

// SnapshotSource provides the active category snapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*category.Snapshot, error)
}

// ViolationCreator raises violations for detections that need investigating.
type ViolationCreator interface {
	Create(ctx context.Context, req violation.CreateRequest) (*model.Violation, error)
}

// AnalysisOutcome is everything one analysis pass produced.
type AnalysisOutcome struct {
	EmployeeID string
	Results    []model.DetectionResult
	Violations []*model.Violation
	Verdict    Verdict
	Analysis   model.Analysis
	RunID      uuid.UUID
}

// Degraded reports whether any category fell back to a keyword-only result
// because the language-model fallback could not run.
func (o *AnalysisOutcome) Degraded() bool {
	for i := range o.Results {
		if o.Results[i].Degraded {
			return true
		}
	}
	return false
}

// Analyzer runs every active category against a communication and persists
// the verdict.
type Analyzer struct {
	store      AnalyzerStore
	categories SnapshotSource
	violations ViolationCreator
	risk       violation.RiskRecomputer
	detector   *detection.Detector
	scorer     *detection.Scorer
	contexts   *detection.ContextBuilder
	logger     *slog.Logger
	now        func() time.Time
	cfg        Config
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithViolationCreator enables automatic violations for detections that
// reach the investigation threshold.
func WithViolationCreator(v ViolationCreator) AnalyzerOption {
	return func(a *Analyzer) { a.violations = v }
}

// WithRiskRecomputer refreshes the employee's risk profile after every
// AnalyzeCommunication call. Batches recompute on their own once all
// overlays are written.
func WithRiskRecomputer(r violation.RiskRecomputer) AnalyzerOption {
	return func(a *Analyzer) { a.risk = r }
}

// WithAnalyzerClock overrides the time source.
func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer. A nil classifier runs keyword-only.
func NewAnalyzer(
	store AnalyzerStore,
	categories SnapshotSource,
	classifier detection.TextClassifier,
	detectionCfg detection.Config,
	cfg Config,
	logger *slog.Logger,
	opts ...AnalyzerOption,
) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Analyzer{
		store:      store,
		categories: categories,
		detector:   detection.NewDetector(classifier, logger, detectionCfg),
		scorer:     detection.NewScorer(detectionCfg),
		contexts:   detection.NewContextBuilder(store, detectionCfg),
		logger:     logger,
		now:        time.Now,
		cfg:        cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeCommunication analyzes one communication against a freshly loaded
// category snapshot, then refreshes the sender's risk profile.
func (a *Analyzer) AnalyzeCommunication(ctx context.Context, id string) (*AnalysisOutcome, error) {
	snapshot, err := a.categories.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	outcome, err := a.AnalyzeWithSnapshot(ctx, snapshot, id)
	if outcome != nil {
		a.recomputeRisk(ctx, outcome.EmployeeID)
	}
	return outcome, err
}

// AnalyzeWithSnapshot analyzes one communication against snapshot. The
// detection results and the overlay are written in one transaction, so a
// canceled or failed pass leaves the previous overlay intact. It never
// recomputes employee risk; a non-nil outcome means the overlay was written.
func (a *Analyzer) AnalyzeWithSnapshot(ctx context.Context, snapshot *category.Snapshot, id string) (*AnalysisOutcome, error) {
	start := time.Now()
	outcome, err := a.analyze(ctx, snapshot, id)
	metrics.AnalysisDurationSeconds.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeError).Inc()
	case outcome.Verdict.Flagged:
		metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeFlagged).Inc()
	default:
		metrics.AnalysesTotal.WithLabelValues(metrics.OutcomeClean).Inc()
	}
	return outcome, err
}

func (a *Analyzer) analyze(ctx context.Context, snapshot *category.Snapshot, id string) (*AnalysisOutcome, error) {
	if snapshot == nil || snapshot.Len() == 0 {
		return nil, common.ErrNoCategories
	}

	comm, err := a.store.GetCommunication(ctx, id)
	if err != nil {
		return nil, err
	}
	employee, err := a.store.GetEmployee(ctx, comm.EmployeeID)
	if err != nil {
		return nil, err
	}

	riskCtx, err := a.contexts.Build(ctx, comm, employee)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	categories := snapshot.Categories()
	results := make([]model.DetectionResult, len(categories))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.CategoryWorkers)
	for i, cat := range categories {
		g.Go(func() error {
			skeleton := a.detector.Detect(gctx, comm, cat)
			scored := a.scorer.Score(skeleton, cat, riskCtx)
			scored.RunID = runID
			results[i] = scored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Fallback calls degrade on cancellation; never persist those.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis of %s canceled: %w", id, err)
	}

	verdict, err := Aggregate(results)
	if err != nil {
		return nil, err
	}

	analysis := model.Analysis{
		AnalyzedAt:      a.now().UTC(),
		RiskScore:       int(math.Round(verdict.Score)),
		RiskFlags:       riskFlags(results),
		Category:        verdict.Category(),
		AnalyzerVersion: a.cfg.AnalyzerVersion,
		IsAnalyzed:      true,
		IsFlagged:       verdict.Flagged,
	}

	if err := a.store.SaveAnalysis(ctx, comm.ID, analysis, results); err != nil {
		return nil, fmt.Errorf("failed to save analysis of %s: %w", comm.ID, err)
	}

	// Aggregate pointed into results before SaveAnalysis filled in the IDs;
	// the slice is unchanged, so the pointer still holds.
	outcome := &AnalysisOutcome{
		EmployeeID: comm.EmployeeID,
		RunID:      runID,
		Results:    results,
		Verdict:    verdict,
		Analysis:   analysis,
	}

	for i := range results {
		recordTier(&results[i])
	}

	a.logger.Info("communication analyzed",
		"communication_id", comm.ID,
		"employee_id", comm.EmployeeID,
		"risk_score", analysis.RiskScore,
		"category", analysis.Category,
		"flagged", analysis.IsFlagged,
		"degraded", outcome.Degraded())

	if a.cfg.AutoViolations && a.violations != nil {
		for i := range results {
			if !results[i].TriggersInvestigation {
				continue
			}
			v, err := a.raiseViolation(ctx, comm, &results[i])
			if err != nil {
				return outcome, err
			}
			if v != nil {
				outcome.Violations = append(outcome.Violations, v)
			}
		}
	}

	return outcome, nil
}

// raiseViolation opens a violation for a detection unless one is already
// open for the same communication and category.
func (a *Analyzer) raiseViolation(ctx context.Context, comm *model.Communication, result *model.DetectionResult) (*model.Violation, error) {
	existing, err := a.store.FindOpenViolation(ctx, comm.ID, result.CategoryID)
	switch {
	case err == nil:
		a.logger.Debug("open violation already exists",
			"communication_id", comm.ID,
			"category_id", result.CategoryID,
			"violation_id", existing.ID)
		return nil, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, fmt.Errorf("failed to look up open violation: %w", err)
	}

	evidence := result.KeywordTexts()
	for _, g := range result.PatternMatches {
		evidence = append(evidence, "pattern:"+string(g))
	}
	if result.Method == model.MethodLLM && result.Reasoning != "" {
		evidence = append(evidence, result.Reasoning)
	}

	v, err := a.violations.Create(ctx, violation.CreateRequest{
		EmployeeID:      comm.EmployeeID,
		Type:            result.CategoryName,
		Severity:        result.Severity,
		Source:          model.SourceDetection,
		CommunicationID: comm.ID,
		CategoryID:      result.CategoryID,
		Actor:           a.cfg.AnalyzerVersion,
		Description: fmt.Sprintf("Communication %q scored %.0f for %s",
			comm.Subject, math.Round(result.FinalRiskScore), result.CategoryName),
		Evidence: evidence,
		StructuredEvidence: map[string]any{
			"run_id":              result.RunID.String(),
			"final_risk_score":    math.Round(result.FinalRiskScore),
			"confidence":          result.Confidence,
			"applied_multipliers": result.AppliedMultipliers,
			"triggers_critical":   result.TriggersCritical,
			"analysis_method":     string(result.Method),
		},
		DeferRiskRecompute: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to raise violation for %s: %w", comm.ID, err)
	}
	return v, nil
}

// recomputeRisk refreshes one employee's profile. The overlay is already
// stored, so a failure here is logged rather than returned.
func (a *Analyzer) recomputeRisk(ctx context.Context, employeeID string) {
	if a.risk == nil {
		return
	}
	if _, err := a.risk.Recompute(context.WithoutCancel(ctx), employeeID); err != nil {
		a.logger.Error("failed to recompute employee risk",
			"employee_id", employeeID,
			"error", err)
	}
}

// riskFlags summarizes every category that scored above zero.
func riskFlags(results []model.DetectionResult) []model.RiskFlag {
	flags := []model.RiskFlag{}
	for i := range results {
		r := &results[i]
		if r.FinalRiskScore <= 0 {
			continue
		}
		flags = append(flags, model.RiskFlag{
			CategoryID:            r.CategoryID,
			CategoryName:          r.CategoryName,
			Severity:              r.Severity,
			MatchedKeywords:       r.KeywordTexts(),
			FinalRiskScore:        math.Round(r.FinalRiskScore),
			TriggersAlert:         r.TriggersAlert,
			TriggersInvestigation: r.TriggersInvestigation,
			TriggersCritical:      r.TriggersCritical,
		})
	}
	return flags
}

func recordTier(r *model.DetectionResult) {
	switch {
	case r.TriggersCritical:
		metrics.DetectionsTriggeredTotal.WithLabelValues("critical").Inc()
	case r.TriggersInvestigation:
		metrics.DetectionsTriggeredTotal.WithLabelValues("investigation").Inc()
	case r.TriggersAlert:
		metrics.DetectionsTriggeredTotal.WithLabelValues("alert").Inc()
	}
}
