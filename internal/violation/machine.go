// Package violation manages the lifecycle of violations: creation, status
// transitions with an append-only audit trail, and the advisory AI review.
package violation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/metrics"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
	"github.com/google/uuid"
)

// Assessment is the advisory output of an AI review.
type Assessment struct {
	Reasoning         string
	RecommendedStatus model.ViolationStatus
	Score             float64
}

// Assessor scores a violation's evidence without changing it.
type Assessor interface {
	Assess(ctx context.Context, v *model.Violation) (Assessment, error)
}

// RiskRecomputer refreshes an employee's aggregated risk.
type RiskRecomputer interface {
	Recompute(ctx context.Context, employeeID string) (*model.EmployeeRiskProfile, error)
}

// Store is the persistence the state machine needs.
type Store interface {
	service.ViolationStore
	GetEmployee(ctx context.Context, id string) (*model.Employee, error)
}

// CreateRequest describes a new violation.
type CreateRequest struct {
	StructuredEvidence map[string]any
	Metadata           map[string]any
	Evidence           []string
	EmployeeID         string
	Type               string
	Description        string
	CommunicationID    string
	Actor              string
	Severity           model.Severity
	Source             model.ViolationSource
	CategoryID         int
	// DeferRiskRecompute leaves the employee risk refresh to the caller,
	// which recomputes once its own writes are complete.
	DeferRiskRecompute bool
}

// TransitionRequest moves a violation to Target. ExpectedVersion, when set,
// makes the caller's view of the violation part of the precondition.
type TransitionRequest struct {
	AIConfidence    *float64
	ExpectedVersion *int
	Target          model.ViolationStatus
	Reason          string
	Actor           string
	AIAssisted      bool
}

// Machine is the violation state machine.
type Machine struct {
	store      Store
	assessor   Assessor
	recomputer RiskRecomputer
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithAssessor enables the AI validation side channel.
func WithAssessor(a Assessor) Option {
	return func(m *Machine) { m.assessor = a }
}

// WithRiskRecomputer refreshes employee risk after every change.
func WithRiskRecomputer(r RiskRecomputer) Option {
	return func(m *Machine) { m.recomputer = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a state machine over store.
func NewMachine(store Store, opts ...Option) *Machine {
	m := &Machine{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create records a new Active violation.
func (m *Machine) Create(ctx context.Context, req CreateRequest) (*model.Violation, error) {
	if strings.TrimSpace(req.EmployeeID) == "" {
		return nil, common.NewUserError("employee id is required", nil)
	}
	if strings.TrimSpace(req.Type) == "" {
		return nil, common.NewUserError("violation type is required", nil)
	}
	if !req.Severity.IsValid() {
		return nil, common.NewUserError(fmt.Sprintf("unknown severity %q", req.Severity), nil)
	}
	if _, err := m.store.GetEmployee(ctx, req.EmployeeID); err != nil {
		return nil, err
	}

	source := req.Source
	if source == "" {
		source = model.SourceManual
	}

	now := m.now()
	metadata := copyMap(req.Metadata)
	if req.Actor != "" {
		metadata["created_by"] = req.Actor
	}

	v := &model.Violation{
		ID:                 uuid.New(),
		EmployeeID:         req.EmployeeID,
		Type:               req.Type,
		Severity:           req.Severity,
		Status:             model.StatusActive,
		Source:             source,
		Description:        req.Description,
		Evidence:           append([]string(nil), req.Evidence...),
		StructuredEvidence: req.StructuredEvidence,
		Metadata:           metadata,
		CommunicationID:    req.CommunicationID,
		CategoryID:         req.CategoryID,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}

	if err := m.store.CreateViolation(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to create violation: %w", err)
	}

	m.logger.Info("violation created",
		"violation_id", v.ID,
		"employee_id", v.EmployeeID,
		"severity", v.Severity,
		"source", v.Source)

	if !req.DeferRiskRecompute {
		m.recompute(ctx, v.EmployeeID)
	}
	return v, nil
}

// Transition moves a violation to a new status and appends one history row.
// A lost race against another writer returns *common.ConflictError.
func (m *Machine) Transition(ctx context.Context, id uuid.UUID, req TransitionRequest) (*model.Violation, *model.ViolationStatusHistory, error) {
	if !req.Target.IsValid() {
		return nil, nil, fmt.Errorf("%w: unknown status %q", common.ErrInvalidTransition, req.Target)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, nil, fmt.Errorf("%w: a reason is required", common.ErrInvalidTransition)
	}
	if req.AIConfidence != nil && (*req.AIConfidence < 0 || *req.AIConfidence > 100) {
		return nil, nil, fmt.Errorf("%w: AI confidence %v outside [0,100]", common.ErrInvalidTransition, *req.AIConfidence)
	}
	if req.AIConfidence != nil && !req.AIAssisted {
		return nil, nil, fmt.Errorf("%w: AI confidence given for a manual transition", common.ErrInvalidTransition)
	}

	v, err := m.store.GetViolation(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	expected := v.Version
	if req.ExpectedVersion != nil && *req.ExpectedVersion != v.Version {
		return nil, nil, &common.ConflictError{ID: id.String(), ExpectedVersion: *req.ExpectedVersion, ActualVersion: v.Version}
	}
	if v.Status == req.Target {
		return nil, nil, fmt.Errorf("%w: violation is already %s", common.ErrInvalidTransition, v.Status)
	}

	now := m.now()
	previous := v.Status
	v.Status = req.Target
	v.UpdatedAt = now
	switch {
	case req.Target == model.StatusResolved:
		v.ResolvedAt = &now
	case previous == model.StatusResolved:
		v.ResolvedAt = nil
	}

	if v.Metadata == nil {
		v.Metadata = make(map[string]any)
	}
	v.Metadata["last_transition_at"] = now.UTC().Format(time.RFC3339)
	v.Metadata["last_transition_reason"] = reason
	if req.Actor != "" {
		v.Metadata["last_transition_by"] = req.Actor
	}

	entry := &model.ViolationStatusHistory{
		ViolationID:    id,
		PreviousStatus: previous,
		NewStatus:      req.Target,
		Reason:         reason,
		Actor:          req.Actor,
		AIAssisted:     req.AIAssisted,
		AIConfidence:   req.AIConfidence,
		CreatedAt:      now,
	}

	if err := m.store.UpdateViolationStatus(ctx, v, expected, entry); err != nil {
		var conflict *common.ConflictError
		if errors.As(err, &conflict) {
			m.logger.Warn("violation transition lost a concurrent update",
				"violation_id", id,
				"expected_version", expected)
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to transition violation: %w", err)
	}

	metrics.ViolationTransitionsTotal.WithLabelValues(string(previous), string(req.Target)).Inc()
	m.logger.Info("violation transitioned",
		"violation_id", id,
		"from", previous,
		"to", req.Target,
		"ai_assisted", req.AIAssisted)

	m.recompute(ctx, v.EmployeeID)
	return v, entry, nil
}

// Assess runs the AI validation side channel and stores its verdict on the
// violation. It never transitions; a failed review is recorded as
// manual_override instead of being returned as an error.
func (m *Machine) Assess(ctx context.Context, id uuid.UUID) (*model.Violation, error) {
	v, err := m.store.GetViolation(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now()
	validation := model.AIValidation{
		Status:      model.AIValidationManualOverride,
		ValidatedAt: &now,
	}

	switch {
	case m.assessor == nil:
		validation.Reasoning = "AI validation is not configured"
	default:
		result, assessErr := m.assessor.Assess(ctx, v)
		switch {
		case assessErr != nil:
			validation.Reasoning = fmt.Sprintf("AI validation unavailable: %v", assessErr)
			m.logger.Warn("AI validation failed, manual review required",
				"violation_id", id,
				"error", assessErr)
		case !result.RecommendedStatus.IsValid():
			validation.Reasoning = fmt.Sprintf("AI validation returned unknown status %q", result.RecommendedStatus)
		default:
			validation.Status = model.AIValidationValidated
			validation.Score = result.Score
			validation.Reasoning = result.Reasoning
			validation.RecommendedStatus = result.RecommendedStatus
		}
	}

	if err := m.store.SaveAIValidation(ctx, id, validation); err != nil {
		return nil, fmt.Errorf("failed to save AI validation: %w", err)
	}
	v.AIValidation = &validation

	m.logger.Info("violation assessed",
		"violation_id", id,
		"ai_validation_status", validation.Status,
		"recommended_status", validation.RecommendedStatus)
	return v, nil
}

// History returns the transition audit trail, oldest first.
func (m *Machine) History(ctx context.Context, id uuid.UUID) ([]model.ViolationStatusHistory, error) {
	if _, err := m.store.GetViolation(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListViolationHistory(ctx, id)
}

// Get returns one violation.
func (m *Machine) Get(ctx context.Context, id uuid.UUID) (*model.Violation, error) {
	return m.store.GetViolation(ctx, id)
}

// List returns violations matching filter.
func (m *Machine) List(ctx context.Context, filter service.ViolationFilter) ([]model.Violation, error) {
	return m.store.ListViolations(ctx, filter)
}

func (m *Machine) recompute(ctx context.Context, employeeID string) {
	if m.recomputer == nil {
		return
	}
	if _, err := m.recomputer.Recompute(ctx, employeeID); err != nil {
		m.logger.Error("failed to recompute employee risk",
			"employee_id", employeeID,
			"error", err)
	}
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
