package violation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
	"github.com/Veraticus/tripwire/internal/storage"
	"github.com/Veraticus/tripwire/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []model.ViolationStatus{
	model.StatusActive,
	model.StatusInvestigating,
	model.StatusFalsePositive,
	model.StatusResolved,
}

type fakeRecomputer struct {
	calls []string
	mu    sync.Mutex
}

func (f *fakeRecomputer) Recompute(_ context.Context, employeeID string) (*model.EmployeeRiskProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, employeeID)
	return &model.EmployeeRiskProfile{EmployeeID: employeeID}, nil
}

type fakeAssessor struct {
	err    error
	result Assessment
}

func (f fakeAssessor) Assess(_ context.Context, _ *model.Violation) (Assessment, error) {
	return f.result, f.err
}

func newTestMachine(t *testing.T, opts ...Option) (*Machine, *storage.SQLiteStorage) {
	t.Helper()
	store := testutil.SetupTestDBWithOptions(t, testutil.TestDBOptions{Employees: []string{"e1"}}).Storage

	clock := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		}),
	}
	return NewMachine(store, append(base, opts...)...), store
}

func createViolation(t *testing.T, m *Machine) *model.Violation {
	t.Helper()
	v, err := m.Create(context.Background(), CreateRequest{
		EmployeeID:  "e1",
		Type:        "Data Exfiltration",
		Description: "Forwarded confidential files",
		Severity:    model.SeverityHigh,
		Source:      model.SourceDetection,
		Evidence:    []string{"confidential"},
		Actor:       "tripwire",
	})
	require.NoError(t, err)
	return v
}

func TestMachine_Create(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	v := createViolation(t, m)
	assert.Equal(t, model.StatusActive, v.Status)
	assert.Equal(t, 1, v.Version)
	assert.Equal(t, "tripwire", v.Metadata["created_by"])

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{name: "missing employee id", req: CreateRequest{Type: "x", Severity: model.SeverityLow}},
		{name: "missing type", req: CreateRequest{EmployeeID: "e1", Severity: model.SeverityLow}},
		{name: "unknown severity", req: CreateRequest{EmployeeID: "e1", Type: "x", Severity: "Extreme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(ctx, tt.req)
			var userErr *common.UserError
			assert.ErrorAs(t, err, &userErr)
		})
	}

	t.Run("unknown employee", func(t *testing.T) {
		_, err := m.Create(ctx, CreateRequest{EmployeeID: "ghost", Type: "x", Severity: model.SeverityLow})
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestMachine_TransitionClosure(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			if from == to {
				continue
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				v := createViolation(t, m)
				wantRows := 0
				if from != model.StatusActive {
					_, _, err := m.Transition(ctx, v.ID, TransitionRequest{Target: from, Reason: "setup"})
					require.NoError(t, err)
					wantRows++
				}

				updated, entry, err := m.Transition(ctx, v.ID, TransitionRequest{Target: to, Reason: "analyst review", Actor: "alice"})
				require.NoError(t, err)
				wantRows++

				assert.Equal(t, to, updated.Status)
				assert.Equal(t, from, entry.PreviousStatus)
				assert.Equal(t, to, entry.NewStatus)
				assert.Equal(t, wantRows+1, updated.Version)

				if to == model.StatusResolved {
					assert.NotNil(t, updated.ResolvedAt)
				} else {
					assert.Nil(t, updated.ResolvedAt)
				}

				history, err := m.History(ctx, v.ID)
				require.NoError(t, err)
				assert.Len(t, history, wantRows)

				stored, err := m.Get(ctx, v.ID)
				require.NoError(t, err)
				assert.Equal(t, to, stored.Status)
				assert.Equal(t, "analyst review", stored.Metadata["last_transition_reason"])
				assert.Equal(t, "alice", stored.Metadata["last_transition_by"])
			})
		}
	}
}

func TestMachine_ResolveThenReopen(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	v := createViolation(t, m)

	resolved, _, err := m.Transition(ctx, v.ID, TransitionRequest{Target: model.StatusResolved, Reason: "confirmed false alarm"})
	require.NoError(t, err)
	require.NotNil(t, resolved.ResolvedAt)

	reopened, _, err := m.Transition(ctx, v.ID, TransitionRequest{Target: model.StatusActive, Reason: "new evidence"})
	require.NoError(t, err)
	assert.Nil(t, reopened.ResolvedAt)

	stored, err := m.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ResolvedAt)

	history, err := m.History(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.StatusActive, history[0].PreviousStatus)
	assert.Equal(t, model.StatusResolved, history[0].NewStatus)
	assert.Equal(t, "confirmed false alarm", history[0].Reason)
	assert.Equal(t, model.StatusResolved, history[1].PreviousStatus)
	assert.Equal(t, model.StatusActive, history[1].NewStatus)
}

func TestMachine_TransitionRejections(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	v := createViolation(t, m)
	confidence := 80.0
	tooHigh := 150.0

	tests := []struct {
		name string
		req  TransitionRequest
	}{
		{name: "same state", req: TransitionRequest{Target: model.StatusActive, Reason: "noop"}},
		{name: "unknown state", req: TransitionRequest{Target: "Closed", Reason: "x"}},
		{name: "blank reason", req: TransitionRequest{Target: model.StatusResolved, Reason: "  "}},
		{name: "confidence out of range", req: TransitionRequest{Target: model.StatusResolved, Reason: "x", AIAssisted: true, AIConfidence: &tooHigh}},
		{name: "confidence without AI", req: TransitionRequest{Target: model.StatusResolved, Reason: "x", AIConfidence: &confidence}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := m.Transition(ctx, v.ID, tt.req)
			assert.ErrorIs(t, err, common.ErrInvalidTransition)
		})
	}

	history, err := m.History(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "rejected transitions write nothing")

	t.Run("unknown violation", func(t *testing.T) {
		_, _, err := m.Transition(ctx, uuid.New(), TransitionRequest{Target: model.StatusResolved, Reason: "x"})
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestMachine_StaleVersionConflicts(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	v := createViolation(t, m)

	seen := v.Version
	_, _, err := m.Transition(ctx, v.ID, TransitionRequest{Target: model.StatusInvestigating, Reason: "first analyst"})
	require.NoError(t, err)

	_, _, err = m.Transition(ctx, v.ID, TransitionRequest{
		Target:          model.StatusFalsePositive,
		Reason:          "second analyst",
		ExpectedVersion: &seen,
	})
	var conflict *common.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 1, conflict.ExpectedVersion)
	assert.Equal(t, 2, conflict.ActualVersion)

	stored, err := m.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInvestigating, stored.Status)
}

func TestMachine_AIAssistedTransition(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()
	v := createViolation(t, m)
	confidence := 91.5

	_, entry, err := m.Transition(ctx, v.ID, TransitionRequest{
		Target:       model.StatusInvestigating,
		Reason:       "AI recommended investigation",
		AIAssisted:   true,
		AIConfidence: &confidence,
	})
	require.NoError(t, err)
	assert.True(t, entry.AIAssisted)

	history, err := m.History(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].AIConfidence)
	assert.InDelta(t, 91.5, *history[0].AIConfidence, 1e-9)
}

func TestMachine_Assess(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		assessor   Assessor
		name       string
		wantStatus model.AIValidationStatus
		wantRec    model.ViolationStatus
	}{
		{
			name:       "no assessor configured",
			wantStatus: model.AIValidationManualOverride,
		},
		{
			name:       "assessor failure",
			assessor:   fakeAssessor{err: errors.New("timeout")},
			wantStatus: model.AIValidationManualOverride,
		},
		{
			name:       "assessor returns unknown status",
			assessor:   fakeAssessor{result: Assessment{RecommendedStatus: "Escalated", Score: 50}},
			wantStatus: model.AIValidationManualOverride,
		},
		{
			name:       "validated",
			assessor:   fakeAssessor{result: Assessment{RecommendedStatus: model.StatusFalsePositive, Score: 77, Reasoning: "newsletter"}},
			wantStatus: model.AIValidationValidated,
			wantRec:    model.StatusFalsePositive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.assessor != nil {
				opts = append(opts, WithAssessor(tt.assessor))
			}
			m, _ := newTestMachine(t, opts...)
			v := createViolation(t, m)

			assessed, err := m.Assess(ctx, v.ID)
			require.NoError(t, err)
			require.NotNil(t, assessed.AIValidation)
			assert.Equal(t, tt.wantStatus, assessed.AIValidation.Status)
			assert.Equal(t, tt.wantRec, assessed.AIValidation.RecommendedStatus)

			stored, err := m.Get(ctx, v.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusActive, stored.Status, "assessment never transitions")
			assert.Equal(t, 1, stored.Version)
			require.NotNil(t, stored.AIValidation)
			assert.Equal(t, tt.wantStatus, stored.AIValidation.Status)
		})
	}
}

func TestMachine_RecomputesEmployeeRisk(t *testing.T) {
	recomputer := &fakeRecomputer{}
	m, _ := newTestMachine(t, WithRiskRecomputer(recomputer))
	ctx := context.Background()

	v := createViolation(t, m)
	_, _, err := m.Transition(ctx, v.ID, TransitionRequest{Target: model.StatusResolved, Reason: "done"})
	require.NoError(t, err)

	assert.Equal(t, []string{"e1", "e1"}, recomputer.calls)
}

func TestMachine_CreateDeferredRecompute(t *testing.T) {
	recomputer := &fakeRecomputer{}
	m, _ := newTestMachine(t, WithRiskRecomputer(recomputer))

	v, err := m.Create(context.Background(), CreateRequest{
		EmployeeID:         "e1",
		Type:               "Data Exfiltration",
		Severity:           model.SeverityHigh,
		Source:             model.SourceDetection,
		DeferRiskRecompute: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, v.Status)
	assert.Empty(t, recomputer.calls)
}

func TestMachine_List(t *testing.T) {
	m, _ := newTestMachine(t)
	ctx := context.Background()

	first := createViolation(t, m)
	second := createViolation(t, m)
	_, _, err := m.Transition(ctx, second.ID, TransitionRequest{Target: model.StatusFalsePositive, Reason: "benign"})
	require.NoError(t, err)

	open, err := m.List(ctx, service.ViolationFilter{
		EmployeeID: "e1",
		Statuses:   []model.ViolationStatus{model.StatusActive, model.StatusInvestigating},
	})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, first.ID, open[0].ID)
}
