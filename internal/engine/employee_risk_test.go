package engine

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var riskNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func analyzedComm(ageDays float64, score int) model.Communication {
	return model.Communication{
		SentAt:   riskNow.Add(-time.Duration(ageDays * 24 * float64(time.Hour))),
		Analysis: model.Analysis{IsAnalyzed: true, RiskScore: score},
	}
}

func activeViolation(severity model.Severity, status model.ViolationStatus) model.Violation {
	return model.Violation{Severity: severity, Status: status}
}

func TestComputeEmployeeRisk(t *testing.T) {
	tests := []struct {
		wantComponent *float64
		name          string
		wantLevel     model.RiskLevel
		comms         []model.Communication
		violations    []model.Violation
		wantScore     int
		wantComms     int
		wantActive    int
	}{
		{
			name:       "violation only",
			violations: []model.Violation{activeViolation(model.SeverityCritical, model.StatusActive)},
			wantScore:  90,
			wantLevel:  model.RiskLevelCritical,
			wantActive: 1,
		},
		{
			// No open violation leaves the communication component alone,
			// not scaled down by its 0.6 weight.
			name:          "communications only",
			comms:         []model.Communication{analyzedComm(2, 90)},
			wantComponent: floatPtr(90),
			wantScore:     90,
			wantLevel:     model.RiskLevelCritical,
			wantComms:     1,
		},
		{
			name:      "nothing at all",
			wantScore: 0,
			wantLevel: model.RiskLevelLow,
		},
		{
			name: "recent communications weigh more",
			comms: []model.Communication{
				analyzedComm(0, 80),
				analyzedComm(20, 20),
			},
			// (30*80 + 10*20) / 40
			wantComponent: floatPtr(65),
			wantScore:     65,
			wantLevel:     model.RiskLevelHigh,
			wantComms:     2,
		},
		{
			name: "oldest message in window keeps weight one",
			comms: []model.Communication{
				analyzedComm(0, 0),
				analyzedComm(29.5, 100),
			},
			wantComponent: floatPtr(100.0 / 31),
			wantScore:     3,
			wantLevel:     model.RiskLevelLow,
			wantComms:     2,
		},
		{
			name:          "both components combine",
			comms:         []model.Communication{analyzedComm(1, 50)},
			violations:    []model.Violation{activeViolation(model.SeverityHigh, model.StatusActive)},
			wantComponent: floatPtr(50),
			wantScore:     58,
			wantLevel:     model.RiskLevelMedium,
			wantComms:     1,
			wantActive:    1,
		},
		{
			name: "closed violations are ignored",
			violations: []model.Violation{
				activeViolation(model.SeverityCritical, model.StatusResolved),
				activeViolation(model.SeverityCritical, model.StatusFalsePositive),
				activeViolation(model.SeverityLow, model.StatusInvestigating),
			},
			wantScore:  30,
			wantLevel:  model.RiskLevelLow,
			wantActive: 1,
		},
		{
			name: "unanalyzed and out of window communications are absent",
			comms: []model.Communication{
				{SentAt: riskNow.Add(-time.Hour), Analysis: model.Analysis{RiskScore: 99}},
				analyzedComm(45, 99),
			},
			violations: []model.Violation{activeViolation(model.SeverityMedium, model.StatusActive)},
			wantScore:  50,
			wantLevel:  model.RiskLevelMedium,
			wantActive: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeEmployeeRisk(riskNow, tt.comms, tt.violations, DefaultRiskConfig())
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantLevel, got.Level)
			assert.Equal(t, tt.wantComms, got.CommunicationCount)
			assert.Equal(t, tt.wantActive, got.ActiveViolationCount)
			if tt.wantComponent == nil {
				assert.Nil(t, got.CommunicationComponent)
			} else {
				require.NotNil(t, got.CommunicationComponent)
				assert.InDelta(t, *tt.wantComponent, *got.CommunicationComponent, 1e-9)
			}
		})
	}
}

func TestComputeEmployeeRisk_MoreRecentRiskNeverLowers(t *testing.T) {
	violations := []model.Violation{activeViolation(model.SeverityHigh, model.StatusActive)}
	base := []model.Communication{analyzedComm(10, 20), analyzedComm(3, 35)}

	for _, extra := range []int{40, 60, 80, 100} {
		withExtra := append(append([]model.Communication{}, base...), analyzedComm(0.5, extra))

		a := ComputeEmployeeRisk(riskNow, base, violations, DefaultRiskConfig())
		b := ComputeEmployeeRisk(riskNow, withExtra, violations, DefaultRiskConfig())
		assert.GreaterOrEqual(t, b.Score, a.Score, "extra communication scored %d", extra)
	}
}

func TestComputeEmployeeRisk_CustomWeights(t *testing.T) {
	comms := []model.Communication{analyzedComm(0, 100)}
	violations := []model.Violation{activeViolation(model.SeverityLow, model.StatusActive)}

	got := ComputeEmployeeRisk(riskNow, comms, violations, RiskConfig{
		WindowDays:          7,
		CommunicationWeight: 1,
		ViolationWeight:     1,
	})
	assert.Equal(t, 65, got.Score)
}

func TestRiskAggregator_Recompute(t *testing.T) {
	store := testutil.SetupTestDB(t).Storage
	ctx := context.Background()
	testutil.SeedEmployee(t, store, "e1")

	agg := NewRiskAggregator(store, DefaultRiskConfig(), discardLogger())
	agg.now = func() time.Time { return riskNow }

	t.Run("unknown employee", func(t *testing.T) {
		_, err := agg.Recompute(ctx, "ghost")
		require.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("violation only", func(t *testing.T) {
		require.NoError(t, store.CreateViolation(ctx, &model.Violation{
			EmployeeID: "e1",
			Type:       "Sabotage",
			Severity:   model.SeverityCritical,
			Status:     model.StatusActive,
			Source:     model.SourceManual,
		}))

		profile, err := agg.Recompute(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, 90, profile.RiskScore)
		assert.Equal(t, model.RiskLevelCritical, profile.RiskLevel)
		assert.Nil(t, profile.CommunicationComponent)

		stored, err := store.GetRiskProfile(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, 90, stored.RiskScore)
		assert.Nil(t, stored.CommunicationComponent)
	})

	t.Run("idempotent", func(t *testing.T) {
		first, err := agg.Recompute(ctx, "e1")
		require.NoError(t, err)
		second, err := agg.Recompute(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, first.RiskScore, second.RiskScore)
		assert.Equal(t, first.RiskLevel, second.RiskLevel)
	})
}

func TestRiskAggregator_RecomputeAll(t *testing.T) {
	store := testutil.SetupTestDB(t).Storage
	ctx := context.Background()
	testutil.SeedEmployee(t, store, "e1")
	testutil.SeedEmployee(t, store, "e2")
	require.NoError(t, store.UpsertEmployee(ctx, &model.Employee{ID: "gone", Email: "gone@example.com"}))

	agg := NewRiskAggregator(store, DefaultRiskConfig(), discardLogger())
	summary, err := agg.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Zero(t, summary.Failed)

	_, err = store.GetRiskProfile(ctx, "gone")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func floatPtr(f float64) *float64 {
	return &f
}
