package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)

func TestSQLiteStorage_SaveCommunications(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	comms := testCommunications("e1", 3, baseTime)
	require.NoError(t, store.SaveCommunications(ctx, comms))

	got, err := store.GetCommunication(ctx, "e1-msg-002")
	require.NoError(t, err)
	assert.Equal(t, "Status update 2", got.Subject)
	assert.True(t, got.SentAt.Equal(baseTime.Add(time.Hour)))
	assert.Equal(t, []string{"team@example.com"}, got.Recipients)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, int64(1024), got.Attachments[0].SizeBytes)
	assert.False(t, got.Analysis.IsAnalyzed)

	t.Run("re-ingest keeps existing rows", func(t *testing.T) {
		changed := testCommunications("e1", 1, baseTime)
		changed[0].Subject = "rewritten"
		require.NoError(t, store.SaveCommunications(ctx, changed))

		again, err := store.GetCommunication(ctx, "e1-msg-001")
		require.NoError(t, err)
		assert.Equal(t, "Status update 1", again.Subject)
	})

	t.Run("missing employee is rejected", func(t *testing.T) {
		bad := testCommunications("e2", 1, baseTime)
		bad[0].EmployeeID = ""
		assert.ErrorIs(t, store.SaveCommunications(ctx, bad), ErrInvalidCommunication)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.GetCommunication(ctx, "missing")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestSQLiteStorage_ListCommunications(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveCommunications(ctx, testCommunications("e1", 4, baseTime)))
	require.NoError(t, store.SaveCommunications(ctx, testCommunications("e2", 2, baseTime)))

	require.NoError(t, store.SaveAnalysis(ctx, "e1-msg-001", model.Analysis{
		AnalyzedAt: baseTime.Add(24 * time.Hour),
		IsAnalyzed: true,
	}, nil))

	since := baseTime.Add(time.Hour)
	until := baseTime.Add(3 * time.Hour)

	tests := []struct {
		name    string
		wantIDs []string
		filter  service.CommunicationFilter
	}{
		{
			name:    "by employee newest first",
			filter:  service.CommunicationFilter{EmployeeID: "e2"},
			wantIDs: []string{"e2-msg-002", "e2-msg-001"},
		},
		{
			name:    "window is half open",
			filter:  service.CommunicationFilter{EmployeeID: "e1", Since: &since, Until: &until},
			wantIDs: []string{"e1-msg-003", "e1-msg-002"},
		},
		{
			name:    "only unanalyzed",
			filter:  service.CommunicationFilter{EmployeeID: "e1", OnlyUnanalyzed: true, Limit: 2},
			wantIDs: []string{"e1-msg-004", "e1-msg-003"},
		},
		{
			name:    "only analyzed",
			filter:  service.CommunicationFilter{OnlyAnalyzed: true},
			wantIDs: []string{"e1-msg-001"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comms, err := store.ListCommunications(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, len(comms))
			for i, c := range comms {
				ids[i] = c.ID
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	_, err := store.ListCommunications(ctx, service.CommunicationFilter{Since: &until, Until: &since})
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestSQLiteStorage_SentCounts(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveCommunications(ctx, testCommunications("e1", 5, baseTime)))
	require.NoError(t, store.SaveCommunications(ctx, testCommunications("e2", 1, baseTime)))

	count, err := store.CountSentBetween(ctx, "e1", baseTime.Add(time.Hour), baseTime.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, count, "both ends are inclusive")

	times, err := store.ListSentTimes(ctx, baseTime, baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, times["e1"], 2)
	assert.Len(t, times["e2"], 1)
	assert.True(t, times["e1"][0].Before(times["e1"][1]))
}

func TestSQLiteStorage_SaveAnalysis(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.SaveCommunications(ctx, testCommunications("e1", 1, baseTime)))

	runID := uuid.New()
	results := []model.DetectionResult{
		{
			RunID:                 runID,
			CategoryID:            1,
			CategoryName:          "Data Exfiltration",
			Severity:              model.SeverityHigh,
			MatchedKeywords:       []model.KeywordMatch{{Keyword: "confidential", Weight: 1.5}},
			PatternMatches:        []model.PatternGroup{model.PatternFileTransfer},
			AppliedMultipliers:    []model.RiskFactor{model.FactorAfterHours},
			Recommendations:       []string{"Open an investigation"},
			Confidence:            55.1,
			MatchWeight:           2.5,
			RiskScore:             58.33,
			FinalRiskScore:        75.83,
			TriggersAlert:         true,
			TriggersInvestigation: false,
			Method:                model.MethodKeyword,
			Reasoning:             "Matched 1 keyword(s)",
		},
		{
			RunID:        runID,
			CategoryID:   2,
			CategoryName: "Flight Risk",
			Severity:     model.SeverityMedium,
			Method:       model.MethodLLM,
			Degraded:     true,
		},
	}
	analysis := model.Analysis{
		AnalyzedAt: baseTime.Add(time.Hour),
		RiskScore:  76,
		Category:   "Data Exfiltration",
		RiskFlags: []model.RiskFlag{
			{CategoryID: 1, CategoryName: "Data Exfiltration", Severity: model.SeverityHigh, FinalRiskScore: 76, TriggersAlert: true},
		},
		AnalyzerVersion: "test",
		IsAnalyzed:      true,
		IsFlagged:       true,
	}

	require.NoError(t, store.SaveAnalysis(ctx, "e1-msg-001", analysis, results))
	assert.NotZero(t, results[0].ID)
	assert.NotZero(t, results[1].ID)

	comm, err := store.GetCommunication(ctx, "e1-msg-001")
	require.NoError(t, err)
	assert.Equal(t, 76, comm.Analysis.RiskScore)
	assert.True(t, comm.Analysis.IsFlagged)
	assert.Equal(t, "Data Exfiltration", comm.Analysis.Category)
	require.Len(t, comm.Analysis.RiskFlags, 1)
	assert.True(t, comm.Analysis.AnalyzedAt.Equal(baseTime.Add(time.Hour)))

	stored, err := store.ListDetectionResults(ctx, "e1-msg-001")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, runID, stored[0].RunID)
	assert.InDelta(t, 76.0, stored[0].FinalRiskScore, 1e-9, "final score is rounded when stored")
	assert.InDelta(t, 58.33, stored[0].RiskScore, 1e-9)
	assert.Equal(t, []model.PatternGroup{model.PatternFileTransfer}, stored[0].PatternMatches)
	assert.Equal(t, "confidential", stored[0].MatchedKeywords[0].Keyword)
	assert.True(t, stored[1].Degraded)

	t.Run("reanalysis appends", func(t *testing.T) {
		rerun := []model.DetectionResult{{RunID: uuid.New(), CategoryID: 1, CategoryName: "Data Exfiltration", Severity: model.SeverityHigh, Method: model.MethodKeyword}}
		analysis.RiskScore = 0
		analysis.IsFlagged = false
		require.NoError(t, store.SaveAnalysis(ctx, "e1-msg-001", analysis, rerun))

		all, err := store.ListDetectionResults(ctx, "e1-msg-001")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		comm, err := store.GetCommunication(ctx, "e1-msg-001")
		require.NoError(t, err)
		assert.False(t, comm.Analysis.IsFlagged)
	})

	t.Run("detection results are append-only", func(t *testing.T) {
		_, err := store.db.ExecContext(ctx, "DELETE FROM detection_results")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "append-only")
	})

	t.Run("unknown communication rolls back", func(t *testing.T) {
		err := store.SaveAnalysis(ctx, "missing", analysis, results)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}
