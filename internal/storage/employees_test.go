package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage_Employees(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.UpsertEmployee(ctx, testEmployee("e1")))
	inactive := testEmployee("e2")
	inactive.IsActive = false
	require.NoError(t, store.UpsertEmployee(ctx, inactive))

	got, err := store.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", got.TimeZone)
	assert.Equal(t, "America/New_York", got.Location().String())

	updated := testEmployee("e1")
	updated.Department = "Finance"
	require.NoError(t, store.UpsertEmployee(ctx, updated))
	got, err = store.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Finance", got.Department)

	all, err := store.ListEmployees(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := store.ListEmployees(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "e1", active[0].ID)

	_, err = store.GetEmployee(ctx, "nobody")
	assert.ErrorIs(t, err, common.ErrNotFound)

	bad := testEmployee("e3")
	bad.TimeZone = "Mars/Olympus_Mons"
	assert.ErrorIs(t, store.UpsertEmployee(ctx, bad), ErrInvalidEmployee)
}

func TestSQLiteStorage_RiskProfile(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.GetRiskProfile(ctx, "e1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	comm := 62.5
	profile := &model.EmployeeRiskProfile{
		EmployeeID:             "e1",
		RiskScore:              65,
		RiskLevel:              model.RiskLevelHigh,
		CommunicationComponent: &comm,
		ViolationComponent:     70,
		CommunicationCount:     4,
		ActiveViolationCount:   1,
		LastUpdated:            baseTime,
	}
	require.NoError(t, store.SaveRiskProfile(ctx, profile))

	got, err := store.GetRiskProfile(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 65, got.RiskScore)
	assert.Equal(t, model.RiskLevelHigh, got.RiskLevel)
	require.NotNil(t, got.CommunicationComponent)
	assert.InDelta(t, 62.5, *got.CommunicationComponent, 1e-9)

	profile.CommunicationComponent = nil
	profile.RiskScore = 28
	profile.RiskLevel = model.RiskLevelLow
	require.NoError(t, store.SaveRiskProfile(ctx, profile))

	got, err = store.GetRiskProfile(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, got.CommunicationComponent)
	assert.Equal(t, 28, got.RiskScore)
}

func TestSQLiteStorage_Jobs(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	job := &model.Job{Kind: model.JobAnalyzeEmployee, Target: "e1", StartedAt: baseTime}
	require.NoError(t, store.CreateJob(ctx, job))
	require.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, model.JobRunning, job.Status)

	completed := baseTime.Add(time.Minute)
	job.Status = model.JobCompleted
	job.Total = 3
	job.Succeeded = 2
	job.Failed = 1
	job.Failures = []model.ItemFailure{{ItemID: "e1-msg-002", Error: "boom"}}
	job.CompletedAt = &completed
	require.NoError(t, store.UpdateJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.Status)
	assert.Equal(t, 2, got.Succeeded)
	require.Len(t, got.Failures, 1)
	assert.Equal(t, "e1-msg-002", got.Failures[0].ItemID)
	require.NotNil(t, got.CompletedAt)

	second := &model.Job{Kind: model.JobAnalyzePending, StartedAt: baseTime.Add(time.Hour)}
	require.NoError(t, store.CreateJob(ctx, second))

	jobs, err := store.ListJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)

	_, err = store.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, store.UpdateJob(ctx, &model.Job{ID: uuid.New()}), common.ErrNotFound)
}
