package model

import (
	"time"

	"github.com/google/uuid"
)

// AnomalyMetric names a per-employee activity series.
type AnomalyMetric string

// Anomaly metric constants.
const (
	MetricEmailVolume AnomalyMetric = "email_volume"
	MetricAfterHours  AnomalyMetric = "after_hours"
)

// MetricSeries is the historical baseline and current value of one metric.
type MetricSeries struct {
	EmployeeID string        `json:"employee_id"`
	Metric     AnomalyMetric `json:"metric"`
	History    []float64     `json:"history"`
	Current    float64       `json:"current"`
}

// Anomaly is a statistical outlier against a historical baseline.
type Anomaly struct {
	EmployeeID   string        `json:"employee_id"`
	Metric       AnomalyMetric `json:"metric"`
	CurrentValue float64       `json:"current_value"`
	Mean         float64       `json:"mean"`
	StdDev       float64       `json:"std_dev"`
	ZScore       float64       `json:"z_score"`
}

// IsSpike reports whether the anomaly is above the baseline.
func (a Anomaly) IsSpike() bool {
	return a.ZScore > 0
}

// JobStatus is the state of a tracked batch job.
type JobStatus string

// Job status constants.
const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobKind names the batch operation a job performs.
type JobKind string

// Job kind constants.
const (
	JobAnalyzeEmployee   JobKind = "analyze_employee"
	JobAnalyzePending    JobKind = "analyze_pending"
	JobEvaluateEmployees JobKind = "evaluate_employees"
)

// ItemFailure records one failed item of a batch.
type ItemFailure struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

// Job is the persisted status record of a batch run.
type Job struct {
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Failures    []ItemFailure `json:"failures"`
	Kind        JobKind       `json:"kind"`
	Status      JobStatus     `json:"status"`
	Target      string        `json:"target,omitempty"`
	Error       string        `json:"error,omitempty"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	ID          uuid.UUID     `json:"id"`
}
