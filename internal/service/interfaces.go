// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/tripwire/internal/model"
	"github.com/google/uuid"
)

// CommunicationFilter defines filtering options for communication queries.
// Results are ordered by sent time, newest first.
type CommunicationFilter struct {
	Since          *time.Time
	Until          *time.Time
	EmployeeID     string
	Limit          int
	OnlyAnalyzed   bool
	OnlyUnanalyzed bool
}

// ViolationFilter defines filtering options for violation queries.
type ViolationFilter struct {
	EmployeeID string
	Statuses   []model.ViolationStatus
	Limit      int
}

// CategoryStore persists threat categories and their keywords.
type CategoryStore interface {
	CreateCategory(ctx context.Context, def *model.CategoryDefinition) error
	UpdateCategory(ctx context.Context, def *model.CategoryDefinition) error
	GetCategory(ctx context.Context, id int) (*model.CategoryDefinition, error)
	GetCategoryByName(ctx context.Context, name string) (*model.CategoryDefinition, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]model.CategoryDefinition, error)
	SetCategoryActive(ctx context.Context, id int, active bool) error
}

// EmployeeStore persists employees and their aggregated risk.
type EmployeeStore interface {
	UpsertEmployee(ctx context.Context, employee *model.Employee) error
	GetEmployee(ctx context.Context, id string) (*model.Employee, error)
	ListEmployees(ctx context.Context, activeOnly bool) ([]model.Employee, error)
	SaveRiskProfile(ctx context.Context, profile *model.EmployeeRiskProfile) error
	GetRiskProfile(ctx context.Context, employeeID string) (*model.EmployeeRiskProfile, error)
}

// CommunicationStore persists communications, their analysis overlay and
// the append-only detection results.
type CommunicationStore interface {
	SaveCommunications(ctx context.Context, comms []model.Communication) error
	GetCommunication(ctx context.Context, id string) (*model.Communication, error)
	ListCommunications(ctx context.Context, filter CommunicationFilter) ([]model.Communication, error)
	CountSentBetween(ctx context.Context, employeeID string, start, end time.Time) (int, error)
	ListSentTimes(ctx context.Context, start, end time.Time) (map[string][]time.Time, error)
	// SaveAnalysis writes every detection result and overwrites the overlay
	// in a single transaction.
	SaveAnalysis(ctx context.Context, communicationID string, analysis model.Analysis, results []model.DetectionResult) error
	ListDetectionResults(ctx context.Context, communicationID string) ([]model.DetectionResult, error)
}

// ViolationStore persists violations and their status history.
type ViolationStore interface {
	CreateViolation(ctx context.Context, v *model.Violation) error
	GetViolation(ctx context.Context, id uuid.UUID) (*model.Violation, error)
	ListViolations(ctx context.Context, filter ViolationFilter) ([]model.Violation, error)
	FindOpenViolation(ctx context.Context, communicationID string, categoryID int) (*model.Violation, error)
	// UpdateViolationStatus applies v only if the stored version still equals
	// expectedVersion and appends entry in the same transaction.
	UpdateViolationStatus(ctx context.Context, v *model.Violation, expectedVersion int, entry *model.ViolationStatusHistory) error
	SaveAIValidation(ctx context.Context, id uuid.UUID, validation model.AIValidation) error
	ListViolationHistory(ctx context.Context, id uuid.UUID) ([]model.ViolationStatusHistory, error)
}

// JobStore persists batch job status records.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ListJobs(ctx context.Context, limit int) ([]model.Job, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	CategoryStore
	EmployeeStore
	CommunicationStore
	ViolationStore
	JobStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	// Operation names the call in logs and errors.
	Operation    string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// OnRetry runs before each backoff sleep with the attempt that failed.
	OnRetry func(attempt int, err error)
}

// BatchSummary is the per-item tally of a batch run.
type BatchSummary struct {
	Failures  []model.ItemFailure
	Duration  time.Duration
	Total     int
	Succeeded int
	Failed    int
	Flagged   int
	Canceled  bool
}
