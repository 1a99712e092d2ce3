package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationStatus is the lifecycle state of a violation.
type ViolationStatus string

// Violation status constants.
const (
	StatusActive        ViolationStatus = "Active"
	StatusInvestigating ViolationStatus = "Investigating"
	StatusFalsePositive ViolationStatus = "FalsePositive"
	StatusResolved      ViolationStatus = "Resolved"
)

// IsValid reports whether s is one of the four lifecycle states.
func (s ViolationStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusInvestigating, StatusFalsePositive, StatusResolved:
		return true
	}
	return false
}

// IsTerminal reports whether s is a closing state. Terminal states can still
// be reopened by an explicit transition.
func (s ViolationStatus) IsTerminal() bool {
	return s == StatusFalsePositive || s == StatusResolved
}

// ViolationSource records how a violation was raised.
type ViolationSource string

// Violation source constants.
const (
	SourceDetection ViolationSource = "detection"
	SourceManual    ViolationSource = "manual"
)

// AIValidationStatus is the outcome of the advisory AI review.
type AIValidationStatus string

// AI validation status constants.
const (
	AIValidationPending        AIValidationStatus = "pending"
	AIValidationValidated      AIValidationStatus = "validated"
	AIValidationManualOverride AIValidationStatus = "manual_override"
)

// AIValidation is the advisory overlay produced by the AI side channel.
type AIValidation struct {
	ValidatedAt       *time.Time         `json:"validated_at,omitempty"`
	Status            AIValidationStatus `json:"status"`
	Reasoning         string             `json:"reasoning"`
	RecommendedStatus ViolationStatus    `json:"recommended_status,omitempty"`
	Score             float64            `json:"score"`
}

// Violation is an analyst-trackable security concern.
type Violation struct {
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
	AIValidation       *AIValidation   `json:"ai_validation,omitempty"`
	StructuredEvidence map[string]any  `json:"structured_evidence,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	Evidence           []string        `json:"evidence"`
	EmployeeID         string          `json:"employee_id"`
	Type               string          `json:"type"`
	Description        string          `json:"description"`
	CommunicationID    string          `json:"communication_id,omitempty"`
	Severity           Severity        `json:"severity"`
	Status             ViolationStatus `json:"status"`
	Source             ViolationSource `json:"source"`
	CategoryID         int             `json:"category_id,omitempty"`
	Version            int             `json:"version"`
	ID                 uuid.UUID       `json:"id"`
}

// ViolationStatusHistory is one append-only audit row for a transition.
type ViolationStatusHistory struct {
	CreatedAt      time.Time       `json:"created_at"`
	AIConfidence   *float64        `json:"ai_confidence,omitempty"`
	PreviousStatus ViolationStatus `json:"previous_status"`
	NewStatus      ViolationStatus `json:"new_status"`
	Reason         string          `json:"reason"`
	Actor          string          `json:"actor"`
	ID             int64           `json:"id"`
	ViolationID    uuid.UUID       `json:"violation_id"`
	AIAssisted     bool            `json:"ai_assisted"`
}
