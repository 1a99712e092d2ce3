package model

import (
	"time"
	_ "time/tzdata" // employee time zones must resolve without host zoneinfo
)

// RiskLevel is the coarse bucket derived from a numeric risk score.
type RiskLevel string

// Risk level constants.
const (
	RiskLevelLow      RiskLevel = "Low"
	RiskLevelMedium   RiskLevel = "Medium"
	RiskLevelHigh     RiskLevel = "High"
	RiskLevelCritical RiskLevel = "Critical"
)

// LevelForScore maps a score to its risk level. The mapping is a monotone
// step function: 80+ Critical, 60+ High, 40+ Medium, otherwise Low.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskLevelCritical
	case score >= 60:
		return RiskLevelHigh
	case score >= 40:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// Employee is a monitored person.
type Employee struct {
	CreatedAt  time.Time `json:"created_at"`
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	TimeZone   string    `json:"time_zone"`
	IsActive   bool      `json:"is_active"`
}

// Location resolves the employee's time zone, falling back to UTC.
func (e *Employee) Location() *time.Location {
	if e == nil || e.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EmployeeRiskProfile is the aggregated risk posture of one employee.
type EmployeeRiskProfile struct {
	LastUpdated            time.Time `json:"last_updated"`
	EmployeeID             string    `json:"employee_id"`
	RiskLevel              RiskLevel `json:"risk_level"`
	CommunicationComponent *float64  `json:"communication_component,omitempty"`
	ViolationComponent     float64   `json:"violation_component"`
	RiskScore              int       `json:"risk_score"`
	CommunicationCount     int       `json:"communication_count"`
	ActiveViolationCount   int       `json:"active_violation_count"`
}
