// Package model defines the core domain models used throughout the application.
package model

import (
	"sort"
	"time"
)

// CategoryType indicates where a threat category definition came from.
type CategoryType string

const (
	// CategoryTypePredefined represents categories shipped with the product.
	CategoryTypePredefined CategoryType = "predefined"
	// CategoryTypeCustom represents analyst-defined categories.
	CategoryTypeCustom CategoryType = "custom"
	// CategoryTypeIndustry represents categories tailored to one industry.
	CategoryTypeIndustry CategoryType = "industry_specific"
)

// Severity ranks how serious a category (or violation) is.
type Severity string

// Severity constants.
const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// Rank orders severities for tie-breaking; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// PatternGroup names a group of detection patterns within a category.
// The set is closed; unknown groups are rejected when a category is written.
type PatternGroup string

// Pattern group constants.
const (
	PatternFileTransfer     PatternGroup = "file_transfer"
	PatternCredentials      PatternGroup = "credentials"
	PatternFinancial        PatternGroup = "financial"
	PatternPersonalData     PatternGroup = "personal_data"
	PatternIntellectualProp PatternGroup = "intellectual_property"
	PatternEvasion          PatternGroup = "evasion"
	PatternSentiment        PatternGroup = "sentiment"
	PatternExternalContact  PatternGroup = "external_contact"
)

// KnownPatternGroups lists every accepted pattern group.
var KnownPatternGroups = []PatternGroup{
	PatternFileTransfer,
	PatternCredentials,
	PatternFinancial,
	PatternPersonalData,
	PatternIntellectualProp,
	PatternEvasion,
	PatternSentiment,
	PatternExternalContact,
}

// RiskFactor names a contextual condition that can scale a category's score.
type RiskFactor string

// Risk factor constants.
const (
	FactorAfterHours          RiskFactor = "after_hours"
	FactorWeekend             RiskFactor = "weekend"
	FactorExternalRecipient   RiskFactor = "external_recipient"
	FactorLargeAttachment     RiskFactor = "large_attachment"
	FactorSensitiveAttachment RiskFactor = "sensitive_attachment"
	FactorHighFrequency       RiskFactor = "high_frequency"
	FactorBulkRecipients      RiskFactor = "bulk_recipients"
)

// KnownRiskFactors lists every accepted risk factor.
var KnownRiskFactors = []RiskFactor{
	FactorAfterHours,
	FactorWeekend,
	FactorExternalRecipient,
	FactorLargeAttachment,
	FactorSensitiveAttachment,
	FactorHighFrequency,
	FactorBulkRecipients,
}

// Thresholds are the three ordered score cut-offs of a category.
type Thresholds struct {
	Alert         float64 `json:"alert" yaml:"alert" validate:"min=0,max=100"`
	Investigation float64 `json:"investigation" yaml:"investigation" validate:"min=0,max=100,gtefield=Alert"`
	Critical      float64 `json:"critical" yaml:"critical" validate:"min=0,max=100,gtefield=Investigation"`
}

// ThreatCategory is a named threat pattern definition.
type ThreatCategory struct {
	CreatedAt         time.Time                 `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time                 `json:"updated_at" yaml:"-"`
	DetectionPatterns map[PatternGroup][]string `json:"detection_patterns" yaml:"detection_patterns" validate:"omitempty,dive,keys,pattern_group,endkeys,required"`
	RiskMultipliers   map[RiskFactor]float64    `json:"risk_multipliers" yaml:"risk_multipliers" validate:"omitempty,dive,keys,risk_factor,endkeys,min=0.1,max=10"`
	Name              string                    `json:"name" yaml:"name" validate:"required,max=128"`
	Description       string                    `json:"description" yaml:"description" validate:"max=2048"`
	Type              CategoryType              `json:"type" yaml:"type" validate:"required,oneof=predefined custom industry_specific"`
	Industry          string                    `json:"industry,omitempty" yaml:"industry" validate:"required_if=Type industry_specific,max=128"`
	Severity          Severity                  `json:"severity" yaml:"severity" validate:"required,oneof=Critical High Medium Low"`
	Thresholds        Thresholds                `json:"thresholds" yaml:"thresholds"`
	BaseRiskScore     float64                   `json:"base_risk_score" yaml:"base_risk_score" validate:"min=0,max=100"`
	ID                int                       `json:"id" yaml:"-"`
	IsActive          bool                      `json:"is_active" yaml:"is_active"`
	LLMFallback       bool                      `json:"llm_fallback" yaml:"llm_fallback"`
}

// SortedPatternGroups returns the category's pattern groups in a stable order.
func (c *ThreatCategory) SortedPatternGroups() []PatternGroup {
	groups := make([]PatternGroup, 0, len(c.DetectionPatterns))
	for g := range c.DetectionPatterns {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups
}

// CategoryKeyword is a weighted keyword or phrase belonging to one category.
type CategoryKeyword struct {
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
	Keyword         string    `json:"keyword" yaml:"keyword" validate:"required,max=256"`
	RequiredContext string    `json:"required_context,omitempty" yaml:"required_context" validate:"max=256"`
	Weight          float64   `json:"weight" yaml:"weight" validate:"min=0.1,max=5"`
	ID              int       `json:"id" yaml:"-"`
	CategoryID      int       `json:"category_id" yaml:"-"`
	IsPhrase        bool      `json:"is_phrase" yaml:"-"`
}

// CategoryDefinition bundles a category with its keywords. It is the unit
// that is validated, persisted and evaluated.
type CategoryDefinition struct {
	Category ThreatCategory    `json:"category" yaml:",inline"`
	Keywords []CategoryKeyword `json:"keywords" yaml:"keywords"`
}
