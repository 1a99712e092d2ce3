package model

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisMethod indicates how a detection was produced.
type AnalysisMethod string

// Analysis method constants.
const (
	MethodKeyword AnalysisMethod = "keyword"
	MethodLLM     AnalysisMethod = "llm"
)

// KeywordMatch is one keyword that matched, with its weight.
type KeywordMatch struct {
	Keyword string  `json:"keyword"`
	Weight  float64 `json:"weight"`
}

// RiskContext is the set of contextual risk factors present on a
// communication, computed once per analysis pass.
type RiskContext struct {
	Factors map[RiskFactor]bool `json:"factors"`
}

// Has reports whether factor is present.
func (r RiskContext) Has(factor RiskFactor) bool {
	return r.Factors[factor]
}

// Present returns the present factors in declaration order.
func (r RiskContext) Present() []RiskFactor {
	var out []RiskFactor
	for _, f := range KnownRiskFactors {
		if r.Factors[f] {
			out = append(out, f)
		}
	}
	return out
}

// DetectionResult is one (communication, category) evaluation.
type DetectionResult struct {
	CreatedAt             time.Time      `json:"created_at"`
	MatchedKeywords       []KeywordMatch `json:"matched_keywords"`
	PatternMatches        []PatternGroup `json:"pattern_matches"`
	AppliedMultipliers    []RiskFactor   `json:"applied_multipliers"`
	Recommendations       []string       `json:"recommendations"`
	CommunicationID       string         `json:"communication_id"`
	CategoryName          string         `json:"category_name"`
	Method                AnalysisMethod `json:"analysis_method"`
	Reasoning             string         `json:"reasoning"`
	DegradedReason        string         `json:"degraded_reason,omitempty"`
	Severity              Severity       `json:"severity"`
	Confidence            float64        `json:"confidence"`
	MatchWeight           float64        `json:"match_weight"`
	RiskScore             float64        `json:"risk_score"`
	FinalRiskScore        float64        `json:"final_risk_score"`
	ID                    int64          `json:"id"`
	CategoryID            int            `json:"category_id"`
	RunID                 uuid.UUID      `json:"run_id"`
	TriggersAlert         bool           `json:"triggers_alert"`
	TriggersInvestigation bool           `json:"triggers_investigation"`
	TriggersCritical      bool           `json:"triggers_critical"`
	Degraded              bool           `json:"degraded"`
}

// Matched reports whether anything at all was detected.
func (d *DetectionResult) Matched() bool {
	return len(d.MatchedKeywords) > 0 || len(d.PatternMatches) > 0 || (d.Method == MethodLLM && d.Confidence > 0)
}

// KeywordTexts returns the matched keyword strings.
func (d *DetectionResult) KeywordTexts() []string {
	out := make([]string, len(d.MatchedKeywords))
	for i, m := range d.MatchedKeywords {
		out[i] = m.Keyword
	}
	return out
}
