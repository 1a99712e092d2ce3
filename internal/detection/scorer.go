package detection

import (
	"math"

	"github.com/Veraticus/tripwire/internal/category"
	"github.com/Veraticus/tripwire/internal/model"
)

// Recommendation texts attached to detection results.
const (
	RecommendEscalate      = "Escalate to the security team immediately"
	RecommendInvestigate   = "Open an investigation and preserve the communication as evidence"
	RecommendReview        = "Review the communication with the employee's manager"
	RecommendExternal      = "Review the external recipients"
	RecommendAttachments   = "Inspect the attachments for sensitive data"
	RecommendOffHours      = "Verify the business need for off-hours activity"
	RecommendBulkMovement  = "Check for bulk data movement by this sender"
	RecommendRerunFallback = "Re-run analysis once the language-model fallback is available"
)

// Scorer turns a detection skeleton into a finalized risk score.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.withDefaults()}
}

// Score computes the raw and final scores, the threshold flags and the
// recommendations. Intermediate values stay floating point; rounding happens
// only when the result is persisted.
func (s *Scorer) Score(result model.DetectionResult, cat *category.Compiled, riskCtx model.RiskContext) model.DetectionResult {
	def := &cat.Definition.Category

	var factor float64
	switch result.Method {
	case model.MethodLLM:
		factor = result.Confidence / 100
	default:
		factor = math.Min(1, result.MatchWeight/s.cfg.CalibrationWeight)
	}

	raw := def.BaseRiskScore * factor
	final := raw
	result.AppliedMultipliers = nil
	for _, f := range riskCtx.Present() {
		if m, ok := def.RiskMultipliers[f]; ok {
			final *= m
			result.AppliedMultipliers = append(result.AppliedMultipliers, f)
		}
	}

	result.RiskScore = clamp(raw, 0, 100)
	result.FinalRiskScore = clamp(final, 0, 100)

	// A zero score never triggers, even against a zero threshold.
	triggered := result.FinalRiskScore > 0
	result.TriggersAlert = triggered && result.FinalRiskScore >= def.Thresholds.Alert
	result.TriggersInvestigation = triggered && result.FinalRiskScore >= def.Thresholds.Investigation
	result.TriggersCritical = triggered && result.FinalRiskScore >= def.Thresholds.Critical

	result.Recommendations = recommendations(&result, riskCtx)
	return result
}

func recommendations(result *model.DetectionResult, riskCtx model.RiskContext) []string {
	var recs []string
	switch {
	case result.TriggersCritical:
		recs = append(recs, RecommendEscalate)
	case result.TriggersInvestigation:
		recs = append(recs, RecommendInvestigate)
	case result.TriggersAlert:
		recs = append(recs, RecommendReview)
	}

	if result.TriggersAlert {
		if riskCtx.Has(model.FactorExternalRecipient) {
			recs = append(recs, RecommendExternal)
		}
		if riskCtx.Has(model.FactorLargeAttachment) || riskCtx.Has(model.FactorSensitiveAttachment) {
			recs = append(recs, RecommendAttachments)
		}
		if riskCtx.Has(model.FactorAfterHours) || riskCtx.Has(model.FactorWeekend) {
			recs = append(recs, RecommendOffHours)
		}
		if riskCtx.Has(model.FactorHighFrequency) || riskCtx.Has(model.FactorBulkRecipients) {
			recs = append(recs, RecommendBulkMovement)
		}
	}

	if result.Degraded {
		recs = append(recs, RecommendRerunFallback)
	}
	return recs
}
