package engine

import (
	"fmt"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
)

// Verdict is the communication-level reduction of all category results.
type Verdict struct {
	Primary *model.DetectionResult
	Score   float64
	Flagged bool
}

// Category returns the primary category name, or "" when nothing scored.
func (v Verdict) Category() string {
	if v.Primary == nil || v.Score <= 0 {
		return ""
	}
	return v.Primary.CategoryName
}

// Aggregate reduces per-category results with the max rule: the
// communication is as risky as its worst category. Ties on score go to the
// more severe category, then to the lower category ID. An empty result set
// is an invariant violation, never a zero score.
func Aggregate(results []model.DetectionResult) (Verdict, error) {
	if len(results) == 0 {
		return Verdict{}, fmt.Errorf("%w: no category results to aggregate", common.ErrInvariant)
	}

	best := 0
	flagged := false
	for i := range results {
		if results[i].TriggersAlert {
			flagged = true
		}
		if i > 0 && outranks(&results[i], &results[best]) {
			best = i
		}
	}

	return Verdict{
		Primary: &results[best],
		Score:   results[best].FinalRiskScore,
		Flagged: flagged,
	}, nil
}

func outranks(a, b *model.DetectionResult) bool {
	if a.FinalRiskScore != b.FinalRiskScore {
		return a.FinalRiskScore > b.FinalRiskScore
	}
	if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
		return ra > rb
	}
	return a.CategoryID < b.CategoryID
}
