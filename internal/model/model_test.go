package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		want  RiskLevel
		score int
	}{
		{score: 0, want: RiskLevelLow},
		{score: 39, want: RiskLevelLow},
		{score: 40, want: RiskLevelMedium},
		{score: 59, want: RiskLevelMedium},
		{score: 60, want: RiskLevelHigh},
		{score: 79, want: RiskLevelHigh},
		{score: 80, want: RiskLevelCritical},
		{score: 100, want: RiskLevelCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForScore(tt.score), "score %d", tt.score)
	}
}

func TestLevelForScore_Monotone(t *testing.T) {
	rank := map[RiskLevel]int{RiskLevelLow: 0, RiskLevelMedium: 1, RiskLevelHigh: 2, RiskLevelCritical: 3}
	prev := rank[LevelForScore(0)]
	for score := 1; score <= 100; score++ {
		cur := rank[LevelForScore(score)]
		assert.GreaterOrEqual(t, cur, prev, "level decreased at score %d", score)
		prev = cur
	}
}

func TestSeverity_Rank(t *testing.T) {
	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.False(t, Severity("Severe").IsValid())
}

func TestViolationStatus(t *testing.T) {
	assert.True(t, StatusActive.IsValid())
	assert.True(t, StatusFalsePositive.IsTerminal())
	assert.True(t, StatusResolved.IsTerminal())
	assert.False(t, StatusInvestigating.IsTerminal())
	assert.False(t, ViolationStatus("Closed").IsValid())
}

func TestAttachment_Extension(t *testing.T) {
	assert.Equal(t, "zip", Attachment{Name: "export.ZIP"}.Extension())
	assert.Equal(t, "gz", Attachment{Name: "dump.tar.gz"}.Extension())
	assert.Equal(t, "", Attachment{Name: "README"}.Extension())
	assert.Equal(t, "", Attachment{Name: "trailing."}.Extension())
}

func TestEmployee_Location(t *testing.T) {
	var nilEmployee *Employee
	assert.Equal(t, time.UTC, nilEmployee.Location())
	assert.Equal(t, time.UTC, (&Employee{TimeZone: "Not/AZone"}).Location())
	assert.Equal(t, "America/New_York", (&Employee{TimeZone: "America/New_York"}).Location().String())
}

func TestRiskContext_Present(t *testing.T) {
	rc := RiskContext{Factors: map[RiskFactor]bool{
		FactorExternalRecipient: true,
		FactorAfterHours:        true,
		FactorWeekend:           false,
	}}
	assert.Equal(t, []RiskFactor{FactorAfterHours, FactorExternalRecipient}, rc.Present())
	assert.True(t, rc.Has(FactorAfterHours))
	assert.False(t, rc.Has(FactorWeekend))
}
