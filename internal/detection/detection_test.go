package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/tripwire/internal/category"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClassifier struct {
	err    error
	block  bool
	result ClassificationResult
	calls  int
}

func (m *mockClassifier) ClassifyRisk(ctx context.Context, _ ClassificationRequest) (ClassificationResult, error) {
	m.calls++
	if m.block {
		<-ctx.Done()
		return ClassificationResult{}, ctx.Err()
	}
	return m.result, m.err
}

type fakeCounter struct {
	err   error
	count int
}

func (f *fakeCounter) CountSentBetween(context.Context, string, time.Time, time.Time) (int, error) {
	return f.count, f.err
}

func exfiltrationDefinition() model.CategoryDefinition {
	return model.CategoryDefinition{
		Category: model.ThreatCategory{
			ID:            1,
			Name:          "Data Exfiltration",
			Description:   "Moving company data to personal destinations",
			Type:          model.CategoryTypePredefined,
			Severity:      model.SeverityHigh,
			BaseRiskScore: 70,
			Thresholds:    model.Thresholds{Alert: 70, Investigation: 85, Critical: 95},
			DetectionPatterns: map[model.PatternGroup][]string{
				model.PatternFileTransfer: {`personal\s+(gmail|dropbox)`},
			},
			RiskMultipliers: map[model.RiskFactor]float64{model.FactorAfterHours: 1.3},
			IsActive:        true,
		},
		Keywords: []model.CategoryKeyword{
			{Keyword: "confidential", Weight: 1.5},
			{Keyword: "forward to my personal", Weight: 1.5, IsPhrase: true},
			{Keyword: "usb", Weight: 0.5, RequiredContext: "copy"},
		},
	}
}

func compileDefinition(t *testing.T, def model.CategoryDefinition) *category.Compiled {
	t.Helper()
	snap, err := category.NewSnapshot([]model.CategoryDefinition{def})
	require.NoError(t, err)
	compiled, ok := snap.Get(def.Category.ID)
	require.True(t, ok)
	return compiled
}

func lateNightEmail(body string) *model.Communication {
	return &model.Communication{
		ID:         "c-1",
		EmployeeID: "e-1",
		Subject:    "notes",
		Body:       body,
		SentAt:     time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC),
	}
}

func TestExfiltrationAfterHoursScenario(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cat := compileDefinition(t, exfiltrationDefinition())
	comm := lateNightEmail("Please forward to my personal account, it is all confidential.")

	detected := NewDetector(nil, nil, cfg).Detect(ctx, comm, cat)
	require.Len(t, detected.MatchedKeywords, 2)
	assert.InDelta(t, 3.0, detected.MatchWeight, 1e-9)
	assert.Empty(t, detected.PatternMatches)
	assert.InDelta(t, Saturate(3.0, 3.0), detected.Confidence, 1e-9)

	riskCtx, err := NewContextBuilder(nil, cfg).Build(ctx, comm, nil)
	require.NoError(t, err)
	assert.True(t, riskCtx.Has(model.FactorAfterHours))

	scored := NewScorer(cfg).Score(detected, cat, riskCtx)
	assert.InDelta(t, 70, scored.RiskScore, 1e-9)
	assert.InDelta(t, 91, scored.FinalRiskScore, 1e-9)
	assert.Equal(t, []model.RiskFactor{model.FactorAfterHours}, scored.AppliedMultipliers)
	assert.True(t, scored.TriggersAlert)
	assert.True(t, scored.TriggersInvestigation)
	assert.False(t, scored.TriggersCritical)
	assert.Contains(t, scored.Recommendations, RecommendInvestigate)
	assert.Contains(t, scored.Recommendations, RecommendOffHours)
}

func TestDetectKeywordMatching(t *testing.T) {
	cat := compileDefinition(t, exfiltrationDefinition())
	detector := NewDetector(nil, nil, DefaultConfig())

	tests := []struct {
		name     string
		body     string
		keywords []string
		groups   []model.PatternGroup
	}{
		{
			name:     "case insensitive",
			body:     "this is CONFIDENTIAL",
			keywords: []string{"confidential"},
		},
		{
			name: "required context missing",
			body: "plugged in a usb stick",
		},
		{
			name:     "required context present",
			body:     "copy it to a usb stick",
			keywords: []string{"usb"},
		},
		{
			name:   "pattern group counts once",
			body:   "my personal gmail and my personal dropbox",
			groups: []model.PatternGroup{model.PatternFileTransfer},
		},
		{
			name: "nothing matched",
			body: "lunch at noon?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := detector.Detect(context.Background(), lateNightEmail(tt.body), cat)
			if tt.keywords == nil {
				assert.Empty(t, result.MatchedKeywords)
			} else {
				assert.Equal(t, tt.keywords, result.KeywordTexts())
			}
			assert.Equal(t, tt.groups, result.PatternMatches)
			assert.Equal(t, model.MethodKeyword, result.Method)
			assert.False(t, result.Degraded)
		})
	}
}

func TestAttachmentNamesAreSearched(t *testing.T) {
	cat := compileDefinition(t, exfiltrationDefinition())
	comm := lateNightEmail("see attached")
	comm.Attachments = []model.Attachment{{Name: "confidential-roadmap.pdf", SizeBytes: 100}}

	result := NewDetector(nil, nil, DefaultConfig()).Detect(context.Background(), comm, cat)
	assert.Equal(t, []string{"confidential"}, result.KeywordTexts())
}

func TestSaturate(t *testing.T) {
	assert.Zero(t, Saturate(0, 3))
	prev := 0.0
	for w := 0.5; w <= 30; w += 0.5 {
		got := Saturate(w, 3)
		assert.Greater(t, got, prev)
		assert.Less(t, got, 100.0)
		prev = got
	}
	assert.Less(t, Saturate(2, 3)-Saturate(1, 3), Saturate(1, 3)-Saturate(0, 3), "returns diminish")
}

func TestLLMFallback(t *testing.T) {
	def := exfiltrationDefinition()
	def.Category.LLMFallback = true
	cat := compileDefinition(t, def)
	comm := lateNightEmail("nothing obvious in here")

	t.Run("uses classifier score", func(t *testing.T) {
		classifier := &mockClassifier{result: ClassificationResult{Score: 80, Reasoning: " moving data out "}}
		result := NewDetector(classifier, nil, DefaultConfig()).Detect(context.Background(), comm, cat)

		assert.Equal(t, 1, classifier.calls)
		assert.Equal(t, model.MethodLLM, result.Method)
		assert.InDelta(t, 80, result.Confidence, 1e-9)
		assert.Equal(t, "moving data out", result.Reasoning)

		scored := NewScorer(DefaultConfig()).Score(result, cat, model.RiskContext{})
		assert.InDelta(t, 56, scored.FinalRiskScore, 1e-9)
	})

	t.Run("classifier error degrades", func(t *testing.T) {
		classifier := &mockClassifier{err: errors.New("503 service unavailable")}
		result := NewDetector(classifier, nil, DefaultConfig()).Detect(context.Background(), comm, cat)

		assert.Equal(t, model.MethodKeyword, result.Method)
		assert.True(t, result.Degraded)
		assert.Contains(t, result.DegradedReason, "503")
		assert.Zero(t, result.Confidence)

		scored := NewScorer(DefaultConfig()).Score(result, cat, model.RiskContext{})
		assert.Zero(t, scored.FinalRiskScore)
		assert.Contains(t, scored.Recommendations, RecommendRerunFallback)
	})

	t.Run("timeout degrades", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.FallbackTimeout = 20 * time.Millisecond
		classifier := &mockClassifier{block: true}

		start := time.Now()
		result := NewDetector(classifier, nil, cfg).Detect(context.Background(), comm, cat)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.True(t, result.Degraded)
		assert.Contains(t, result.DegradedReason, "timeout")
	})

	t.Run("noop classifier is not degraded", func(t *testing.T) {
		result := NewDetector(NoopClassifier{}, nil, DefaultConfig()).Detect(context.Background(), comm, cat)
		assert.False(t, result.Degraded)
		assert.Equal(t, model.MethodKeyword, result.Method)
	})

	t.Run("not called when keywords match", func(t *testing.T) {
		classifier := &mockClassifier{result: ClassificationResult{Score: 99}}
		NewDetector(classifier, nil, DefaultConfig()).Detect(context.Background(), lateNightEmail("confidential"), cat)
		assert.Zero(t, classifier.calls)
	})
}

func TestScoreMonotonicInBaseScore(t *testing.T) {
	cfg := DefaultConfig()
	comm := lateNightEmail("confidential usb copy")
	riskCtx := model.RiskContext{Factors: map[model.RiskFactor]bool{model.FactorAfterHours: true}}

	prev := -1.0
	for base := 0.0; base <= 100; base += 5 {
		def := exfiltrationDefinition()
		def.Category.BaseRiskScore = base
		cat := compileDefinition(t, def)

		detected := NewDetector(nil, nil, cfg).Detect(context.Background(), comm, cat)
		scored := NewScorer(cfg).Score(detected, cat, riskCtx)
		assert.GreaterOrEqual(t, scored.FinalRiskScore, prev, "base %v", base)
		prev = scored.FinalRiskScore
	}
}

func TestScoreMultipliersAndClamping(t *testing.T) {
	def := exfiltrationDefinition()
	def.Category.BaseRiskScore = 90
	def.Category.RiskMultipliers = map[model.RiskFactor]float64{
		model.FactorAfterHours:        1.3,
		model.FactorExternalRecipient: 1.5,
	}
	cat := compileDefinition(t, def)
	scorer := NewScorer(DefaultConfig())
	detected := model.DetectionResult{Method: model.MethodKeyword, MatchWeight: 6}

	weekendOnly := model.RiskContext{Factors: map[model.RiskFactor]bool{model.FactorWeekend: true}}
	scored := scorer.Score(detected, cat, weekendOnly)
	assert.Empty(t, scored.AppliedMultipliers, "multipliers without a present factor do not apply")
	assert.InDelta(t, 90, scored.FinalRiskScore, 1e-9)

	both := model.RiskContext{Factors: map[model.RiskFactor]bool{
		model.FactorAfterHours:        true,
		model.FactorExternalRecipient: true,
	}}
	scored = scorer.Score(detected, cat, both)
	assert.InDelta(t, 100, scored.FinalRiskScore, 1e-9)
	assert.True(t, scored.TriggersCritical)
	assert.True(t, scored.TriggersInvestigation)
	assert.True(t, scored.TriggersAlert)
	assert.Equal(t, RecommendEscalate, scored.Recommendations[0])
}

func TestZeroScoreNeverTriggers(t *testing.T) {
	def := exfiltrationDefinition()
	def.Category.Thresholds = model.Thresholds{}
	cat := compileDefinition(t, def)

	scored := NewScorer(DefaultConfig()).Score(model.DetectionResult{Method: model.MethodKeyword}, cat, model.RiskContext{})
	assert.False(t, scored.TriggersAlert)
	assert.Empty(t, scored.Recommendations)
}

func TestContextBuilder(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	employee := &model.Employee{ID: "e-1", TimeZone: "America/New_York"}

	t.Run("time zone decides after hours", func(t *testing.T) {
		comm := &model.Communication{EmployeeID: "e-1", SentAt: time.Date(2026, 10, 14, 14, 0, 0, 0, time.UTC)}
		riskCtx, err := NewContextBuilder(nil, cfg).Build(ctx, comm, employee)
		require.NoError(t, err)
		assert.False(t, riskCtx.Has(model.FactorAfterHours), "10:00 in New York")

		comm.SentAt = time.Date(2026, 10, 14, 23, 30, 0, 0, time.UTC)
		riskCtx, err = NewContextBuilder(nil, cfg).Build(ctx, comm, employee)
		require.NoError(t, err)
		assert.True(t, riskCtx.Has(model.FactorAfterHours), "19:30 in New York")
	})

	t.Run("weekend", func(t *testing.T) {
		comm := &model.Communication{SentAt: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
		riskCtx, err := NewContextBuilder(nil, cfg).Build(ctx, comm, nil)
		require.NoError(t, err)
		assert.True(t, riskCtx.Has(model.FactorWeekend))
		assert.False(t, riskCtx.Has(model.FactorAfterHours))
	})

	t.Run("recipients and attachments", func(t *testing.T) {
		recipients := make([]string, 12)
		for i := range recipients {
			recipients[i] = "someone@example.com"
		}
		comm := &model.Communication{
			SentAt:     time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
			Recipients: recipients,
			IsExternal: true,
			Attachments: []model.Attachment{
				{Name: "customers.XLSX", SizeBytes: 6 << 20},
				{Name: "photo.png", SizeBytes: 5 << 20},
			},
		}
		riskCtx, err := NewContextBuilder(nil, cfg).Build(ctx, comm, nil)
		require.NoError(t, err)
		assert.Equal(t, []model.RiskFactor{
			model.FactorExternalRecipient,
			model.FactorLargeAttachment,
			model.FactorSensitiveAttachment,
			model.FactorBulkRecipients,
		}, riskCtx.Present())
	})

	t.Run("sender frequency", func(t *testing.T) {
		comm := &model.Communication{EmployeeID: "e-1", SentAt: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}

		riskCtx, err := NewContextBuilder(&fakeCounter{count: 50}, cfg).Build(ctx, comm, nil)
		require.NoError(t, err)
		assert.True(t, riskCtx.Has(model.FactorHighFrequency))

		riskCtx, err = NewContextBuilder(&fakeCounter{count: 3}, cfg).Build(ctx, comm, nil)
		require.NoError(t, err)
		assert.False(t, riskCtx.Has(model.FactorHighFrequency))

		_, err = NewContextBuilder(&fakeCounter{err: errors.New("disk I/O error")}, cfg).Build(ctx, comm, nil)
		assert.Error(t, err)
	})
}
