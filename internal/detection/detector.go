package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/Veraticus/tripwire/internal/category"
	"github.com/Veraticus/tripwire/internal/metrics"
	"github.com/Veraticus/tripwire/internal/model"
)

// ErrFallbackDisabled is returned by classifiers that never call a model.
var ErrFallbackDisabled = errors.New("language-model fallback disabled")

const maxFallbackExamples = 10

// ClassificationRequest is the input of a language-model risk classification.
type ClassificationRequest struct {
	Text                string
	CategoryName        string
	CategoryDescription string
	Examples            []string
}

// ClassificationResult is the model's risk score in [0,100] with reasoning.
type ClassificationResult struct {
	Reasoning string
	Score     float64
}

// TextClassifier is the optional language-model capability used when no
// keyword or pattern of a category matched.
type TextClassifier interface {
	ClassifyRisk(ctx context.Context, req ClassificationRequest) (ClassificationResult, error)
}

// NoopClassifier is the keyword-only deployment's classifier.
type NoopClassifier struct{}

// ClassifyRisk always reports that the fallback is disabled.
func (NoopClassifier) ClassifyRisk(context.Context, ClassificationRequest) (ClassificationResult, error) {
	return ClassificationResult{}, ErrFallbackDisabled
}

// Detector matches a communication against a single category.
type Detector struct {
	classifier TextClassifier
	logger     *slog.Logger
	cfg        Config
}

// NewDetector creates a detector. A nil classifier disables the fallback.
func NewDetector(classifier TextClassifier, logger *slog.Logger, cfg Config) *Detector {
	if classifier == nil {
		classifier = NoopClassifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		classifier: classifier,
		logger:     logger,
		cfg:        cfg.withDefaults(),
	}
}

// Detect produces the detection skeleton for one (communication, category)
// pair. It never returns an error: a failed fallback yields a keyword-only
// result marked Degraded.
func (d *Detector) Detect(ctx context.Context, comm *model.Communication, cat *category.Compiled) model.DetectionResult {
	def := &cat.Definition.Category
	result := model.DetectionResult{
		CreatedAt:       time.Now(),
		CommunicationID: comm.ID,
		CategoryID:      def.ID,
		CategoryName:    def.Name,
		Severity:        def.Severity,
		Method:          model.MethodKeyword,
	}

	text := searchText(comm)
	lowered := strings.ToLower(text)

	var weight float64
	for _, kw := range cat.Definition.Keywords {
		if !strings.Contains(lowered, strings.ToLower(kw.Keyword)) {
			continue
		}
		if kw.RequiredContext != "" && !strings.Contains(lowered, strings.ToLower(kw.RequiredContext)) {
			continue
		}
		result.MatchedKeywords = append(result.MatchedKeywords, model.KeywordMatch{Keyword: kw.Keyword, Weight: kw.Weight})
		weight += kw.Weight
	}

	for _, group := range cat.Groups() {
		for _, re := range cat.Patterns(group) {
			if re.MatchString(text) {
				result.PatternMatches = append(result.PatternMatches, group)
				weight += d.cfg.PatternGroupWeight
				break
			}
		}
	}

	result.MatchWeight = weight
	result.Confidence = Saturate(weight, d.cfg.SaturationConstant)
	result.Reasoning = keywordReasoning(&result)

	if weight == 0 && def.LLMFallback {
		d.fallback(ctx, text, cat, &result)
	}

	return result
}

// Saturate maps a match weight onto a confidence in [0,100) with
// diminishing returns.
func Saturate(weight, constant float64) float64 {
	if weight <= 0 || constant <= 0 {
		return 0
	}
	return 100 * (1 - math.Exp(-weight/constant))
}

type classification struct {
	err    error
	result ClassificationResult
}

func (d *Detector) fallback(ctx context.Context, text string, cat *category.Compiled, result *model.DetectionResult) {
	req := ClassificationRequest{
		Text:                text,
		CategoryName:        cat.Name(),
		CategoryDescription: cat.Definition.Category.Description,
		Examples:            fallbackExamples(cat),
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.FallbackTimeout)
	defer cancel()

	done := make(chan classification, 1)
	go func() {
		res, err := d.classifier.ClassifyRisk(callCtx, req)
		done <- classification{result: res, err: err}
	}()

	var out classification
	select {
	case out = <-done:
	case <-callCtx.Done():
		out.err = callCtx.Err()
	}

	switch {
	case errors.Is(out.err, ErrFallbackDisabled):
		metrics.LLMFallbackTotal.WithLabelValues(metrics.OutcomeDisabled).Inc()
		return
	case out.err != nil:
		outcome := metrics.OutcomeError
		if errors.Is(out.err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
		metrics.LLMFallbackTotal.WithLabelValues(outcome).Inc()
		result.Degraded = true
		result.DegradedReason = fmt.Sprintf("language-model fallback %s: %v", outcome, out.err)
		d.logger.Warn("language-model fallback failed, using keyword-only result",
			"communication_id", result.CommunicationID,
			"category_id", result.CategoryID,
			"outcome", outcome,
			"error", out.err)
		return
	}

	metrics.LLMFallbackTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	result.Method = model.MethodLLM
	result.Confidence = clamp(out.result.Score, 0, 100)
	result.Reasoning = strings.TrimSpace(out.result.Reasoning)
}

func fallbackExamples(cat *category.Compiled) []string {
	var examples []string
	for _, kw := range cat.Definition.Keywords {
		if len(examples) == maxFallbackExamples {
			return examples
		}
		examples = append(examples, kw.Keyword)
	}
	for _, group := range cat.Groups() {
		for _, pattern := range cat.Definition.Category.DetectionPatterns[group] {
			if len(examples) == maxFallbackExamples {
				return examples
			}
			examples = append(examples, pattern)
		}
	}
	return examples
}

func searchText(comm *model.Communication) string {
	var b strings.Builder
	b.WriteString(comm.Text())
	for _, a := range comm.Attachments {
		b.WriteString("\n")
		b.WriteString(a.Name)
	}
	return b.String()
}

func keywordReasoning(result *model.DetectionResult) string {
	if !result.Matched() {
		return "No indicators matched"
	}
	groups := make([]string, len(result.PatternMatches))
	for i, g := range result.PatternMatches {
		groups[i] = string(g)
	}
	return fmt.Sprintf("Matched %d keyword(s) [%s] and %d pattern group(s) [%s]",
		len(result.MatchedKeywords), strings.Join(result.KeywordTexts(), ", "),
		len(groups), strings.Join(groups, ", "))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
