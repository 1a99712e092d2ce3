package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/detection"
	"github.com/Veraticus/tripwire/internal/metrics"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
	"github.com/Veraticus/tripwire/internal/violation"
)

// Operation names used in retry logs and metrics.
const (
	opClassifyRisk    = "classify_risk"
	opAssessViolation = "assess_violation"
)

// Classifier implements detection.TextClassifier and violation.Assessor
// using LLM APIs.
type Classifier struct {
	client      Client
	cache       *responseCache[RiskResponse]
	logger      *slog.Logger
	rateLimiter *rateLimiter
	retryOpts   service.RetryOptions
}

var (
	_ detection.TextClassifier = (*Classifier)(nil)
	_ violation.Assessor       = (*Classifier)(nil)
)

// NewClassifier creates a new LLM-based classifier.
func NewClassifier(cfg Config, logger *slog.Logger) (*Classifier, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return NewClassifierWithClient(client, cfg, logger), nil
}

// NewClassifierWithClient wraps an existing client with caching, rate
// limiting and retries.
func NewClassifierWithClient(client Client, cfg Config, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &Classifier{
		client:      client,
		cache:       newResponseCache[RiskResponse](cfg.CacheTTL),
		logger:      logger,
		retryOpts:   retryOpts,
		rateLimiter: newRateLimiter(cfg.RateLimit),
	}
}

// ClassifyRisk scores a communication against one category. Identical
// requests within the cache TTL are answered from the cache.
func (c *Classifier) ClassifyRisk(ctx context.Context, req detection.ClassificationRequest) (detection.ClassificationResult, error) {
	key := riskCacheKey(req)
	if cached, found := c.cache.get(key); found {
		c.logger.Debug("cache hit for risk classification", "category", req.CategoryName)
		return detection.ClassificationResult{Score: cached.RiskScore, Reasoning: cached.Reasoning}, nil
	}

	prompt := buildRiskPrompt(req)

	var resp RiskResponse
	err := common.WithRetry(ctx, func() error {
		if err := c.rateLimiter.wait(ctx); err != nil {
			return common.Permanent(err)
		}
		var callErr error
		resp, callErr = c.client.ClassifyRisk(ctx, prompt)
		return callErr
	}, c.retryOptions(opClassifyRisk))
	if err != nil {
		return detection.ClassificationResult{}, fmt.Errorf("risk classification failed: %w", err)
	}

	c.cache.set(key, resp)
	c.logger.Debug("risk classified by language model",
		"category", req.CategoryName,
		"risk_score", resp.RiskScore)

	return detection.ClassificationResult{Score: resp.RiskScore, Reasoning: resp.Reasoning}, nil
}

// Assess reviews a violation's evidence. It never changes the violation.
func (c *Classifier) Assess(ctx context.Context, v *model.Violation) (violation.Assessment, error) {
	prompt := buildAssessmentPrompt(v)

	var resp AssessmentResponse
	err := common.WithRetry(ctx, func() error {
		if err := c.rateLimiter.wait(ctx); err != nil {
			return common.Permanent(err)
		}
		var callErr error
		resp, callErr = c.client.AssessViolation(ctx, prompt)
		return callErr
	}, c.retryOptions(opAssessViolation))
	if err != nil {
		return violation.Assessment{}, fmt.Errorf("violation assessment failed: %w", err)
	}

	return violation.Assessment{
		Score:             resp.Confidence,
		Reasoning:         resp.Reasoning,
		RecommendedStatus: model.ViolationStatus(resp.RecommendedStatus),
	}, nil
}

// retryOptions names the call and counts each retry it makes.
func (c *Classifier) retryOptions(operation string) service.RetryOptions {
	opts := c.retryOpts
	opts.Operation = operation
	opts.OnRetry = func(_ int, err error) {
		metrics.LLMRetriesTotal.WithLabelValues(operation, common.RetryReason(err)).Inc()
	}
	return opts
}

// Close releases background resources.
func (c *Classifier) Close() error {
	c.cache.Close()
	return nil
}

func riskCacheKey(req detection.ClassificationRequest) string {
	h := sha256.New()
	h.Write([]byte(req.CategoryName))
	h.Write([]byte{0})
	h.Write([]byte(req.CategoryDescription))
	h.Write([]byte{0})
	h.Write([]byte(req.Text))
	return hex.EncodeToString(h.Sum(nil))
}
