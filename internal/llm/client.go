package llm

import (
	"context"
	"time"
)

// Client defines the interface for LLM providers.
type Client interface {
	ClassifyRisk(ctx context.Context, prompt string) (RiskResponse, error)
	AssessViolation(ctx context.Context, prompt string) (AssessmentResponse, error)
}

// RiskResponse is the model's risk score for a communication, 0 to 100.
type RiskResponse struct {
	Reasoning string
	RiskScore float64
}

// AssessmentResponse is the model's advisory review of a violation.
type AssessmentResponse struct {
	Reasoning         string
	RecommendedStatus string
	Confidence        float64
}

// Config holds configuration for the LLM clients and classifier.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	RetryDelay  time.Duration
	CacheTTL    time.Duration
	Temperature float64
	MaxRetries  int
	RateLimit   int
	MaxTokens   int
}
