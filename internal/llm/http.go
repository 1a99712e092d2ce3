package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
)

const maxErrorBody = 512

const (
	riskSystemPrompt = "You are an insider-threat analyst scoring workplace communications. " +
		"You MUST respond with ONLY a valid JSON object. Do not include any explanatory text, " +
		"markdown formatting, or commentary before or after the JSON."
	assessmentSystemPrompt = "You are a security analyst reviewing the evidence of a policy violation. " +
		"You MUST respond with ONLY a valid JSON object. Do not include any explanatory text, " +
		"markdown formatting, or commentary before or after the JSON."
)

// completer sends one system+user prompt pair and returns the raw text reply.
type completer interface {
	complete(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// providerClient adapts a completer to the Client interface.
type providerClient struct {
	completer
}

func (p providerClient) ClassifyRisk(ctx context.Context, prompt string) (RiskResponse, error) {
	content, err := p.complete(ctx, riskSystemPrompt, prompt)
	if err != nil {
		return RiskResponse{}, err
	}
	resp, err := parseRiskResponse(content)
	if err != nil {
		return RiskResponse{}, common.Permanent(err)
	}
	return resp, nil
}

func (p providerClient) AssessViolation(ctx context.Context, prompt string) (AssessmentResponse, error) {
	content, err := p.complete(ctx, assessmentSystemPrompt, prompt)
	if err != nil {
		return AssessmentResponse{}, err
	}
	resp, err := parseAssessmentResponse(content)
	if err != nil {
		return AssessmentResponse{}, common.Permanent(err)
	}
	return resp, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// postJSON sends body to url and returns the response body of a 200 reply.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any, provider string) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(provider, resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), respBody)
	}
	return respBody, nil
}

// parseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. Unparseable or past values yield zero.
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if at, err := http.ParseTime(header); err == nil {
		return max(at.Sub(now), 0)
	}
	return 0
}

// statusError classifies a non-200 reply: 429 is rate limiting, 5xx is
// retryable, anything else is permanent.
func statusError(provider string, status int, retryAfter time.Duration, body []byte) error {
	text := string(body)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	err := fmt.Errorf("%s API error (status %d): %s", provider, status, text)

	switch {
	case status == http.StatusTooManyRequests:
		return &common.RateLimitError{RetryAfter: retryAfter, Err: err}
	case status >= http.StatusInternalServerError:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return common.Permanent(err)
	}
}
