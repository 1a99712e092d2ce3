package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Veraticus/tripwire/internal/model"
)

// cleanMarkdownWrapper strips code fences and any prose around the JSON
// object a model returned.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return strings.TrimSpace(content)
}

// parseRiskResponse extracts the risk score and reasoning.
func parseRiskResponse(content string) (RiskResponse, error) {
	var jsonResp struct {
		RiskScore *float64 `json:"risk_score"`
		Reasoning string   `json:"reasoning"`
	}

	if err := json.Unmarshal([]byte(cleanMarkdownWrapper(content)), &jsonResp); err != nil {
		return RiskResponse{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if jsonResp.RiskScore == nil {
		return RiskResponse{}, fmt.Errorf("no risk_score found in response")
	}

	score := *jsonResp.RiskScore
	if score < 0 || score > 100 {
		return RiskResponse{}, fmt.Errorf("risk_score %v outside [0,100]", score)
	}

	return RiskResponse{
		RiskScore: score,
		Reasoning: strings.TrimSpace(jsonResp.Reasoning),
	}, nil
}

// parseAssessmentResponse extracts the advisory violation review.
func parseAssessmentResponse(content string) (AssessmentResponse, error) {
	var jsonResp struct {
		Confidence        *float64 `json:"confidence"`
		Reasoning         string   `json:"reasoning"`
		RecommendedStatus string   `json:"recommended_status"`
	}

	if err := json.Unmarshal([]byte(cleanMarkdownWrapper(content)), &jsonResp); err != nil {
		return AssessmentResponse{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if jsonResp.Confidence == nil {
		return AssessmentResponse{}, fmt.Errorf("no confidence found in response")
	}

	confidence := *jsonResp.Confidence
	if confidence < 0 || confidence > 100 {
		return AssessmentResponse{}, fmt.Errorf("confidence %v outside [0,100]", confidence)
	}

	status, ok := normalizeStatus(jsonResp.RecommendedStatus)
	if !ok {
		return AssessmentResponse{}, fmt.Errorf("unknown recommended_status %q", jsonResp.RecommendedStatus)
	}

	return AssessmentResponse{
		Confidence:        confidence,
		Reasoning:         strings.TrimSpace(jsonResp.Reasoning),
		RecommendedStatus: string(status),
	}, nil
}

// normalizeStatus accepts the status names a model tends to produce.
func normalizeStatus(s string) (model.ViolationStatus, bool) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	switch key {
	case "active":
		return model.StatusActive, true
	case "investigating", "investigate":
		return model.StatusInvestigating, true
	case "falsepositive":
		return model.StatusFalsePositive, true
	case "resolved", "resolve":
		return model.StatusResolved, true
	default:
		return "", false
	}
}
