package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/tripwire/internal/detection"
	"github.com/Veraticus/tripwire/internal/model"
)

const maxPromptText = 6000

func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n[truncated]"
}

func buildRiskPrompt(req detection.ClassificationRequest) string {
	var sb strings.Builder

	sb.WriteString("Score how strongly the communication below matches the threat category.\n\n")
	fmt.Fprintf(&sb, "Category: %s\n", req.CategoryName)
	if req.CategoryDescription != "" {
		fmt.Fprintf(&sb, "Description: %s\n", req.CategoryDescription)
	}
	if len(req.Examples) > 0 {
		sb.WriteString("Example indicators:\n")
		for _, ex := range req.Examples {
			fmt.Fprintf(&sb, "- %s\n", ex)
		}
	}

	sb.WriteString("\nCommunication:\n---\n")
	sb.WriteString(truncateText(req.Text, maxPromptText))
	sb.WriteString("\n---\n\n")
	sb.WriteString(`Respond with JSON: {"risk_score": <0-100>, "reasoning": "<one or two sentences>"}`)
	sb.WriteString("\nUse 0 when the communication is unrelated to the category.")

	return sb.String()
}

func buildAssessmentPrompt(v *model.Violation) string {
	var sb strings.Builder

	sb.WriteString("Review the evidence of this violation and recommend a status.\n\n")
	fmt.Fprintf(&sb, "Type: %s\n", v.Type)
	fmt.Fprintf(&sb, "Severity: %s\n", v.Severity)
	fmt.Fprintf(&sb, "Current status: %s\n", v.Status)
	if v.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", v.Description)
	}
	if len(v.Evidence) > 0 {
		sb.WriteString("Evidence:\n")
		for _, e := range v.Evidence {
			fmt.Fprintf(&sb, "- %s\n", truncateText(e, 500))
		}
	}

	sb.WriteString("\nAllowed statuses: Active, Investigating, FalsePositive, Resolved.\n")
	sb.WriteString(`Respond with JSON: {"confidence": <0-100>, "recommended_status": "<status>", "reasoning": "<short explanation>"}`)

	return sb.String()
}
