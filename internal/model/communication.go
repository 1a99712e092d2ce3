package model

import (
	"strings"
	"time"
)

// Channel identifies the kind of system a communication came from.
type Channel string

// Channel constants.
const (
	ChannelEmail         Channel = "email"
	ChannelChat          Channel = "chat"
	ChannelCollaboration Channel = "collaboration"
)

// Attachment describes one file attached to a communication.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Extension returns the lowercased file extension without the dot.
func (a Attachment) Extension() string {
	idx := strings.LastIndex(a.Name, ".")
	if idx < 0 || idx == len(a.Name)-1 {
		return ""
	}
	return strings.ToLower(a.Name[idx+1:])
}

// RiskFlag is the per-category summary stored in a communication's overlay.
type RiskFlag struct {
	CategoryName          string   `json:"category_name"`
	Severity              Severity `json:"severity"`
	MatchedKeywords       []string `json:"matched_keywords,omitempty"`
	FinalRiskScore        float64  `json:"final_risk_score"`
	CategoryID            int      `json:"category_id"`
	TriggersAlert         bool     `json:"triggers_alert"`
	TriggersInvestigation bool     `json:"triggers_investigation"`
	TriggersCritical      bool     `json:"triggers_critical"`
}

// Analysis is the mutable overlay written by each analysis pass. It never
// touches the immutable facts of the communication.
type Analysis struct {
	AnalyzedAt      time.Time  `json:"analyzed_at"`
	RiskFlags       []RiskFlag `json:"risk_flags"`
	Category        string     `json:"category"`
	AnalyzerVersion string     `json:"analyzer_version"`
	RiskScore       int        `json:"risk_score"`
	IsAnalyzed      bool       `json:"is_analyzed"`
	IsFlagged       bool       `json:"is_flagged"`
}

// Communication is a normalized message supplied by a connector.
type Communication struct {
	SentAt      time.Time    `json:"sent_at"`
	Recipients  []string     `json:"recipients"`
	Attachments []Attachment `json:"attachments"`
	ID          string       `json:"id"`
	EmployeeID  string       `json:"employee_id"`
	Sender      string       `json:"sender"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Channel     Channel      `json:"channel"`
	Analysis    Analysis     `json:"analysis"`
	IsExternal  bool         `json:"is_external"`
}

// Text returns the searchable text of the communication.
func (c *Communication) Text() string {
	return c.Subject + "\n" + c.Body
}

// TotalAttachmentBytes sums attachment sizes.
func (c *Communication) TotalAttachmentBytes() int64 {
	var total int64
	for _, a := range c.Attachments {
		total += a.SizeBytes
	}
	return total
}
