// Package detection evaluates one communication against one threat category:
// it matches keywords and patterns, builds the contextual risk factors and
// turns the match into a finalized 0-100 risk score.
package detection

import "time"

// Config holds the tunables of detection and scoring.
type Config struct {
	SensitiveExtensions  []string
	FallbackTimeout      time.Duration
	FrequencyWindow      time.Duration
	CalibrationWeight    float64
	SaturationConstant   float64
	PatternGroupWeight   float64
	LargeAttachmentBytes int64
	BusinessStartHour    int
	BusinessEndHour      int
	FrequencyThreshold   int
	BulkRecipients       int
}

// DefaultConfig returns the default detection configuration.
func DefaultConfig() Config {
	return Config{
		CalibrationWeight:    3.0,
		SaturationConstant:   3.0,
		PatternGroupWeight:   1.0,
		FallbackTimeout:      10 * time.Second,
		BusinessStartHour:    8,
		BusinessEndHour:      18,
		LargeAttachmentBytes: 10 << 20,
		FrequencyWindow:      24 * time.Hour,
		FrequencyThreshold:   50,
		BulkRecipients:       10,
		SensitiveExtensions: []string{
			"zip", "7z", "rar", "tar", "gz",
			"sql", "db", "bak", "pst",
			"csv", "xls", "xlsx",
			"pem", "key", "kdbx",
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CalibrationWeight <= 0 {
		c.CalibrationWeight = def.CalibrationWeight
	}
	if c.SaturationConstant <= 0 {
		c.SaturationConstant = def.SaturationConstant
	}
	if c.PatternGroupWeight <= 0 {
		c.PatternGroupWeight = def.PatternGroupWeight
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = def.FallbackTimeout
	}
	if c.BusinessEndHour <= c.BusinessStartHour {
		c.BusinessStartHour, c.BusinessEndHour = def.BusinessStartHour, def.BusinessEndHour
	}
	if c.LargeAttachmentBytes <= 0 {
		c.LargeAttachmentBytes = def.LargeAttachmentBytes
	}
	if c.FrequencyWindow <= 0 {
		c.FrequencyWindow = def.FrequencyWindow
	}
	if c.FrequencyThreshold <= 0 {
		c.FrequencyThreshold = def.FrequencyThreshold
	}
	if c.BulkRecipients <= 0 {
		c.BulkRecipients = def.BulkRecipients
	}
	if c.SensitiveExtensions == nil {
		c.SensitiveExtensions = def.SensitiveExtensions
	}
	return c
}

// IsAfterHours reports whether t falls outside business hours in loc.
func (c Config) IsAfterHours(t time.Time, loc *time.Location) bool {
	c = c.withDefaults()
	hour := t.In(loc).Hour()
	return hour < c.BusinessStartHour || hour >= c.BusinessEndHour
}
