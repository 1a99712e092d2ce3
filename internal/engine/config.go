// Package engine turns raw communications into risk verdicts: it runs every
// active category against a communication, reduces the results to one
// communication-level verdict, keeps employee risk profiles current and runs
// tracked batch jobs.
package engine

// RiskConfig tunes the employee risk aggregation.
type RiskConfig struct {
	WindowDays          int
	CommunicationWeight float64
	ViolationWeight     float64
}

// Config holds configuration options for the analysis engine.
type Config struct {
	AnalyzerVersion string
	Risk            RiskConfig
	CategoryWorkers int
	BatchSize       int
	AutoViolations  bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AnalyzerVersion: "tripwire-1",
		CategoryWorkers: 4,
		BatchSize:       500,
		AutoViolations:  true,
		Risk:            DefaultRiskConfig(),
	}
}

// DefaultRiskConfig returns the default 30-day, 0.6/0.4 weighting.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		WindowDays:          30,
		CommunicationWeight: 0.6,
		ViolationWeight:     0.4,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AnalyzerVersion == "" {
		c.AnalyzerVersion = def.AnalyzerVersion
	}
	if c.CategoryWorkers <= 0 {
		c.CategoryWorkers = def.CategoryWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	c.Risk = c.Risk.withDefaults()
	return c
}

func (c RiskConfig) withDefaults() RiskConfig {
	def := DefaultRiskConfig()
	if c.WindowDays <= 0 {
		c.WindowDays = def.WindowDays
	}
	if c.CommunicationWeight <= 0 && c.ViolationWeight <= 0 {
		c.CommunicationWeight, c.ViolationWeight = def.CommunicationWeight, def.ViolationWeight
	}
	return c
}
