package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Veraticus/tripwire/internal/anomaly"
	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/detection"
	"github.com/Veraticus/tripwire/internal/engine"
	"github.com/Veraticus/tripwire/internal/llm"
	"github.com/spf13/viper"
)

// LLMSettings configures the optional language-model capability.
type LLMSettings struct {
	Config  llm.Config
	Enabled bool
}

// Settings is the typed view of every configuration key.
type Settings struct {
	DatabasePath string
	LogLevel     string
	LogFormat    string
	MetricsAddr  string
	Detection    detection.Config
	Engine       engine.Config
	Anomaly      anomaly.Config
	LLM          LLMSettings
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		DatabasePath: DefaultDatabasePath,
		LogLevel:     "info",
		LogFormat:    "console",
		Detection:    detection.DefaultConfig(),
		Engine:       engine.DefaultConfig(),
		Anomaly:      anomaly.DefaultConfig(),
		LLM: LLMSettings{
			Config: llm.Config{
				Provider:    "openai",
				Timeout:     10 * time.Second,
				MaxRetries:  3,
				RetryDelay:  time.Second,
				CacheTTL:    24 * time.Hour,
				RateLimit:   1000,
				Temperature: 0,
				MaxTokens:   300,
			},
		},
	}
}

// SetDefaults registers every default with v so config files and TRIPWIRE_*
// environment variables only need to name what they change.
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()

	v.SetDefault("database.path", d.DatabasePath)
	v.SetDefault("logging.level", d.LogLevel)
	v.SetDefault("logging.format", d.LogFormat)
	v.SetDefault("metrics.addr", d.MetricsAddr)

	v.SetDefault("engine.analyzer_version", d.Engine.AnalyzerVersion)
	v.SetDefault("engine.category_workers", d.Engine.CategoryWorkers)
	v.SetDefault("engine.batch_size", d.Engine.BatchSize)
	v.SetDefault("engine.auto_violations", d.Engine.AutoViolations)
	v.SetDefault("engine.calibration_weight", d.Detection.CalibrationWeight)
	v.SetDefault("engine.saturation_constant", d.Detection.SaturationConstant)
	v.SetDefault("engine.pattern_group_weight", d.Detection.PatternGroupWeight)

	v.SetDefault("context.business_start_hour", d.Detection.BusinessStartHour)
	v.SetDefault("context.business_end_hour", d.Detection.BusinessEndHour)
	v.SetDefault("context.large_attachment_bytes", d.Detection.LargeAttachmentBytes)
	v.SetDefault("context.frequency_window", d.Detection.FrequencyWindow)
	v.SetDefault("context.frequency_threshold", d.Detection.FrequencyThreshold)
	v.SetDefault("context.bulk_recipients", d.Detection.BulkRecipients)
	v.SetDefault("context.sensitive_extensions", d.Detection.SensitiveExtensions)

	v.SetDefault("risk.window_days", d.Engine.Risk.WindowDays)
	v.SetDefault("risk.communication_weight", d.Engine.Risk.CommunicationWeight)
	v.SetDefault("risk.violation_weight", d.Engine.Risk.ViolationWeight)

	v.SetDefault("anomaly.z_threshold", d.Anomaly.Threshold)
	v.SetDefault("anomaly.window_days", d.Anomaly.WindowDays)

	v.SetDefault("llm.enabled", d.LLM.Enabled)
	v.SetDefault("llm.provider", d.LLM.Config.Provider)
	v.SetDefault("llm.timeout", d.LLM.Config.Timeout)
	v.SetDefault("llm.max_retries", d.LLM.Config.MaxRetries)
	v.SetDefault("llm.retry_delay", d.LLM.Config.RetryDelay)
	v.SetDefault("llm.cache_ttl", d.LLM.Config.CacheTTL)
	v.SetDefault("llm.rate_limit", d.LLM.Config.RateLimit)
	v.SetDefault("llm.temperature", d.LLM.Config.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.Config.MaxTokens)
}

// FromViper builds Settings from v. Keys v does not know keep their
// defaults; the result is validated before it is returned.
func FromViper(v *viper.Viper) (*Settings, error) {
	s := DefaultSettings()

	if p := v.GetString("database.path"); p != "" {
		s.DatabasePath = p
	}
	s.DatabasePath = ExpandPath(s.DatabasePath)
	if l := v.GetString("logging.level"); l != "" {
		s.LogLevel = strings.ToLower(l)
	}
	if f := v.GetString("logging.format"); f != "" {
		s.LogFormat = strings.ToLower(f)
	}
	s.MetricsAddr = v.GetString("metrics.addr")

	if av := v.GetString("engine.analyzer_version"); av != "" {
		s.Engine.AnalyzerVersion = av
	}
	if v.IsSet("engine.auto_violations") {
		s.Engine.AutoViolations = v.GetBool("engine.auto_violations")
	}
	setInt(v, "engine.category_workers", &s.Engine.CategoryWorkers)
	setInt(v, "engine.batch_size", &s.Engine.BatchSize)
	setFloat(v, "engine.calibration_weight", &s.Detection.CalibrationWeight)
	setFloat(v, "engine.saturation_constant", &s.Detection.SaturationConstant)
	setFloat(v, "engine.pattern_group_weight", &s.Detection.PatternGroupWeight)

	if v.IsSet("context.business_start_hour") {
		s.Detection.BusinessStartHour = v.GetInt("context.business_start_hour")
	}
	if v.IsSet("context.business_end_hour") {
		s.Detection.BusinessEndHour = v.GetInt("context.business_end_hour")
	}
	if n := v.GetInt64("context.large_attachment_bytes"); n > 0 {
		s.Detection.LargeAttachmentBytes = n
	}
	if d := v.GetDuration("context.frequency_window"); d > 0 {
		s.Detection.FrequencyWindow = d
	}
	setInt(v, "context.frequency_threshold", &s.Detection.FrequencyThreshold)
	setInt(v, "context.bulk_recipients", &s.Detection.BulkRecipients)
	if exts := v.GetStringSlice("context.sensitive_extensions"); len(exts) > 0 {
		s.Detection.SensitiveExtensions = normalizeExtensions(exts)
	}

	setInt(v, "risk.window_days", &s.Engine.Risk.WindowDays)
	if v.IsSet("risk.communication_weight") {
		s.Engine.Risk.CommunicationWeight = v.GetFloat64("risk.communication_weight")
	}
	if v.IsSet("risk.violation_weight") {
		s.Engine.Risk.ViolationWeight = v.GetFloat64("risk.violation_weight")
	}

	setFloat(v, "anomaly.z_threshold", &s.Anomaly.Threshold)
	setInt(v, "anomaly.window_days", &s.Anomaly.WindowDays)

	if err := loadLLM(v, &s.LLM); err != nil {
		return nil, err
	}
	s.Detection.FallbackTimeout = s.LLM.Config.Timeout

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// loadLLM reads llm.* keys. The API key falls back to the provider's usual
// environment variable when the config does not carry one.
func loadLLM(v *viper.Viper, out *LLMSettings) error {
	out.Enabled = v.GetBool("llm.enabled")
	cfg := &out.Config

	if p := v.GetString("llm.provider"); p != "" {
		cfg.Provider = strings.ToLower(p)
	}
	cfg.Model = v.GetString("llm.model")
	cfg.BaseURL = v.GetString("llm.base_url")
	if d := v.GetDuration("llm.timeout"); d > 0 {
		cfg.Timeout = d
	}
	if d := v.GetDuration("llm.retry_delay"); d > 0 {
		cfg.RetryDelay = d
	}
	if d := v.GetDuration("llm.cache_ttl"); d > 0 {
		cfg.CacheTTL = d
	}
	setInt(v, "llm.max_retries", &cfg.MaxRetries)
	setInt(v, "llm.rate_limit", &cfg.RateLimit)
	setInt(v, "llm.max_tokens", &cfg.MaxTokens)
	if v.IsSet("llm.temperature") {
		cfg.Temperature = v.GetFloat64("llm.temperature")
	}

	p, err := llm.LookupProvider(cfg.Provider)
	if err != nil {
		return err
	}
	if cfg.Model == "" {
		cfg.Model = p.DefaultModel
	}
	cfg.APIKey = v.GetString(p.KeySetting)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(p.KeyEnv)
	}

	if out.Enabled && cfg.APIKey == "" {
		return common.NewConfigurationError(p.KeySetting,
			fmt.Sprintf("required when llm.enabled is set (or export %s)", p.KeyEnv))
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (s *Settings) Validate() error {
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return common.NewConfigurationError("logging.level", fmt.Sprintf("unknown level %q", s.LogLevel))
	}
	switch s.LogFormat {
	case "console", "json":
	default:
		return common.NewConfigurationError("logging.format", fmt.Sprintf("unknown format %q", s.LogFormat))
	}

	d := s.Detection
	if d.BusinessStartHour < 0 || d.BusinessEndHour > 24 || d.BusinessStartHour >= d.BusinessEndHour {
		return common.NewConfigurationError("context.business_start_hour",
			fmt.Sprintf("business hours %d-%d are not a valid range", d.BusinessStartHour, d.BusinessEndHour))
	}

	r := s.Engine.Risk
	if r.CommunicationWeight < 0 || r.ViolationWeight < 0 || r.CommunicationWeight+r.ViolationWeight == 0 {
		return common.NewConfigurationError("risk.communication_weight", "weights must be non-negative and not both zero")
	}
	if s.Anomaly.Threshold <= 0 {
		return common.NewConfigurationError("anomaly.z_threshold", "must be positive")
	}
	return nil
}

func setInt(v *viper.Viper, key string, dst *int) {
	if n := v.GetInt(key); n > 0 {
		*dst = n
	}
}

func setFloat(v *viper.Viper, key string, dst *float64) {
	if f := v.GetFloat64(key); f > 0 {
		*dst = f
	}
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
