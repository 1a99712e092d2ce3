package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if yaml != "" {
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	}
	return v
}

func TestFromViper_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/analyst")
	t.Setenv("OPENAI_API_KEY", "")

	s, err := FromViper(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "/home/analyst/.local/share/tripwire/tripwire.db", s.DatabasePath)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, "console", s.LogFormat)
	assert.Empty(t, s.MetricsAddr)

	assert.Equal(t, "tripwire-1", s.Engine.AnalyzerVersion)
	assert.Equal(t, 4, s.Engine.CategoryWorkers)
	assert.True(t, s.Engine.AutoViolations)
	assert.Equal(t, 30, s.Engine.Risk.WindowDays)
	assert.InDelta(t, 0.6, s.Engine.Risk.CommunicationWeight, 1e-9)
	assert.InDelta(t, 0.4, s.Engine.Risk.ViolationWeight, 1e-9)

	assert.InDelta(t, 3.0, s.Detection.CalibrationWeight, 1e-9)
	assert.Equal(t, 8, s.Detection.BusinessStartHour)
	assert.Equal(t, 18, s.Detection.BusinessEndHour)
	assert.Equal(t, 10*time.Second, s.Detection.FallbackTimeout)

	assert.InDelta(t, 2.0, s.Anomaly.Threshold, 1e-9)
	assert.Equal(t, 30, s.Anomaly.WindowDays)

	assert.False(t, s.LLM.Enabled)
	assert.Equal(t, "openai", s.LLM.Config.Provider)
	assert.NotEmpty(t, s.LLM.Config.Model)
}

func TestFromViper_Overrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	s, err := FromViper(newViper(t, `
database:
  path: /var/lib/tripwire/risk.db
logging:
  level: DEBUG
  format: json
metrics:
  addr: ":9090"
engine:
  analyzer_version: tripwire-2
  category_workers: 8
  auto_violations: false
  calibration_weight: 4
context:
  business_start_hour: 7
  business_end_hour: 19
  frequency_window: 12h
  sensitive_extensions: [".ZIP", "sql", " "]
risk:
  window_days: 14
  communication_weight: 0.5
  violation_weight: 0.5
anomaly:
  z_threshold: 3
llm:
  enabled: true
  provider: Anthropic
  anthropic_api_key: sk-test
  timeout: 4s
  model: claude-test
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tripwire/risk.db", s.DatabasePath)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "json", s.LogFormat)
	assert.Equal(t, ":9090", s.MetricsAddr)

	assert.Equal(t, "tripwire-2", s.Engine.AnalyzerVersion)
	assert.Equal(t, 8, s.Engine.CategoryWorkers)
	assert.False(t, s.Engine.AutoViolations)
	assert.InDelta(t, 4.0, s.Detection.CalibrationWeight, 1e-9)
	assert.Equal(t, 7, s.Detection.BusinessStartHour)
	assert.Equal(t, 19, s.Detection.BusinessEndHour)
	assert.Equal(t, 12*time.Hour, s.Detection.FrequencyWindow)
	assert.Equal(t, []string{"zip", "sql"}, s.Detection.SensitiveExtensions)

	assert.Equal(t, 14, s.Engine.Risk.WindowDays)
	assert.InDelta(t, 0.5, s.Engine.Risk.CommunicationWeight, 1e-9)
	assert.InDelta(t, 3.0, s.Anomaly.Threshold, 1e-9)

	assert.True(t, s.LLM.Enabled)
	assert.Equal(t, "anthropic", s.LLM.Config.Provider)
	assert.Equal(t, "sk-test", s.LLM.Config.APIKey)
	assert.Equal(t, "claude-test", s.LLM.Config.Model)
	assert.Equal(t, 4*time.Second, s.LLM.Config.Timeout)
	assert.Equal(t, 4*time.Second, s.Detection.FallbackTimeout)
}

func TestFromViper_APIKeyFromEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	s, err := FromViper(newViper(t, "llm:\n  enabled: true\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-env", s.LLM.Config.APIKey)
}

func TestFromViper_Invalid(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{name: "log level", yaml: "logging:\n  level: verbose\n", field: "logging.level"},
		{name: "log format", yaml: "logging:\n  format: xml\n", field: "logging.format"},
		{name: "provider", yaml: "llm:\n  provider: bard\n", field: "llm.provider"},
		{name: "missing api key", yaml: "llm:\n  enabled: true\n", field: "llm.openai_api_key"},
		{name: "inverted business hours", yaml: "context:\n  business_start_hour: 18\n  business_end_hour: 8\n", field: "context.business_start_hour"},
		{name: "zero weights", yaml: "risk:\n  communication_weight: 0\n  violation_weight: 0\n", field: "risk.communication_weight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromViper(newViper(t, tt.yaml))
			require.ErrorIs(t, err, common.ErrInvalidConfig)

			var cfgErr *common.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("TRIPWIRE_TEST_DIR", "/srv/data")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "tilde", in: "~", want: home},
		{name: "tilde prefix", in: "~/risk.db", want: filepath.Join(home, "risk.db")},
		{name: "env var", in: "$TRIPWIRE_TEST_DIR/risk.db", want: "/srv/data/risk.db"},
		{name: "absolute", in: "/tmp/risk.db", want: "/tmp/risk.db"},
		{name: "tilde in middle", in: "/tmp/~/risk.db", want: "/tmp/~/risk.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}
