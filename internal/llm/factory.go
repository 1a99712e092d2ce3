package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Veraticus/tripwire/internal/common"
)

// Provider describes a supported language-model backend and where its
// credentials come from.
type Provider struct {
	Name         string
	DefaultModel string
	// KeySetting is the settings key holding the API key.
	KeySetting string
	// KeyEnv is the environment variable consulted when KeySetting is empty.
	KeyEnv string

	build func(Config) (Client, error)
}

var providers = map[string]Provider{
	"openai": {
		Name:         "openai",
		DefaultModel: "gpt-4o-mini",
		KeySetting:   "llm.openai_api_key",
		KeyEnv:       "OPENAI_API_KEY",
		build:        newOpenAIClient,
	},
	"anthropic": {
		Name:         "anthropic",
		DefaultModel: "claude-3-5-haiku-latest",
		KeySetting:   "llm.anthropic_api_key",
		KeyEnv:       "ANTHROPIC_API_KEY",
		build:        newAnthropicClient,
	},
}

// LookupProvider finds a provider by case-insensitive name.
func LookupProvider(name string) (Provider, error) {
	p, ok := providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Provider{}, common.NewConfigurationError("llm.provider",
			fmt.Sprintf("unsupported provider %q (supported: %s)", name, strings.Join(ProviderNames(), ", ")))
	}
	return p, nil
}

// ProviderNames lists the supported providers in sorted order.
func ProviderNames() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewClient creates a raw LLM client for the configured provider. An empty
// model falls back to the provider's default.
func NewClient(cfg Config) (Client, error) {
	p, err := LookupProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, common.NewConfigurationError(p.KeySetting,
			fmt.Sprintf("%s API key is required (or export %s)", p.Name, p.KeyEnv))
	}
	if cfg.Model == "" {
		cfg.Model = p.DefaultModel
	}
	return p.build(cfg)
}
