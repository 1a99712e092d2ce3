package categories

import (
	"fmt"

	"github.com/Veraticus/tripwire/internal/model"
)

// CategoryName is a strongly typed fixture name.
type CategoryName string

// String returns the string representation of the category name.
func (c CategoryName) String() string {
	return string(c)
}

// Fixture category names.
const (
	DataExfiltration  CategoryName = "Data Exfiltration"
	Harassment        CategoryName = "Harassment"
	CredentialSharing CategoryName = "Credential Sharing"
	PolicyEvasion     CategoryName = "Policy Evasion"
)

// Option adjusts a fixture definition.
type Option func(*model.CategoryDefinition)

// LLMFallback enables the language-model fallback.
func LLMFallback() Option {
	return func(def *model.CategoryDefinition) { def.Category.LLMFallback = true }
}

// Disabled stores the category inactive.
func Disabled() Option {
	return func(def *model.CategoryDefinition) { def.Category.IsActive = false }
}

// Definition returns a fresh copy of the named fixture. Scores in tests are
// computed from these values, so changing one changes expected results.
func Definition(name CategoryName, opts ...Option) *model.CategoryDefinition {
	var def *model.CategoryDefinition
	switch name {
	case DataExfiltration:
		// Keyword weight 3.5 plus one pattern group saturates calibration.
		def = &model.CategoryDefinition{
			Category: model.ThreatCategory{
				Name:          name.String(),
				Description:   "Moving company data outside approved channels",
				Type:          model.CategoryTypePredefined,
				Severity:      model.SeverityHigh,
				BaseRiskScore: 70,
				Thresholds:    model.Thresholds{Alert: 70, Investigation: 85, Critical: 95},
				DetectionPatterns: map[model.PatternGroup][]string{
					model.PatternFileTransfer: {`personal\s+(gmail|dropbox)`},
				},
				RiskMultipliers: map[model.RiskFactor]float64{model.FactorAfterHours: 1.3},
			},
			Keywords: []model.CategoryKeyword{
				{Keyword: "confidential", Weight: 1.5},
				{Keyword: "forward to my personal", Weight: 2},
			},
		}
	case Harassment:
		def = &model.CategoryDefinition{
			Category: model.ThreatCategory{
				Name:          name.String(),
				Description:   "Hostile or threatening language toward colleagues",
				Type:          model.CategoryTypePredefined,
				Severity:      model.SeverityMedium,
				BaseRiskScore: 60,
				Thresholds:    model.Thresholds{Alert: 50, Investigation: 70, Critical: 90},
			},
			Keywords: []model.CategoryKeyword{
				{Keyword: "you will regret", Weight: 2},
			},
		}
	case CredentialSharing:
		def = &model.CategoryDefinition{
			Category: model.ThreatCategory{
				Name:          name.String(),
				Description:   "Passwords or tokens shared in plain text",
				Type:          model.CategoryTypePredefined,
				Severity:      model.SeverityCritical,
				BaseRiskScore: 80,
				Thresholds:    model.Thresholds{Alert: 60, Investigation: 75, Critical: 90},
				DetectionPatterns: map[model.PatternGroup][]string{
					model.PatternCredentials: {`password\s*[:=]`},
				},
				RiskMultipliers: map[model.RiskFactor]float64{model.FactorExternalRecipient: 1.5},
			},
			Keywords: []model.CategoryKeyword{
				{Keyword: "my password", Weight: 2},
			},
		}
	case PolicyEvasion:
		def = &model.CategoryDefinition{
			Category: model.ThreatCategory{
				Name:          name.String(),
				Description:   "Attempts to move conversations off monitored channels",
				Type:          model.CategoryTypeCustom,
				Severity:      model.SeverityLow,
				BaseRiskScore: 40,
				Thresholds:    model.Thresholds{Alert: 40, Investigation: 60, Critical: 80},
				DetectionPatterns: map[model.PatternGroup][]string{
					model.PatternEvasion: {`delete\s+this\s+(message|email)`},
				},
			},
			Keywords: []model.CategoryKeyword{
				{Keyword: "off the record", Weight: 1},
				{Keyword: "use signal", Weight: 1},
			},
		}
	default:
		panic(fmt.Sprintf("unknown category fixture %q", name))
	}

	def.Category.IsActive = true
	for _, opt := range opts {
		opt(def)
	}
	return def
}

// Fixture is a named set of categories for a test scenario.
type Fixture interface {
	// Name returns the fixture's descriptive name.
	Name() string

	// Categories returns the category names included in this fixture.
	Categories() []CategoryName
}

type fixture struct {
	name       string
	categories []CategoryName
}

func (f *fixture) Name() string               { return f.name }
func (f *fixture) Categories() []CategoryName { return f.categories }

// Predefined fixtures.
var (
	// FixtureMinimal is the pair most analyzer tests run against.
	FixtureMinimal = &fixture{
		name:       "Minimal",
		categories: []CategoryName{DataExfiltration, Harassment},
	}

	// FixtureComprehensive covers every severity.
	FixtureComprehensive = &fixture{
		name:       "Comprehensive",
		categories: []CategoryName{DataExfiltration, Harassment, CredentialSharing, PolicyEvasion},
	}
)

// NewCompositeFixture combines fixtures, keeping the first occurrence of each
// category.
func NewCompositeFixture(name string, fixtures ...Fixture) Fixture {
	seen := make(map[CategoryName]struct{})
	var names []CategoryName
	for _, f := range fixtures {
		for _, c := range f.Categories() {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			names = append(names, c)
		}
	}
	return &fixture{name: name, categories: names}
}
