// Package category validates threat category definitions at write time and
// provides the immutable snapshot of active categories used by analysis.
package category

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/go-playground/validator/v10"
)

// Validator checks category definitions before they are persisted.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with the closed pattern-group and
// risk-factor enumerations registered as custom tags.
func NewValidator() *Validator {
	v := validator.New()

	_ = v.RegisterValidation("pattern_group", func(fl validator.FieldLevel) bool {
		return slices.Contains(model.KnownPatternGroups, model.PatternGroup(fl.Field().String()))
	})
	_ = v.RegisterValidation("risk_factor", func(fl validator.FieldLevel) bool {
		return slices.Contains(model.KnownRiskFactors, model.RiskFactor(fl.Field().String()))
	})

	return &Validator{validate: v}
}

var defaultValidator = NewValidator()

// Validate checks a category and its keywords with the default validator.
func Validate(cat *model.ThreatCategory, keywords []model.CategoryKeyword) error {
	return defaultValidator.Validate(cat, keywords)
}

// Validate rejects any definition that could not be evaluated safely:
// thresholds out of order, values out of range, unknown enumeration keys,
// uncompilable patterns or duplicate keywords. All failures are
// *common.ConfigurationError.
func (v *Validator) Validate(cat *model.ThreatCategory, keywords []model.CategoryKeyword) error {
	if cat == nil {
		return common.NewConfigurationError("category", "definition is nil")
	}

	if err := v.validate.Struct(cat); err != nil {
		return toConfigurationError(err)
	}

	for _, group := range cat.SortedPatternGroups() {
		for i, pattern := range cat.DetectionPatterns[group] {
			field := fmt.Sprintf("detection_patterns.%s[%d]", group, i)
			if strings.TrimSpace(pattern) == "" {
				return common.NewConfigurationError(field, "pattern is empty")
			}
			if _, err := common.CompilePattern(pattern); err != nil {
				return common.NewConfigurationError(field, err.Error())
			}
		}
	}

	seen := make(map[string]int, len(keywords))
	for i := range keywords {
		kw := &keywords[i]
		if err := v.validate.Struct(kw); err != nil {
			return toConfigurationError(err)
		}
		key := strings.ToLower(strings.TrimSpace(kw.Keyword))
		if key == "" {
			return common.NewConfigurationError(fmt.Sprintf("keywords[%d]", i), "keyword is blank")
		}
		if prev, ok := seen[key]; ok {
			return common.NewConfigurationError(
				fmt.Sprintf("keywords[%d]", i),
				fmt.Sprintf("duplicate of keywords[%d] %q", prev, kw.Keyword))
		}
		seen[key] = i
	}

	return nil
}

// Normalize trims keyword text and derives the phrase flag. It is applied
// before validation so stored keywords are canonical.
func Normalize(def *model.CategoryDefinition) {
	def.Category.Name = strings.TrimSpace(def.Category.Name)
	for i := range def.Keywords {
		kw := &def.Keywords[i]
		kw.Keyword = strings.TrimSpace(kw.Keyword)
		kw.RequiredContext = strings.TrimSpace(kw.RequiredContext)
		kw.IsPhrase = strings.ContainsAny(kw.Keyword, " \t")
	}
}

func toConfigurationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return common.NewConfigurationError("", err.Error())
	}

	fe := verrs[0]
	reason := fmt.Sprintf("failed %q", fe.Tag())
	if fe.Param() != "" {
		reason = fmt.Sprintf("failed %q (%s), got %v", fe.Tag(), fe.Param(), fe.Value())
	}
	return common.NewConfigurationError(fe.Namespace(), reason)
}
