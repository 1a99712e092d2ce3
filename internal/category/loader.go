package category

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/Veraticus/tripwire/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type definitionFile struct {
	Categories []model.CategoryDefinition `yaml:"categories"`
}

// Parse decodes category definitions from YAML. Each definition is
// normalized and validated; the first invalid one fails the whole document.
func Parse(data []byte) ([]model.CategoryDefinition, error) {
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse categories: %w", err)
	}

	for i := range file.Categories {
		def := &file.Categories[i]
		Normalize(def)
		if err := Validate(&def.Category, def.Keywords); err != nil {
			return nil, fmt.Errorf("category %d (%q): %w", i, def.Category.Name, err)
		}
	}
	return file.Categories, nil
}

// LoadFile reads category definitions from a YAML file.
func LoadFile(path string) ([]model.CategoryDefinition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read category file: %w", err)
	}
	return Parse(data)
}

// Defaults returns the predefined categories shipped with the binary.
func Defaults() ([]model.CategoryDefinition, error) {
	return Parse(defaultsYAML)
}
