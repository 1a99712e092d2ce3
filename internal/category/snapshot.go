package category

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sort"
	"time"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
)

// Compiled is one validated category with its patterns compiled. It is
// never modified after construction and is safe to share between
// goroutines.
type Compiled struct {
	patterns   map[model.PatternGroup][]*regexp.Regexp
	groups     []model.PatternGroup
	Definition model.CategoryDefinition
}

// ID returns the category id.
func (c *Compiled) ID() int {
	return c.Definition.Category.ID
}

// Name returns the category name.
func (c *Compiled) Name() string {
	return c.Definition.Category.Name
}

// Groups returns the pattern groups in a stable order.
func (c *Compiled) Groups() []model.PatternGroup {
	return slices.Clone(c.groups)
}

// Patterns returns the compiled expressions of one group.
func (c *Compiled) Patterns(group model.PatternGroup) []*regexp.Regexp {
	return c.patterns[group]
}

// Snapshot is an immutable view of the active category set. Refreshing
// configuration produces a new Snapshot; in-flight analyses keep the one
// they started with.
type Snapshot struct {
	loadedAt   time.Time
	byID       map[int]*Compiled
	categories []*Compiled
}

// NewSnapshot validates and compiles the active definitions. Inactive
// definitions are skipped. A definition that fails validation aborts the
// whole snapshot so analysis never runs against invalid configuration.
func NewSnapshot(defs []model.CategoryDefinition) (*Snapshot, error) {
	snap := &Snapshot{
		loadedAt: time.Now(),
		byID:     make(map[int]*Compiled, len(defs)),
	}

	for i := range defs {
		if !defs[i].Category.IsActive {
			continue
		}
		compiled, err := compile(defs[i])
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", defs[i].Category.Name, err)
		}
		snap.categories = append(snap.categories, compiled)
		snap.byID[compiled.ID()] = compiled
	}

	sort.Slice(snap.categories, func(i, j int) bool {
		return snap.categories[i].ID() < snap.categories[j].ID()
	})

	return snap, nil
}

func compile(def model.CategoryDefinition) (*Compiled, error) {
	if err := Validate(&def.Category, def.Keywords); err != nil {
		return nil, err
	}

	cp := copyDefinition(def)
	compiled := &Compiled{
		Definition: cp,
		patterns:   make(map[model.PatternGroup][]*regexp.Regexp, len(cp.Category.DetectionPatterns)),
		groups:     cp.Category.SortedPatternGroups(),
	}

	for _, group := range compiled.groups {
		for _, pattern := range cp.Category.DetectionPatterns[group] {
			re, err := common.CompilePattern(pattern)
			if err != nil {
				return nil, common.NewConfigurationError(string(group), err.Error())
			}
			compiled.patterns[group] = append(compiled.patterns[group], re)
		}
	}

	return compiled, nil
}

func copyDefinition(def model.CategoryDefinition) model.CategoryDefinition {
	out := def
	out.Category.DetectionPatterns = make(map[model.PatternGroup][]string, len(def.Category.DetectionPatterns))
	for group, patterns := range def.Category.DetectionPatterns {
		out.Category.DetectionPatterns[group] = slices.Clone(patterns)
	}
	out.Category.RiskMultipliers = maps.Clone(def.Category.RiskMultipliers)
	out.Keywords = slices.Clone(def.Keywords)
	return out
}

// Categories returns the active categories ordered by id.
func (s *Snapshot) Categories() []*Compiled {
	return slices.Clone(s.categories)
}

// Get returns the category with the given id.
func (s *Snapshot) Get(id int) (*Compiled, bool) {
	c, ok := s.byID[id]
	return c, ok
}

// Len returns the number of active categories.
func (s *Snapshot) Len() int {
	return len(s.categories)
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}
