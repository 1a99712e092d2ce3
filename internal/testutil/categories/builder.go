// Package categories provides threat category fixtures for tests. It offers a
// fluent API for seeding categories into a test database so each test states
// only the categories it depends on.
//
// Example usage:
//
//	db := testutil.SetupTestDBWithBuilder(t, func(b categories.Builder) categories.Builder {
//		return b.WithCategory(categories.DataExfiltration).
//			WithLLMFallback(categories.Harassment)
//	})
package categories

import (
	"context"
	"fmt"
	"testing"

	"github.com/Veraticus/tripwire/internal/category"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
)

// Builder provides a fluent interface for seeding test categories.
type Builder interface {
	// WithCategory adds a single category to the builder.
	WithCategory(name CategoryName) Builder

	// WithCategories adds multiple categories to the builder.
	WithCategories(names ...CategoryName) Builder

	// WithBasicCategories adds the keyword-only categories most tests need.
	WithBasicCategories() Builder

	// WithFixture adds categories from a predefined fixture.
	WithFixture(fixture Fixture) Builder

	// WithLLMFallback adds a category with its language-model fallback enabled.
	WithLLMFallback(name CategoryName) Builder

	// Inactive adds a category stored in the inactive state.
	Inactive(name CategoryName) Builder

	// Build saves the categories through the category manager, in the order
	// they were added, and returns them with their assigned IDs.
	Build(ctx context.Context, store service.CategoryStore) (Categories, error)
}

// Categories is a collection of stored test categories.
type Categories []model.CategoryDefinition

// Find returns the category with the given name, or nil if not found.
func (c Categories) Find(name CategoryName) *model.CategoryDefinition {
	for i := range c {
		if c[i].Category.Name == name.String() {
			return &c[i]
		}
	}
	return nil
}

// MustFind returns the category with the given name, or fails the test.
func (c Categories) MustFind(t *testing.T, name CategoryName) model.CategoryDefinition {
	t.Helper()
	def := c.Find(name)
	if def == nil {
		t.Fatalf("category %q not found in test data", name)
	}
	return *def
}

// Names returns the category names in build order.
func (c Categories) Names() []string {
	names := make([]string, len(c))
	for i := range c {
		names[i] = c[i].Category.Name
	}
	return names
}

type entry struct {
	opts []Option
	name CategoryName
}

type categoryBuilder struct {
	t       *testing.T
	seen    map[CategoryName]int
	entries []entry
}

// NewBuilder creates a new category builder for the given test.
func NewBuilder(t *testing.T) Builder {
	t.Helper()
	return &categoryBuilder{
		t:    t,
		seen: make(map[CategoryName]int),
	}
}

// add records name once; a later add of the same name replaces its options.
func (b *categoryBuilder) add(name CategoryName, opts ...Option) Builder {
	if i, ok := b.seen[name]; ok {
		if len(opts) > 0 {
			b.entries[i].opts = opts
		}
		return b
	}
	b.seen[name] = len(b.entries)
	b.entries = append(b.entries, entry{name: name, opts: opts})
	return b
}

func (b *categoryBuilder) WithCategory(name CategoryName) Builder {
	return b.add(name)
}

func (b *categoryBuilder) WithCategories(names ...CategoryName) Builder {
	for _, name := range names {
		b.add(name)
	}
	return b
}

func (b *categoryBuilder) WithBasicCategories() Builder {
	return b.WithFixture(FixtureMinimal)
}

func (b *categoryBuilder) WithFixture(fixture Fixture) Builder {
	return b.WithCategories(fixture.Categories()...)
}

func (b *categoryBuilder) WithLLMFallback(name CategoryName) Builder {
	return b.add(name, LLMFallback())
}

func (b *categoryBuilder) Inactive(name CategoryName) Builder {
	return b.add(name, Disabled())
}

func (b *categoryBuilder) Build(ctx context.Context, store service.CategoryStore) (Categories, error) {
	b.t.Helper()

	manager := category.NewManager(store)
	result := make(Categories, 0, len(b.entries))
	for _, e := range b.entries {
		def := Definition(e.name, e.opts...)
		if err := manager.Save(ctx, def); err != nil {
			return nil, fmt.Errorf("failed to create category %q: %w", e.name, err)
		}
		result = append(result, *def)
	}
	return result, nil
}
