package category

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
)

// Manager is the category-management collaborator: it validates every write
// and hands analysis a fresh Snapshot on request.
type Manager struct {
	store service.CategoryStore
}

// NewManager creates a Manager over the given store.
func NewManager(store service.CategoryStore) *Manager {
	return &Manager{store: store}
}

// Save creates the definition, or replaces the stored one with the same name.
func (m *Manager) Save(ctx context.Context, def *model.CategoryDefinition) error {
	Normalize(def)
	if err := Validate(&def.Category, def.Keywords); err != nil {
		return err
	}

	existing, err := m.store.GetCategoryByName(ctx, def.Category.Name)
	switch {
	case errors.Is(err, common.ErrNotFound):
		if err := m.store.CreateCategory(ctx, def); err != nil {
			return fmt.Errorf("failed to create category %q: %w", def.Category.Name, err)
		}
		slog.Info("created category", "category_id", def.Category.ID, "name", def.Category.Name)
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up category %q: %w", def.Category.Name, err)
	}

	def.Category.ID = existing.Category.ID
	def.Category.CreatedAt = existing.Category.CreatedAt
	if err := m.store.UpdateCategory(ctx, def); err != nil {
		return fmt.Errorf("failed to update category %q: %w", def.Category.Name, err)
	}
	slog.Info("updated category", "category_id", def.Category.ID, "name", def.Category.Name)
	return nil
}

// Import saves every definition, stopping at the first failure.
func (m *Manager) Import(ctx context.Context, defs []model.CategoryDefinition) (int, error) {
	for i := range defs {
		if err := m.Save(ctx, &defs[i]); err != nil {
			return i, err
		}
	}
	return len(defs), nil
}

// SetActive activates or deactivates a category by name.
func (m *Manager) SetActive(ctx context.Context, name string, active bool) error {
	def, err := m.store.GetCategoryByName(ctx, name)
	if err != nil {
		return err
	}
	if err := m.store.SetCategoryActive(ctx, def.Category.ID, active); err != nil {
		return fmt.Errorf("failed to update category %q: %w", name, err)
	}
	slog.Info("changed category state", "category_id", def.Category.ID, "active", active)
	return nil
}

// List returns every stored category.
func (m *Manager) List(ctx context.Context, activeOnly bool) ([]model.CategoryDefinition, error) {
	return m.store.ListCategories(ctx, activeOnly)
}

// Snapshot loads the active categories into a new immutable Snapshot.
func (m *Manager) Snapshot(ctx context.Context) (*Snapshot, error) {
	defs, err := m.store.ListCategories(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	snap, err := NewSnapshot(defs)
	if err != nil {
		return nil, err
	}
	if snap.Len() == 0 {
		return nil, common.ErrNoCategories
	}
	slog.Debug("loaded category snapshot", "count", snap.Len())
	return snap, nil
}
