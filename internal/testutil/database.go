// Package testutil provides shared fixtures for tests that need a real,
// migrated database: employees, threat categories and sample messages.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
	"github.com/Veraticus/tripwire/internal/storage"
	"github.com/Veraticus/tripwire/internal/testutil/categories"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage    *storage.SQLiteStorage
	t          *testing.T
	Categories categories.Categories
}

// SetupTestDB creates a migrated SQLite database in the test's temp
// directory. It is closed automatically when the test ends.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// SetupTestDBWithBuilder creates a test database seeded with the categories
// the builder describes.
//
// Example:
//
//	db := testutil.SetupTestDBWithBuilder(t, func(b categories.Builder) categories.Builder {
//		return b.WithBasicCategories()
//	})
func SetupTestDBWithBuilder(t *testing.T, configure func(categories.Builder) categories.Builder) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{Categories: configure})
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	Categories  func(categories.Builder) categories.Builder
	CustomSetup func(context.Context, *storage.SQLiteStorage) error
	Employees   []string
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	db := &TestDB{Storage: store, t: t}

	for _, id := range opts.Employees {
		SeedEmployee(t, store, id)
	}

	if opts.Categories != nil {
		cats, err := opts.Categories(categories.NewBuilder(t)).Build(ctx, store)
		if err != nil {
			t.Fatalf("failed to build categories: %v", err)
		}
		db.Categories = cats
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return db
}

// MustGetCategory returns the stored category with the given name or fails
// the test.
func (db *TestDB) MustGetCategory(name categories.CategoryName) model.CategoryDefinition {
	db.t.Helper()
	return db.Categories.MustFind(db.t, name)
}

// SaveCommunications stores comms or fails the test.
func (db *TestDB) SaveCommunications(comms ...model.Communication) {
	db.t.Helper()
	if err := db.Storage.SaveCommunications(context.Background(), comms); err != nil {
		db.t.Fatalf("failed to save communications: %v", err)
	}
}

// Employee returns an active UTC employee fixture.
func Employee(id string) *model.Employee {
	return &model.Employee{
		ID:       id,
		Email:    id + "@example.com",
		Name:     "Employee " + id,
		TimeZone: "UTC",
		IsActive: true,
	}
}

// SeedEmployee stores the Employee fixture for id or fails the test.
func SeedEmployee(t *testing.T, store service.EmployeeStore, id string) {
	t.Helper()
	if err := store.UpsertEmployee(context.Background(), Employee(id)); err != nil {
		t.Fatalf("failed to seed employee %q: %v", id, err)
	}
}
