// Package testutil provides shared fixtures and database helpers for bankcleanr tests.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/bankcleanr/internal/model"
	"github.com/Veraticus/bankcleanr/internal/storage"
)

// TestDB is a migrated in-memory job journal.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates an in-memory journal seeded with jobs. It is closed
// when the test ends.
//
// Example:
//
//	db := testutil.SetupTestDB(t,
//		model.JobRecord{ID: "123", Phase: "completed"},
//	)
func SetupTestDB(t *testing.T, jobs ...model.JobRecord) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{Jobs: jobs})
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, *storage.SQLiteStorage) error
	Jobs           []model.JobRecord
	SkipMigrations bool
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	for i := range opts.Jobs {
		if err := store.SaveJob(ctx, &opts.Jobs[i]); err != nil {
			t.Fatalf("failed to seed job %q: %v", opts.Jobs[i].ID, err)
		}
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// MustGetJob returns the stored record for id or fails the test.
func (db *TestDB) MustGetJob(id string) *model.JobRecord {
	db.t.Helper()
	job, err := db.Storage.GetJob(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to get job %q: %v", id, err)
	}
	return job
}
