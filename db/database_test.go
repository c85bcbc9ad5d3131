// db/database_test.go
package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *RunStore {
	t.Helper()
	database, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewRunStore(database)
}

func TestRunLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, "run-1", "a bakery site"))
	// Re-creating is a no-op.
	require.NoError(t, store.CreateRun(ctx, "run-1", "overwritten?"))

	require.NoError(t, store.UpdateRun(ctx, RunRecord{
		ID: "run-1", Description: "a bakery site",
		Status: "in_progress", Step: "html_generation", Progress: 65,
	}))
	require.NoError(t, store.UpdateRun(ctx, RunRecord{
		ID: "run-1", Description: "a bakery site",
		Status: "completed", Step: "complete", Progress: 100,
		FolderPath: "/sites/bakery_20250315",
	}))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "a bakery site", runs[0].Description)
	require.Equal(t, "completed", runs[0].Status)
	require.Equal(t, 100, runs[0].Progress)
	require.Equal(t, "/sites/bakery_20250315", runs[0].FolderPath)
}

func TestUpdateRunKeepsFolderPath(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateRun(ctx, RunRecord{
		ID: "run-2", Description: "d", Status: "in_progress", Step: "file_storage",
		Progress: 95, FolderPath: "/sites/x",
	}))
	// A later update without a folder path must not blank the stored one.
	require.NoError(t, store.UpdateRun(ctx, RunRecord{
		ID: "run-2", Description: "d", Status: "completed", Step: "complete", Progress: 100,
	}))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, "/sites/x", runs[0].FolderPath)
}

func TestUpdateRunWithoutCreate(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateRun(ctx, RunRecord{
		ID: "run-3", Description: "d", Status: "failed", Step: "failed",
		Progress: 25, Error: "planning failed",
	}))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "planning failed", runs[0].Error)
}

func TestListRunsLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateRun(ctx, id, "desc "+id))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}
