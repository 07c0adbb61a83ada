package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/models"
)

func testRun(id string, startedAt time.Time) *models.TrainingRun {
	loss := 0.42
	completed := startedAt.Add(time.Minute)
	return &models.TrainingRun{
		ID:             id,
		Kind:           models.KindTrain,
		Status:         models.RunCompleted,
		ModelName:      "task_model",
		ModelVersion:   "20250106_100000.000000",
		CurrentEpoch:   3,
		TotalEpochs:    3,
		CurrentLoss:    &loss,
		BestLoss:       &loss,
		ElapsedSeconds: 60,
		TotalExamples:  12,
		StartedAt:      startedAt,
		CompletedAt:    &completed,
	}
}

func runStores(t *testing.T) map[string]RunStore {
	t.Helper()
	sqlStore, err := NewSQLRunStore(context.Background(), "sqlite", filepath.Join(t.TempDir(), "runs.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]RunStore{
		"memory": NewMemoryRunStore(10),
		"sqlite": sqlStore,
	}
}

func TestRunStore_SaveGet(t *testing.T) {
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	for name, store := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := testRun("run-1", base)
			require.NoError(t, store.SaveRun(ctx, run))

			got, err := store.GetRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, run.ModelVersion, got.ModelVersion)
			assert.Equal(t, models.RunCompleted, got.Status)
			assert.Equal(t, models.KindTrain, got.Kind)
			require.NotNil(t, got.BestLoss)
			assert.InDelta(t, 0.42, *got.BestLoss, 1e-12)
			assert.Nil(t, got.EstimatedRemainingSeconds)
			assert.True(t, run.StartedAt.Equal(got.StartedAt))
			require.NotNil(t, got.CompletedAt)
			assert.True(t, run.CompletedAt.Equal(*got.CompletedAt))

			_, err = store.GetRun(ctx, "missing")
			assert.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestRunStore_Upsert(t *testing.T) {
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	for name, store := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			run := testRun("run-1", base)
			run.Status = models.RunInProgress
			run.CompletedAt = nil
			require.NoError(t, store.SaveRun(ctx, run))

			run.Status = models.RunFailed
			run.Error = "training canceled"
			require.NoError(t, store.SaveRun(ctx, run))

			got, err := store.GetRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, models.RunFailed, got.Status)
			assert.Equal(t, "training canceled", got.Error)

			runs, err := store.ListRuns(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, runs, 1)
		})
	}
}

func TestRunStore_ListNewestFirst(t *testing.T) {
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	for name, store := range runStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 4; i++ {
				require.NoError(t, store.SaveRun(ctx, testRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))))
			}

			runs, err := store.ListRuns(ctx, 3)
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, "run-3", runs[0].ID)
			assert.Equal(t, "run-1", runs[2].ID)
		})
	}
}

func TestMemoryRunStore_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore(2)
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveRun(ctx, testRun(fmt.Sprintf("run-%d", i), base)))
	}

	_, err := store.GetRun(ctx, "run-0")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.GetRun(ctx, "run-2")
	assert.NoError(t, err)
}

func TestMemoryRunStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRunStore(2)
	run := testRun("run-1", time.Now())
	require.NoError(t, store.SaveRun(ctx, run))

	*run.BestLoss = 99
	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.42, *got.BestLoss, 1e-12)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, DatabaseConfig{Type: "memory"}, 5, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryRunStore{}, store)

	store, err = Open(ctx, DatabaseConfig{Type: "sqlite", Path: filepath.Join(t.TempDir(), "r.db")}, 5, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SQLRunStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open(ctx, DatabaseConfig{Type: "mongo"}, 5, zap.NewNop())
	assert.Error(t, err)
}
