package training

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/modelstore"
	"github.com/xaenox/task-extractor/internal/predictor"
	"github.com/xaenox/task-extractor/internal/rules"
	"github.com/xaenox/task-extractor/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var refDate = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

var tasks = []string{
	"Пожарить пельмени до пятницы, очень важно",
	"Написать код для API до среды",
	"Позвонить маме завтра вечером",
	"Купить молоко и хлеб сегодня",
	"Сделать отчёт для клиента, срочно",
	"Починить кран на кухне",
	"Подготовить презентацию к встрече",
	"Прочитать книгу по архитектуре",
	"Оплатить счета за квартиру",
	"Записаться к врачу на четверг",
	"Помыть машину в субботу",
	"Обновить зависимости в проекте",
}

func examples(n int, statuses ...string) []models.TrainingExample {
	out := make([]models.TrainingExample, n)
	for i := range out {
		out[i] = models.TrainingExample{
			Text: fmt.Sprintf("%s %d", tasks[i%len(tasks)], i),
			Labels: models.TaskLabels{
				Priority:   3,
				Difficulty: 5,
				Status:     statuses[i%len(statuses)],
			},
		}
	}
	return out
}

type fixture struct {
	engine *Engine
	store  *modelstore.Store
	runs   storage.RunStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store, err := modelstore.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	runs := storage.NewMemoryRunStore(10)

	cfg := Config{EmbeddingDim: 8, MaxTextLen: 16, Seed: 1}
	e := NewEngine(store, runs, cfg, zap.NewNop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, e.Shutdown(ctx))
	})
	return &fixture{engine: e, store: store, runs: runs}
}

func TestTrainNewModel_InsufficientData(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.TrainNewModel(context.Background(), TrainRequest{Examples: examples(9, "новая")})
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	_, err = f.engine.StartTraining(TrainRequest{Examples: examples(3, "новая")})
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	assert.Equal(t, 0, f.engine.ActiveRuns())
	runs, err := f.engine.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFineTune_InsufficientData(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.FineTuneModel(context.Background(), FineTuneRequest{ModelName: "m", Examples: examples(4, "новая")})
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestFineTune_MissingBase(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.StartFineTune(context.Background(), FineTuneRequest{ModelName: "nope", Examples: examples(5, "новая")})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTrainNewModel_HistoryAndProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.engine.TrainNewModel(ctx, TrainRequest{
		Examples:    examples(20, "новая", "выполнена"),
		ModelName:   "task_model",
		Hyperparams: Hyperparams{Epochs: 3, BatchSize: 4, LearningRate: 0.01},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, result.Status)
	assert.Equal(t, 3, result.EpochsCompleted)
	assert.Equal(t, 2, result.Metrics["val_samples"])
	assert.Equal(t, 18, result.Metrics["train_samples"])

	bundle, err := f.store.Load(ctx, "task_model", "latest")
	require.NoError(t, err)
	assert.Equal(t, result.ModelVersion, bundle.Metadata.Version)
	assert.Equal(t, []string{"выполнена", "новая"}, bundle.Metadata.Classes)
	require.NotNil(t, bundle.Metadata.Training)
	require.Len(t, bundle.Metadata.Training.History, 3)
	for i, stat := range bundle.Metadata.Training.History {
		assert.Equal(t, i+1, stat.Epoch)
		assert.NotNil(t, stat.ValLoss)
	}
	assert.InDelta(t, result.FinalLoss, bundle.Metadata.Training.BestLoss, 1e-12)

	run, err := f.engine.GetProgress(ctx, result.TrainingID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, 3, run.CurrentEpoch)
	require.NotNil(t, run.CurrentLoss)
	assert.InDelta(t, bundle.Metadata.Training.History[2].TrainLoss, *run.CurrentLoss, 1e-12)
	assert.Equal(t, result.ModelVersion, run.ModelVersion)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, 0, f.engine.ActiveRuns())
}

func TestTrainNewModel_DefaultModelName(t *testing.T) {
	f := newFixture(t, WithClock(func() time.Time { return refDate }))

	result, err := f.engine.TrainNewModel(context.Background(), TrainRequest{
		Examples:    examples(10, "новая"),
		Hyperparams: Hyperparams{Epochs: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "task_model_20250106", result.ModelName)
}

func TestStartTraining_PollUntilCompleted(t *testing.T) {
	var activated *modelstore.Bundle
	done := make(chan struct{})
	f := newFixture(t, WithOnComplete(func(b *modelstore.Bundle) {
		activated = b
		close(done)
	}))
	ctx := context.Background()

	id, err := f.engine.StartTraining(TrainRequest{
		Examples:    examples(12, "новая"),
		ModelName:   "async_model",
		Hyperparams: Hyperparams{Epochs: 2, BatchSize: 4},
	})
	require.NoError(t, err)

	run, err := f.engine.GetProgress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)

	require.Eventually(t, func() bool {
		run, err := f.engine.GetProgress(ctx, id)
		return err == nil && run.Status == models.RunCompleted
	}, 10*time.Second, 10*time.Millisecond)

	<-done
	require.NotNil(t, activated)
	assert.Equal(t, "async_model", activated.Metadata.ModelName)

	_, err = f.engine.GetProgress(ctx, "unknown-id")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.engine.StartTraining(TrainRequest{
		Examples:    examples(12, "новая"),
		ModelName:   "slow_model",
		Hyperparams: Hyperparams{Epochs: 1_000_000, BatchSize: 1},
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.Cancel(id))

	require.Eventually(t, func() bool {
		run, err := f.runs.GetRun(ctx, id)
		return err == nil && run.Status == models.RunFailed
	}, 10*time.Second, 10*time.Millisecond)

	run, err := f.engine.GetProgress(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, run.Error, models.ErrCanceled.Error())

	_, err = f.store.Latest("slow_model")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.Eventually(t, func() bool {
		return errors.Is(f.engine.Cancel(id), models.ErrNotFound)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShutdown_CancelsBackgroundRuns(t *testing.T) {
	f := newFixture(t)

	id, err := f.engine.StartTraining(TrainRequest{
		Examples:    examples(12, "новая"),
		ModelName:   "slow_model",
		Hyperparams: Hyperparams{Epochs: 1_000_000, BatchSize: 1},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Shutdown(ctx))

	run, err := f.engine.GetProgress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RunFailed, run.Status)
}

func TestFineTuneModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base, err := f.engine.TrainNewModel(ctx, TrainRequest{
		Examples:    examples(12, "новая", "выполнена"),
		ModelName:   "base",
		Hyperparams: Hyperparams{Epochs: 2},
	})
	require.NoError(t, err)
	baseBundle, err := f.store.Load(ctx, "base", base.ModelVersion)
	require.NoError(t, err)
	baseEmbedding := append([]float64(nil), baseBundle.Net.Embedding...)

	fresh := examples(6, "новая", "отложена")
	fresh[0].Text = "совершенно новые слова здесь"
	result, err := f.engine.FineTuneModel(ctx, FineTuneRequest{
		ModelName:       "base",
		Examples:        fresh,
		FreezeEmbedding: true,
		Hyperparams:     Hyperparams{Epochs: 3, LearningRate: 0.01},
	})
	require.NoError(t, err)
	assert.Same(t, baseBundle, f.store.Current())
	assert.Equal(t, baseEmbedding, baseBundle.Net.Embedding)
	assert.Equal(t, "base"+FineTunedSuffix, result.ModelName)
	assert.Equal(t, "base", result.BaseModel)
	assert.Equal(t, 3, result.Metrics["unknown_labels"])

	tuned, err := f.store.Load(ctx, "base"+FineTunedSuffix, "")
	require.NoError(t, err)
	assert.Equal(t, baseBundle.Vocab.Size(), tuned.Vocab.Size())
	assert.Equal(t, baseBundle.Labels.Classes(), tuned.Labels.Classes())
	assert.Equal(t, baseEmbedding, tuned.Net.Embedding)
	assert.NotEqual(t, baseBundle.Net.Weights, tuned.Net.Weights)

	stats := tuned.Metadata.Training
	require.NotNil(t, stats)
	assert.True(t, stats.FineTuned)
	assert.True(t, stats.FrozenEmbedding)
	assert.Equal(t, "base", stats.BaseModel)
	assert.Equal(t, base.ModelVersion, stats.BaseVersion)
	assert.Equal(t, 3, stats.UnknownLabels)

	runs, err := f.engine.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, models.KindFineTune, runs[0].Kind)
}

func TestFinish_KeepsFirstOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lr, _ := f.engine.register(ctx, models.KindTrain, "task_model", "", 1, 10)
	f.engine.finish(lr, "20250106_120000.000000", nil)
	f.engine.finish(lr, "", errors.New("late failure"))

	run, err := f.runs.GetRun(ctx, lr.run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)
	assert.Equal(t, "20250106_120000.000000", run.ModelVersion)
	assert.Empty(t, run.Error)
	assert.Equal(t, 0, f.engine.ActiveRuns())
}

func TestEndToEnd_TrainThenPredict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	train := make([]models.TrainingExample, 10)
	for i := range train {
		train[i] = models.TrainingExample{
			Text:   fmt.Sprintf("Пожарить пельмени до пятницы, очень важно %d", i),
			Labels: models.TaskLabels{Priority: 5, Difficulty: 2, Status: "новая"},
		}
	}

	result, err := f.engine.TrainNewModel(ctx, TrainRequest{
		Examples:    train,
		ModelName:   "e2e",
		Hyperparams: Hyperparams{Epochs: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, result.Status)

	run, err := f.engine.GetProgress(ctx, result.TrainingID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, run.Status)

	svc, err := predictor.NewService(f.store, rules.NewEngineAt(func() time.Time { return refDate }), predictor.Config{CacheCapacity: 10}, zap.NewNop())
	require.NoError(t, err)
	meta, err := svc.LoadModel(ctx, "e2e", "")
	require.NoError(t, err)
	assert.Equal(t, result.ModelVersion, meta.Version)

	pred, err := svc.Predict(ctx, "Пожарить пельмени, важно")
	require.NoError(t, err)
	assert.Equal(t, []string{"Кулинария"}, pred.Categories)
	assert.Equal(t, 4, pred.Priority)
	assert.Equal(t, "новая", pred.Status)
}
