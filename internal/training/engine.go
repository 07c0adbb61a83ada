// Package training fits StatusNet classifiers, tracks run progress and keeps
// finished runs queryable through a storage.RunStore.
package training

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/modelstore"
	"github.com/xaenox/task-extractor/internal/storage"
)

const (
	MinTrainExamples    = 10
	MinFineTuneExamples = 5

	FineTunedSuffix = "_finetuned"
)

type Hyperparams struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
}

type Config struct {
	EmbeddingDim     int
	MaxTextLen       int
	Seed             int64
	DefaultModelName string
	Train            Hyperparams
	FineTune         Hyperparams
}

func DefaultConfig() Config {
	return Config{
		EmbeddingDim:     64,
		MaxTextLen:       128,
		Seed:             42,
		DefaultModelName: "task_model",
		Train:            Hyperparams{Epochs: 30, BatchSize: 32, LearningRate: 0.001},
		FineTune:         Hyperparams{Epochs: 10, BatchSize: 16, LearningRate: 0.0001},
	}
}

type TrainRequest struct {
	Examples  []models.TrainingExample
	ModelName string
	Hyperparams
}

type FineTuneRequest struct {
	ModelName       string
	Version         string
	Examples        []models.TrainingExample
	FreezeEmbedding bool
	Hyperparams
}

type liveRun struct {
	run    *models.TrainingRun
	cancel context.CancelFunc
}

type Engine struct {
	store  *modelstore.Store
	runs   storage.RunStore
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	onComplete func(*modelstore.Bundle)

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	live map[string]*liveRun
}

type Option func(*Engine)

// WithOnComplete registers a hook called with every successfully saved bundle.
func WithOnComplete(fn func(*modelstore.Bundle)) Option {
	return func(e *Engine) { e.onComplete = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store *modelstore.Store, runs storage.RunStore, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = def.EmbeddingDim
	}
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = def.MaxTextLen
	}
	if cfg.DefaultModelName == "" {
		cfg.DefaultModelName = def.DefaultModelName
	}
	cfg.Train = withDefaults(cfg.Train, def.Train)
	cfg.FineTune = withDefaults(cfg.FineTune, def.FineTune)

	ctx, stop := context.WithCancel(context.Background())
	e := &Engine{
		store:   store,
		runs:    runs,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
		baseCtx: ctx,
		stop:    stop,
		live:    make(map[string]*liveRun),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func withDefaults(h, def Hyperparams) Hyperparams {
	if h.Epochs <= 0 {
		h.Epochs = def.Epochs
	}
	if h.BatchSize <= 0 {
		h.BatchSize = def.BatchSize
	}
	if h.LearningRate <= 0 {
		h.LearningRate = def.LearningRate
	}
	return h
}

// TrainNewModel trains a fresh model and blocks until the run is terminal.
func (e *Engine) TrainNewModel(ctx context.Context, req TrainRequest) (*models.TrainingResult, error) {
	req, err := e.prepareTrain(req)
	if err != nil {
		return nil, err
	}
	lr, runCtx := e.register(ctx, models.KindTrain, req.ModelName, "", req.Epochs, len(req.Examples))
	return e.runTrain(runCtx, lr, req)
}

// StartTraining validates req and trains in the background. The returned id
// can be polled with GetProgress.
func (e *Engine) StartTraining(req TrainRequest) (string, error) {
	req, err := e.prepareTrain(req)
	if err != nil {
		return "", err
	}
	lr, runCtx := e.register(e.baseCtx, models.KindTrain, req.ModelName, "", req.Epochs, len(req.Examples))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, _ = e.runTrain(runCtx, lr, req)
	}()
	return lr.run.ID, nil
}

// FineTuneModel continues training an existing version and blocks until the
// run is terminal.
func (e *Engine) FineTuneModel(ctx context.Context, req FineTuneRequest) (*models.TrainingResult, error) {
	req, base, err := e.prepareFineTune(ctx, req)
	if err != nil {
		return nil, err
	}
	lr, runCtx := e.register(ctx, models.KindFineTune, req.ModelName+FineTunedSuffix, req.ModelName, req.Epochs, len(req.Examples))
	return e.runFineTune(runCtx, lr, req, base)
}

// StartFineTune loads the base version synchronously, so a missing model is
// reported to the caller, and fine-tunes in the background.
func (e *Engine) StartFineTune(ctx context.Context, req FineTuneRequest) (string, error) {
	req, base, err := e.prepareFineTune(ctx, req)
	if err != nil {
		return "", err
	}
	lr, runCtx := e.register(e.baseCtx, models.KindFineTune, req.ModelName+FineTunedSuffix, req.ModelName, req.Epochs, len(req.Examples))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, _ = e.runFineTune(runCtx, lr, req, base)
	}()
	return lr.run.ID, nil
}

func (e *Engine) prepareTrain(req TrainRequest) (TrainRequest, error) {
	if len(req.Examples) < MinTrainExamples {
		return req, fmt.Errorf("%w: training needs at least %d examples, got %d",
			models.ErrInsufficientData, MinTrainExamples, len(req.Examples))
	}
	if req.ModelName == "" {
		req.ModelName = fmt.Sprintf("%s_%s", e.cfg.DefaultModelName, e.now().Format("20060102"))
	}
	req.Hyperparams = withDefaults(req.Hyperparams, e.cfg.Train)
	return req, nil
}

func (e *Engine) prepareFineTune(ctx context.Context, req FineTuneRequest) (FineTuneRequest, *modelstore.Bundle, error) {
	if len(req.Examples) < MinFineTuneExamples {
		return req, nil, fmt.Errorf("%w: fine-tuning needs at least %d examples, got %d",
			models.ErrInsufficientData, MinFineTuneExamples, len(req.Examples))
	}
	if req.ModelName == "" {
		return req, nil, fmt.Errorf("%w: fine-tuning needs a base model name", models.ErrValidation)
	}
	base, err := e.store.Read(ctx, req.ModelName, req.Version)
	if err != nil {
		return req, nil, err
	}
	req.Version = base.Metadata.Version
	req.Hyperparams = withDefaults(req.Hyperparams, e.cfg.FineTune)
	return req, base, nil
}

func (e *Engine) register(parent context.Context, kind models.RunKind, modelName, baseModel string, epochs, examples int) (*liveRun, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	lr := &liveRun{
		run: &models.TrainingRun{
			ID:            uuid.NewString(),
			Kind:          kind,
			Status:        models.RunPending,
			ModelName:     modelName,
			BaseModel:     baseModel,
			TotalEpochs:   epochs,
			TotalExamples: examples,
			StartedAt:     e.now().UTC(),
		},
		cancel: cancel,
	}

	e.mu.Lock()
	e.live[lr.run.ID] = lr
	e.mu.Unlock()

	e.logger.Info("Training run registered",
		zap.String("training_id", lr.run.ID),
		zap.String("kind", string(kind)),
		zap.String("model_name", modelName),
		zap.Int("examples", examples))
	return lr, ctx
}

// update applies fn to the live run under the registry lock.
func (e *Engine) update(lr *liveRun, fn func(run *models.TrainingRun)) {
	e.mu.Lock()
	fn(lr.run)
	e.mu.Unlock()
}

// finish writes the terminal snapshot to the run store and only then drops the
// run from the live registry, so the run is never briefly unknown. A run that
// is already terminal keeps its first outcome.
func (e *Engine) finish(lr *liveRun, version string, err error) {
	now := e.now().UTC()

	e.mu.Lock()
	run := lr.run
	if run.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	run.CompletedAt = &now
	run.ElapsedSeconds = int(now.Sub(run.StartedAt).Seconds())
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
	} else {
		run.Status = models.RunCompleted
		run.ModelVersion = version
		zero := 0
		run.EstimatedRemainingSeconds = &zero
	}
	snapshot := run.Clone()
	e.mu.Unlock()

	if saveErr := e.runs.SaveRun(context.Background(), snapshot); saveErr != nil {
		e.logger.Error("Failed to persist training run",
			zap.Error(saveErr),
			zap.String("training_id", snapshot.ID))
	}

	e.mu.Lock()
	delete(e.live, snapshot.ID)
	e.mu.Unlock()
	lr.cancel()

	if err != nil {
		e.logger.Error("Training run failed",
			zap.Error(err),
			zap.String("training_id", snapshot.ID),
			zap.String("model_name", snapshot.ModelName))
		return
	}
	e.logger.Info("Training run completed",
		zap.String("training_id", snapshot.ID),
		zap.String("model_name", snapshot.ModelName),
		zap.String("version", version),
		zap.Int("elapsed_seconds", snapshot.ElapsedSeconds))
}

// GetProgress answers from the live registry, then from the run store.
func (e *Engine) GetProgress(ctx context.Context, id string) (*models.TrainingRun, error) {
	e.mu.Lock()
	lr, ok := e.live[id]
	var run *models.TrainingRun
	if ok {
		run = lr.run.Clone()
	}
	e.mu.Unlock()
	if ok {
		return run, nil
	}
	return e.runs.GetRun(ctx, id)
}

// ListRuns returns live and finished runs, newest first.
func (e *Engine) ListRuns(ctx context.Context, limit int) ([]*models.TrainingRun, error) {
	stored, err := e.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var runs []*models.TrainingRun
	e.mu.Lock()
	for id, lr := range e.live {
		seen[id] = true
		runs = append(runs, lr.run.Clone())
	}
	e.mu.Unlock()
	for _, run := range stored {
		if !seen[run.ID] {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Cancel stops a live run at its next batch boundary. The run ends FAILED with
// ErrCanceled.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	lr, ok := e.live[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no active training run %s", models.ErrNotFound, id)
	}
	lr.cancel()
	e.logger.Info("Training run cancel requested", zap.String("training_id", id))
	return nil
}

// ActiveRuns reports how many runs are in the live registry.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// Shutdown cancels background runs and waits for them to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trainingError wraps err as ErrTraining, turning context cancellation into
// ErrCanceled. Errors that already carry a domain meaning keep it.
func trainingError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", models.ErrTraining, models.ErrCanceled)
	}
	return fmt.Errorf("%w: %w", models.ErrTraining, err)
}
