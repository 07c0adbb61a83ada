// Package predictor merges rule-engine extraction with the active classifier's
// status prediction and caches the results.
package predictor

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/modelstore"
	"github.com/xaenox/task-extractor/internal/rules"
)

const (
	DefaultCacheCapacity = 1000
	DefaultMaxTextLen    = 128
)

type Config struct {
	CacheCapacity int
	MaxTextLen    int
}

// cacheEntry remembers which bundle produced a result, so a result computed
// against a bundle that has since been replaced is never served.
type cacheEntry struct {
	bundle *modelstore.Bundle
	result models.PredictionResult
}

type Service struct {
	store  *modelstore.Store
	rules  *rules.Engine
	cache  *lru.Cache[string, cacheEntry]
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	active atomic.Pointer[modelstore.Bundle]

	predictions atomic.Int64
	cacheHits   atomic.Int64
	errors      atomic.Int64
}

func NewService(store *modelstore.Store, engine *rules.Engine, cfg Config, logger *zap.Logger) (*Service, error) {
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultCacheCapacity
	}
	if cfg.MaxTextLen <= 0 {
		cfg.MaxTextLen = DefaultMaxTextLen
	}
	cache, err := lru.New[string, cacheEntry](cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction cache: %w", err)
	}
	return &Service{
		store:  store,
		rules:  engine,
		cache:  cache,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}, nil
}

// LoadModel loads a version from the store and makes it the active bundle.
func (s *Service) LoadModel(ctx context.Context, modelName, version string) (*modelstore.Metadata, error) {
	bundle, err := s.store.Load(ctx, modelName, version)
	if err != nil {
		return nil, err
	}
	s.Activate(bundle)
	meta := bundle.Metadata
	return &meta, nil
}

// Activate publishes bundle to new predictions. In-flight predictions finish
// against the bundle they started with.
func (s *Service) Activate(bundle *modelstore.Bundle) {
	s.active.Store(bundle)
	purged := s.cache.Len()
	s.cache.Purge()
	s.logger.Info("Model activated",
		zap.String("model_name", bundle.Metadata.ModelName),
		zap.String("version", bundle.Metadata.Version),
		zap.Int("purged_cache_entries", purged))
}

// CurrentModel returns the metadata of the active bundle, or nil.
func (s *Service) CurrentModel() *modelstore.Metadata {
	bundle := s.active.Load()
	if bundle == nil {
		return nil
	}
	meta := bundle.Metadata
	return &meta
}

func (s *Service) IsLoaded() bool {
	return s.active.Load() != nil
}

func (s *Service) Predict(ctx context.Context, text string) (models.PredictionResult, error) {
	bundle := s.active.Load()
	if bundle == nil {
		s.errors.Add(1)
		return models.PredictionResult{}, models.ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		s.errors.Add(1)
		return models.PredictionResult{}, err
	}

	if entry, ok := s.cache.Get(text); ok && entry.bundle == bundle {
		s.cacheHits.Add(1)
		return entry.result.Clone(), nil
	}

	result, err := s.predict(bundle, text)
	if err != nil {
		s.errors.Add(1)
		s.logger.Error("Prediction failed", zap.Error(err))
		return models.PredictionResult{}, err
	}

	s.cache.Add(text, cacheEntry{bundle: bundle, result: result.Clone()})
	s.predictions.Add(1)
	return result, nil
}

func (s *Service) predict(bundle *modelstore.Bundle, text string) (models.PredictionResult, error) {
	if strings.TrimSpace(text) == "" {
		return models.PredictionResult{}, fmt.Errorf("%w: empty text", models.ErrPrediction)
	}

	maxLen := bundle.Metadata.MaxTextLen
	if maxLen <= 0 {
		maxLen = s.cfg.MaxTextLen
	}
	ids := bundle.Vocab.Encode(text, maxLen)
	classID, confidence := bundle.Net.Predict(ids)
	status, err := bundle.Labels.Decode(classID)
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("%w: %v", models.ErrPrediction, err)
	}

	return models.PredictionResult{
		TaskAttributes: s.rules.Extract(text),
		Status:         status,
		Confidence:     confidence,
		ProcessedAt:    s.now().UTC(),
	}, nil
}

// PredictBatch predicts every text independently. Failed items are logged and
// dropped; the counters report how many there were.
func (s *Service) PredictBatch(ctx context.Context, texts []string) (models.BatchResult, error) {
	if !s.IsLoaded() {
		return models.BatchResult{}, models.ErrModelNotLoaded
	}

	results := make([]*models.PredictionResult, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			result, err := s.Predict(gctx, text)
			if err != nil {
				s.logger.Warn("Skipping failed batch item",
					zap.Error(err),
					zap.Int("index", i))
				return nil
			}
			results[i] = &result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.BatchResult{}, err
	}

	batch := models.BatchResult{
		Results:     make([]models.PredictionResult, 0, len(texts)),
		Total:       len(texts),
		ProcessedAt: s.now().UTC(),
	}
	for _, r := range results {
		if r != nil {
			batch.Results = append(batch.Results, *r)
		}
	}
	batch.Successful = len(batch.Results)
	batch.Failed = batch.Total - batch.Successful
	return batch, nil
}

// ClearCache empties the cache and returns the number of removed entries.
func (s *Service) ClearCache() int {
	n := s.cache.Len()
	s.cache.Purge()
	s.logger.Info("Prediction cache cleared", zap.Int("entries", n))
	return n
}

func (s *Service) Metrics() models.Metrics {
	m := models.Metrics{
		Predictions:   s.predictions.Load(),
		CacheHits:     s.cacheHits.Load(),
		Errors:        s.errors.Load(),
		CacheSize:     s.cache.Len(),
		CacheCapacity: s.cfg.CacheCapacity,
	}
	if bundle := s.active.Load(); bundle != nil {
		m.ModelLoaded = true
		m.VocabSize = bundle.Vocab.Size()
		m.ModelName = bundle.Metadata.ModelName
		m.ModelVersion = bundle.Metadata.Version
	}
	return m
}
