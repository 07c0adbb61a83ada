package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xaenox/task-extractor/internal/models"
)

const DefaultHistoryLimit = 100

// MemoryRunStore keeps the newest limit runs and evicts the oldest inserted.
type MemoryRunStore struct {
	mu    sync.RWMutex
	limit int
	runs  map[string]*models.TrainingRun
	order []string
}

func NewMemoryRunStore(limit int) *MemoryRunStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryRunStore{
		limit: limit,
		runs:  make(map[string]*models.TrainingRun),
	}
}

func (s *MemoryRunStore) SaveRun(ctx context.Context, run *models.TrainingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run.Clone()

	for len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryRunStore) GetRun(ctx context.Context, id string) (*models.TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("%w: training run %s", models.ErrNotFound, id)
	}
	return run.Clone(), nil
}

func (s *MemoryRunStore) ListRuns(ctx context.Context, limit int) ([]*models.TrainingRun, error) {
	s.mu.RLock()
	runs := make([]*models.TrainingRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryRunStore) Close() error {
	return nil
}
