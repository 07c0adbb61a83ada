// Package storage keeps the history of finished training runs.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/models"
)

// RunStore holds terminal training-run snapshots so a run stays queryable after
// it has left the training engine's live registry.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.TrainingRun) error
	GetRun(ctx context.Context, id string) (*models.TrainingRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.TrainingRun, error)
	Close() error
}

type DatabaseConfig struct {
	Type     string // memory, sqlite or postgres
	URL      string
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Open returns the RunStore selected by cfg.Type.
func Open(ctx context.Context, cfg DatabaseConfig, historyLimit int, logger *zap.Logger) (RunStore, error) {
	switch cfg.Type {
	case "", "memory":
		logger.Info("Using in-memory run store", zap.Int("history_limit", historyLimit))
		return NewMemoryRunStore(historyLimit), nil
	case "sqlite":
		return NewSQLRunStore(ctx, "sqlite", cfg.Path, logger)
	case "postgres":
		dsn := cfg.URL
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
				cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
		}
		return NewSQLRunStore(ctx, "postgres", dsn, logger)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}
