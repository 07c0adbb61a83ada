package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xaenox/task-extractor/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const runColumns = `id, kind, status, model_name, model_version, base_model,
	current_epoch, total_epochs, current_loss, best_loss, elapsed_seconds,
	estimated_remaining_seconds, total_examples, error_message, started_at, completed_at`

// SQLRunStore persists runs in PostgreSQL or SQLite.
type SQLRunStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewSQLRunStore(ctx context.Context, driver, dsn string, logger *zap.Logger) (*SQLRunStore, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		// One writer at a time avoids SQLITE_BUSY from the pool.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLRunStore{db: db, logger: logger}
	if err := s.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Run store initialized", zap.String("driver", driver))
	return s, nil
}

func (s *SQLRunStore) initializeSchema(ctx context.Context) error {
	schema, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, string(schema))
	return err
}

func (s *SQLRunStore) SaveRun(ctx context.Context, run *models.TrainingRun) error {
	query := `
		INSERT INTO training_runs (` + runColumns + `)
		VALUES (:id, :kind, :status, :model_name, :model_version, :base_model,
			:current_epoch, :total_epochs, :current_loss, :best_loss, :elapsed_seconds,
			:estimated_remaining_seconds, :total_examples, :error_message, :started_at, :completed_at)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			model_version = excluded.model_version,
			current_epoch = excluded.current_epoch,
			current_loss = excluded.current_loss,
			best_loss = excluded.best_loss,
			elapsed_seconds = excluded.elapsed_seconds,
			estimated_remaining_seconds = excluded.estimated_remaining_seconds,
			error_message = excluded.error_message,
			completed_at = excluded.completed_at`

	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		s.logger.Error("Failed to save training run", zap.Error(err), zap.String("training_id", run.ID))
		return fmt.Errorf("failed to save training run: %w", err)
	}
	return nil
}

func (s *SQLRunStore) GetRun(ctx context.Context, id string) (*models.TrainingRun, error) {
	query := s.db.Rebind(`SELECT ` + runColumns + ` FROM training_runs WHERE id = ?`)

	var run models.TrainingRun
	err := s.db.GetContext(ctx, &run, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: training run %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get training run: %w", err)
	}
	normalizeTimes(&run)
	return &run, nil
}

func (s *SQLRunStore) ListRuns(ctx context.Context, limit int) ([]*models.TrainingRun, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query := s.db.Rebind(`SELECT ` + runColumns + ` FROM training_runs ORDER BY started_at DESC LIMIT ?`)

	var runs []*models.TrainingRun
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list training runs: %w", err)
	}
	for _, run := range runs {
		normalizeTimes(run)
	}
	return runs, nil
}

func (s *SQLRunStore) Close() error {
	return s.db.Close()
}

func normalizeTimes(run *models.TrainingRun) {
	run.StartedAt = run.StartedAt.UTC()
	if run.CompletedAt != nil {
		t := run.CompletedAt.UTC()
		run.CompletedAt = &t
	}
}
