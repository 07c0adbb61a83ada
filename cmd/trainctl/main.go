package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/logging"
	"github.com/xaenox/task-extractor/internal/modelstore"
	"github.com/xaenox/task-extractor/internal/storage"
	"github.com/xaenox/task-extractor/internal/training"
	"github.com/xaenox/task-extractor/pkg/config"
)

var (
	configPath string
	modelDir   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "trainctl",
	Short: "Train, inspect and query task-extractor models offline",
	Long: `trainctl works directly against the model directory used by the server.

Available subcommands:
  train    - Train a new model from a JSON or YAML dataset
  finetune - Fine-tune a saved model on additional examples
  models   - List or delete saved model versions
  predict  - Run one prediction against a saved model
  label    - Build a training dataset from raw task texts`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&modelDir, "model-dir", "", "Model directory (overrides model.dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides log.level)")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(finetuneCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(labelCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// env bundles what every subcommand builds from the config file.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *modelstore.Store
}

func setup() (*env, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if modelDir != "" {
		cfg.Model.Dir = modelDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	// Console output reads better on a terminal than JSON lines.
	logger, err := logging.New(cfg.Log.Level, "console")
	if err != nil {
		return nil, err
	}

	store, err := modelstore.NewStore(cfg.Model.Dir, logger, modelstore.WithDevice(cfg.Model.Device))
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: store}, nil
}

// engine wires a training engine whose finished runs go to the configured
// run store. The returned close func releases the store.
func (e *env) engine(ctx context.Context) (*training.Engine, func(), error) {
	db := e.cfg.Database
	runs, err := storage.Open(ctx, storage.DatabaseConfig{
		Type:     db.Type,
		URL:      db.URL,
		Path:     db.Path,
		Host:     db.Host,
		Port:     db.Port,
		User:     db.User,
		Password: db.Password,
		DBName:   db.DBName,
		SSLMode:  db.SSLMode,
	}, e.cfg.Training.HistoryLimit, e.logger)
	if err != nil {
		return nil, nil, err
	}

	t := e.cfg.Training
	engine := training.NewEngine(e.store, runs, training.Config{
		EmbeddingDim:     e.cfg.Model.EmbeddingDim,
		MaxTextLen:       e.cfg.Model.MaxTextLen,
		Seed:             e.cfg.Model.Seed,
		DefaultModelName: e.cfg.Model.DefaultName,
		Train:            training.Hyperparams{Epochs: t.Epochs, BatchSize: t.BatchSize, LearningRate: t.LearningRate},
		FineTune:         training.Hyperparams{Epochs: t.FineTuneEpochs, BatchSize: t.FineTuneBatchSize, LearningRate: t.FineTuneLearningRate},
	}, e.logger)

	return engine, func() {
		if err := runs.Close(); err != nil {
			e.logger.Warn("Failed to close run store", zap.Error(err))
		}
	}, nil
}
