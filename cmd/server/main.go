package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/bot"
	"github.com/xaenox/task-extractor/internal/handler"
	"github.com/xaenox/task-extractor/internal/logging"
	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/modelstore"
	"github.com/xaenox/task-extractor/internal/predictor"
	"github.com/xaenox/task-extractor/internal/rules"
	"github.com/xaenox/task-extractor/internal/storage"
	"github.com/xaenox/task-extractor/internal/training"
	"github.com/xaenox/task-extractor/pkg/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runs, err := storage.Open(ctx, storage.DatabaseConfig{
		Type:     cfg.Database.Type,
		URL:      cfg.Database.URL,
		Path:     cfg.Database.Path,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, cfg.Training.HistoryLimit, logger)
	if err != nil {
		logger.Fatal("Failed to initialize run store", zap.Error(err))
	}
	defer runs.Close()

	store, err := modelstore.NewStore(cfg.Model.Dir, logger, modelstore.WithDevice(cfg.Model.Device))
	if err != nil {
		logger.Fatal("Failed to initialize model store", zap.Error(err), zap.String("dir", cfg.Model.Dir))
	}

	svc, err := predictor.NewService(store, rules.NewEngine(), predictor.Config{
		CacheCapacity: cfg.Cache.Capacity,
		MaxTextLen:    cfg.Model.MaxTextLen,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize prediction service", zap.Error(err))
	}

	var engineOpts []training.Option
	if cfg.Training.AutoActivate {
		engineOpts = append(engineOpts, training.WithOnComplete(svc.Activate))
	}
	engine := training.NewEngine(store, runs, training.Config{
		EmbeddingDim:     cfg.Model.EmbeddingDim,
		MaxTextLen:       cfg.Model.MaxTextLen,
		Seed:             cfg.Model.Seed,
		DefaultModelName: cfg.Model.DefaultName,
		Train: training.Hyperparams{
			Epochs:       cfg.Training.Epochs,
			BatchSize:    cfg.Training.BatchSize,
			LearningRate: cfg.Training.LearningRate,
		},
		FineTune: training.Hyperparams{
			Epochs:       cfg.Training.FineTuneEpochs,
			BatchSize:    cfg.Training.FineTuneBatchSize,
			LearningRate: cfg.Training.FineTuneLearningRate,
		},
	}, logger, engineOpts...)

	if cfg.Model.LoadOnStart {
		meta, err := svc.LoadModel(ctx, cfg.Model.DefaultName, modelstore.LatestAlias)
		switch {
		case errors.Is(err, models.ErrNotFound):
			logger.Warn("No saved model yet, predictions are unavailable until one is trained",
				zap.String("model_name", cfg.Model.DefaultName))
		case err != nil:
			logger.Error("Failed to load model on start", zap.Error(err))
		default:
			logger.Info("Model loaded", zap.String("model_name", meta.ModelName), zap.String("version", meta.Version))
		}
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := handler.NewHandler(svc, engine, store, handler.Config{
		MaxBatchSize:  cfg.API.MaxBatchSize,
		MaxTextLength: cfg.API.MaxTextLength,
		APIKey:        cfg.API.Key,
	}, logger)
	api.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	botDone := make(chan struct{})
	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram.Token, svc, logger)
		if err != nil {
			logger.Fatal("Failed to create bot", zap.Error(err))
		}
		go func() {
			defer close(botDone)
			if err := b.Start(ctx); err != nil {
				logger.Error("Bot error", zap.Error(err))
			}
		}()
	} else {
		close(botDone)
	}

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Error("Training runs did not stop in time", zap.Error(err))
	}
	<-botDone

	logger.Info("Server exited")
}
