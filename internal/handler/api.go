// Package handler exposes prediction, model management, training and
// monitoring over HTTP.
package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/modelstore"
	"github.com/xaenox/task-extractor/internal/training"
)

// Predictor is the prediction service surface used by the handler.
type Predictor interface {
	Predict(ctx context.Context, text string) (models.PredictionResult, error)
	PredictBatch(ctx context.Context, texts []string) (models.BatchResult, error)
	LoadModel(ctx context.Context, modelName, version string) (*modelstore.Metadata, error)
	CurrentModel() *modelstore.Metadata
	ClearCache() int
	Metrics() models.Metrics
}

// Trainer is the training engine surface used by the handler.
type Trainer interface {
	StartTraining(req training.TrainRequest) (string, error)
	StartFineTune(ctx context.Context, req training.FineTuneRequest) (string, error)
	GetProgress(ctx context.Context, id string) (*models.TrainingRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.TrainingRun, error)
	Cancel(id string) error
	ActiveRuns() int
}

// Registry is the model store surface used by the handler.
type Registry interface {
	List(ctx context.Context, modelName string) (map[string][]modelstore.Metadata, error)
	Delete(ctx context.Context, modelName, version string) (bool, error)
}

type Config struct {
	MaxBatchSize  int
	MaxTextLength int
	APIKey        string
}

type Handler struct {
	predictor Predictor
	trainer   Trainer
	registry  Registry
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

func NewHandler(predictor Predictor, trainer Trainer, registry Registry, cfg Config, logger *zap.Logger) *Handler {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 1000
	}
	return &Handler{
		predictor: predictor,
		trainer:   trainer,
		registry:  registry,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.Use(h.requireAPIKey())
	{
		api.POST("/predict", h.Predict)
		api.POST("/predict/batch", h.PredictBatch)

		management := api.Group("/management")
		management.POST("/load", h.LoadModel)
		management.GET("/models", h.ListModels)
		management.DELETE("/models/:name/:version", h.DeleteModel)
		management.GET("/current-model", h.CurrentModel)

		trainingGroup := api.Group("/training")
		trainingGroup.POST("/train", h.Train)
		trainingGroup.POST("/fine-tune", h.FineTune)
		trainingGroup.GET("/status/:id", h.TrainingStatus)
		trainingGroup.DELETE("/:id", h.CancelTraining)
		trainingGroup.GET("/runs", h.ListRuns)

		monitoring := api.Group("/monitoring")
		monitoring.GET("/health", h.Health)
		monitoring.GET("/metrics", h.Metrics)
		monitoring.POST("/cache/clear", h.ClearCache)
		monitoring.GET("/ping", h.Ping)
	}
}

// requireAPIKey checks X-API-Key when a key is configured. Ping stays open
// for liveness probes.
func (h *Handler) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.cfg.APIKey == "" || c.FullPath() == "/api/v1/monitoring/ping" {
			c.Next()
			return
		}
		key := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.APIKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Next()
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrModelNotLoaded), errors.Is(err, models.ErrModelNotTrained):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientData), errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(code, gin.H{"error": msg})
		return
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}
