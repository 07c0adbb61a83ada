package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xaenox/task-extractor/internal/models"
	"github.com/xaenox/task-extractor/internal/training"
)

type Hyperparams struct {
	Epochs       int     `json:"epochs" binding:"omitempty,min=1,max=1000"`
	BatchSize    int     `json:"batch_size" binding:"omitempty,min=1,max=1024"`
	LearningRate float64 `json:"learning_rate" binding:"omitempty,gt=0,lt=1"`
}

type TrainRequest struct {
	TrainingExamples []models.TrainingExample `json:"training_examples" binding:"required,dive"`
	ModelName        string                   `json:"model_name"`
	Hyperparams
}

type FineTuneRequest struct {
	ModelName        string                   `json:"model_name" binding:"required"`
	Version          string                   `json:"version"`
	TrainingExamples []models.TrainingExample `json:"training_examples" binding:"required,dive"`
	FreezeEmbedding  bool                     `json:"freeze_embedding"`
	Hyperparams
}

func (p Hyperparams) toEngine() training.Hyperparams {
	return training.Hyperparams{
		Epochs:       p.Epochs,
		BatchSize:    p.BatchSize,
		LearningRate: p.LearningRate,
	}
}

// Train starts a background training run
func (h *Handler) Train(c *gin.Context) {
	var req TrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.trainer.StartTraining(training.TrainRequest{
		Examples:    req.TrainingExamples,
		ModelName:   req.ModelName,
		Hyperparams: req.toEngine(),
	})
	if err != nil {
		h.writeError(c, err, "failed to start training")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"training_id":    id,
		"status":         models.RunPending,
		"total_examples": len(req.TrainingExamples),
		"message":        "Training started. Check /api/v1/training/status/" + id + " for progress",
	})
}

// FineTune starts a background fine-tuning run
func (h *Handler) FineTune(c *gin.Context) {
	var req FineTuneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.trainer.StartFineTune(c.Request.Context(), training.FineTuneRequest{
		ModelName:       req.ModelName,
		Version:         req.Version,
		Examples:        req.TrainingExamples,
		FreezeEmbedding: req.FreezeEmbedding,
		Hyperparams:     req.toEngine(),
	})
	if err != nil {
		h.writeError(c, err, "failed to start fine-tuning")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"training_id":    id,
		"status":         models.RunPending,
		"base_model":     req.ModelName,
		"total_examples": len(req.TrainingExamples),
		"message":        "Fine-tuning started. Check /api/v1/training/status/" + id + " for progress",
	})
}

// TrainingStatus returns live or final progress of a run
func (h *Handler) TrainingStatus(c *gin.Context) {
	run, err := h.trainer.GetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to get training status")
		return
	}
	c.JSON(http.StatusOK, run)
}

// CancelTraining requests cancellation of a live run
func (h *Handler) CancelTraining(c *gin.Context) {
	id := c.Param("id")
	if err := h.trainer.Cancel(id); err != nil {
		h.writeError(c, err, "failed to cancel training")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"training_id": id,
		"message":     "cancellation requested",
	})
}

// ListRuns returns recent runs, newest first
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := h.trainer.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err, "failed to list training runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}
