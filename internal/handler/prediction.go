package handler

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

type PredictRequest struct {
	Text string `json:"text" binding:"required"`
}

type BatchPredictRequest struct {
	Texts []string `json:"texts" binding:"required,min=1"`
}

// Predict handles single text prediction
func (h *Handler) Predict(c *gin.Context) {
	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if n := utf8.RuneCountInString(req.Text); strings.TrimSpace(req.Text) == "" || n > h.cfg.MaxTextLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("text must be 1..%d characters", h.cfg.MaxTextLength)})
		return
	}

	result, err := h.predictor.Predict(c.Request.Context(), req.Text)
	if err != nil {
		h.writeError(c, err, "prediction failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

// PredictBatch drops blank texts, rejects over-length ones and predicts the rest
func (h *Handler) PredictBatch(c *gin.Context) {
	var req BatchPredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Texts) > h.cfg.MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("batch exceeds %d texts", h.cfg.MaxBatchSize)})
		return
	}

	texts := make([]string, 0, len(req.Texts))
	for i, text := range req.Texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if utf8.RuneCountInString(text) > h.cfg.MaxTextLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("text %d exceeds %d characters", i, h.cfg.MaxTextLength)})
			return
		}
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch has no non-empty texts"})
		return
	}

	batch, err := h.predictor.PredictBatch(c.Request.Context(), texts)
	if err != nil {
		h.writeError(c, err, "batch prediction failed")
		return
	}
	c.JSON(http.StatusOK, batch)
}
