package handler

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports whether a model is loaded
func (h *Handler) Health(c *gin.Context) {
	m := h.predictor.Metrics()
	status := "healthy"
	if !m.ModelLoaded {
		status = "unhealthy"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":               status,
		"model_loaded":         m.ModelLoaded,
		"active_training_runs": h.trainer.ActiveRuns(),
		"metrics":              m,
		"timestamp":            h.timestamp(),
	})
}

// Metrics returns prediction counters and cache usage
func (h *Handler) Metrics(c *gin.Context) {
	m := h.predictor.Metrics()
	hitRate := 0.0
	if total := m.Predictions + m.CacheHits; total > 0 {
		hitRate = math.Round(float64(m.CacheHits)/float64(total)*10000) / 100
	}

	c.JSON(http.StatusOK, gin.H{
		"predictions": gin.H{
			"total":          m.Predictions,
			"cache_hits":     m.CacheHits,
			"cache_hit_rate": hitRate,
			"errors":         m.Errors,
		},
		"cache": gin.H{
			"size":     m.CacheSize,
			"max_size": m.CacheCapacity,
		},
		"model": gin.H{
			"loaded":     m.ModelLoaded,
			"vocab_size": m.VocabSize,
			"name":       m.ModelName,
			"version":    m.ModelVersion,
		},
		"timestamp": h.timestamp(),
	})
}

// ClearCache empties the prediction cache
func (h *Handler) ClearCache(c *gin.Context) {
	cleared := h.predictor.ClearCache()
	c.JSON(http.StatusOK, gin.H{
		"message":       "cache cleared",
		"cleared_items": cleared,
		"timestamp":     h.timestamp(),
	})
}

// Ping is a liveness probe
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "pong",
		"timestamp": h.timestamp(),
	})
}
