package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type LoadModelRequest struct {
	ModelName string `json:"model_name" binding:"required"`
	Version   string `json:"version"`
}

// LoadModel activates a stored version for prediction
func (h *Handler) LoadModel(c *gin.Context) {
	var req LoadModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	meta, err := h.predictor.LoadModel(c.Request.Context(), req.ModelName, req.Version)
	if err != nil {
		h.writeError(c, err, "failed to load model")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "model loaded",
		"model_name": meta.ModelName,
		"version":    meta.Version,
		"vocab_size": meta.VocabSize,
		"timestamp":  h.timestamp(),
	})
}

// ListModels returns every stored version grouped by model name
func (h *Handler) ListModels(c *gin.Context) {
	versions, err := h.registry.List(c.Request.Context(), c.Query("model_name"))
	if err != nil {
		h.writeError(c, err, "failed to list models")
		return
	}
	c.JSON(http.StatusOK, versions)
}

// DeleteModel irreversibly removes one version
func (h *Handler) DeleteModel(c *gin.Context) {
	name, version := c.Param("name"), c.Param("version")

	deleted, err := h.registry.Delete(c.Request.Context(), name, version)
	if err != nil {
		h.writeError(c, err, "failed to delete model")
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "model version not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "model deleted",
		"model_name": name,
		"version":    version,
		"timestamp":  h.timestamp(),
	})
}

// CurrentModel describes the active bundle
func (h *Handler) CurrentModel(c *gin.Context) {
	meta := h.predictor.CurrentModel()
	if meta == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no model loaded"})
		return
	}
	c.JSON(http.StatusOK, meta)
}
