package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sentinel-edge-go/internal/models"
	"sentinel-edge-go/internal/pipeline"
)

// PipelineView is the read-only pipeline surface the handlers need
type PipelineView interface {
	IsRunning() bool
	Stats() pipeline.Stats
	Location() (models.GeospatialSnapshot, bool)
}

type PipelineHandler struct {
	pipeline PipelineView
}

func NewPipelineHandler(p PipelineView) *PipelineHandler {
	return &PipelineHandler{pipeline: p}
}

type GeospatialResponse struct {
	HasFix   bool                      `json:"has_fix"`
	Snapshot models.GeospatialSnapshot `json:"snapshot"`
}

// @Summary Pipeline status
// @Description Per-stage counters and queue depths
// @Tags pipeline
// @Produce json
// @Success 200 {object} pipeline.Stats
// @Router /status [get]
func (h *PipelineHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"pipeline":  h.pipeline.Stats(),
		"timestamp": time.Now().Unix(),
	})
}

// @Summary Latest geospatial snapshot
// @Tags pipeline
// @Produce json
// @Success 200 {object} GeospatialResponse
// @Router /geospatial [get]
func (h *PipelineHandler) Geospatial(c *gin.Context) {
	snap, ok := h.pipeline.Location()
	c.JSON(http.StatusOK, GeospatialResponse{HasFix: ok, Snapshot: snap})
}
