package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	DeviceID string
	Version  string
	pipeline PipelineView
}

func NewHealthHandler(deviceID, version string, pipeline PipelineView) *HealthHandler {
	return &HealthHandler{DeviceID: deviceID, Version: version, pipeline: pipeline}
}

type HealthResponse struct {
	Status   string `json:"status" example:"healthy"`
	DeviceID string `json:"device_id" example:"edge-1"`
	Pipeline string `json:"pipeline" example:"running"`
}

type DeviceInfoResponse struct {
	DeviceID     string   `json:"device_id" example:"edge-1"`
	Status       string   `json:"status" example:"running"`
	Version      string   `json:"version" example:"1.0.0"`
	Capabilities []string `json:"capabilities"`
}

// @Summary Health check
// @Description Reports healthy while the pipeline is running
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	if !h.pipeline.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:   "unhealthy",
			DeviceID: h.DeviceID,
			Pipeline: "stopped",
		})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "healthy",
		DeviceID: h.DeviceID,
		Pipeline: "running",
	})
}

// @Summary Device information
// @Tags health
// @Produce json
// @Success 200 {object} DeviceInfoResponse
// @Router / [get]
func (h *HealthHandler) DeviceInfo(c *gin.Context) {
	status := "stopped"
	if h.pipeline.IsRunning() {
		status = "running"
	}
	c.JSON(http.StatusOK, DeviceInfoResponse{
		DeviceID: h.DeviceID,
		Status:   status,
		Version:  h.Version,
		Capabilities: []string{
			"violence_detection",
			"geospatial_context",
			"event_transmission",
		},
	})
}
