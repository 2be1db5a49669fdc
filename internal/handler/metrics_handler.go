package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/talim-live-api/internal/service"
)

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	sync    *service.SyncService
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService, sync *service.SyncService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, sync: sync}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with an OK payload plus live connection counters.
func (h *MetricsHandler) Health(c *gin.Context) {
	payload := gin.H{"status": "ok"}
	if h.sync != nil {
		payload["sync"] = h.sync.Stats()
	}
	c.JSON(http.StatusOK, payload)
}
