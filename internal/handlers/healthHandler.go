package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prepcli/prep/metrics"
)

type HealthHandler struct {
	metrics *metrics.MonitoringClient
}

func NewHealthHandler(metricsClient *metrics.MonitoringClient) *HealthHandler {
	return &HealthHandler{metrics: metricsClient}
}

func (h *HealthHandler) IsHealthy(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.metrics != nil {
		if totals, err := h.metrics.Totals(); err == nil {
			body["refinements"] = totals[metrics.RefinementsTotal]
		}
	}
	c.JSON(http.StatusOK, body)
}
