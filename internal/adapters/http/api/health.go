package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/fleetreport/pkg/logger"
	"github.com/okian/fleetreport/pkg/metrics"
)

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.hub != nil {
		body["ws_clients"] = s.hub.ClientCount()
	}
	c.JSON(http.StatusOK, body)
}

// handleMetrics serves the process registry in Prometheus format.
func handleMetrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Status())
}

// handleWebSocket upgrades GET /ws and hands the connection to the hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn(c.Request.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	s.hub.Attach(conn)
}
