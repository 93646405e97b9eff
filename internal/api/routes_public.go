package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/quarry/internal/protocol"
)

// handlePing returns a simple liveness response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"service":  "quarry",
		"version":  protocol.VersionName,
		"protocol": protocol.ProtocolVersion,
	})
}

// handleGetServerStatus returns the operator overview.
func (s *Server) handleGetServerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.operator.Overview())
}

// handleGetHealth returns the latest health check results. It answers 503
// while any check is failing.
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"healthy": true, "checks": []interface{}{}})
		return
	}
	status := http.StatusOK
	healthy := s.health.Healthy()
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy": healthy,
		"checks":  s.health.Results(),
	})
}
