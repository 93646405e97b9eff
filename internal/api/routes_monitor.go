package api

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/quarry/internal/util"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleGetConnections lists every live connection.
func (s *Server) handleGetConnections(c *gin.Context) {
	conns := s.operator.Connections()
	c.JSON(http.StatusOK, gin.H{
		"count":       len(conns),
		"connections": conns,
	})
}

// handleGetPlayers lists the players in the lobby.
func (s *Server) handleGetPlayers(c *gin.Context) {
	players := s.operator.Players()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(players),
		"players": players,
	})
}

// handleGetPlayerHistory returns recently seen players, newest first.
func (s *Server) handleGetPlayerHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := s.operator.RecentPlayers(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read player history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read player history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"players": records,
	})
}

// handleGetSystemUsage returns host and process resource usage.
func (s *Server) handleGetSystemUsage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"system": util.GetSystemInfo(),
		"usage":  util.GetUsage(filepath.Dir(s.cfg.Database.Path)),
	})
}

// handleGetBans lists the active bans.
func (s *Server) handleGetBans(c *gin.Context) {
	bans, err := s.operator.Bans(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list bans")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(bans),
		"bans":  bans,
	})
}
