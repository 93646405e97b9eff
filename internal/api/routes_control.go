package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/quarry/internal/network"
)

const (
	operatorName      = "api"
	defaultKickReason = "Kicked by an operator"
)

type kickRequest struct {
	Reason string `json:"reason" binding:"max=256"`
}

// bindKick reads the optional kick body.
func bindKick(c *gin.Context) (string, bool) {
	var body kickRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return "", false
		}
	}
	if body.Reason == "" {
		body.Reason = defaultKickReason
	}
	return body.Reason, true
}

// handleKick disconnects a connection by id.
func (s *Server) handleKick(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return
	}
	reason, ok := bindKick(c)
	if !ok {
		return
	}

	if err := s.operator.Kick(id, reason, operatorName); err != nil {
		if errors.Is(err, network.ErrNoSuchConnection) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "id": id})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "id": id})
		return
	}

	s.logger.Info().Uint64("conn_id", id).Str("reason", reason).Msg("API: connection kicked")
	c.JSON(http.StatusOK, gin.H{
		"status": "kicked",
		"id":     id,
	})
}

// handleKickPlayer disconnects a player by name.
func (s *Server) handleKickPlayer(c *gin.Context) {
	name := c.Param("name")
	reason, ok := bindKick(c)
	if !ok {
		return
	}

	id, err := s.operator.KickPlayer(name, reason, operatorName)
	if err != nil {
		if errors.Is(err, network.ErrNoSuchConnection) {
			c.JSON(http.StatusNotFound, gin.H{"error": "player not online", "player": name})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "player": name})
		return
	}

	s.logger.Info().Str("player", name).Str("reason", reason).Msg("API: player kicked")
	c.JSON(http.StatusOK, gin.H{
		"status": "kicked",
		"player": name,
		"id":     id,
	})
}

// handleBroadcast sends a system chat message to every player.
func (s *Server) handleBroadcast(c *gin.Context) {
	var body struct {
		Message string `json:"message" binding:"required,max=256"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	delivered := s.operator.Broadcast(body.Message)
	s.logger.Info().Int("delivered", delivered).Msg("API: broadcast sent")
	c.JSON(http.StatusOK, gin.H{
		"status":    "sent",
		"delivered": delivered,
	})
}
