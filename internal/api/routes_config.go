package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/quarry/internal/db"
	"github.com/energizer-project/quarry/internal/server"
)

const redacted = "********"

// handleGetConfig returns the running configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	apiCfg := s.cfg.GetAPI()
	if apiCfg.Token != "" {
		apiCfg.Token = redacted
	}
	if apiCfg.MonitorToken != "" {
		apiCfg.MonitorToken = redacted
	}
	mqttCfg := s.cfg.GetMQTT()
	if mqttCfg.Password != "" {
		mqttCfg.Password = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"server":  s.cfg.GetServer(),
		"network": s.cfg.GetNetwork(),
		"query":   s.cfg.GetQuery(),
		"api":     apiCfg,
		"mqtt":    mqttCfg,
	})
}

// handleSetMOTD changes the message of the day.
func (s *Server) handleSetMOTD(c *gin.Context) {
	var body struct {
		MOTD string `json:"motd" binding:"required,max=256"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.operator.SetMOTD(body.MOTD); err != nil {
		s.logger.Error().Err(err).Msg("failed to save config")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.logger.Info().Str("motd", body.MOTD).Msg("API: MOTD updated")
	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"motd":   body.MOTD,
	})
}

type banRequest struct {
	Kind            string `json:"kind" binding:"required"`
	Target          string `json:"target" binding:"required,max=64"`
	Reason          string `json:"reason" binding:"max=256"`
	DurationMinutes int    `json:"duration_minutes" binding:"min=0"`
}

// handleAddBan bans a player name or an IP and disconnects whoever it
// matches. A zero duration is permanent.
func (s *Server) handleAddBan(c *gin.Context) {
	var body banRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind, err := db.ParseBanKind(body.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	duration := time.Duration(body.DurationMinutes) * time.Minute
	ban, kicked, err := s.operator.Ban(c.Request.Context(), kind, body.Target, body.Reason, operatorName, duration)
	if err != nil {
		s.writeBanError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "banned",
		"ban":    ban,
		"kicked": kicked,
	})
}

// handleRemoveBan lifts a ban.
func (s *Server) handleRemoveBan(c *gin.Context) {
	kind, err := db.ParseBanKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target := c.Param("target")

	if err := s.operator.Unban(c.Request.Context(), kind, target, operatorName); err != nil {
		s.writeBanError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "unbanned",
		"kind":   kind,
		"target": target,
	})
}

func (s *Server) writeBanError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrBanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, server.ErrBansUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error().Err(err).Msg("ban list update failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
