package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/beacon"
	"github.com/energizer-project/partybeacon/internal/protocol"
	"github.com/energizer-project/partybeacon/internal/server"
)

// writeBeaconError maps a manager error to an HTTP status.
func writeBeaconError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, server.ErrNotRunning):
		status = http.StatusServiceUnavailable
	case errors.Is(err, beacon.ErrNoSocket), errors.Is(err, beacon.ErrAlreadyDestroyed):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// handleGetStatus returns the host snapshot and accumulated stats.
func (s *Server) handleGetStatus(c *gin.Context) {
	snap, err := s.beacon.Snapshot(c.Request.Context())
	if err != nil {
		writeBeaconError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"beacon": snap,
		"stats":  s.beacon.Stats(),
	})
}

// handleGetReservations returns the current party reservations.
func (s *Server) handleGetReservations(c *gin.Context) {
	snap, err := s.beacon.Snapshot(c.Request.Context())
	if err != nil {
		writeBeaconError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reservations": snap.Reservations,
		"consumed":     snap.NumConsumedReservations,
		"remaining":    snap.NumRemaining,
		"total":        snap.NumReservations,
	})
}

// handleGetSkills returns the skill values of every reserved player.
func (s *Server) handleGetSkills(c *gin.Context) {
	skills, err := s.beacon.Skills(c.Request.Context())
	if err != nil {
		writeBeaconError(c, err)
		return
	}
	c.JSON(http.StatusOK, skills)
}

type travelRequest struct {
	SessionName string `json:"session_name" binding:"required"`
	ClassName   string `json:"class_name" binding:"required"`
	// PlatformInfo is hex, at most PlatformInfoSize bytes. Shorter values are
	// zero padded.
	PlatformInfo string `json:"platform_info"`
}

// handleTravel sends every reserved party to a game session.
func (s *Server) handleTravel(c *gin.Context) {
	var body travelRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := protocol.ParsePlatformInfo(body.PlatformInfo)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.beacon.TellClientsToTravel(c.Request.Context(), body.SessionName, body.ClassName, info); err != nil {
		writeBeaconError(c, err)
		return
	}

	log.Info().Str("session", body.SessionName).Str("class", body.ClassName).Msg("API: clients told to travel")
	c.JSON(http.StatusOK, gin.H{"status": "travel_sent"})
}

// handleReady tells every reserved party the host is ready.
func (s *Server) handleReady(c *gin.Context) {
	if err := s.beacon.TellClientsHostIsReady(c.Request.Context()); err != nil {
		writeBeaconError(c, err)
		return
	}

	log.Info().Msg("API: clients told host is ready")
	c.JSON(http.StatusOK, gin.H{"status": "ready_sent"})
}

// handleCancel tells every reserved party the host has cancelled.
func (s *Server) handleCancel(c *gin.Context) {
	if err := s.beacon.TellClientsHostHasCancelled(c.Request.Context()); err != nil {
		writeBeaconError(c, err)
		return
	}

	log.Info().Msg("API: clients told host has cancelled")
	c.JSON(http.StatusOK, gin.H{"status": "cancel_sent"})
}
