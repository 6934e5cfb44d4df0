package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/partybeacon/internal/config"
	"github.com/energizer-project/partybeacon/internal/events"
)

// handleGetConfig returns the current configuration.
func (s *Server) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"beacon":   s.cfg.GetBeacon(),
		"api":      s.cfg.GetAPI(),
		"mqtt":     s.cfg.GetMQTT(),
		"database": s.cfg.GetDatabase(),
		"logging":  s.cfg.GetLogging(),
	})
}

type configFieldRequest struct {
	Key   string      `json:"key" binding:"required"`
	Value interface{} `json:"value"`
}

// handleSetConfigField updates one beacon setting and saves the file. The
// running host keeps its settings until restarted.
func (s *Server) handleSetConfigField(c *gin.Context) {
	var body configFieldRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous := s.cfg.GetBeacon()
	if err := s.cfg.UpdateBeaconField(body.Key, body.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if result := config.Validate(s.cfg); !result.IsValid() {
		s.cfg.SetBeacon(previous)
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Error())
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration", "details": msgs})
		return
	}

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.eventBus.Emit(c.Request.Context(), events.NewEvent(events.EventConfigChanged, "api", events.ConfigChangedPayload{
		Section: "beacon",
		Key:     body.Key,
		Value:   body.Value,
	}))

	log.Info().Str("key", body.Key).Interface("value", body.Value).Msg("API: beacon config updated")

	c.JSON(http.StatusOK, gin.H{
		"status":           "updated",
		"restart_required": true,
		"beacon":           s.cfg.GetBeacon(),
	})
}
