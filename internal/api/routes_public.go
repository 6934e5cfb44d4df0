package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/partybeacon/internal/util"
)

// Version is reported by the public endpoints.
const Version = "1.0.0"

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "partybeacon",
		"version": Version,
		"running": s.beacon.IsRunning(),
	})
}

// handleGetInfo returns host machine and beacon identity.
func (s *Server) handleGetInfo(c *gin.Context) {
	b := s.cfg.GetBeacon()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"beacon_name":     s.beacon.Name(),
		"session_name":    b.SessionName,
		"beacon_port":     b.Port,
		"platform":        sysInfo.Platform,
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
		"local_ip":        sysInfo.LocalIP,
		"version":         Version,
	})
}
