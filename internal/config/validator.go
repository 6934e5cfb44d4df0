package config

import (
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/partybeacon/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Log writes every warning and error to logger.
func (r *ValidationResult) Log(logger zerolog.Logger) {
	for _, w := range r.Warnings {
		logger.Warn().Str("field", w.Field).Msg(w.Message)
	}
	for _, e := range r.Errors {
		logger.Error().Str("field", e.Field).Msg(e.Message)
	}
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	beacon := cfg.GetBeacon()
	api := cfg.GetAPI()
	mqtt := cfg.GetMQTT()

	validateBeacon(&beacon, result)
	validateAPI(&api, result)
	validateMQTT(&mqtt, result)
	validateMaintenance(cfg.GetMaintenance(), result)

	if api.Enabled && api.Port == beacon.Port {
		result.AddError("api.port", fmt.Sprintf("port %d is already used by the beacon", api.Port))
	}
	if strings.TrimSpace(cfg.GetDatabase().Path) == "" {
		result.AddError("database.path", "database path is required")
	}

	return result
}

func validateBeacon(b *BeaconConfig, result *ValidationResult) {
	validatePort(b.Port, "beacon.port", result)

	if b.BindAddress != "" && net.ParseIP(b.BindAddress) == nil {
		result.AddError("beacon.bind_address", fmt.Sprintf("not an IP address: %s", b.BindAddress))
	}
	if b.ConnectionBacklog < 1 {
		result.AddWarning("beacon.connection_backlog", "backlog below 1 is raised to 1")
	}

	// Timers
	if b.HeartbeatTimeoutSec < 1 {
		result.AddError("beacon.heartbeat_timeout_sec", "heartbeat timeout must be at least 1 second")
	}
	if b.ReservationRequestTimeoutSec < 1 {
		result.AddError("beacon.reservation_request_timeout_sec", "request timeout must be at least 1 second")
	}
	if b.TickIntervalMS < 1 {
		result.AddError("beacon.tick_interval_ms", "tick interval must be at least 1ms")
	} else if b.HeartbeatTimeoutSec > 0 && b.TickIntervalMS >= b.HeartbeatTimeoutSec*1000/2 {
		result.AddWarning("beacon.tick_interval_ms", "tick interval is too long to send heartbeats in time")
	}

	// Session shape
	if b.NumTeams < 1 {
		result.AddWarning("beacon.num_teams", "fewer than 1 team is treated as a single team")
	}
	if b.NumPlayersPerTeam < 1 {
		result.AddError("beacon.num_players_per_team", "must allow at least 1 player per team")
	}
	if b.NumReservations < 1 {
		result.AddError("beacon.num_reservations", "must allow at least 1 reservation")
	}
	if b.NumReservations > math.MaxInt32 {
		result.AddError("beacon.num_reservations", fmt.Sprintf("must not exceed %d", math.MaxInt32))
	}
	if b.NumPlayersPerTeam > math.MaxInt32 {
		result.AddError("beacon.num_players_per_team", fmt.Sprintf("must not exceed %d", math.MaxInt32))
	} else if b.NumPlayersPerTeam > protocol.MaxPartySize {
		result.AddWarning("beacon.num_players_per_team",
			fmt.Sprintf("parties above %d players do not fit in one request and are always rejected", protocol.MaxPartySize))
	}
	if teams := max(1, b.NumTeams); b.NumPlayersPerTeam > 0 && b.NumReservations > teams*b.NumPlayersPerTeam {
		result.AddWarning("beacon.num_reservations",
			fmt.Sprintf("%d reservations exceed %d teams of %d players", b.NumReservations, teams, b.NumPlayersPerTeam))
	}
	if strings.TrimSpace(b.SessionName) == "" {
		result.AddError("beacon.session_name", "session name is required")
	}
}

func validateAPI(api *APIConfig, result *ValidationResult) {
	if !api.Enabled {
		return
	}
	validatePort(api.Port, "api.port", result)
	if api.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if api.TLSEnabled && (api.TLSCertFile == "" || api.TLSKeyFile == "") {
		result.AddError("api.tls_cert_file", "TLS needs both a certificate and a key file path")
	}
}

func validateMQTT(mqtt *MQTTConfig, result *ValidationResult) {
	if !mqtt.Enabled {
		return
	}
	if strings.TrimSpace(mqtt.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if mqtt.Port < 1 || mqtt.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if mqtt.UseTLS && (mqtt.CertFile == "") != (mqtt.KeyFile == "") {
		result.AddError("mqtt.cert_file", "client certificate and key must be set together")
	}
}

func validateMaintenance(m MaintenanceConfig, result *ValidationResult) {
	if m.HealthCheckIntervalSec < 0 || m.HeartbeatIntervalSec < 0 {
		result.AddError("maintenance", "intervals must not be negative")
	}
	if m.DiskWarnPercent < 0 || m.DiskWarnPercent > 100 {
		result.AddError("maintenance.disk_warn_percent", "must be between 0 and 100")
	}
	if m.AuditRetentionDays < 0 {
		result.AddError("maintenance.audit_retention_days", "must not be negative")
	}
	if _, _, err := ParseClock(m.CleanupTime); err != nil {
		result.AddWarning("maintenance.cleanup_time", err.Error()+", using 04:00")
	}
}

// ParseClock parses an HH:MM wall clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 4, 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour(), t.Minute(), nil
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
