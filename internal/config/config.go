// Package config handles configuration loading, validation, and persistence
// for the party beacon daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultBeaconPort = 14001
	DefaultAPIPort    = 5080
)

// Config is the root configuration structure for the daemon.
type Config struct {
	mu   sync.RWMutex
	path string

	Beacon      BeaconConfig      `json:"beacon"`
	API         APIConfig         `json:"api"`
	MQTT        MQTTConfig        `json:"mqtt"`
	Database    DatabaseConfig    `json:"database"`
	Logging     LoggingConfig     `json:"logging"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

// BeaconConfig holds the party beacon settings shared by host and client.
type BeaconConfig struct {
	Name        string `json:"name"`
	Port        int    `json:"port"`
	BindAddress string `json:"bind_address"`
	// ConnectionBacklog is clamped to at least 1 when the host listens.
	ConnectionBacklog            int `json:"connection_backlog"`
	HeartbeatTimeoutSec          int `json:"heartbeat_timeout_sec"`
	ReservationRequestTimeoutSec int `json:"reservation_request_timeout_sec"`
	TickIntervalMS               int `json:"tick_interval_ms"`

	// Session shape
	NumTeams          int    `json:"num_teams"`
	NumPlayersPerTeam int    `json:"num_players_per_team"`
	NumReservations   int    `json:"num_reservations"`
	SessionName       string `json:"session_name"`
}

// HeartbeatTimeout returns the heartbeat timeout as a duration.
func (b BeaconConfig) HeartbeatTimeout() time.Duration {
	return time.Duration(b.HeartbeatTimeoutSec) * time.Second
}

// ReservationRequestTimeout returns the client request timeout as a duration.
func (b BeaconConfig) ReservationRequestTimeout() time.Duration {
	return time.Duration(b.ReservationRequestTimeoutSec) * time.Second
}

// TickInterval returns the driver tick interval as a duration.
func (b BeaconConfig) TickInterval() time.Duration {
	return time.Duration(b.TickIntervalMS) * time.Millisecond
}

// APIConfig holds the REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	// TLS serves the API over HTTPS. A missing certificate is generated
	// self-signed on first start.
	TLSEnabled  bool   `json:"tls_enabled"`
	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
	Topic     string `json:"topic"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// MaintenanceConfig holds the health check and cleanup timers. Intervals
// of zero disable the task.
type MaintenanceConfig struct {
	HealthCheckIntervalSec int     `json:"health_check_interval_sec"`
	HeartbeatIntervalSec   int     `json:"heartbeat_interval_sec"`
	DiskWarnPercent        float64 `json:"disk_warn_percent"`
	AuditRetentionDays     int     `json:"audit_retention_days"`
	CleanupTime            string  `json:"cleanup_time"` // HH:MM local time
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Beacon: BeaconConfig{
			Name:                         "PartyBeaconHost",
			Port:                         DefaultBeaconPort,
			BindAddress:                  "0.0.0.0",
			ConnectionBacklog:            16,
			HeartbeatTimeoutSec:          10,
			ReservationRequestTimeoutSec: 10,
			TickIntervalMS:               33,
			NumTeams:                     2,
			NumPlayersPerTeam:            4,
			NumReservations:              8,
			SessionName:                  "Game",
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 100,
			TLSCertFile:  filepath.Join(DefaultConfigDir, "api-cert.pem"),
			TLSKeyFile:   filepath.Join(DefaultConfigDir, "api-key.pem"),
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Port:    8883,
			UseTLS:  true,
			Topic:   "partybeacon",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(DefaultConfigDir, "partybeacon.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
		Maintenance: MaintenanceConfig{
			HealthCheckIntervalSec: 60,
			HeartbeatIntervalSec:   30,
			DiskWarnPercent:        80,
			AuditRetentionDays:     30,
			CleanupTime:            "04:00",
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so the file always lists every option the binary knows.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetBeacon returns a copy of the beacon configuration.
func (c *Config) GetBeacon() BeaconConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Beacon
}

// SetBeacon updates the beacon configuration.
func (c *Config) SetBeacon(b BeaconConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Beacon = b
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	api := c.API
	api.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return api
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetDatabase returns a copy of the database configuration.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// GetMaintenance returns a copy of the maintenance configuration.
func (c *Config) GetMaintenance() MaintenanceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Maintenance
}

// UpdateBeaconField updates a single beacon field by its JSON key.
func (c *Config) UpdateBeaconField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(c.Beacon)
	if err != nil {
		return fmt.Errorf("failed to marshal beacon config: %w", err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to decode beacon config: %w", err)
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown beacon field %q", key)
	}

	m[key] = value

	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	next := c.Beacon
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Beacon = next
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath points the config at a file, for configs built in code.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// IsFirstRun returns true when no session shape has been configured.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Beacon.NumReservations == 0 || c.Beacon.SessionName == ""
}
