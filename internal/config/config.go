// Package config handles configuration loading, validation, and persistence
// for the Quarry server.
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
	DefaultGamePort   = 25565
	DefaultQueryPort  = 25565
	DefaultAPIPort    = 8765
)

// Config is the root configuration structure for Quarry.
type Config struct {
	mu   sync.RWMutex
	path string

	Server      ServerConfig      `json:"server"`
	Network     NetworkConfig     `json:"network"`
	Query       QueryConfig       `json:"query"`
	API         APIConfig         `json:"api"`
	MQTT        MQTTConfig        `json:"mqtt"`
	Discord     DiscordConfig     `json:"discord"`
	Database    DatabaseConfig    `json:"database"`
	Health      HealthConfig      `json:"health"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig describes the game listener and what it advertises.
type ServerConfig struct {
	Address          string `json:"address"`
	Port             int    `json:"port"`
	MOTD             string `json:"motd"`
	MaxPlayers       int    `json:"max_players"`
	OnlineMode       bool   `json:"online_mode"`
	PreventProxy     bool   `json:"prevent_proxy_connections"`
	SessionServerURL string `json:"session_server_url"`
	FaviconPath      string `json:"favicon_path"`
	WorldName        string `json:"world_name"`
}

// NetworkConfig holds the protocol engine limits and timers.
type NetworkConfig struct {
	MaxConnections        int `json:"max_connections"`
	CompressionThreshold  int `json:"compression_threshold"`
	MaxFrameLength        int `json:"max_frame_length"`
	MaxDecompressedLength int `json:"max_decompressed_length"`

	HandshakeTimeoutSec  int `json:"handshake_timeout_sec"`
	LoginTimeoutSec      int `json:"login_timeout_sec"`
	KeepAliveIntervalSec int `json:"keepalive_interval_sec"`
	KeepAliveTimeoutSec  int `json:"keepalive_timeout_sec"`
	WriteTimeoutSec      int `json:"write_timeout_sec"`
	ShutdownTimeoutSec   int `json:"shutdown_timeout_sec"`

	InboundQueueSize  int `json:"inbound_queue_size"`
	OutboundQueueSize int `json:"outbound_queue_size"`

	ConnectionsPerSecond float64 `json:"per_ip_connections_per_sec"`
	ConnectionBurst      int     `json:"per_ip_connection_burst"`
	LimiterCacheSize     int     `json:"limiter_cache_size"`
}

// QueryConfig holds the UDP query listener settings.
type QueryConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// APIConfig holds the admin REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Address        string   `json:"address"`
	Port           int      `json:"port"`
	Token          string   `json:"token"`
	MonitorToken   string   `json:"monitor_token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Topic     string `json:"topic_prefix"`
}

// DiscordConfig holds the Discord webhook notification settings.
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// DatabaseConfig holds the sqlite store location.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// HealthConfig holds periodic health check settings.
type HealthConfig struct {
	IntervalSec         int     `json:"interval_sec"`
	CapacityWarnPercent float64 `json:"capacity_warn_percent"`
	MemoryWarnPercent   float64 `json:"memory_warn_percent"`
}

// MaintenanceConfig holds the daily housekeeping settings.
type MaintenanceConfig struct {
	Enabled             bool   `json:"enabled"`
	RunAt               string `json:"run_at"`
	PlayerRetentionDays int    `json:"player_retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:    "0.0.0.0",
			Port:       DefaultGamePort,
			MOTD:       "A Quarry server",
			MaxPlayers: 20,
			OnlineMode: true,
			WorldName:  "world",
		},
		Network: NetworkConfig{
			MaxConnections:        100,
			CompressionThreshold:  256,
			MaxFrameLength:        2097151,
			MaxDecompressedLength: 8388608,
			HandshakeTimeoutSec:   10,
			LoginTimeoutSec:       30,
			KeepAliveIntervalSec:  15,
			KeepAliveTimeoutSec:   30,
			WriteTimeoutSec:       10,
			ShutdownTimeoutSec:    15,
			InboundQueueSize:      128,
			OutboundQueueSize:     256,
			ConnectionsPerSecond:  2,
			ConnectionBurst:       5,
			LimiterCacheSize:      4096,
		},
		Query: QueryConfig{
			Enabled: false,
			Port:    DefaultQueryPort,
		},
		API: APIConfig{
			Enabled:      true,
			Address:      "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
		},
		MQTT: MQTTConfig{
			Enabled:  false,
			Port:     1883,
			ClientID: "quarry",
			Topic:    "quarry",
		},
		Database: DatabaseConfig{
			Path: "data/quarry.db",
		},
		Health: HealthConfig{
			IntervalSec:         60,
			CapacityWarnPercent: 90,
			MemoryWarnPercent:   90,
		},
		Maintenance: MaintenanceConfig{
			Enabled:             true,
			RunAt:               "04:00",
			PlayerRetentionDays: 180,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads configuration from a JSON file in configDir, creating it with
// defaults when missing.
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

	// Re-save so the file always lists every option.
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

// GetServer returns a copy of the server section.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// SetMOTD changes the advertised message of the day.
func (c *Config) SetMOTD(motd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server.MOTD = motd
}

// GetNetwork returns a copy of the network section.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// GetQuery returns a copy of the query section.
func (c *Config) GetQuery() QueryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Query
}

// GetAPI returns a copy of the API section.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// HandshakeTimeout bounds the wait for the handshake and status exchange.
func (n NetworkConfig) HandshakeTimeout() time.Duration { return seconds(n.HandshakeTimeoutSec) }

// LoginTimeout bounds the whole login sequence.
func (n NetworkConfig) LoginTimeout() time.Duration { return seconds(n.LoginTimeoutSec) }

// KeepAliveInterval is the period of server keep-alive probes.
func (n NetworkConfig) KeepAliveInterval() time.Duration { return seconds(n.KeepAliveIntervalSec) }

// KeepAliveTimeout is how long a probe may stay unanswered.
func (n NetworkConfig) KeepAliveTimeout() time.Duration { return seconds(n.KeepAliveTimeoutSec) }

// WriteTimeout bounds every socket write.
func (n NetworkConfig) WriteTimeout() time.Duration { return seconds(n.WriteTimeoutSec) }

// ShutdownTimeout bounds the wait for connections during shutdown.
func (n NetworkConfig) ShutdownTimeout() time.Duration { return seconds(n.ShutdownTimeoutSec) }
