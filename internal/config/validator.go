package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
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

// maxFrameLength is the largest length a 3 byte VarInt prefix can carry.
const maxFrameLength = 2097151

// Validate checks the whole configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateServer(&cfg.Server, result)
	validateNetwork(&cfg.Network, result)
	validateServices(cfg, result)

	return result
}

func validateServer(s *ServerConfig, result *ValidationResult) {
	validatePort(s.Port, "server.port", result)

	if ip := strings.TrimSpace(s.Address); ip != "" && net.ParseIP(ip) == nil {
		result.AddError("server.address", fmt.Sprintf("not an IP address: %q", s.Address))
	}
	if s.MaxPlayers < 0 {
		result.AddError("server.max_players", "must not be negative")
	}
	if len(s.MOTD) > 256 {
		result.AddWarning("server.motd", "long MOTD will be cut off by most clients")
	}
	if s.FaviconPath != "" {
		if _, err := os.Stat(s.FaviconPath); os.IsNotExist(err) {
			result.AddWarning("server.favicon_path",
				fmt.Sprintf("file does not exist: %s", s.FaviconPath))
		}
	}
	if !s.OnlineMode {
		result.AddWarning("server.online_mode",
			"online mode is off, player names are not verified and traffic is not encrypted")
	}
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	if n.MaxConnections < 1 {
		result.AddError("network.max_connections", "must admit at least 1 connection")
	}
	if n.CompressionThreshold < -1 {
		result.AddError("network.compression_threshold", "must be -1 (disabled) or a non-negative size")
	}
	if n.MaxFrameLength < 1 || n.MaxFrameLength > maxFrameLength {
		result.AddError("network.max_frame_length",
			fmt.Sprintf("must be between 1 and %d", maxFrameLength))
	}
	if n.MaxDecompressedLength < 1 {
		result.AddError("network.max_decompressed_length", "must be positive")
	}
	if n.CompressionThreshold > n.MaxDecompressedLength {
		result.AddWarning("network.compression_threshold",
			"threshold above the decompression cap, nothing will be compressed")
	}

	for field, v := range map[string]int{
		"network.handshake_timeout_sec":  n.HandshakeTimeoutSec,
		"network.login_timeout_sec":      n.LoginTimeoutSec,
		"network.keepalive_interval_sec": n.KeepAliveIntervalSec,
		"network.keepalive_timeout_sec":  n.KeepAliveTimeoutSec,
		"network.write_timeout_sec":      n.WriteTimeoutSec,
		"network.shutdown_timeout_sec":   n.ShutdownTimeoutSec,
		"network.inbound_queue_size":     n.InboundQueueSize,
		"network.outbound_queue_size":    n.OutboundQueueSize,
	} {
		if v < 1 {
			result.AddError(field, "must be at least 1")
		}
	}
	if n.KeepAliveTimeoutSec <= n.KeepAliveIntervalSec {
		result.AddError("network.keepalive_timeout_sec", "must be longer than the keep-alive interval")
	}

	if n.ConnectionsPerSecond <= 0 {
		result.AddWarning("network.per_ip_connections_per_sec", "per-IP connection throttling is disabled")
	} else if n.ConnectionBurst < 1 {
		result.AddError("network.per_ip_connection_burst", "must be at least 1 when throttling is enabled")
	}
	if n.LimiterCacheSize < 1 {
		result.AddError("network.limiter_cache_size", "must be at least 1")
	}
}

func validateServices(cfg *Config, result *ValidationResult) {
	if cfg.Query.Enabled {
		validatePort(cfg.Query.Port, "query.port", result)
	}

	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if cfg.API.Port == cfg.Server.Port {
			result.AddError("api.port", "port conflict with server.port")
		}
		if strings.TrimSpace(cfg.API.Token) == "" {
			result.AddWarning("api.token", "no token set, protected API routes will refuse every request")
		}
		if cfg.API.RateLimitRPS < 1 {
			result.AddWarning("api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
		if cfg.API.TLSEnabled && (cfg.API.TLSCertFile == "" || cfg.API.TLSKeyFile == "") {
			result.AddError("api.tls_cert_file", "certificate and key paths are required when TLS is enabled")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "invalid MQTT port")
		}
	}

	if cfg.Discord.Enabled {
		if !strings.HasPrefix(cfg.Discord.WebhookURL, "https://") {
			result.AddError("discord.webhook_url", "an https webhook URL is required when enabled")
		}
	}

	if strings.TrimSpace(cfg.Database.Path) == "" {
		result.AddError("database.path", "database path is required")
	}

	if cfg.Health.IntervalSec < 1 {
		result.AddError("health.interval_sec", "must be at least 1")
	}

	if cfg.Maintenance.Enabled {
		if _, err := time.Parse("15:04", cfg.Maintenance.RunAt); err != nil {
			result.AddError("maintenance.run_at", "must be a 24 hour HH:MM time")
		}
		if cfg.Maintenance.PlayerRetentionDays < 0 {
			result.AddError("maintenance.player_retention_days", "must not be negative")
		}
	}
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
