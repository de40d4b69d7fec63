// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultJWTExpiresIn    = "24h"
	DefaultPGHost          = "127.0.0.1"
	DefaultPGPort          = 5432
	DefaultPGUser          = "postgres"
	DefaultPGDatabase      = "chatlift"
	DefaultPGSSLMode       = "disable"
	DefaultReconnectBase   = "2s"
	DefaultReconnectCap    = "60s"
	DefaultReconnectMax    = 10
	DefaultQRTTL           = "60s"
	DefaultDedupWindow     = 4096
	DefaultDedupTTL        = "10m"
	DefaultRouterWorkers   = 8
	DefaultRouterQueueSize = 256
	DefaultSendRatePerSec  = 5
	DefaultRetentionDays   = 90
	DefaultRetentionCron   = "0 4 * * *"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Session   SessionConfig   `toml:"session"`
	Router    RouterConfig    `toml:"router"`
	AI        AIConfig        `toml:"ai"`
	Retention RetentionConfig `toml:"retention"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds the JWT secret shared with the dashboard and token expiry.
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// JWTExpiresInDuration returns the parsed token lifetime.
func (c AuthConfig) JWTExpiresInDuration() time.Duration {
	return parseDuration(c.JWTExpiresIn, 24*time.Hour)
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// SessionConfig holds session supervision settings: reconnect backoff,
// retry budget, QR code lifetime, and the outbound send rate limit.
type SessionConfig struct {
	ReconnectBase        string `toml:"reconnect_base"`
	ReconnectCap         string `toml:"reconnect_cap"`
	MaxReconnectAttempts int    `toml:"max_reconnect_attempts"`
	QRTTL                string `toml:"qr_ttl"`
	SendRatePerSecond    int    `toml:"send_rate_per_second"`
}

// ReconnectBaseDuration returns the parsed reconnect base delay.
func (c SessionConfig) ReconnectBaseDuration() time.Duration {
	return parseDuration(c.ReconnectBase, 2*time.Second)
}

// ReconnectCapDuration returns the parsed reconnect delay cap.
func (c SessionConfig) ReconnectCapDuration() time.Duration {
	return parseDuration(c.ReconnectCap, 60*time.Second)
}

// QRTTLDuration returns the parsed QR code lifetime.
func (c SessionConfig) QRTTLDuration() time.Duration {
	return parseDuration(c.QRTTL, 60*time.Second)
}

// RouterConfig holds inbound routing settings: worker pool size, per-worker
// queue depth, and the redelivery dedup window.
type RouterConfig struct {
	Workers     int    `toml:"workers"`
	QueueSize   int    `toml:"queue_size"`
	DedupWindow int    `toml:"dedup_window"`
	DedupTTL    string `toml:"dedup_ttl"`
}

// DedupTTLDuration returns the parsed dedup entry lifetime.
func (c RouterConfig) DedupTTLDuration() time.Duration {
	return parseDuration(c.DedupTTL, 10*time.Minute)
}

// AIConfig holds the optional intent/sentiment analyzer endpoint.
type AIConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// RetentionConfig holds message log retention settings.
type RetentionConfig struct {
	Days     int    `toml:"days"`
	Schedule string `toml:"schedule"`
}

// Load reads and parses the TOML config file at path and applies default
// values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Session: SessionConfig{
			ReconnectBase:        DefaultReconnectBase,
			ReconnectCap:         DefaultReconnectCap,
			MaxReconnectAttempts: DefaultReconnectMax,
			QRTTL:                DefaultQRTTL,
			SendRatePerSecond:    DefaultSendRatePerSec,
		},
		Router: RouterConfig{
			Workers:     DefaultRouterWorkers,
			QueueSize:   DefaultRouterQueueSize,
			DedupWindow: DefaultDedupWindow,
			DedupTTL:    DefaultDedupTTL,
		},
		AI: AIConfig{
			TimeoutSeconds: 15,
		},
		Retention: RetentionConfig{
			Days:     DefaultRetentionDays,
			Schedule: DefaultRetentionCron,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
