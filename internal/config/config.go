// Package config provides configuration loading, validation, and defaults
// for the meshtraffic application. Configuration is read from a YAML file
// and MESHTRAFFIC_* environment variables, with environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application settings. Any invalid or missing required
// value fails startup; nothing here is re-read after Load returns.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Mesh      MeshConfig      `mapstructure:"mesh"`
	Traffic   TrafficConfig   `mapstructure:"traffic"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Query     QueryConfig     `mapstructure:"query"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
}

// LoggerConfig controls log verbosity and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// MeshConfig describes the radio connection and channel behavior.
type MeshConfig struct {
	ConnectionType string        `mapstructure:"connection_type" validate:"oneof=serial tcp"`
	DevicePath     string        `mapstructure:"device_path"     validate:"required_if=ConnectionType serial"`
	TCPHost        string        `mapstructure:"tcp_host"        validate:"required_if=ConnectionType tcp"`
	TCPPort        int           `mapstructure:"tcp_port"        validate:"gt=0,lte=65535"`
	ChannelIndex   uint32        `mapstructure:"channel_index"   validate:"lte=7"`
	SendEnabled    bool          `mapstructure:"send_enabled"`
	MaxPayload     int           `mapstructure:"max_payload"     validate:"gte=50,lte=230"`
	SendDelay      time.Duration `mapstructure:"send_delay"      validate:"gte=100ms,lte=10s"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"gte=1s,lte=5m"`
}

// TrafficConfig describes the AZ 511 data source.
type TrafficConfig struct {
	APIKey  string        `mapstructure:"api_key"  validate:"required"`
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout"  validate:"gte=1s,lte=2m"`
}

// GeocoderConfig describes the reverse-geocoding service.
type GeocoderConfig struct {
	BaseURL   string        `mapstructure:"base_url"   validate:"required,url"`
	UserAgent string        `mapstructure:"user_agent" validate:"required"`
	Timeout   time.Duration `mapstructure:"timeout"    validate:"gte=1s,lte=1m"`
}

// QueryConfig bounds per-command result volume.
type QueryConfig struct {
	MaxResults int `mapstructure:"max_results" validate:"gte=1,lte=10"`
}

// DatabaseConfig locates the SQLite file backing broadcast deduplication.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// BroadcastConfig controls the scheduled accident announcement job.
type BroadcastConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Schedule            string `mapstructure:"schedule"             validate:"required_if=Enabled true"`
	MaintenanceSchedule string `mapstructure:"maintenance_schedule"`
	Region              string `mapstructure:"region"`
}

// Load reads configuration from the given YAML file path (optional; defaults
// apply when the file is absent), overlays MESHTRAFFIC_* environment
// variables, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("MESHTRAFFIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// Missing config file is fine; defaults plus environment apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("mesh.connection_type", "serial")
	// Empty defaults register the keys with viper so environment-only
	// values are picked up; validation still rejects them when unset.
	v.SetDefault("mesh.device_path", "")
	v.SetDefault("mesh.tcp_host", "")
	v.SetDefault("mesh.tcp_port", 4403)
	v.SetDefault("mesh.channel_index", 0)
	v.SetDefault("mesh.send_enabled", false)
	v.SetDefault("mesh.max_payload", 200)
	v.SetDefault("mesh.send_delay", 500*time.Millisecond)
	v.SetDefault("mesh.reconnect_delay", 2*time.Second)

	v.SetDefault("traffic.api_key", "")
	v.SetDefault("traffic.base_url", "https://api.az511.gov/api/v2")
	v.SetDefault("traffic.timeout", 15*time.Second)

	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "meshtraffic/1.0")
	v.SetDefault("geocoder.timeout", 10*time.Second)

	v.SetDefault("query.max_results", 3)

	v.SetDefault("database.path", "meshtraffic.db")

	v.SetDefault("broadcast.enabled", false)
	v.SetDefault("broadcast.schedule", "0 */15 * * * *")
	v.SetDefault("broadcast.maintenance_schedule", "0 0 4 * * *")
	v.SetDefault("broadcast.region", "phoenix")
}
