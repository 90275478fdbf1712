// Package config provides configuration management for camstreamd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultMaxOpenConns     = 25
	defaultMaxIdleConns     = 10
	defaultConnMaxIdleTime  = 30 * time.Minute
	defaultRTSPPort         = 8554
	defaultRTSPIdleTimeout  = 10 * time.Second
	defaultDevicePattern    = "/dev/video*"
	defaultMAVLinkAddress   = "0.0.0.0:14550"
	defaultMAVLinkBaud      = 57600
	defaultMAVLinkSystemID  = 1
	defaultLivenessInterval = time.Second
	defaultServiceType      = "_rtsp._udp"
	defaultServiceDomain    = "local."
)

// MAVLink transport selectors.
const (
	TransportUDPBroadcast = "udp-broadcast"
	TransportUDPClient    = "udp-client"
	TransportUDPServer    = "udp-server"
	TransportTCPClient    = "tcp-client"
	TransportTCPServer    = "tcp-server"
	TransportSerial       = "serial"
)

// Mount path policies applied when a peer requests new stream settings.
const (
	// MountPathPreserve keeps the stream's current mount path and ignores the requested one.
	MountPathPreserve = "preserve"
	// MountPathAdopt takes a non-empty requested mount path.
	MountPathAdopt = "adopt"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RTSP      RTSPConfig      `mapstructure:"rtsp"`
	Devices   DevicesConfig   `mapstructure:"devices"`
	Streams   StreamsConfig   `mapstructure:"streams"`
	MAVLink   MAVLinkConfig   `mapstructure:"mavlink"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the HTTP management API configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// RTSPConfig holds the media server configuration.
type RTSPConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	// GstLaunchPath is the path to gst-launch-1.0 (empty = auto-detect).
	GstLaunchPath string `mapstructure:"gst_launch_path"`
	// UDPRTPPort and UDPRTCPPort enable the UDP transport when both are set.
	UDPRTPPort  int `mapstructure:"udp_rtp_port"`
	UDPRTCPPort int `mapstructure:"udp_rtcp_port"`
	// IdleTimeout closes a capture pipeline that was described but never played.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// DevicesConfig controls capture device enumeration.
type DevicesConfig struct {
	Pattern     string   `mapstructure:"pattern"`
	Blacklist   []string `mapstructure:"blacklist"` // device names, e.g. "video1"
	AutoPublish bool     `mapstructure:"auto_publish"`
	// RescanSchedule re-runs auto-publish on a cron schedule to pick up
	// hotplugged devices, e.g. "@every 10s". Empty disables rescanning.
	RescanSchedule string `mapstructure:"rescan_schedule"`
}

// StreamsConfig controls statically configured and persisted streams.
type StreamsConfig struct {
	Persist bool           `mapstructure:"persist"`
	Static  []StaticStream `mapstructure:"static"`
}

// StaticStream is a stream published at startup from configuration.
type StaticStream struct {
	Device    string `mapstructure:"device" yaml:"device"`
	Format    string `mapstructure:"format" yaml:"format"`
	MountPath string `mapstructure:"mount_path" yaml:"mount_path"`
	Width     uint32 `mapstructure:"width" yaml:"width"`
	Height    uint32 `mapstructure:"height" yaml:"height"`
}

// MAVLinkConfig holds the telemetry link configuration.
type MAVLinkConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Transport        string        `mapstructure:"transport"` // udp-broadcast, udp-client, udp-server, tcp-client, tcp-server, serial
	Address          string        `mapstructure:"address"`   // host:port, or device path for serial
	Baud             int           `mapstructure:"baud"`
	SystemID         int           `mapstructure:"system_id"`
	LivenessInterval time.Duration `mapstructure:"liveness_interval"`
	MountPathPolicy  string        `mapstructure:"mount_path_policy"` // preserve, adopt
	SigningKey       string        `mapstructure:"signing_key" masq:"secret"`
}

// DiscoveryConfig controls mDNS/DNS-SD advertisement of published streams.
type DiscoveryConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	ServiceType string   `mapstructure:"service_type"`
	Domain      string   `mapstructure:"domain"`
	Interfaces  []string `mapstructure:"interfaces"` // empty = all multicast interfaces
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format         string `mapstructure:"format"` // json, text
	AddSource      bool   `mapstructure:"add_source"`
	TimeFormat     string `mapstructure:"time_format"`
	RequestLogging bool   `mapstructure:"request_logging"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CAMSTREAMD_ and use underscores for nesting.
// Example: CAMSTREAMD_RTSP_PORT=8554.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("camstreamd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/camstreamd")
		v.AddConfigPath("$HOME/.camstreamd")
	}

	v.SetEnvPrefix("CAMSTREAMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// HTTP management API defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Media server defaults
	v.SetDefault("rtsp.address", "0.0.0.0")
	v.SetDefault("rtsp.port", defaultRTSPPort)
	v.SetDefault("rtsp.gst_launch_path", "")
	v.SetDefault("rtsp.udp_rtp_port", 0)
	v.SetDefault("rtsp.udp_rtcp_port", 0)
	v.SetDefault("rtsp.idle_timeout", defaultRTSPIdleTimeout)

	// Device defaults
	v.SetDefault("devices.pattern", defaultDevicePattern)
	v.SetDefault("devices.blacklist", []string{})
	v.SetDefault("devices.auto_publish", true)
	v.SetDefault("devices.rescan_schedule", "")

	// Stream defaults
	v.SetDefault("streams.persist", true)
	v.SetDefault("streams.static", []map[string]any{})

	// Telemetry link defaults
	v.SetDefault("mavlink.enabled", true)
	v.SetDefault("mavlink.transport", TransportUDPBroadcast)
	v.SetDefault("mavlink.address", defaultMAVLinkAddress)
	v.SetDefault("mavlink.baud", defaultMAVLinkBaud)
	v.SetDefault("mavlink.system_id", defaultMAVLinkSystemID)
	v.SetDefault("mavlink.liveness_interval", defaultLivenessInterval)
	v.SetDefault("mavlink.mount_path_policy", MountPathPreserve)
	v.SetDefault("mavlink.signing_key", "")

	// Discovery defaults
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.service_type", defaultServiceType)
	v.SetDefault("discovery.domain", defaultServiceDomain)
	v.SetDefault("discovery.interfaces", []string{})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "camstreamd.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.request_logging", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535

	// HTTP management API validation
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > maxPort) {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Media server validation
	if net.ParseIP(c.RTSP.Address) == nil {
		return fmt.Errorf("rtsp.address must be an IP address literal")
	}
	if c.RTSP.Port < 0 || c.RTSP.Port > maxPort {
		return fmt.Errorf("rtsp.port must be between 0 and %d", maxPort)
	}
	if (c.RTSP.UDPRTPPort == 0) != (c.RTSP.UDPRTCPPort == 0) {
		return fmt.Errorf("rtsp.udp_rtp_port and rtsp.udp_rtcp_port must be set together")
	}
	if c.RTSP.IdleTimeout <= 0 {
		return fmt.Errorf("rtsp.idle_timeout must be positive")
	}

	// Device validation
	if c.Devices.Pattern == "" {
		return fmt.Errorf("devices.pattern is required")
	}

	for i, s := range c.Streams.Static {
		if s.Device == "" || s.Format == "" || s.MountPath == "" {
			return fmt.Errorf("streams.static[%d] requires device, format and mount_path", i)
		}
	}

	// Telemetry link validation
	if c.MAVLink.Enabled {
		if err := c.MAVLink.validate(); err != nil {
			return err
		}
	}

	if c.Discovery.Enabled && (c.Discovery.ServiceType == "" || c.Discovery.Domain == "") {
		return fmt.Errorf("discovery.service_type and discovery.domain are required")
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func (c *MAVLinkConfig) validate() error {
	switch c.Transport {
	case TransportSerial:
		if c.Address == "" {
			return fmt.Errorf("mavlink.address must name a serial device")
		}
		if c.Baud <= 0 {
			return fmt.Errorf("mavlink.baud must be positive for serial transport")
		}
	case TransportUDPBroadcast, TransportUDPClient, TransportUDPServer, TransportTCPClient, TransportTCPServer:
		if _, _, err := net.SplitHostPort(c.Address); err != nil {
			return fmt.Errorf("mavlink.address must be host:port: %w", err)
		}
	default:
		return fmt.Errorf("mavlink.transport must be one of: %s, %s, %s, %s, %s, %s",
			TransportUDPBroadcast, TransportUDPClient, TransportUDPServer,
			TransportTCPClient, TransportTCPServer, TransportSerial)
	}

	if c.SystemID < 1 || c.SystemID > 255 {
		return fmt.Errorf("mavlink.system_id must be between 1 and 255")
	}
	if c.LivenessInterval <= 0 {
		return fmt.Errorf("mavlink.liveness_interval must be positive")
	}
	if c.MountPathPolicy != MountPathPreserve && c.MountPathPolicy != MountPathAdopt {
		return fmt.Errorf("mavlink.mount_path_policy must be one of: %s, %s", MountPathPreserve, MountPathAdopt)
	}
	if len(c.SigningKey) > 32 {
		return fmt.Errorf("mavlink.signing_key must be at most 32 bytes")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}
