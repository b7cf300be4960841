// Package config provides configuration management for the prism runtime
package config

import (
	"fmt"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Config represents the complete runtime configuration
type Config struct {
	// Application identity
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Install-root configuration
	Install InstallConfig `yaml:"install" json:"install"`

	// Network bridge configuration
	Bridge BridgeConfig `yaml:"bridge" json:"bridge"`

	// Multiplexer and driver tuning
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`
}

// AppConfig contains application identity
type AppConfig struct {
	Name        string      `yaml:"name" json:"name"`
	Version     string      `yaml:"version" json:"version"`
	Environment Environment `yaml:"environment" json:"environment"`
	Debug       bool        `yaml:"debug" json:"debug"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level LogLevel `yaml:"level" json:"level"`

	// Format is "json" or "console"
	Format string `yaml:"format" json:"format"`
}

// InstallConfig locates capability units on disk
type InstallConfig struct {
	// Root is the install root; empty means PRISM_HOME or ~/.prism
	Root string `yaml:"root" json:"root"`
}

// BridgeConfig configures the network bridge
type BridgeConfig struct {
	// Enabled turns the bridge server on
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Address is the listen address
	Address string `yaml:"address" json:"address"`

	// Port is the listen port
	Port int `yaml:"port" json:"port"`
}

// RuntimeConfig tunes the multiplexer and its drivers
type RuntimeConfig struct {
	// PollInterval is the pump-loop backoff between empty receives
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// QueueSize is the per-direction transport queue capacity
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// MaxRefractionDepth bounds manifest refraction chains
	MaxRefractionDepth int `yaml:"max_refraction_depth" json:"max_refraction_depth"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "prism",
			Version:     "0.1.0",
			Environment: EnvDevelopment,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "console",
		},
		Bridge: BridgeConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9111,
		},
		Runtime: RuntimeConfig{
			PollInterval:       time.Millisecond,
			QueueSize:          256,
			MaxRefractionDepth: 16,
		},
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return ErrInvalidLogFormat
	}
	if c.Bridge.Enabled && (c.Bridge.Port <= 0 || c.Bridge.Port > 65535) {
		return ErrInvalidPort
	}
	if c.Runtime.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.Runtime.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	if c.Runtime.MaxRefractionDepth <= 0 {
		return ErrInvalidRefractionDepth
	}
	return nil
}

// BridgeAddr returns the bridge's host:port listen address
func (c *Config) BridgeAddr() string {
	return fmt.Sprintf("%s:%d", c.Bridge.Address, c.Bridge.Port)
}
