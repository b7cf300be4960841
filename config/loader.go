// Package config provides configuration loading and parsing functionality
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"/etc/prism",
			filepath.Join(os.Getenv("HOME"), ".prism"),
		},
		envPrefix:     "PRISM",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// Load loads configuration from the specified file, falling back to
// defaults and environment overrides when filename is empty
func (l *Loader) Load(filename string) (*Config, error) {
	if filename != "" {
		return l.loadFromFile(filename)
	}

	config := l.defaults()
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.loadFromFile(filename)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	return l.parseConfig(data, format)
}

// AutoLoad discovers a configuration file in the search paths and loads
// it, using defaults when no file is found
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, _, err := l.findConfigFile()
	if err != nil {
		if err == ErrConfigFileNotFound {
			return l.Load("")
		}
		return nil, err
	}
	return l.loadFromFile(configFile)
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, ConfigFormat, error) {
	filenames := []string{
		"prism.yaml", "prism.yml",
		"config.yaml", "config.yml",
		"prism.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				ext := strings.ToLower(filepath.Ext(filename))
				var format ConfigFormat
				switch ext {
				case ".yaml", ".yml":
					format = FormatYAML
				case ".json":
					format = FormatJSON
				default:
					continue
				}
				return fullPath, format, nil
			}
		}
	}

	return "", "", ErrConfigFileNotFound
}

// loadFromFile loads configuration from a file
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var format ConfigFormat
	switch ext {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".json":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	config = l.mergeConfig(l.defaults(), config)

	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// parseConfig parses configuration data based on format
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := &Config{}

	switch format {
	case FormatYAML:
		err := yaml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case FormatJSON:
		err := json.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	return config, nil
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig != nil {
		cloned := *l.defaultConfig
		return &cloned
	}
	return DefaultConfig()
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	// App configuration
	if val := os.Getenv(l.envPrefix + "_APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_APP_VERSION"); val != "" {
		config.App.Version = val
	}
	if val := os.Getenv(l.envPrefix + "_APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := os.Getenv(l.envPrefix + "_APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(val)
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}

	// Install root
	if val := os.Getenv(l.envPrefix + "_INSTALL_ROOT"); val != "" {
		config.Install.Root = val
	}

	// Bridge configuration
	if val := os.Getenv(l.envPrefix + "_BRIDGE_ENABLED"); val != "" {
		config.Bridge.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv(l.envPrefix + "_BRIDGE_ADDRESS"); val != "" {
		config.Bridge.Address = val
	}
	if val := os.Getenv(l.envPrefix + "_BRIDGE_PORT"); val != "" {
		if port, err := parsePort(val); err == nil {
			config.Bridge.Port = port
		}
	}

	// Runtime tuning
	if val := os.Getenv(l.envPrefix + "_RUNTIME_POLL_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Runtime.PollInterval = d
		}
	}
	if val := os.Getenv(l.envPrefix + "_RUNTIME_QUEUE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Runtime.QueueSize = n
		}
	}
	if val := os.Getenv(l.envPrefix + "_RUNTIME_MAX_REFRACTION_DEPTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Runtime.MaxRefractionDepth = n
		}
	}

	return nil
}

// Helper function to parse port number
func parsePort(val string) (int, error) {
	port, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}

// mergeConfig merges user config with default config
func (l *Loader) mergeConfig(defaultConfig, userConfig *Config) *Config {
	merged := *defaultConfig

	if userConfig.App.Name != "" {
		merged.App.Name = userConfig.App.Name
	}
	if userConfig.App.Version != "" {
		merged.App.Version = userConfig.App.Version
	}
	if userConfig.App.Environment != "" {
		merged.App.Environment = userConfig.App.Environment
	}
	merged.App.Debug = userConfig.App.Debug

	if userConfig.Log.Level != "" {
		merged.Log.Level = userConfig.Log.Level
	}
	if userConfig.Log.Format != "" {
		merged.Log.Format = userConfig.Log.Format
	}

	if userConfig.Install.Root != "" {
		merged.Install.Root = userConfig.Install.Root
	}

	merged.Bridge.Enabled = userConfig.Bridge.Enabled
	if userConfig.Bridge.Address != "" {
		merged.Bridge.Address = userConfig.Bridge.Address
	}
	if userConfig.Bridge.Port != 0 {
		merged.Bridge.Port = userConfig.Bridge.Port
	}

	if userConfig.Runtime.PollInterval != 0 {
		merged.Runtime.PollInterval = userConfig.Runtime.PollInterval
	}
	if userConfig.Runtime.QueueSize != 0 {
		merged.Runtime.QueueSize = userConfig.Runtime.QueueSize
	}
	if userConfig.Runtime.MaxRefractionDepth != 0 {
		merged.Runtime.MaxRefractionDepth = userConfig.Runtime.MaxRefractionDepth
	}

	return &merged
}
