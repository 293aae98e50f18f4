// Package config loads and validates the FTP server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (FTPSRV_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// The admission and speed limits here are startup values; the limits
// persisted in the database by the admin API take precedence once a
// settings row exists.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains the FTP control-channel settings
	Server ServerConfig `mapstructure:"server"`

	// Admin contains the HTTP admin API settings
	Admin AdminConfig `mapstructure:"admin"`

	// Storage locates the served tree and the database file
	Storage StorageConfig `mapstructure:"storage"`

	// Limits are the startup admission and speed limits
	Limits LimitsConfig `mapstructure:"limits"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required"`
}

// ServerConfig contains the FTP listener settings.
type ServerConfig struct {
	// Port is the control-channel listening port
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// AdminConfig contains the HTTP admin API settings.
type AdminConfig struct {
	// Enabled starts the admin API when true
	Enabled bool `mapstructure:"enabled"`

	// Port is the admin API listening port
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
}

// StorageConfig locates the on-disk state.
type StorageConfig struct {
	// Root is the served directory tree; the users and shared roots
	// live under it
	Root string `mapstructure:"root" validate:"required"`

	// DatabasePath is the SQLite database file. Empty means
	// <root>/ftpserver.db.
	DatabasePath string `mapstructure:"database_path"`
}

// LimitsConfig holds the startup admission and speed limits.
type LimitsConfig struct {
	// MaxConnections caps concurrent authenticated sessions
	MaxConnections int `mapstructure:"max_connections" validate:"required,gt=0"`

	// UploadBytesPerSec is the server-wide upload limit. Negative
	// disables the limit.
	UploadBytesPerSec int64 `mapstructure:"upload_bytes_per_sec"`

	// DownloadBytesPerSec is the server-wide download limit. Negative
	// disables the limit.
	DownloadBytesPerSec int64 `mapstructure:"download_bytes_per_sec"`
}

// DatabaseFile returns the configured database path, defaulting to a
// file inside the storage root.
func (c *Config) DatabaseFile() string {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath
	}
	return filepath.Join(c.Storage.Root, "ftpserver.db")
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the FTPSRV_ prefix.
	// Example: FTPSRV_SERVER_PORT=2121
	v.SetEnvPrefix("FTPSRV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so bind every key
	// explicitly for env-only configuration.
	for _, key := range []string{
		"logging.level",
		"server.port", "server.shutdown_timeout",
		"admin.enabled", "admin.port",
		"storage.root", "storage.database_path",
		"limits.max_connections", "limits.upload_bytes_per_sec", "limits.download_bytes_per_sec",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, falling back to
// the current directory when the home directory is unknown.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ftpserver")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ftpserver")
}
