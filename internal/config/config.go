// Package config provides centralized configuration management for the
// kline mirror. Configuration is layered: built-in defaults, then an
// optional JSON config file, then environment variable overrides, with
// validation of the final result.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/johnayoung/go-kline-mirror/internal/intervals"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName    string `json:"app_name" env:"APP_NAME"`
	Version    string `json:"version" env:"VERSION"`
	ConfigPath string `json:"-" env:"CONFIG_PATH"`

	// Mirror configuration
	Mirror MirrorConfig `json:"mirror"`

	// Exchange configuration
	Exchange ExchangeConfig `json:"exchange"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// MirrorConfig configures the sync pipeline and its on-disk layout
type MirrorConfig struct {
	DataDir      string   `json:"data_dir" env:"DATA_DIR"`           // Directory for CSV series files
	ManifestPath string   `json:"manifest_path" env:"MANIFEST_PATH"` // Manifest JSON file path
	Timeframes   []string `json:"timeframes" env:"TIMEFRAMES"`       // Interval labels to mirror
}

// ExchangeConfig configures the Binance futures adapter
type ExchangeConfig struct {
	BaseURL        string `json:"base_url" env:"EXCHANGE_BASE_URL"`       // API base URL
	PageDelay      string `json:"page_delay" env:"PAGE_DELAY"`            // Fixed delay between page requests
	MaxRetries     int    `json:"max_retries" env:"MAX_RETRIES"`          // Retries per page after the first attempt
	RetryBaseDelay string `json:"retry_base_delay" env:"RETRY_BASE_DELAY"` // Base delay of the linear backoff
	Timeout        string `json:"timeout" env:"HTTP_TIMEOUT"`             // HTTP request timeout
}

// ServerConfig configures the read-side HTTP server
type ServerConfig struct {
	Port            int    `json:"port" env:"SERVER_PORT"`                        // Listen port
	ReadTimeout     string `json:"read_timeout" env:"SERVER_READ_TIMEOUT"`        // Request read timeout
	WriteTimeout    string `json:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`      // Response write timeout
	ShutdownTimeout string `json:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"` // Graceful shutdown timeout
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`             // Log level: debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"`           // Log format: json, text
	Output     string `json:"output" env:"LOG_OUTPUT"`           // Output: stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`     // Log file path
	MaxSize    int    `json:"max_size" env:"LOG_MAX_SIZE"`       // Maximum log file size in MB
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"` // Maximum log file backups
	MaxAge     int    `json:"max_age" env:"LOG_MAX_AGE"`         // Maximum log file age in days
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`       // Compress old log files
}

// Manager handles configuration loading and validation
type Manager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewManager creates a new configuration manager
func NewManager(configPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{configPath: configPath, logger: logger}
}

// Load loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (m *Manager) Load() (*AppConfig, error) {
	cfg := DefaultConfig()

	if m.configPath != "" {
		if err := m.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}
	m.loadFromEnv(cfg)

	if err := m.validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	m.config = cfg
	m.logger.Info("configuration loaded",
		"config_path", m.configPath,
		"data_dir", cfg.Mirror.DataDir,
		"timeframes", cfg.Mirror.Timeframes,
		"log_level", cfg.Logging.Level)
	return cfg, nil
}

// loadFromFile loads configuration from a JSON file
func (m *Manager) loadFromFile(cfg *AppConfig) error {
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.logger.Debug("config file does not exist, using defaults", "path", m.configPath)
		return nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", m.configPath, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func (m *Manager) loadFromEnv(cfg *AppConfig) {
	if val := os.Getenv("APP_NAME"); val != "" {
		cfg.AppName = val
	}
	if val := os.Getenv("VERSION"); val != "" {
		cfg.Version = val
	}

	if val := os.Getenv("DATA_DIR"); val != "" {
		cfg.Mirror.DataDir = val
	}
	if val := os.Getenv("MANIFEST_PATH"); val != "" {
		cfg.Mirror.ManifestPath = val
	}
	if val := os.Getenv("TIMEFRAMES"); val != "" {
		cfg.Mirror.Timeframes = strings.Split(val, ",")
	}

	if val := os.Getenv("EXCHANGE_BASE_URL"); val != "" {
		cfg.Exchange.BaseURL = val
	}
	if val := os.Getenv("PAGE_DELAY"); val != "" {
		cfg.Exchange.PageDelay = val
	}
	if val := os.Getenv("MAX_RETRIES"); val != "" {
		if retries, err := strconv.Atoi(val); err == nil {
			cfg.Exchange.MaxRetries = retries
		}
	}
	if val := os.Getenv("RETRY_BASE_DELAY"); val != "" {
		cfg.Exchange.RetryBaseDelay = val
	}
	if val := os.Getenv("HTTP_TIMEOUT"); val != "" {
		cfg.Exchange.Timeout = val
	}

	if val := os.Getenv("SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = port
		}
	}
	if val := os.Getenv("SERVER_READ_TIMEOUT"); val != "" {
		cfg.Server.ReadTimeout = val
	}
	if val := os.Getenv("SERVER_WRITE_TIMEOUT"); val != "" {
		cfg.Server.WriteTimeout = val
	}
	if val := os.Getenv("SERVER_SHUTDOWN_TIMEOUT"); val != "" {
		cfg.Server.ShutdownTimeout = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		cfg.Logging.FilePath = val
	}
}

// validateConfig validates the configuration for consistency and required fields
func (m *Manager) validateConfig(cfg *AppConfig) error {
	var errs []string

	if cfg.Mirror.DataDir == "" {
		errs = append(errs, "mirror.data_dir is required")
	}
	if cfg.Mirror.ManifestPath == "" {
		errs = append(errs, "mirror.manifest_path is required")
	}
	if len(cfg.Mirror.Timeframes) == 0 {
		errs = append(errs, "mirror.timeframes must not be empty")
	}
	for _, tf := range cfg.Mirror.Timeframes {
		if !intervals.IsSupported(tf) {
			errs = append(errs, fmt.Sprintf("mirror.timeframes contains unknown interval %q", tf))
		}
	}

	if cfg.Exchange.BaseURL == "" {
		errs = append(errs, "exchange.base_url is required")
	}
	if cfg.Exchange.MaxRetries < 0 {
		errs = append(errs, "exchange.max_retries must not be negative")
	}
	for _, d := range []struct{ name, val string }{
		{"exchange.page_delay", cfg.Exchange.PageDelay},
		{"exchange.retry_base_delay", cfg.Exchange.RetryBaseDelay},
		{"exchange.timeout", cfg.Exchange.Timeout},
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			errs = append(errs, fmt.Sprintf("%s is not a valid duration: %v", d.name, err))
		}
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[cfg.Logging.Format] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *AppConfig {
	return m.config
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "kline-mirror",
		Version: "1.0.0",
		Mirror: MirrorConfig{
			DataDir:      "./data",
			ManifestPath: "./data/manifest.json",
			Timeframes:   []string{"15m"},
		},
		Exchange: ExchangeConfig{
			BaseURL:        "https://fapi.binance.com",
			PageDelay:      "100ms",
			MaxRetries:     3,
			RetryBaseDelay: "2s",
			Timeout:        "30s",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     "10s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "10s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "",
			MaxSize:    100, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		},
	}
}

// PageDelayDuration returns the parsed inter-page delay.
func (c *ExchangeConfig) PageDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.PageDelay)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}

// RetryBaseDelayDuration returns the parsed retry base delay.
func (c *ExchangeConfig) RetryBaseDelayDuration() time.Duration {
	d, err := time.ParseDuration(c.RetryBaseDelay)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// TimeoutDuration returns the parsed HTTP request timeout.
func (c *ExchangeConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ReadTimeoutDuration returns the parsed request read timeout.
func (c *ServerConfig) ReadTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ReadTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// WriteTimeoutDuration returns the parsed response write timeout.
func (c *ServerConfig) WriteTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.WriteTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ShutdownTimeoutDuration returns the parsed shutdown timeout.
func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
