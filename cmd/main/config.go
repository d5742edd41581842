package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/workshop/pkg/properties"
	"github.com/CTAG07/workshop/pkg/resources"
	"github.com/CTAG07/workshop/pkg/templating"
	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP server and its storage.
type ServerConfig struct {
	Addr               string            `json:"addr"`
	LogLevel           string            `json:"log_level"`
	DataDir            string            `json:"data_dir"`
	DatabasePath       string            `json:"database_path"`
	TemplateDir        string            `json:"template_dir"`
	WatchFiles         bool              `json:"watch_files"`
	ShutdownTimeoutSec int               `json:"shutdown_timeout_sec"`
	Headers            map[string]string `json:"headers"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server     *ServerConfig              `json:"server_config"`
	Templates  *templating.TemplateConfig `json:"template_config"`
	Resources  *resources.Config          `json:"resource_config"`
	Properties *properties.Config         `json:"property_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:               ":8080",
		LogLevel:           "info",
		DataDir:            "./data",
		DatabasePath:       "./data/workshop.db",
		TemplateDir:        "./data/templates",
		WatchFiles:         false,
		ShutdownTimeoutSec: 10,
		Headers: map[string]string{
			"Content-Type":           "text/html; charset=utf-8",
			"Cache-Control":          "no-cache",
			"X-Content-Type-Options": "nosniff",
		},
	}
}

// DefaultConfig returns a Config with every section set to its defaults.
func DefaultConfig() *Config {
	templates := templating.DefaultConfig()
	assets := resources.DefaultConfig()
	props := properties.DefaultConfig()
	return &Config{
		Server:     DefaultServerConfig(),
		Templates:  &templates,
		Resources:  &assets,
		Properties: &props,
	}
}

// Validate checks that every section is present and usable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("configuration is empty")
	}
	if c.Server == nil || c.Templates == nil || c.Resources == nil || c.Properties == nil {
		return errors.New("all configuration sections are required")
	}
	if c.Server.Addr == "" {
		return errors.New("server_config.addr must not be empty")
	}
	if c.Server.DatabasePath == "" {
		return errors.New("server_config.database_path must not be empty")
	}
	if c.Server.ShutdownTimeoutSec <= 0 {
		return errors.New("server_config.shutdown_timeout_sec must be positive")
	}
	if c.Templates.IndexPage == "" {
		return errors.New("template_config.index_page must not be empty")
	}
	return nil
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	// Initialize with default configurations
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// Log a warning instead of failing, as the server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		// For other errors (e.g., permission denied), return the error.
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal the JSON from the file into the config struct.
	if err = json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err = config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return config, nil
}

// parseLogLevel maps the configured level name onto a slog level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ConfigManager handles thread-safe access to configuration and pushes updates to the
// components that depend on it.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	logger     *slog.Logger
	tm         *templating.TemplateManager
	assets     *resources.Provider
	env        *properties.Environment
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	return &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}, nil
}

// Attach registers the components that receive config updates.
func (cm *ConfigManager) Attach(tm *templating.TemplateManager, assets *resources.Provider, env *properties.Environment) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.tm = tm
	cm.assets = assets
	cm.env = env
}

// SetLogger sets the logger. That's about it.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns a thread-safe copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	// Return a dereferenced copy to prevent external modification of the internal state
	return *cm.config
}

// Update validates and applies a new configuration, then saves it to disk. Each
// attached component is switched over in turn; if one rejects its section, the
// components already switched are rolled back and nothing is saved.
func (cm *ConfigManager) Update(newConfig Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	old := cm.config

	if cm.tm != nil {
		cm.tm.SetConfig(newConfig.Templates)
		if err := cm.tm.Refresh(); err != nil {
			// Rollback to old config
			cm.tm.SetConfig(old.Templates)
			_ = cm.tm.Refresh()
			return fmt.Errorf("template configuration rejected: %w", err)
		}
	}

	if cm.assets != nil {
		err := cm.assets.SetConfig(newConfig.Resources)
		if err == nil {
			err = cm.assets.Refresh()
		}
		if err != nil {
			_ = cm.assets.SetConfig(old.Resources)
			_ = cm.assets.Refresh()
			cm.rollbackTemplates(old)
			return fmt.Errorf("resource configuration rejected: %w", err)
		}
	}

	if cm.env != nil {
		if err := cm.env.SetConfig(newConfig.Properties); err != nil {
			if cm.assets != nil {
				_ = cm.assets.SetConfig(old.Resources)
				_ = cm.assets.Refresh()
			}
			cm.rollbackTemplates(old)
			return fmt.Errorf("property configuration rejected: %w", err)
		}
	}

	*cm.config = newConfig

	data, err := json.MarshalIndent(cm.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("Configuration updated and saved", "path", cm.configPath)
	return nil
}

func (cm *ConfigManager) rollbackTemplates(old *Config) {
	if cm.tm == nil {
		return
	}
	cm.tm.SetConfig(old.Templates)
	_ = cm.tm.Refresh()
}
