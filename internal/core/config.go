package core

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/bytes"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort          = 5000
	DefaultTimeout       = 10 * time.Second
	DefaultSweepInterval = 3 * time.Second
	// The sweep is scheduled with second granularity.
	MinSweepInterval = time.Second
)

type Database struct {
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

// Liveness controls when an image is considered abandoned by the device.
type Liveness struct {
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

type Predictions struct {
	// Labels optionally restricts accepted prediction labels. Empty accepts any label.
	Labels []string `yaml:"labels"`
}

type ServiceConfig struct {
	Port        int         `yaml:"port"`
	LogLevel    string      `yaml:"logLevel"`
	UploadLimit string      `yaml:"uploadLimit"`
	Database    Database    `yaml:"database"`
	Liveness    Liveness    `yaml:"liveness"`
	Predictions Predictions `yaml:"predictions"`
}

func DefaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:     DefaultPort,
		LogLevel: "info",
		Database: Database{
			Type: "memory",
		},
		Liveness: Liveness{
			Timeout:       DefaultTimeout,
			SweepInterval: DefaultSweepInterval,
		},
	}
}

// LoadConfig loads configuration from the specified YAML file. Values missing from the
// file keep their defaults, environment variables override both.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	config := DefaultConfig()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	return finishConfig(config)
}

// LoadDefaultConfig is used when no config file exists.
func LoadDefaultConfig() (*ServiceConfig, error) {
	return finishConfig(DefaultConfig())
}

func finishConfig(config *ServiceConfig) (*ServiceConfig, error) {
	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (config *ServiceConfig) applyEnvOverrides() {
	config.Port = getEnvAsInt("PORT", config.Port)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.UploadLimit = getEnv("UPLOAD_LIMIT", config.UploadLimit)
	config.Database.Type = getEnv("DATABASE_TYPE", config.Database.Type)
	config.Database.ConnectionString = getEnv("DATABASE_CONNECTION_STRING", config.Database.ConnectionString)
	config.Liveness.Timeout = getEnvAsDuration("LIVENESS_TIMEOUT", config.Liveness.Timeout)
	config.Liveness.SweepInterval = getEnvAsDuration("SWEEP_INTERVAL", config.Liveness.SweepInterval)
}

func (config *ServiceConfig) Validate() error {
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("port %d out of range", config.Port)
	}
	if _, err := ParseLogLevel(config.LogLevel); err != nil {
		return err
	}
	if config.UploadLimit != "" {
		if _, err := bytes.Parse(config.UploadLimit); err != nil {
			return fmt.Errorf("invalid uploadLimit %q: %w", config.UploadLimit, err)
		}
	}
	if strings.TrimSpace(config.Database.Type) == "" {
		return errors.New("database type must not be empty")
	}
	if err := config.Liveness.validate(); err != nil {
		return err
	}
	return validateLabels(config.Predictions.Labels)
}

func (liveness Liveness) validate() error {
	if liveness.Timeout <= 0 {
		return fmt.Errorf("liveness timeout must be positive, got %s", liveness.Timeout)
	}
	if liveness.SweepInterval < MinSweepInterval {
		return fmt.Errorf("sweep interval must be at least %s, got %s", MinSweepInterval, liveness.SweepInterval)
	}
	if liveness.SweepInterval >= liveness.Timeout {
		return fmt.Errorf("sweep interval %s must be shorter than liveness timeout %s",
			liveness.SweepInterval, liveness.Timeout)
	}
	return nil
}

// validateLabels ensures the optional label allow-list has no empty or duplicate entries
func validateLabels(labels []string) error {
	seen := make(map[string]bool)

	for i, label := range labels {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("label at index %d is empty", i)
		}
		if seen[label] {
			return fmt.Errorf("duplicate label: %s", label)
		}
		seen[label] = true
	}

	return nil
}

// ParseLogLevel accepts slog level names (debug, info, warn, error), case-insensitive.
func ParseLogLevel(level string) (slog.Level, error) {
	var parsed slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		slog.Warn("ignoring invalid integer in environment", "key", key, "value", value)
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		slog.Warn("ignoring invalid duration in environment", "key", key, "value", value)
	}
	return fallback
}
