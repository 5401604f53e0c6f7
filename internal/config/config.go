// Package config loads compctl settings from a YAML file, the environment and .env.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/infra"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "COMPCTL_"

// Config holds all configuration for compctl.
type Config struct {
	// ControllerType selects the enforcement mechanism.
	ControllerType string `yaml:"controller_type" env:"CONTROLLER_TYPE" validate:"required,oneof=PM IFW SHIZUKU IFW_PLUS_PM"`
	// IfwRoot is the directory the platform reads firewall rules from.
	IfwRoot string `yaml:"ifw_root" env:"IFW_ROOT" validate:"required"`
	// DataDir holds the encrypted component cache and its key.
	DataDir string `yaml:"data_dir" env:"DATA_DIR" validate:"required"`
	// UserID is the Android user that PM commands target.
	UserID int `yaml:"user_id" env:"USER_ID" validate:"min=0"`

	BrokerSocket   string        `yaml:"broker_socket" env:"BROKER_SOCKET" validate:"required"`
	SuBinary       string        `yaml:"su_binary" env:"SU_BINARY"`
	CommandTimeout time.Duration `yaml:"command_timeout" env:"COMMAND_TIMEOUT"`

	Log LogConfig `yaml:"log" envPrefix:"LOG_"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	File  string `yaml:"file" env:"FILE"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	mode := infra.DetectExecMode()
	return &Config{
		ControllerType: string(domain.ControllerIFW),
		IfwRoot:        infra.DefaultIfwRoot,
		DataDir:        mode.DataDir,
		UserID:         0,
		BrokerSocket:   mode.BrokerSocket,
		SuBinary:       infra.DefaultSuBinary,
		CommandTimeout: infra.DefaultCommandTimeout,
		Log: LogConfig{
			Level: "info",
			File:  mode.LogPath,
		},
	}
}

// DefaultPath returns the config file location for the current exec mode.
func DefaultPath() string {
	return infra.DetectExecMode().ConfigPath
}

// Load builds the configuration: defaults, then the YAML file at path
// (missing is fine), then .env and COMPCTL_* environment variables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	cfg.ControllerType = strings.ToUpper(strings.TrimSpace(cfg.ControllerType))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (cfg *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate validates the configuration using struct tags.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if cfg.CommandTimeout < time.Second {
		return fmt.Errorf("command timeout must be at least 1s")
	}
	return nil
}

// Controller returns the configured controller type.
func (cfg *Config) Controller() domain.ControllerType {
	return domain.ControllerType(cfg.ControllerType)
}

// EnsureDirectories creates the data directory.
func (cfg *Config) EnsureDirectories() error {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", cfg.DataDir, err)
	}
	return nil
}

// formatValidationError formats validation errors into readable messages.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	var messages []string
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", e.Field()))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", e.Field(), e.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", e.Field(), e.Tag()))
		}
	}
	return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
}
