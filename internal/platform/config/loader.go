package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "argus-vision-server/internal/platform/errors"
)

// DefaultConfigFile is looked up relative to the working directory.
const DefaultConfigFile = ".config.yaml"

// Loader reads configuration from defaults, an optional YAML file and
// environment overrides, in that order.
type Loader struct {
	useDotEnv bool
	path      string
}

func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      DefaultConfigFile,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the config file location (useful for tests).
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load builds the effective configuration. A missing config file is not an
// error; environment overrides always win.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// No .env file, fall back to the process environment.
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path := ""

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig,
				"loader.load", fmt.Sprintf("parse %s", l.path), err)
		}
		path = l.path
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, platformerrors.Wrap(platformerrors.KindConfig,
			"loader.load", fmt.Sprintf("read %s", l.path), err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.PoolSize = n
		}
	}
	if v := os.Getenv("QUEUE_BOUND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.QueueBound = n
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.RequestTimeout = Duration(d)
		}
	}
	if v := os.Getenv("MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Security.MaxFileSize = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate rejects configurations the service cannot run with.
func Validate(cfg *Config) error {
	check := func(ok bool, message string) error {
		if ok {
			return nil
		}
		return platformerrors.New(platformerrors.KindConfig, "loader.validate", message)
	}

	if err := check(cfg.Server.Port > 0 && cfg.Server.Port <= 65535,
		fmt.Sprintf("invalid server port %d", cfg.Server.Port)); err != nil {
		return err
	}
	if err := check(cfg.Vision.PoolSize > 0,
		fmt.Sprintf("pool_size must be positive, got %d", cfg.Vision.PoolSize)); err != nil {
		return err
	}
	if err := check(cfg.Dispatch.QueueBound >= 0,
		fmt.Sprintf("queue_bound must not be negative, got %d", cfg.Dispatch.QueueBound)); err != nil {
		return err
	}
	if err := check(cfg.Dispatch.RequestTimeout.Std() > 0,
		"request_timeout must be positive"); err != nil {
		return err
	}
	if err := check(cfg.Security.MaxFileSize > 0,
		"max_file_size must be positive"); err != nil {
		return err
	}
	if err := check(cfg.Security.MaxWidth > 0 && cfg.Security.MaxHeight > 0,
		"max_width and max_height must be positive"); err != nil {
		return err
	}
	if err := check(cfg.Vision.Pipeline.MaxSide > 0,
		"pipeline max_side must be positive"); err != nil {
		return err
	}
	return nil
}
