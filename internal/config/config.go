// Package config loads shopd configuration from layered JSON-with-comments
// files and command line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tailscale/hujson"
	"go.uber.org/zap/zapcore"
)

// EnvVar names the environment variable that selects the config layer.
const EnvVar = "SHOP_ENV"

// DefaultEnv is used when [EnvVar] is unset.
const DefaultEnv = "development"

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	DBPath        string     `json:"db_path"`
	HTTP          HTTPConfig `json:"http"`
	Production    bool       `json:"production"`
	Secret        string     `json:"secret,omitempty"`
	TokenTTL      Duration   `json:"token_ttl"`
	Log           LogConfig  `json:"log"`
	DurableWrites bool       `json:"durable_writes"`
	SeedProducts  bool       `json:"seed_products"`

	// Resolved (computed, not serialized)
	Env       string `json:"-"` // Value of SHOP_ENV, or DefaultEnv
	DBPathAbs string `json:"-"` // Absolute path to the database directory

	// Sources lists the config files that were loaded, in load order.
	Sources []string `json:"-"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// Duration is a [time.Duration] written as a string like "1h30m".
type Duration time.Duration

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string

	err := json.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DBPath:        ".data",
		HTTP:          HTTPConfig{Addr: ":3000"},
		TokenTTL:      Duration(time.Hour),
		Log:           LogConfig{Level: "info"},
		DurableWrites: true,
		SeedProducts:  true,
	}
}

// Overrides are command line values. Nil fields were not given.
type Overrides struct {
	DBPath     *string
	Addr       *string
	Production *bool
	LogLevel   *string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDir    string            // if empty, os.Getwd() is used
	ConfigPath string            // --config flag value
	Env        map[string]string // environment variables
	Overrides  Overrides
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. .env.<env>.json in the working directory (if exists)
// 3. .env.<env>.local.json in the working directory (if exists)
// 4. Explicit config file via ConfigPath (if non-empty)
// 5. CLI overrides.
//
// Each file only replaces the keys it sets. DBPathAbs is resolved against
// the working directory.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDir
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	cfg.Env = input.Env[EnvVar]
	if cfg.Env == "" {
		cfg.Env = DefaultEnv
	}

	layers := []string{
		filepath.Join(workDir, ".env."+cfg.Env+".json"),
		filepath.Join(workDir, ".env."+cfg.Env+".local.json"),
	}

	for _, path := range layers {
		loaded, err := loadFile(&cfg, path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources = append(cfg.Sources, path)
		}
	}

	if input.ConfigPath != "" {
		path := input.ConfigPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		_, statErr := os.Stat(path)
		if statErr != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, input.ConfigPath)
		}

		_, err := loadFile(&cfg, path, true)
		if err != nil {
			return Config{}, err
		}

		cfg.Sources = append(cfg.Sources, path)
	}

	applyOverrides(&cfg, input.Overrides)

	err := validate(cfg)
	if err != nil {
		return Config{}, err
	}

	if filepath.IsAbs(cfg.DBPath) {
		cfg.DBPathAbs = cfg.DBPath
	} else {
		cfg.DBPathAbs = filepath.Join(workDir, cfg.DBPath)
	}

	return cfg, nil
}

// loadFile decodes the file at path over cfg. If mustExist is false, a
// missing file is skipped.
func loadFile(cfg *Config, path string, mustExist bool) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			return false, nil
		}

		return false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
	}

	err = parse(cfg, data)
	if err != nil {
		return false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return true, nil
}

func parse(cfg *Config, data []byte) error {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("invalid JSONC: %w", err)
	}

	// Decode into a copy so a half-applied file never leaks.
	next := *cfg
	next.Sources = nil

	err = json.Unmarshal(standardized, &next)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, exists := raw["db_path"]; exists {
		if str, ok := val.(string); ok && str == "" {
			return ErrDBPathEmpty
		}
	}

	next.Sources = cfg.Sources
	*cfg = next

	return nil
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.DBPath != nil {
		cfg.DBPath = *o.DBPath
	}

	if o.Addr != nil {
		cfg.HTTP.Addr = *o.Addr
	}

	if o.Production != nil {
		cfg.Production = *o.Production
	}

	if o.LogLevel != nil {
		cfg.Log.Level = *o.LogLevel
	}
}

func validate(cfg Config) error {
	if cfg.DBPath == "" {
		return ErrDBPathEmpty
	}

	if cfg.HTTP.Addr == "" {
		return ErrAddrEmpty
	}

	if cfg.TokenTTL <= 0 {
		return ErrTokenTTL
	}

	_, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrLogLevel, cfg.Log.Level)
	}

	if cfg.Production && cfg.Secret == "" {
		return ErrSecretRequired
	}

	return nil
}
