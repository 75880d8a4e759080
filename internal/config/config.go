// Package config loads semverx settings from defaults, an optional YAML
// file, SEMVERX_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/git-pkgs/semverx/internal/core"
)

const (
	// AppName is the directory name used under the user config dir.
	AppName = "semverx"
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// EnvPrefix prefixes every environment variable, e.g. SEMVERX_TOKEN.
	EnvPrefix = "SEMVERX"
)

// Keys understood in the config file and environment.
const (
	KeyEndpoint       = "endpoint"
	KeyTier           = "tier"
	KeyToken          = "token"
	KeyStrategy       = "strategy"
	KeyConcurrency    = "concurrency"
	KeyTimeout        = "timeout"
	KeyMaxRetries     = "max_retries"
	KeyLogLevel       = "log_level"
	KeyVerifyChecksum = "verify_checksum"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds resolved settings.
type Config struct {
	Endpoint       string          `mapstructure:"endpoint"`
	Tier           core.AccessTier `mapstructure:"tier"`
	Token          string          `mapstructure:"token"`
	Strategy       core.Strategy   `mapstructure:"strategy"`
	Concurrency    int             `mapstructure:"concurrency"`
	Timeout        time.Duration   `mapstructure:"timeout"`
	MaxRetries     int             `mapstructure:"max_retries"`
	LogLevel       string          `mapstructure:"log_level"`
	VerifyChecksum bool            `mapstructure:"verify_checksum"`

	// Path is the config file that was read, empty when none was.
	Path string `mapstructure:"-"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Tier:           core.Live,
		Strategy:       core.DefaultStrategy,
		Concurrency:    8,
		Timeout:        30 * time.Second,
		MaxRetries:     5,
		LogLevel:       "info",
		VerifyChecksum: true,
	}
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// ConfigFile is read exclusively when set; it must exist.
	ConfigFile string
	// ConfigDir replaces Dir() when looking for the default file.
	ConfigDir string
	// Flags are bound to their keys; only flags the user changed win.
	Flags *pflag.FlagSet
}

// flagNames maps config keys to flag names where they differ.
var flagNames = map[string]string{
	KeyMaxRetries:     "max-retries",
	KeyLogLevel:       "log-level",
	KeyVerifyChecksum: "verify-checksum",
}

// Dir returns $XDG_CONFIG_HOME/semverx, falling back to ~/.config/semverx.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, AppName), nil
}

// Load resolves the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault(KeyEndpoint, defaults.Endpoint)
	v.SetDefault(KeyTier, string(defaults.Tier))
	v.SetDefault(KeyToken, defaults.Token)
	v.SetDefault(KeyStrategy, string(defaults.Strategy))
	v.SetDefault(KeyConcurrency, defaults.Concurrency)
	v.SetDefault(KeyTimeout, defaults.Timeout)
	v.SetDefault(KeyMaxRetries, defaults.MaxRetries)
	v.SetDefault(KeyLogLevel, defaults.LogLevel)
	v.SetDefault(KeyVerifyChecksum, defaults.VerifyChecksum)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	path, err := configPath(opts)
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if opts.Flags != nil {
		for _, key := range v.AllKeys() {
			name := key
			if alias, ok := flagNames[key]; ok {
				name = alias
			}
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configPath(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return "", fmt.Errorf("config file %s: %w", opts.ConfigFile, err)
		}
		return opts.ConfigFile, nil
	}

	dir := opts.ConfigDir
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", err
		}
	}
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		return "", nil
	}
	return path, nil
}

// Validate checks every field and normalises the strategy. Unknown tiers
// and strategies are rejected rather than defaulted.
func (c *Config) Validate() error {
	tier, err := core.ParseTier(string(c.Tier))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	c.Tier = tier

	strategy, err := core.ParseStrategy(string(c.Strategy))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	c.Strategy = strategy

	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalid, c.Concurrency)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalid, c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative, got %d", ErrInvalid, c.MaxRetries)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}
	return nil
}

// Level returns the parsed log level, InfoLevel when unset.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}
