package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for worldlens
type Config struct {
	// Root folder that is scanned for saves
	Root      string `mapstructure:"root"`
	Recursive bool   `mapstructure:"recursive"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json, text
	// LogOutput ships logs to udp://, tcp:// (syslog) or http(s):// targets
	LogOutput string `mapstructure:"log_output"`

	// Store configuration
	Store StoreConfig `mapstructure:"store"`

	// Catalog configuration
	Catalog CatalogConfig `mapstructure:"catalog"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Watch configuration
	Watch WatchConfig `mapstructure:"watch"`
}

// StoreConfig defines how key-value stores are opened
type StoreConfig struct {
	Engine      string `mapstructure:"engine"` // auto, pebble, badger
	ReadOnly    bool   `mapstructure:"read_only"`
	CacheSizeMB int64  `mapstructure:"cache_size_mb"`
}

// CatalogConfig defines the sqlite key catalog
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Namespace string `mapstructure:"namespace"`
	Listen    string `mapstructure:"listen"`
}

// WatchConfig defines the rescan behaviour of watch mode
type WatchConfig struct {
	DebounceMS int `mapstructure:"debounce_ms"`
}

// Load loads configuration from defaults, an optional config file, the
// environment and command line flags, in increasing order of precedence.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Bind command line flags
	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	// Read from config file if specified
	if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Read from environment variables
	v.SetEnvPrefix("WORLDLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", ".")
	v.SetDefault("recursive", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_output", "")

	// Store defaults - never write to a save unless asked to
	v.SetDefault("store.engine", "auto")
	v.SetDefault("store.read_only", true)
	v.SetDefault("store.cache_size_mb", 64)

	v.SetDefault("catalog.path", "")

	// Metrics defaults
	v.SetDefault("metrics.enable", false)
	v.SetDefault("metrics.namespace", "worldlens")
	v.SetDefault("metrics.listen", ":9105")

	v.SetDefault("watch.debounce_ms", 500)
}

// bindFlags binds the flags a command actually defines; subcommands carry
// different subsets.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"recursive":      "recursive",
		"log-level":      "log_level",
		"log-format":     "log_format",
		"log-output":     "log_output",
		"engine":         "store.engine",
		"read-only":      "store.read_only",
		"cache-size":     "store.cache_size_mb",
		"catalog":        "catalog.path",
		"metrics":        "metrics.enable",
		"metrics-listen": "metrics.listen",
		"debounce":       "watch.debounce_ms",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	switch cfg.Store.Engine {
	case "auto", "leveldb", "pebble", "badger":
	default:
		return fmt.Errorf("unsupported store engine: %s (use auto, leveldb, pebble or badger)", cfg.Store.Engine)
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", cfg.LogFormat)
	}

	if cfg.Root == "" {
		cfg.Root = "."
	}
	if !filepath.IsAbs(cfg.Root) {
		absRoot, err := filepath.Abs(cfg.Root)
		if err == nil {
			cfg.Root = absRoot
		}
	}

	if cfg.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative")
	}
	if cfg.Store.CacheSizeMB <= 0 {
		cfg.Store.CacheSizeMB = 64
	}

	return nil
}
