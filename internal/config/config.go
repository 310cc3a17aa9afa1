// Package config loads the server configuration and owns the persisted
// store of adapter configs and encryption profiles.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all server options
type Config struct {
	// Version information
	Version   string
	BuildTime string
	GitCommit string

	// HTTP API
	ListenAddr string

	// Paths
	DataDir         string // root for store, executions db, master key
	ScratchDir      string // staging area for artifacts mid-pipeline
	StorePath       string // adapter/profile store, JSON
	ExecutionDBPath string // execution history, SQLite
	MasterKeyPath   string // secret sealing key

	// Restore pipeline
	RestoreWorkers  int           // concurrent restore pipelines
	TransferRetries int           // download/upload attempts before giving up
	ScratchFactor   float64       // required free space as a multiple of artifact size
	SweepInterval   string        // cron spec for scratch sweeping
	SweepMaxAge     time.Duration // scratch entries older than this are swept

	// Output options
	LogLevel  string
	LogFormat string
	LogFile   string // empty = stdout only
	NoColor   bool
	Debug     bool
}

// New returns a configuration with defaults, before any file or
// environment override.
func New() *Config {
	dataDir := defaultDataDir()
	return &Config{
		ListenAddr:      ":8432",
		DataDir:         dataDir,
		ScratchDir:      filepath.Join(os.TempDir(), "dbvault-scratch"),
		StorePath:       filepath.Join(dataDir, "store.json"),
		ExecutionDBPath: filepath.Join(dataDir, "executions.db"),
		MasterKeyPath:   filepath.Join(dataDir, "master.key"),
		RestoreWorkers:  2,
		TransferRetries: 3,
		ScratchFactor:   3.0,
		SweepInterval:   "0 * * * *",
		SweepMaxAge:     24 * time.Hour,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads configuration from an optional file plus DBVAULT_*
// environment variables layered over the defaults. path may be empty, in
// which case the usual locations are searched and a missing file is not
// an error.
func Load(path string) (*Config, error) {
	defaults := New()

	v := viper.New()
	v.SetDefault("listen_addr", defaults.ListenAddr)
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("scratch_dir", defaults.ScratchDir)
	v.SetDefault("store_path", "")
	v.SetDefault("execution_db_path", "")
	v.SetDefault("master_key_path", "")
	v.SetDefault("restore_workers", defaults.RestoreWorkers)
	v.SetDefault("transfer_retries", defaults.TransferRetries)
	v.SetDefault("scratch_factor", defaults.ScratchFactor)
	v.SetDefault("sweep_interval", defaults.SweepInterval)
	v.SetDefault("sweep_max_age", defaults.SweepMaxAge)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("log_file", "")
	v.SetDefault("no_color", false)
	v.SetDefault("debug", false)

	v.SetEnvPrefix("DBVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("dbvault")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/dbvault")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".dbvault"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	cfg := &Config{
		ListenAddr:      v.GetString("listen_addr"),
		DataDir:         v.GetString("data_dir"),
		ScratchDir:      v.GetString("scratch_dir"),
		StorePath:       v.GetString("store_path"),
		ExecutionDBPath: v.GetString("execution_db_path"),
		MasterKeyPath:   v.GetString("master_key_path"),
		RestoreWorkers:  v.GetInt("restore_workers"),
		TransferRetries: v.GetInt("transfer_retries"),
		ScratchFactor:   v.GetFloat64("scratch_factor"),
		SweepInterval:   v.GetString("sweep_interval"),
		SweepMaxAge:     v.GetDuration("sweep_max_age"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		LogFile:         v.GetString("log_file"),
		NoColor:         v.GetBool("no_color"),
		Debug:           v.GetBool("debug"),
	}

	// Paths default relative to DataDir unless set explicitly
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(cfg.DataDir, "store.json")
	}
	if cfg.ExecutionDBPath == "" {
		cfg.ExecutionDBPath = filepath.Join(cfg.DataDir, "executions.db")
	}
	if cfg.MasterKeyPath == "" {
		cfg.MasterKeyPath = filepath.Join(cfg.DataDir, "master.key")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option ranges
func (c *Config) Validate() error {
	if c.RestoreWorkers < 1 {
		return &ConfigError{Field: "restore_workers", Value: fmt.Sprint(c.RestoreWorkers), Message: "must be at least 1"}
	}
	if c.TransferRetries < 1 {
		return &ConfigError{Field: "transfer_retries", Value: fmt.Sprint(c.TransferRetries), Message: "must be at least 1"}
	}
	if c.ScratchFactor < 1 {
		return &ConfigError{Field: "scratch_factor", Value: fmt.Sprintf("%.1f", c.ScratchFactor), Message: "must be at least 1.0"}
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "log_level", Value: c.LogLevel, Message: "must be trace, debug, info, warn, or error"}
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return &ConfigError{Field: "log_format", Value: c.LogFormat, Message: "must be text or json"}
	}
	return nil
}

// EnsureDirs creates the directories the server writes into
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.ScratchDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "' with value '" + e.Value + "': " + e.Message
}

func defaultDataDir() string {
	if os.Geteuid() == 0 {
		return "/var/lib/dbvault"
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".dbvault")
	}
	return filepath.Join(os.TempDir(), "dbvault")
}
