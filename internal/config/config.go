// Package config loads and saves the global ~/.chatvault/config.toml.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied when the config file is absent or fields are unset.
const (
	DefaultWorkers          = 1
	DefaultAnomalyThreshold = 10
	DefaultSpoolThreshold   = 100000
)

// Config represents the global chatvault configuration.
type Config struct {
	// Workers bounds how many comparison/merge operations may run at
	// once. Typically one foreground operation.
	Workers int `toml:"workers"`
	// AnomalyThreshold is the per-chat count of constraint violations
	// tolerated before a merge escalates to a partial failure.
	AnomalyThreshold int `toml:"anomaly_threshold"`
	// SpoolThreshold is the number of in-memory difference records above
	// which a comparison spools message groups to temporary storage.
	SpoolThreshold int `toml:"spool_threshold"`
	// LogPath overrides the default log file location.
	LogPath string `toml:"log_path"`
}

// BaseDir returns ~/.chatvault.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatvault")
}

// Path returns the global config file path.
func Path() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// DefaultLogPath returns the log file used when LogPath is unset.
func DefaultLogPath() string {
	return filepath.Join(BaseDir(), "logs", "chatvault.log")
}

// Load reads config from path, applying defaults for unset fields.
// A missing file yields the pure-default config and no error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = DefaultAnomalyThreshold
	}
	if cfg.SpoolThreshold <= 0 {
		cfg.SpoolThreshold = DefaultSpoolThreshold
	}
	if cfg.LogPath == "" {
		cfg.LogPath = DefaultLogPath()
	}
	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
