package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied to keys missing from the file.
const (
	DefaultPictureWaitMs   = 30000
	DefaultImportBatchSize = 50
)

// Config represents the global ~/.wppsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	// AutoEnsure runs EnsureLocalData whenever the protocol connection comes up.
	AutoEnsure      bool `toml:"auto_ensure"`
	PictureWaitMs   int  `toml:"picture_wait_ms"`
	ImportBatchSize int  `toml:"import_batch_size"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		AutoEnsure:      true,
		PictureWaitMs:   DefaultPictureWaitMs,
		ImportBatchSize: DefaultImportBatchSize,
	}
}

// Load reads config from the given path. Returns nil config and error if file missing.
// Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.PictureWaitMs <= 0 {
		cfg.PictureWaitMs = DefaultPictureWaitMs
	}
	if cfg.ImportBatchSize <= 0 {
		cfg.ImportBatchSize = DefaultImportBatchSize
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// PictureWait returns the profile picture wait timeout.
func (c *Config) PictureWait() time.Duration {
	return time.Duration(c.PictureWaitMs) * time.Millisecond
}

// Save writes config to the given path, creating parent dirs as needed.
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
