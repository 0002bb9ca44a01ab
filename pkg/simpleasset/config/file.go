package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig is the TOML layout read by WithTOMLFile. Durations are seconds.
type fileConfig struct {
	Port        string `toml:"port"`
	Environment string `toml:"environment"`

	Database struct {
		Type   string `toml:"type"`
		URL    string `toml:"url"`
		Schema string `toml:"schema"`
	} `toml:"database"`

	Storage *StorageConfig `toml:"storage"`

	Cache struct {
		FetchTimeoutSeconds    int   `toml:"fetch_timeout_seconds"`
		UploadTimeoutSeconds   int   `toml:"upload_timeout_seconds"`
		FetchRetries           *int  `toml:"fetch_retries"`
		MaxConcurrentTransfers int   `toml:"max_concurrent_transfers"`
		CapacityBytes          int64 `toml:"capacity_bytes"`
		VerifyCachedBytes      bool  `toml:"verify_cached_bytes"`
	} `toml:"cache"`

	Eviction struct {
		Schedule        string `toml:"schedule"`
		TargetFreeBytes int64  `toml:"target_free_bytes"`
	} `toml:"eviction"`

	LogEvents      bool             `toml:"log_events"`
	KnownProviders []string         `toml:"known_providers"`
	Providers      []ProviderConfig `toml:"providers"`
}

// WithTOMLFile applies settings from a TOML file. Keys absent from the file
// leave the current configuration untouched.
func WithTOMLFile(path string) Option {
	return func(c *ServerConfig) error {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		var fc fileConfig
		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&fc); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		return fc.apply(c)
	}
}

func (fc *fileConfig) apply(c *ServerConfig) error {
	if fc.Port != "" {
		c.Port = fc.Port
	}
	if fc.Environment != "" {
		c.Environment = fc.Environment
	}
	if fc.Database.Type != "" {
		if err := WithDatabase(fc.Database.Type, fc.Database.URL)(c); err != nil {
			return err
		}
	}
	if fc.Database.Schema != "" {
		c.DBSchema = fc.Database.Schema
	}
	if fc.Storage != nil {
		if err := WithStorage(*fc.Storage)(c); err != nil {
			return err
		}
	}

	if fc.Cache.FetchTimeoutSeconds > 0 {
		c.FetchTimeout = time.Duration(fc.Cache.FetchTimeoutSeconds) * time.Second
	}
	if fc.Cache.UploadTimeoutSeconds > 0 {
		c.UploadTimeout = time.Duration(fc.Cache.UploadTimeoutSeconds) * time.Second
	}
	if fc.Cache.FetchRetries != nil {
		c.FetchRetries = *fc.Cache.FetchRetries
	}
	if fc.Cache.MaxConcurrentTransfers > 0 {
		c.MaxConcurrentTransfers = fc.Cache.MaxConcurrentTransfers
	}
	if fc.Cache.CapacityBytes > 0 {
		c.CacheCapacityBytes = fc.Cache.CapacityBytes
	}
	if fc.Cache.VerifyCachedBytes {
		c.VerifyCachedBytes = true
	}

	if fc.Eviction.Schedule != "" {
		if err := WithEviction(fc.Eviction.Schedule, fc.Eviction.TargetFreeBytes)(c); err != nil {
			return err
		}
	}

	if fc.LogEvents {
		c.LogEvents = true
	}

	c.KnownProviders = appendUnique(c.KnownProviders, fc.KnownProviders...)
	for _, p := range fc.Providers {
		if err := WithProvider(p)(c); err != nil {
			return err
		}
	}
	return nil
}
