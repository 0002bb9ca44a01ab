package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Database types
const (
	DatabaseMemory   = "memory"
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"
)

// Storage types
const (
	StorageMemory = "memory"
	StorageFS     = "fs"
	StorageS3     = "s3"
	StorageGCS    = "gcs"
)

// Provider uploader types
const (
	ProviderHTTP = "http"
	ProviderBlob = "blob"
	ProviderFake = "fake"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:          "8080",
		Environment:   "development",
		DatabaseType:  DatabaseMemory,
		Storage:       StorageConfig{Type: StorageMemory},
		FetchTimeout:  simpleasset.DefaultFetchTimeout,
		UploadTimeout: simpleasset.DefaultUploadTimeout,
		FetchRetries:  3,
		FetchBackoff:  500 * time.Millisecond,
	}
}

// ServerConfig represents configuration for the simple-asset service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration. Several servers may share one postgres
	// database, but lineage edges must be added through a single one of
	// them: the cycle check reads the links already committed.
	DatabaseType string // "memory", "sqlite", "postgres"
	DatabaseURL  string // postgres DSN or sqlite file path
	DBSchema     string // Postgres schema to use

	// Local byte cache
	Storage StorageConfig

	// Provider uploaders and the full set of provider ids assets may come from
	Providers      []ProviderConfig
	KnownProviders []string

	// Transfer limits
	FetchTimeout           time.Duration
	UploadTimeout          time.Duration
	FetchRetries           int
	FetchBackoff           time.Duration
	MaxConcurrentTransfers int
	CacheCapacityBytes     int64
	VerifyCachedBytes      bool

	// LogEvents writes asset lifecycle events to the logger
	LogEvents bool

	// Eviction cadence; an empty schedule disables the janitor
	EvictionSchedule        string
	EvictionTargetFreeBytes int64
}

// StorageConfig selects and configures a BlobStore.
type StorageConfig struct {
	Type            string `toml:"type"` // "memory", "fs", "s3", "gcs"
	BaseDir         string `toml:"base_dir"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
	CreateBucket    bool   `toml:"create_bucket"`
	CredentialsFile string `toml:"credentials_file"`
}

// ProviderConfig describes one provider uploader.
type ProviderConfig struct {
	ID         string   `toml:"id"`
	Type       string   `toml:"type"` // "http", "blob", "fake"
	MediaTypes []string `toml:"media_types"`

	// http
	Endpoint  string `toml:"endpoint"`
	Token     string `toml:"token"`
	TokenEnv  string `toml:"token_env"` // read the token from this variable at build time
	FileField string `toml:"file_field"`
	IDField   string `toml:"id_field"`
	Retries   int    `toml:"max_retries"`
	BackoffMS int    `toml:"backoff_ms"`

	// blob
	Target *StorageConfig `toml:"target"`
	Prefix string         `toml:"prefix"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.DatabaseType {
	case DatabaseMemory:
	case DatabaseSQLite, DatabasePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when using %s", c.DatabaseType)
		}
	default:
		return errors.New("database_type must be 'memory', 'sqlite' or 'postgres'")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if c.FetchTimeout <= 0 || c.UploadTimeout <= 0 {
		return errors.New("fetch and upload timeouts must be positive")
	}
	if c.FetchRetries < 0 || c.MaxConcurrentTransfers < 0 || c.CacheCapacityBytes < 0 {
		return errors.New("retries, transfer limit and cache capacity cannot be negative")
	}
	if c.EvictionSchedule != "" && c.EvictionTargetFreeBytes <= 0 {
		return errors.New("eviction_target_free_bytes is required when an eviction schedule is set")
	}

	for _, p := range c.KnownProviders {
		if err := simpleasset.ProviderID(p).Validate(); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("provider %s configured twice", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// Validate checks the backend type and its required fields.
func (s StorageConfig) Validate() error {
	switch s.Type {
	case StorageMemory:
	case StorageFS:
		if s.BaseDir == "" {
			return errors.New("base_dir is required for fs storage")
		}
	case StorageS3, StorageGCS:
		if s.Bucket == "" {
			return fmt.Errorf("bucket is required for %s storage", s.Type)
		}
	default:
		return fmt.Errorf("unsupported storage type: %q", s.Type)
	}
	return nil
}

// Validate checks the provider id, type and type-specific fields.
func (p ProviderConfig) Validate() error {
	if err := simpleasset.ProviderID(p.ID).Validate(); err != nil {
		return err
	}
	for _, m := range p.MediaTypes {
		if !simpleasset.MediaType(m).Valid() {
			return fmt.Errorf("provider %s: unknown media type %q", p.ID, m)
		}
	}
	switch p.Type {
	case ProviderFake:
	case ProviderHTTP:
		if p.Endpoint == "" {
			return fmt.Errorf("provider %s: endpoint is required", p.ID)
		}
	case ProviderBlob:
		if p.Target == nil {
			return fmt.Errorf("provider %s: target storage is required", p.ID)
		}
		if err := p.Target.Validate(); err != nil {
			return fmt.Errorf("provider %s target: %w", p.ID, err)
		}
	default:
		return fmt.Errorf("provider %s: unsupported type %q", p.ID, p.Type)
	}
	return nil
}

func (p ProviderConfig) mediaTypes() []simpleasset.MediaType {
	out := make([]simpleasset.MediaType, len(p.MediaTypes))
	for i, m := range p.MediaTypes {
		out[i] = simpleasset.MediaType(m)
	}
	return out
}
