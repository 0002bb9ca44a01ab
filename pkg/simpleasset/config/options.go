package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend. url is a postgres DSN or a
// sqlite file path.
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		switch dbType {
		case DatabaseMemory:
		case DatabaseSQLite, DatabasePostgres:
			if url == "" {
				return fmt.Errorf("database URL is required for %s", dbType)
			}
		default:
			return fmt.Errorf("database type must be 'memory', 'sqlite' or 'postgres', got: %s", dbType)
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithStorage replaces the local byte cache backend
func WithStorage(storage StorageConfig) Option {
	return func(c *ServerConfig) error {
		if err := storage.Validate(); err != nil {
			return err
		}
		c.Storage = storage
		return nil
	}
}

// WithFilesystemStorage keeps cached bytes under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return WithStorage(StorageConfig{Type: StorageFS, BaseDir: baseDir})
}

// WithS3Storage keeps cached bytes in an S3-compatible bucket
func WithS3Storage(bucket, region, endpoint string) Option {
	return WithStorage(StorageConfig{
		Type:         StorageS3,
		Bucket:       bucket,
		Region:       region,
		Endpoint:     endpoint,
		UsePathStyle: endpoint != "",
	})
}

// WithGCSStorage keeps cached bytes in a Google Cloud Storage bucket
func WithGCSStorage(bucket, prefix string) Option {
	return WithStorage(StorageConfig{Type: StorageGCS, Bucket: bucket, Prefix: prefix})
}

// WithProvider adds or replaces a provider uploader
func WithProvider(p ProviderConfig) Option {
	return func(c *ServerConfig) error {
		if err := p.Validate(); err != nil {
			return err
		}
		for i := range c.Providers {
			if c.Providers[i].ID == p.ID {
				c.Providers[i] = p
				return nil
			}
		}
		c.Providers = append(c.Providers, p)
		return nil
	}
}

// WithKnownProviders adds provider ids assets may originate from without an uploader
func WithKnownProviders(ids ...string) Option {
	return func(c *ServerConfig) error {
		c.KnownProviders = appendUnique(c.KnownProviders, ids...)
		return nil
	}
}

// WithTimeouts sets the per-transfer fetch and upload deadlines
func WithTimeouts(fetch, upload time.Duration) Option {
	return func(c *ServerConfig) error {
		if fetch <= 0 || upload <= 0 {
			return fmt.Errorf("timeouts must be positive")
		}
		c.FetchTimeout = fetch
		c.UploadTimeout = upload
		return nil
	}
}

// WithFetchRetries sets the origin retry budget
func WithFetchRetries(retries int, backoff time.Duration) Option {
	return func(c *ServerConfig) error {
		if retries < 0 {
			return fmt.Errorf("fetch retries cannot be negative")
		}
		c.FetchRetries = retries
		c.FetchBackoff = backoff
		return nil
	}
}

// WithTransferLimit bounds concurrent fetches and uploads; 0 means unbounded
func WithTransferLimit(n int) Option {
	return func(c *ServerConfig) error {
		if n < 0 {
			return fmt.Errorf("transfer limit cannot be negative")
		}
		c.MaxConcurrentTransfers = n
		return nil
	}
}

// WithCacheCapacity sets the local byte budget; 0 disables the check
func WithCacheCapacity(bytes int64) Option {
	return func(c *ServerConfig) error {
		if bytes < 0 {
			return fmt.Errorf("cache capacity cannot be negative")
		}
		c.CacheCapacityBytes = bytes
		return nil
	}
}

// WithVerifyCachedBytes re-hashes cached bytes before reuse
func WithVerifyCachedBytes(verify bool) Option {
	return func(c *ServerConfig) error {
		c.VerifyCachedBytes = verify
		return nil
	}
}

// WithEventLogging logs asset lifecycle events
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.LogEvents = enabled
		return nil
	}
}

// WithEviction schedules sweeps (cron syntax) that each reclaim targetFreeBytes
func WithEviction(schedule string, targetFreeBytes int64) Option {
	return func(c *ServerConfig) error {
		if schedule != "" && targetFreeBytes <= 0 {
			return fmt.Errorf("eviction target must be positive")
		}
		c.EvictionSchedule = schedule
		c.EvictionTargetFreeBytes = targetFreeBytes
		return nil
	}
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range list {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}
