package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/providers/blobcopy"
	"github.com/tendant/simple-asset/pkg/simpleasset/providers/fake"
	"github.com/tendant/simple-asset/pkg/simpleasset/providers/httpupload"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	repopg "github.com/tendant/simple-asset/pkg/simpleasset/repo/postgres"
	reposqlite "github.com/tendant/simple-asset/pkg/simpleasset/repo/sqlite"
	fsstorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/fs"
	gcsstorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/gcs"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
	s3storage "github.com/tendant/simple-asset/pkg/simpleasset/storage/s3"
)

// Runtime is a built store together with the resources it owns.
type Runtime struct {
	Store *simpleasset.AssetStore
	// Janitor is nil when no eviction schedule is configured.
	Janitor *simpleasset.Janitor

	closers []func() error
}

// Close releases database handles and storage locks.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *Runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// BuildStore creates an AssetStore from the server configuration
func (c *ServerConfig) BuildStore(ctx context.Context, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	repo, err := c.buildRepository(ctx, rt)
	if err != nil {
		return fail(fmt.Errorf("failed to build repository: %w", err))
	}
	blobs, err := buildBlobStore(ctx, c.Storage, rt)
	if err != nil {
		return fail(fmt.Errorf("failed to build storage backend %s: %w", c.Storage.Type, err))
	}

	options := []simpleasset.Option{
		simpleasset.WithRepository(repo),
		simpleasset.WithBlobStore(blobs),
		simpleasset.WithLogger(logger),
		simpleasset.WithFetcher(simpleasset.NewHTTPFetcher(blobs,
			simpleasset.WithFetchRetries(c.FetchRetries, c.FetchBackoff),
			simpleasset.WithFetcherLogger(logger),
		)),
		simpleasset.WithFetchTimeout(c.FetchTimeout),
		simpleasset.WithUploadTimeout(c.UploadTimeout),
		simpleasset.WithMaxConcurrentTransfers(c.MaxConcurrentTransfers),
		simpleasset.WithCacheCapacity(c.CacheCapacityBytes),
		simpleasset.WithVerifyCachedBytes(c.VerifyCachedBytes),
	}
	if c.LogEvents {
		options = append(options, simpleasset.WithEventSink(simpleasset.NewLogEventSink(logger)))
	}
	known := make([]simpleasset.ProviderID, 0, len(c.KnownProviders)+len(c.Providers))
	for _, p := range c.KnownProviders {
		known = append(known, simpleasset.ProviderID(p))
	}
	for _, p := range c.Providers {
		uploader, err := buildUploader(ctx, p, logger, rt)
		if err != nil {
			return fail(fmt.Errorf("failed to build uploader %s: %w", p.ID, err))
		}
		options = append(options, simpleasset.WithUploader(uploader))
		known = append(known, simpleasset.ProviderID(p.ID))
	}
	if len(c.KnownProviders) > 0 {
		options = append(options, simpleasset.WithKnownProviders(known...))
	}

	store, err := simpleasset.New(options...)
	if err != nil {
		return fail(err)
	}
	rt.Store = store

	if c.EvictionSchedule != "" {
		janitor, err := simpleasset.NewJanitor(store.Evictor(), c.EvictionSchedule, c.EvictionTargetFreeBytes, logger)
		if err != nil {
			return fail(err)
		}
		rt.Janitor = janitor
	}
	return rt, nil
}

// Exclusive reports whether a built store is private to this process: the
// claim table that keeps eviction away from in-flight bytes is per process,
// so only stores guarded by a file lock (a SQLite database or a filesystem
// cache) or held in memory can be swept from outside a running server.
func (c *ServerConfig) Exclusive() bool {
	return c.DatabaseType != DatabasePostgres || c.Storage.Type == StorageFS
}

// Migrate applies pending schema migrations for sqlite and postgres databases.
func (c *ServerConfig) Migrate(ctx context.Context) ([]string, error) {
	switch c.DatabaseType {
	case DatabaseSQLite:
		repo, err := reposqlite.Open(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer repo.Close()
		// Open already migrated; a second pass reports nothing new.
		return repo.Migrate(ctx)
	case DatabasePostgres:
		pool, err := c.newPool(ctx)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		return repopg.Migrate(ctx, pool)
	default:
		return nil, nil
	}
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (simpleasset.Repository, error) {
	switch c.DatabaseType {
	case DatabaseMemory:
		return memory.New(), nil
	case DatabaseSQLite:
		lock := flock.New(c.DatabaseURL + ".lock")
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock sqlite database: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("sqlite database %s is in use by another process", c.DatabaseURL)
		}
		rt.onClose(lock.Unlock)

		repo, err := reposqlite.Open(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.onClose(repo.Close)
		return repo, nil
	case DatabasePostgres:
		pool, err := c.newPool(ctx)
		if err != nil {
			return nil, err
		}
		rt.onClose(func() error {
			pool.Close()
			return nil
		})
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func (c *ServerConfig) newPool(ctx context.Context) (*pgxpool.Pool, error) {
	if c.DatabaseURL == "" {
		return nil, errors.New("database_url is required for postgres")
	}
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema := c.DBSchema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// buildBlobStore creates a BlobStore based on the storage configuration
func buildBlobStore(ctx context.Context, s StorageConfig, rt *Runtime) (simpleasset.BlobStore, error) {
	switch s.Type {
	case StorageMemory:
		return memorystorage.New(), nil

	case StorageFS:
		backend, err := fsstorage.New(fsstorage.Config{BaseDir: s.BaseDir})
		if err != nil {
			return nil, err
		}
		rt.onClose(backend.Close)
		return backend, nil

	case StorageS3:
		return s3storage.New(s3storage.Config{
			Region:                 s.Region,
			Bucket:                 s.Bucket,
			Prefix:                 s.Prefix,
			AccessKeyID:            s.AccessKeyID,
			SecretAccessKey:        s.SecretAccessKey,
			Endpoint:               s.Endpoint,
			UsePathStyle:           s.UsePathStyle,
			CreateBucketIfNotExist: s.CreateBucket,
		})

	case StorageGCS:
		backend, err := gcsstorage.New(ctx, gcsstorage.Config{
			Bucket:          s.Bucket,
			Prefix:          s.Prefix,
			CredentialsFile: s.CredentialsFile,
			Endpoint:        s.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		rt.onClose(backend.Close)
		return backend, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", s.Type)
	}
}

func buildUploader(ctx context.Context, p ProviderConfig, logger *slog.Logger, rt *Runtime) (simpleasset.ProviderUploader, error) {
	id := simpleasset.ProviderID(p.ID)
	switch p.Type {
	case ProviderFake:
		return fake.NewProvider(id, fake.WithMediaTypes(p.mediaTypes()...)), nil

	case ProviderHTTP:
		token := p.Token
		if p.TokenEnv != "" {
			token = os.Getenv(p.TokenEnv)
		}
		return httpupload.New(httpupload.Config{
			Provider:   id,
			Endpoint:   p.Endpoint,
			Token:      token,
			FileField:  p.FileField,
			IDField:    p.IDField,
			MediaTypes: p.mediaTypes(),
			MaxRetries: p.Retries,
			Backoff:    time.Duration(p.BackoffMS) * time.Millisecond,
		}, httpupload.WithLogger(logger))

	case ProviderBlob:
		target, err := buildBlobStore(ctx, *p.Target, rt)
		if err != nil {
			return nil, err
		}
		return blobcopy.New(id, target, p.Prefix, p.mediaTypes()...)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", p.Type)
	}
}
