// Package presets builds ready-to-use asset stores for common setups.
package presets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/config"
	"github.com/tendant/simple-asset/pkg/simpleasset/providers/fake"
	memoryrepo "github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	fsstorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/fs"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
)

// DefaultDevProviders are the fake providers a development store registers.
var DefaultDevProviders = []simpleasset.ProviderID{"pixverse", "sora", "runway", "luma"}

// NewDevelopment creates a store for local development.
//
// Features:
//   - In-memory repository (instant startup, no setup required)
//   - Filesystem byte cache at ./dev-data/
//   - Fake uploaders for DefaultDevProviders
//   - Lifecycle events logged
//
// The returned cleanup releases the cache directory lock and removes it.
//
// Example:
//
//	store, cleanup, err := presets.NewDevelopment()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
func NewDevelopment(opts ...DevelopmentOption) (*simpleasset.AssetStore, func(), error) {
	cfg := &devConfig{
		storageDir: "./dev-data",
		providers:  DefaultDevProviders,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	fsBackend, err := fsstorage.New(fsstorage.Config{BaseDir: cfg.storageDir})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create filesystem storage: %w", err)
	}

	options := []simpleasset.Option{
		simpleasset.WithRepository(memoryrepo.New()),
		simpleasset.WithBlobStore(fsBackend),
		simpleasset.WithLogger(cfg.logger),
		simpleasset.WithEventSink(simpleasset.NewLogEventSink(cfg.logger)),
	}
	for _, id := range cfg.providers {
		options = append(options, simpleasset.WithUploader(fake.NewProvider(id)))
	}

	store, err := simpleasset.New(options...)
	if err != nil {
		_ = fsBackend.Close()
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}

	cleanup := func() {
		_ = fsBackend.Close()
		os.RemoveAll(cfg.storageDir)
	}
	return store, cleanup, nil
}

// NewTesting creates a store for unit and integration tests: in-memory
// repository and byte cache, no event logging, isolated per test.
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    sora := fake.NewProvider("sora")
//	    store := presets.NewTesting(t, presets.WithTestUploaders(sora))
//	    // ...
//	}
func NewTesting(t testing.TB, opts ...TestingOption) *simpleasset.AssetStore {
	t.Helper()
	cfg := &testConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	options := []simpleasset.Option{
		simpleasset.WithRepository(memoryrepo.New()),
		simpleasset.WithBlobStore(memorystorage.New()),
	}
	for _, up := range cfg.uploaders {
		options = append(options, simpleasset.WithUploader(up))
	}
	options = append(options, cfg.extra...)

	store, err := simpleasset.New(options...)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return store
}

// NewProduction builds a store from SIMPLEASSET_* environment variables plus
// opts, refusing in-memory persistence. Close the returned runtime on exit.
//
// Required environment:
//   - SIMPLEASSET_DATABASE_URL: postgres://... or sqlite:///path
//   - SIMPLEASSET_STORAGE_URL: file:///path, s3://bucket or gs://bucket
func NewProduction(ctx context.Context, logger *slog.Logger, opts ...config.Option) (*config.Runtime, error) {
	all := append([]config.Option{config.WithEnvironment("production"), config.WithEnv()}, opts...)
	cfg, err := config.Load(all...)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseType == config.DatabaseMemory {
		return nil, fmt.Errorf("production preset requires a sqlite or postgres database (memory not allowed in production)")
	}
	if cfg.Storage.Type == config.StorageMemory {
		return nil, fmt.Errorf("production preset requires persistent storage (fs, s3 or gcs, not memory)")
	}
	return cfg.BuildStore(ctx, logger)
}

type devConfig struct {
	storageDir string
	providers  []simpleasset.ProviderID
	logger     *slog.Logger
}

type testConfig struct {
	uploaders []simpleasset.ProviderUploader
	extra     []simpleasset.Option
}

// DevelopmentOption is a functional option for NewDevelopment
type DevelopmentOption func(*devConfig)

// WithDevStorage sets the development cache directory
func WithDevStorage(dir string) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.storageDir = dir
	}
}

// WithDevProviders replaces the fake provider ids
func WithDevProviders(ids ...simpleasset.ProviderID) DevelopmentOption {
	return func(cfg *devConfig) {
		cfg.providers = ids
	}
}

// WithDevLogger sets the logger used by the store and event sink
func WithDevLogger(logger *slog.Logger) DevelopmentOption {
	return func(cfg *devConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// TestingOption is a functional option for NewTesting
type TestingOption func(*testConfig)

// WithTestUploaders registers uploaders, typically fake providers the test
// inspects afterwards
func WithTestUploaders(uploaders ...simpleasset.ProviderUploader) TestingOption {
	return func(cfg *testConfig) {
		cfg.uploaders = append(cfg.uploaders, uploaders...)
	}
}

// WithStoreOptions passes extra options to simpleasset.New
func WithStoreOptions(opts ...simpleasset.Option) TestingOption {
	return func(cfg *testConfig) {
		cfg.extra = append(cfg.extra, opts...)
	}
}
