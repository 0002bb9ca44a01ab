package config_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/config"
)

func TestBuildStoreMemory(t *testing.T) {
	cfg, err := config.Load(config.WithProvider(config.ProviderConfig{ID: "sora", Type: config.ProviderFake}))
	require.NoError(t, err)

	rt, err := cfg.BuildStore(context.Background(), nil)
	require.NoError(t, err)
	defer rt.Close()

	assert.NotNil(t, rt.Store)
	assert.Nil(t, rt.Janitor)
	assert.Equal(t, []simpleasset.ProviderID{"sora"}, rt.Store.Uploaders().Providers())
}

func TestBuildStoreKnownProviders(t *testing.T) {
	cfg, err := config.Load(
		config.WithKnownProviders("pixverse"),
		config.WithProvider(config.ProviderConfig{ID: "sora", Type: config.ProviderFake}),
	)
	require.NoError(t, err)

	rt, err := cfg.BuildStore(context.Background(), nil)
	require.NoError(t, err)
	defer rt.Close()

	registry := rt.Store.Registry()
	assert.NoError(t, registry.CheckProvider("pixverse"))
	assert.NoError(t, registry.CheckProvider("sora"))
	assert.ErrorIs(t, registry.CheckProvider("runway"), simpleasset.ErrUnknownProvider)
}

func TestBuildStoreSQLiteAndFilesystem(t *testing.T) {
	ctx := context.Background()
	payload := []byte("rendered frames")
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(payload)
	}))
	defer origin.Close()

	dir := t.TempDir()
	cfg, err := config.Load(
		config.WithDatabase(config.DatabaseSQLite, filepath.Join(dir, "assets.db")),
		config.WithFilesystemStorage(filepath.Join(dir, "cache")),
		config.WithFetchRetries(0, 0),
		config.WithProvider(config.ProviderConfig{ID: "sora", Type: config.ProviderFake}),
		config.WithProvider(config.ProviderConfig{
			ID:     "luma",
			Type:   config.ProviderBlob,
			Target: &config.StorageConfig{Type: config.StorageMemory},
		}),
		config.WithEviction("@hourly", 1<<20),
	)
	require.NoError(t, err)

	rt, err := cfg.BuildStore(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, rt.Janitor)

	asset, err := rt.Store.Registry().Create(ctx, simpleasset.CreateAssetRequest{
		OwnerID:               uuid.New(),
		OriginProviderID:      "pixverse",
		OriginProviderAssetID: "pv_123",
		OriginRemoteURL:       origin.URL + "/clip.mp4",
		MediaType:             simpleasset.MediaTypeVideo,
	})
	require.NoError(t, err)

	soraID, err := rt.Store.UploadCache().GetAssetForProvider(ctx, asset.ID, "sora")
	require.NoError(t, err)
	assert.NotEmpty(t, soraID)

	lumaID, err := rt.Store.UploadCache().GetAssetForProvider(ctx, asset.ID, "luma")
	require.NoError(t, err)
	assert.NotEmpty(t, lumaID)

	require.NoError(t, rt.Close())

	// Reopen the same files; mappings and cache state persisted.
	rt, err = cfg.BuildStore(ctx, nil)
	require.NoError(t, err)
	defer rt.Close()

	got, err := rt.Store.Registry().Get(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, simpleasset.CacheStatusPresent, got.CacheStatus)
	assert.Equal(t, soraID, got.ProviderUploads["sora"])
	assert.Equal(t, lumaID, got.ProviderUploads["luma"])
	assert.NotEmpty(t, got.ContentHash)
	assert.NotEmpty(t, got.LocalCachePath)
}

func TestBuildStoreUnknownUploaderFails(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	rt, err := cfg.BuildStore(context.Background(), nil)
	require.NoError(t, err)
	defer rt.Close()

	asset, err := rt.Store.Registry().Create(context.Background(), simpleasset.CreateAssetRequest{
		OriginProviderID:      "pixverse",
		OriginProviderAssetID: "pv_1",
		MediaType:             simpleasset.MediaTypeImage,
	})
	require.NoError(t, err)

	_, err = rt.Store.UploadCache().GetAssetForProvider(context.Background(), asset.ID, "sora")
	assert.True(t, errors.Is(err, simpleasset.ErrUploaderNotFound), "got %v", err)
}

func TestMigrateSQLite(t *testing.T) {
	cfg, err := config.Load(config.WithDatabase(config.DatabaseSQLite, filepath.Join(t.TempDir(), "assets.db")))
	require.NoError(t, err)

	applied, err := cfg.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestBuildStoreEventLogging(t *testing.T) {
	cfg, err := config.Load(config.WithEventLogging(true))
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rt, err := cfg.BuildStore(context.Background(), logger)
	require.NoError(t, err)
	defer rt.Close()

	_, err = rt.Store.Registry().Create(context.Background(), simpleasset.CreateAssetRequest{
		OriginProviderID:      "pixverse",
		OriginProviderAssetID: "pv_logged",
		MediaType:             simpleasset.MediaTypeVideo,
	})
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.Contains(out, "component=events"), out)
	assert.True(t, strings.Contains(out, "origin_provider_asset_id=pv_logged"), out)
}

func TestBuildStoreSQLiteIsExclusive(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Load(config.WithDatabase(config.DatabaseSQLite, filepath.Join(t.TempDir(), "assets.db")))
	require.NoError(t, err)

	rt, err := cfg.BuildStore(ctx, nil)
	require.NoError(t, err)

	_, err = cfg.BuildStore(ctx, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use by another process")

	require.NoError(t, rt.Close())
	rt, err = cfg.BuildStore(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, rt.Close())
}

func TestExclusive(t *testing.T) {
	tests := []struct {
		name      string
		database  string
		url       string
		storage   config.StorageConfig
		exclusive bool
	}{
		{"memory", config.DatabaseMemory, "", config.StorageConfig{Type: config.StorageMemory}, true},
		{"sqlite with s3", config.DatabaseSQLite, "/tmp/assets.db", config.StorageConfig{Type: config.StorageS3, Bucket: "b"}, true},
		{"postgres with fs", config.DatabasePostgres, "postgres://localhost/assets", config.StorageConfig{Type: config.StorageFS, BaseDir: "/tmp/cache"}, true},
		{"postgres with s3", config.DatabasePostgres, "postgres://localhost/assets", config.StorageConfig{Type: config.StorageS3, Bucket: "b"}, false},
		{"postgres with memory", config.DatabasePostgres, "postgres://localhost/assets", config.StorageConfig{Type: config.StorageMemory}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load(config.WithDatabase(tt.database, tt.url), config.WithStorage(tt.storage))
			require.NoError(t, err)
			assert.Equal(t, tt.exclusive, cfg.Exclusive())
		})
	}
}
