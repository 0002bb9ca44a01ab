package presets_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/presets"
	"github.com/tendant/simple-asset/pkg/simpleasset/providers/fake"
)

func originServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("frames"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewDevelopment(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "dev-data")
	origin := originServer(t)

	store, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(dir))
	require.NoError(t, err)

	assert.Equal(t, []simpleasset.ProviderID{"luma", "pixverse", "runway", "sora"}, store.Uploaders().Providers())

	asset, err := store.Registry().Create(ctx, simpleasset.CreateAssetRequest{
		OwnerID:               uuid.New(),
		OriginProviderID:      "pixverse",
		OriginProviderAssetID: "pv_dev",
		OriginRemoteURL:       origin.URL,
		MediaType:             simpleasset.MediaTypeVideo,
	})
	require.NoError(t, err)

	id, err := store.UploadCache().GetAssetForProvider(ctx, asset.ID, "runway")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = os.Stat(dir)
	require.NoError(t, err)

	cleanup()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "dev storage should be removed after cleanup")
}

func TestNewTesting(t *testing.T) {
	ctx := context.Background()
	origin := originServer(t)
	sora := fake.NewProvider("sora")

	store := presets.NewTesting(t, presets.WithTestUploaders(sora))
	asset, err := store.Registry().Create(ctx, simpleasset.CreateAssetRequest{
		OriginProviderID:      "pixverse",
		OriginProviderAssetID: "pv_test",
		OriginRemoteURL:       origin.URL,
		MediaType:             simpleasset.MediaTypeImage,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.UploadCache().GetAssetForProvider(ctx, asset.ID, "sora")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, sora.Calls())
}

func TestNewTestingIsolated(t *testing.T) {
	ctx := context.Background()
	req := simpleasset.CreateAssetRequest{
		OriginProviderID:      "pixverse",
		OriginProviderAssetID: "pv_same",
		MediaType:             simpleasset.MediaTypeAudio,
	}

	_, err := presets.NewTesting(t).Registry().Create(ctx, req)
	require.NoError(t, err)
	_, err = presets.NewTesting(t).Registry().Create(ctx, req)
	require.NoError(t, err)
}

func TestNewProductionRejectsMemory(t *testing.T) {
	ctx := context.Background()

	t.Setenv("SIMPLEASSET_DATABASE_URL", "memory")
	_, err := presets.NewProduction(ctx, nil)
	require.Error(t, err)

	t.Setenv("SIMPLEASSET_DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "assets.db"))
	t.Setenv("SIMPLEASSET_STORAGE_URL", "memory://")
	_, err = presets.NewProduction(ctx, nil)
	require.Error(t, err)
}

func TestNewProduction(t *testing.T) {
	t.Setenv("SIMPLEASSET_DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "assets.db"))
	t.Setenv("SIMPLEASSET_STORAGE_URL", "file://"+t.TempDir())

	rt, err := presets.NewProduction(context.Background(), nil)
	require.NoError(t, err)
	defer rt.Close()
	assert.NotNil(t, rt.Store)
}
