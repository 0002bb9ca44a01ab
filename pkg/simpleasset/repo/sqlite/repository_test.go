package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/repotest"
	"github.com/tendant/simple-asset/pkg/simpleasset/repo/sqlite"
)

func openRepo(t *testing.T, path string) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepositoryContract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) simpleasset.Repository {
		return openRepo(t, filepath.Join(t.TempDir(), "assets.db"))
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	repo := openRepo(t, filepath.Join(t.TempDir(), "assets.db"))

	applied, err := repo.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestRowsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "assets.db")

	repo, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	asset := repotest.NewAsset()
	require.NoError(t, repo.CreateAsset(ctx, asset))
	require.NoError(t, repo.PutProviderUpload(ctx, asset.ID, "sora", "sora_000001", time.Now()))
	require.NoError(t, repo.Close())

	reopened := openRepo(t, path)
	got, err := reopened.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, "sora_000001", got.ProviderUploads["sora"])
	assert.Equal(t, path, reopened.Path())
}
