package simpleasset_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

func TestJanitor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := simpleasset.NewJanitor(f.store.Evictor(), "not a schedule", 1, discardLogger())
	assert.Error(t, err)
	_, err = simpleasset.NewJanitor(f.store.Evictor(), "@hourly", 0, discardLogger())
	assert.Error(t, err)

	j, err := simpleasset.NewJanitor(f.store.Evictor(), "@every 1h", 1<<30, discardLogger())
	require.NoError(t, err)

	asset := f.createAsset(t)
	_, err = f.store.UploadCache().GetAssetForProvider(ctx, asset.ID, sora)
	require.NoError(t, err)

	evicted, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	runCtx, cancel := context.WithCancel(ctx)
	j.Start(runCtx)
	cancel()
	j.Stop()
}
