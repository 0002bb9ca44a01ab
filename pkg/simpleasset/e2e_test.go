package simpleasset_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// A pixverse generation is reused as input to a sora job, and the sora
// output is recorded as derived from it.
func TestPixverseToSora(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	clip, err := f.store.Registry().Create(ctx, simpleasset.CreateAssetRequest{
		OwnerID:               owner,
		OriginProviderID:      pixverse,
		OriginProviderAssetID: "pv_123",
		OriginRemoteURL:       f.origin.URL(),
		MediaType:             simpleasset.MediaTypeVideo,
		MimeType:              "video/mp4",
		DurationSeconds:       5,
		Width:                 1280,
		Height:                720,
	})
	require.NoError(t, err)

	soraID, err := f.store.UploadCache().GetAssetForProvider(ctx, clip.ID, sora)
	require.NoError(t, err)
	assert.Equal(t, "sora_000001", soraID)

	stored := f.get(t, clip.ID)
	assert.Equal(t, simpleasset.ProviderUploads{pixverse: "pv_123", sora: soraID}, stored.ProviderUploads)
	assert.Equal(t, simpleasset.CacheStatusPresent, stored.CacheStatus)
	assert.Equal(t, sha(testContent), stored.ContentHash)
	assert.Equal(t, int64(len(testContent)), stored.FileSize)

	uploads := f.sora.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, clip.ID, uploads[0].AssetID)
	assert.Equal(t, stored.ContentHash, uploads[0].Hash)

	extended, err := f.store.Registry().Create(ctx, simpleasset.CreateAssetRequest{
		OwnerID:               owner,
		OriginProviderID:      sora,
		OriginProviderAssetID: "sora_gen_9",
		OriginRemoteURL:       f.origin.URL(),
		MediaType:             simpleasset.MediaTypeVideo,
	})
	require.NoError(t, err)
	frame := 120
	require.NoError(t, f.store.Lineage().AddEdge(ctx, simpleasset.LineageEdge{
		ChildID: extended.ID,
		Parents: []simpleasset.LineageParent{{
			ParentID:       clip.ID,
			Role:           "extend",
			ParentFrame:    &frame,
			Transformation: map[string]interface{}{"op": "extend", "seconds": 5},
		}},
	}))

	var ancestors []*simpleasset.Asset
	for a, err := range f.store.Lineage().Ancestors(ctx, extended.ID, 0) {
		require.NoError(t, err)
		ancestors = append(ancestors, a)
	}
	require.Len(t, ancestors, 1)
	assert.Equal(t, clip.ID, ancestors[0].ID)

	parents, err := f.store.Lineage().Parents(ctx, extended.ID)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, "extend", parents[0].Role)
	assert.Equal(t, 120, *parents[0].ParentFrame)

	again, err := f.store.UploadCache().GetAssetForProvider(ctx, clip.ID, sora)
	require.NoError(t, err)
	assert.Equal(t, soraID, again)
	assert.Equal(t, 1, f.sora.Calls())
	assert.Equal(t, int32(1), f.origin.hits.Load())
}
