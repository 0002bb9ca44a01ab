package simpleasset_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

func TestCreateCachesOriginMapping(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t)

	id, ok := asset.ProviderUploads.Get(pixverse)
	require.True(t, ok)
	assert.Equal(t, asset.OriginProviderAssetID, id)
	assert.Equal(t, simpleasset.CacheStatusAbsent, asset.CacheStatus)
	assert.Empty(t, asset.LocalCachePath)
	assert.Empty(t, asset.ContentHash)
	assert.Equal(t, int32(0), f.origin.hits.Load())
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     simpleasset.CreateAssetRequest
		wantErr error
	}{
		{
			name:    "missing origin id",
			req:     simpleasset.CreateAssetRequest{OriginProviderID: pixverse, MediaType: simpleasset.MediaTypeVideo},
			wantErr: simpleasset.ErrInvalidAsset,
		},
		{
			name:    "bad media type",
			req:     simpleasset.CreateAssetRequest{OriginProviderID: pixverse, OriginProviderAssetID: "pv_1", MediaType: "hologram"},
			wantErr: simpleasset.ErrInvalidAsset,
		},
		{
			name:    "unknown provider",
			req:     simpleasset.CreateAssetRequest{OriginProviderID: "luma", OriginProviderAssetID: "l_1", MediaType: simpleasset.MediaTypeVideo},
			wantErr: simpleasset.ErrUnknownProvider,
		},
		{
			name:    "malformed provider",
			req:     simpleasset.CreateAssetRequest{OriginProviderID: "Pix Verse", OriginProviderAssetID: "p_1", MediaType: simpleasset.MediaTypeVideo},
			wantErr: simpleasset.ErrInvalidProviderID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.Registry().Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateDuplicateOrigin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asset := f.createAsset(t)

	_, err := f.store.Registry().Create(ctx, simpleasset.CreateAssetRequest{
		OriginProviderID:      pixverse,
		OriginProviderAssetID: asset.OriginProviderAssetID,
		MediaType:             simpleasset.MediaTypeVideo,
	})
	require.ErrorIs(t, err, simpleasset.ErrDuplicateOrigin)
	var dup *simpleasset.DuplicateOriginError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, asset.ID, dup.ExistingID)

	existing, err := f.store.Registry().GetByOrigin(ctx, pixverse, asset.OriginProviderAssetID)
	require.NoError(t, err)
	assert.Equal(t, asset.ID, existing.ID)
}

func TestOriginMappingCannotChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asset := f.createAsset(t)
	reg := f.store.Registry()

	err := reg.RecordProviderUpload(ctx, asset.ID, pixverse, "pv_other")
	assert.ErrorIs(t, err, simpleasset.ErrInconsistentCache)
	assert.Equal(t, simpleasset.ReasonInconsistentCache, simpleasset.FailureReason(err))

	require.NoError(t, reg.RecordProviderUpload(ctx, asset.ID, pixverse, asset.OriginProviderAssetID))

	require.NoError(t, reg.RecordProviderUpload(ctx, asset.ID, sora, "sora_1"))
	require.NoError(t, reg.RecordProviderUpload(ctx, asset.ID, sora, "sora_1"))
	assert.ErrorIs(t, reg.RecordProviderUpload(ctx, asset.ID, sora, "sora_2"), simpleasset.ErrInconsistentCache)
	assert.ErrorIs(t, reg.RecordProviderUpload(ctx, asset.ID, sora, ""), simpleasset.ErrInconsistentCache)

	stored := f.get(t, asset.ID)
	assert.Equal(t, simpleasset.ProviderUploads{pixverse: asset.OriginProviderAssetID, sora: "sora_1"}, stored.ProviderUploads)
	require.NoError(t, stored.Validate())
}

func TestUpdateCacheStateTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.store.Registry()
	present := simpleasset.CacheState{Status: simpleasset.CacheStatusPresent, Path: "k", Hash: "h", Size: 3}
	absent := simpleasset.CacheState{Status: simpleasset.CacheStatusAbsent}
	fetching := simpleasset.CacheState{Status: simpleasset.CacheStatusFetching}

	asset := f.createAsset(t)
	_, err := reg.UpdateCacheState(ctx, asset.ID, present)
	var te *simpleasset.CacheTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, simpleasset.CacheStatusAbsent, te.From)
	assert.Equal(t, simpleasset.CacheStatusPresent, te.To)

	_, err = reg.UpdateCacheState(ctx, asset.ID, absent)
	assert.ErrorIs(t, err, simpleasset.ErrInvalidCacheTransition)

	_, err = reg.UpdateCacheState(ctx, asset.ID, fetching)
	require.NoError(t, err)
	_, err = reg.UpdateCacheState(ctx, asset.ID, fetching)
	assert.ErrorIs(t, err, simpleasset.ErrInvalidCacheTransition)

	updated, err := reg.UpdateCacheState(ctx, asset.ID, present)
	require.NoError(t, err)
	assert.Equal(t, "k", updated.LocalCachePath)
	assert.Equal(t, "h", updated.ContentHash)
	assert.Equal(t, "h", updated.OriginContentHash)

	updated, err = reg.UpdateCacheState(ctx, asset.ID, absent)
	require.NoError(t, err)
	assert.Empty(t, updated.LocalCachePath)
	assert.Empty(t, updated.ContentHash)
	assert.Equal(t, "h", updated.OriginContentHash)

	_, err = reg.UpdateCacheState(ctx, asset.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusPresent})
	assert.ErrorIs(t, err, simpleasset.ErrInvalidCacheState)
	_, err = reg.UpdateCacheState(ctx, asset.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusFetching, Path: "k"})
	assert.ErrorIs(t, err, simpleasset.ErrInvalidCacheState)
}

func TestSetClassification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asset := f.createAsset(t)

	err := f.store.Registry().SetClassification(ctx, asset.ID, simpleasset.Classification{
		Metadata:      map[string]interface{}{"labels": []string{"outdoor"}},
		Searchable:    true,
		AgeRestricted: true,
	})
	require.NoError(t, err)

	stored := f.get(t, asset.ID)
	assert.True(t, stored.Searchable)
	assert.True(t, stored.AgeRestricted)
	assert.Contains(t, stored.Metadata, "labels")
}

func TestDeleteTombstones(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asset := f.createAsset(t)

	require.NoError(t, f.store.Registry().Delete(ctx, asset.ID))
	_, err := f.store.Registry().Get(ctx, asset.ID)
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)
	assert.ErrorIs(t, f.store.Registry().Delete(ctx, asset.ID), simpleasset.ErrAssetNotFound)
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.createAsset(t)
	child := f.createAsset(t)

	_, err := f.store.UploadCache().GetAssetForProvider(ctx, parent.ID, sora)
	require.NoError(t, err)
	require.Equal(t, 1, f.blobs.Len())

	require.NoError(t, f.store.Lineage().AddEdge(ctx, simpleasset.LineageEdge{
		ChildID: child.ID,
		Parents: []simpleasset.LineageParent{{ParentID: parent.ID, Role: "source"}},
	}))
	err = f.store.Registry().Purge(ctx, parent.ID)
	assert.ErrorIs(t, err, simpleasset.ErrAssetReferenced)

	require.NoError(t, f.store.Lineage().RemoveEdge(ctx, child.ID, parent.ID))
	require.NoError(t, f.store.Registry().Delete(ctx, parent.ID))
	require.NoError(t, f.store.Registry().Purge(ctx, parent.ID))
	assert.Equal(t, 0, f.blobs.Len())

	err = f.store.Registry().Purge(ctx, parent.ID)
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)
	err = f.store.Registry().Purge(ctx, uuid.New())
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)
}
