// Package repotest is the behavioural contract every simpleasset.Repository
// implementation must satisfy. Backends call Run from their own tests.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Factory returns an empty repository for one subtest.
type Factory func(t *testing.T) simpleasset.Repository

// Run executes the contract against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, repo simpleasset.Repository)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"DuplicateOrigin", testDuplicateOrigin},
		{"ProviderUploads", testProviderUploads},
		{"CacheTransitions", testCacheTransitions},
		{"ConcurrentTransition", testConcurrentTransition},
		{"TransitionExpectPath", testTransitionExpectPath},
		{"ListByCacheStatus", testListByCacheStatus},
		{"Tombstone", testTombstone},
		{"Classification", testClassification},
		{"Purge", testPurge},
		{"LineageLinks", testLineageLinks},
		{"BranchPoints", testBranchPoints},
		{"BranchVariants", testBranchVariants},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newRepo(t))
		})
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NewAsset builds a valid absent asset with a unique origin.
func NewAsset() *simpleasset.Asset {
	at := now()
	origin := "pv_" + uuid.NewString()
	return &simpleasset.Asset{
		ID:                    uuid.New(),
		OwnerID:               uuid.New(),
		MediaType:             simpleasset.MediaTypeVideo,
		DurationSeconds:       4.5,
		Width:                 1920,
		Height:                1080,
		MimeType:              "video/mp4",
		FileSize:              2048,
		OriginProviderID:      "pixverse",
		OriginProviderAssetID: origin,
		OriginRemoteURL:       "https://cdn.example.com/" + origin,
		ProviderUploads:       simpleasset.ProviderUploads{"pixverse": origin},
		CacheStatus:           simpleasset.CacheStatusAbsent,
		LastAccessedAt:        at,
		CreatedAt:             at,
		UpdatedAt:             at,
	}
}

func create(t *testing.T, repo simpleasset.Repository) *simpleasset.Asset {
	t.Helper()
	a := NewAsset()
	require.NoError(t, repo.CreateAsset(context.Background(), a))
	return a
}

func testCreateAndGet(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	a := NewAsset()
	expires := now().Add(time.Hour)
	a.OriginURLExpiresAt = &expires
	a.Metadata = map[string]interface{}{"prompt": "a cat"}
	require.NoError(t, repo.CreateAsset(ctx, a))

	got, err := repo.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.OwnerID, got.OwnerID)
	assert.Equal(t, a.MediaType, got.MediaType)
	assert.Equal(t, a.Width, got.Width)
	assert.InDelta(t, a.DurationSeconds, got.DurationSeconds, 1e-9)
	assert.Equal(t, a.OriginRemoteURL, got.OriginRemoteURL)
	assert.Equal(t, a.ProviderUploads, got.ProviderUploads)
	assert.Equal(t, simpleasset.CacheStatusAbsent, got.CacheStatus)
	assert.Equal(t, "a cat", got.Metadata["prompt"])
	require.NotNil(t, got.OriginURLExpiresAt)
	assert.WithinDuration(t, expires, *got.OriginURLExpiresAt, time.Millisecond)
	assert.WithinDuration(t, a.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.Nil(t, got.DeletedAt)

	byOrigin, err := repo.GetAssetByOrigin(ctx, a.OriginProviderID, a.OriginProviderAssetID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byOrigin.ID)

	_, err = repo.GetAsset(ctx, uuid.New())
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)
	_, err = repo.GetAssetByOrigin(ctx, "pixverse", "missing")
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)

	bad := NewAsset()
	bad.ProviderUploads = simpleasset.ProviderUploads{"pixverse": "something else"}
	assert.Error(t, repo.CreateAsset(ctx, bad))
}

func testDuplicateOrigin(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	a := create(t, repo)

	dup := NewAsset()
	dup.OriginProviderAssetID = a.OriginProviderAssetID
	dup.ProviderUploads = simpleasset.ProviderUploads{"pixverse": a.OriginProviderAssetID}
	err := repo.CreateAsset(ctx, dup)
	require.ErrorIs(t, err, simpleasset.ErrDuplicateOrigin)
	var de *simpleasset.DuplicateOriginError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, a.ID, de.ExistingID)
}

func testProviderUploads(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	a := create(t, repo)

	require.NoError(t, repo.PutProviderUpload(ctx, a.ID, "sora", "sora_1", now()))
	require.NoError(t, repo.PutProviderUpload(ctx, a.ID, "sora", "sora_1", now()))
	assert.ErrorIs(t, repo.PutProviderUpload(ctx, a.ID, "sora", "sora_2", now()), simpleasset.ErrInconsistentCache)
	assert.ErrorIs(t, repo.PutProviderUpload(ctx, a.ID, "pixverse", "other", now()), simpleasset.ErrInconsistentCache)
	assert.ErrorIs(t, repo.PutProviderUpload(ctx, uuid.New(), "sora", "x", now()), simpleasset.ErrAssetNotFound)

	got, err := repo.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, simpleasset.ProviderUploads{"pixverse": a.OriginProviderAssetID, "sora": "sora_1"}, got.ProviderUploads)
}

func testCacheTransitions(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	a := create(t, repo)

	_, err := repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusPresent, Path: "p", Hash: "h"}, now())
	var te *simpleasset.CacheTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, simpleasset.CacheStatusAbsent, te.From)

	got, err := repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusFetching}, now())
	require.NoError(t, err)
	assert.Equal(t, simpleasset.CacheStatusFetching, got.CacheStatus)

	got, err = repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusPresent, Path: "p", Hash: "h", Size: 99}, now())
	require.NoError(t, err)
	assert.Equal(t, "p", got.LocalCachePath)
	assert.Equal(t, "h", got.ContentHash)
	assert.Equal(t, "h", got.OriginContentHash)
	assert.Equal(t, int64(99), got.FileSize)

	got, err = repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusAbsent}, now())
	require.NoError(t, err)
	assert.Empty(t, got.LocalCachePath)
	assert.Empty(t, got.ContentHash)
	assert.Equal(t, "h", got.OriginContentHash)

	stored, err := repo.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, simpleasset.CacheStatusAbsent, stored.CacheStatus)
	require.NoError(t, stored.Validate())

	_, err = repo.TransitionCacheState(ctx, uuid.New(), simpleasset.CacheState{Status: simpleasset.CacheStatusFetching}, now())
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)
}

func testConcurrentTransition(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	a := create(t, repo)

	const writers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusFetching}, now())
			if err == nil {
				mu.Lock()
				won++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, simpleasset.ErrInvalidCacheTransition)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func testTransitionExpectPath(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	a := create(t, repo)

	_, err := repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusFetching}, now())
	require.NoError(t, err)
	_, err = repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusPresent, Path: "refetched", Hash: "h2"}, now())
	require.NoError(t, err)

	// A caller holding the old path must not clear the new bytes.
	_, err = repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusAbsent, ExpectPath: "original"}, now())
	var te *simpleasset.CacheTransitionError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, simpleasset.ErrInvalidCacheTransition)

	stored, err := repo.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, simpleasset.CacheStatusPresent, stored.CacheStatus)
	assert.Equal(t, "refetched", stored.LocalCachePath)

	got, err := repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusAbsent, ExpectPath: "refetched"}, now())
	require.NoError(t, err)
	assert.Equal(t, simpleasset.CacheStatusAbsent, got.CacheStatus)
	assert.Empty(t, got.LocalCachePath)
}

func testListByCacheStatus(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	base := now()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		a := create(t, repo)
		ids = append(ids, a.ID)
		_, err := repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusFetching}, base)
		require.NoError(t, err)
		_, err = repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusPresent, Path: a.ID.String(), Hash: "h"}, base)
		require.NoError(t, err)
	}
	// Touch in reverse so the last created is the least recently used.
	for i := len(ids) - 1; i >= 0; i-- {
		require.NoError(t, repo.TouchAsset(ctx, ids[i], base.Add(time.Duration(len(ids)-i)*time.Second)))
	}
	// Touch never moves the clock backwards.
	require.NoError(t, repo.TouchAsset(ctx, ids[0], base.Add(-time.Hour)))
	create(t, repo)

	present, err := repo.ListAssetsByCacheStatus(ctx, simpleasset.CacheStatusPresent)
	require.NoError(t, err)
	require.Len(t, present, 3)
	assert.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, []uuid.UUID{present[0].ID, present[1].ID, present[2].ID})

	absent, err := repo.ListAssetsByCacheStatus(ctx, simpleasset.CacheStatusAbsent)
	require.NoError(t, err)
	assert.Len(t, absent, 1)
}

func testTombstone(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	a := create(t, repo)
	_, err := repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusFetching}, now())
	require.NoError(t, err)
	_, err = repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusPresent, Path: "p", Hash: "h"}, now())
	require.NoError(t, err)

	require.NoError(t, repo.TombstoneAsset(ctx, a.ID, now()))
	_, err = repo.GetAsset(ctx, a.ID)
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)
	_, err = repo.GetAssetByOrigin(ctx, a.OriginProviderID, a.OriginProviderAssetID)
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)
	assert.ErrorIs(t, repo.TombstoneAsset(ctx, a.ID, now()), simpleasset.ErrAssetNotFound)
	assert.ErrorIs(t, repo.TouchAsset(ctx, a.ID, now()), simpleasset.ErrAssetNotFound)

	// Tombstoned bytes are still visible to eviction.
	present, err := repo.ListAssetsByCacheStatus(ctx, simpleasset.CacheStatusPresent)
	require.NoError(t, err)
	require.Len(t, present, 1)
	assert.NotNil(t, present[0].DeletedAt)

	_, err = repo.TransitionCacheState(ctx, a.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusAbsent}, now())
	require.NoError(t, err)
}

func testClassification(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	a := create(t, repo)

	require.NoError(t, repo.SetClassification(ctx, a.ID, simpleasset.Classification{
		Metadata:      map[string]interface{}{"nsfw_score": 0.1},
		Searchable:    true,
		AgeRestricted: false,
	}, now()))
	got, err := repo.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Searchable)
	assert.False(t, got.AgeRestricted)
	assert.InDelta(t, 0.1, got.Metadata["nsfw_score"], 1e-9)

	assert.ErrorIs(t, repo.SetClassification(ctx, uuid.New(), simpleasset.Classification{}, now()), simpleasset.ErrAssetNotFound)
}

func testPurge(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	parent, child := create(t, repo), create(t, repo)
	require.NoError(t, repo.CreateLineageLinks(ctx, []*simpleasset.LineageLink{{ChildID: child.ID, ParentID: parent.ID, Role: "source", CreatedAt: now()}}))

	n, err := repo.CountAssetReferences(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = repo.PurgeAsset(ctx, parent.ID)
	assert.ErrorIs(t, err, simpleasset.ErrAssetReferenced)

	require.NoError(t, repo.DeleteLineageLink(ctx, child.ID, parent.ID))
	require.NoError(t, repo.TombstoneAsset(ctx, parent.ID, now()))
	purged, err := repo.PurgeAsset(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, purged.ID)

	_, err = repo.PurgeAsset(ctx, parent.ID)
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)

	// The origin pair is free again.
	again := NewAsset()
	again.OriginProviderAssetID = parent.OriginProviderAssetID
	again.ProviderUploads = simpleasset.ProviderUploads{"pixverse": parent.OriginProviderAssetID}
	require.NoError(t, repo.CreateAsset(ctx, again))
}

func testLineageLinks(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	a, b, c := create(t, repo), create(t, repo), create(t, repo)
	frame := 12
	at := 1.5

	require.NoError(t, repo.CreateLineageLinks(ctx, []*simpleasset.LineageLink{
		{ChildID: c.ID, ParentID: a.ID, Role: "first", ParentFrame: &frame, SequenceOrder: 0, CreatedAt: now()},
		{ChildID: c.ID, ParentID: b.ID, Role: "second", ParentTime: &at, SequenceOrder: 1, Transformation: map[string]interface{}{"op": "concat"}, CreatedAt: now()},
	}))

	// One duplicate in a batch rejects the whole batch.
	err := repo.CreateLineageLinks(ctx, []*simpleasset.LineageLink{
		{ChildID: b.ID, ParentID: a.ID, Role: "new", CreatedAt: now()},
		{ChildID: c.ID, ParentID: a.ID, Role: "dup", CreatedAt: now()},
	})
	assert.ErrorIs(t, err, simpleasset.ErrDuplicateLineageLink)

	links, err := repo.ListLineageLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	byParent := map[uuid.UUID]*simpleasset.LineageLink{}
	for _, l := range links {
		byParent[l.ParentID] = l
	}
	require.NotNil(t, byParent[a.ID].ParentFrame)
	assert.Equal(t, 12, *byParent[a.ID].ParentFrame)
	require.NotNil(t, byParent[b.ID].ParentTime)
	assert.InDelta(t, 1.5, *byParent[b.ID].ParentTime, 1e-9)
	assert.Equal(t, "concat", byParent[b.ID].Transformation["op"])
	assert.Equal(t, 1, byParent[b.ID].SequenceOrder)

	err = repo.CreateLineageLinks(ctx, []*simpleasset.LineageLink{{ChildID: c.ID, ParentID: uuid.New(), CreatedAt: now()}})
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)

	require.NoError(t, repo.DeleteLineageLink(ctx, c.ID, a.ID))
	assert.ErrorIs(t, repo.DeleteLineageLink(ctx, c.ID, a.ID), simpleasset.ErrLineageLinkNotFound)

	n, err := repo.CountAssetReferences(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testBranchPoints(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	src, other := create(t, repo), create(t, repo)
	at := 3.25

	bp := &simpleasset.BranchPoint{ID: uuid.New(), SourceAssetID: src.ID, BranchTime: &at, Name: "Door", Tag: "door", Description: "knock or leave", CreatedAt: now()}
	require.NoError(t, repo.CreateBranchPoint(ctx, bp))

	got, err := repo.GetBranchPoint(ctx, bp.ID)
	require.NoError(t, err)
	assert.Equal(t, "door", got.Tag)
	assert.Equal(t, "knock or leave", got.Description)
	require.NotNil(t, got.BranchTime)
	assert.InDelta(t, 3.25, *got.BranchTime, 1e-9)
	assert.Nil(t, got.BranchFrame)

	err = repo.CreateBranchPoint(ctx, &simpleasset.BranchPoint{ID: uuid.New(), SourceAssetID: src.ID, Tag: "door", CreatedAt: now()})
	assert.ErrorIs(t, err, simpleasset.ErrDuplicateBranchTag)
	require.NoError(t, repo.CreateBranchPoint(ctx, &simpleasset.BranchPoint{ID: uuid.New(), SourceAssetID: other.ID, Tag: "door", CreatedAt: now()}))
	err = repo.CreateBranchPoint(ctx, &simpleasset.BranchPoint{ID: uuid.New(), SourceAssetID: uuid.New(), Tag: "x", CreatedAt: now()})
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)

	_, err = repo.GetBranchPoint(ctx, uuid.New())
	assert.ErrorIs(t, err, simpleasset.ErrBranchNotFound)

	list, err := repo.ListBranchPoints(ctx, []uuid.UUID{src.ID, other.ID})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	list, err = repo.ListBranchPoints(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := repo.CountAssetReferences(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testBranchVariants(t *testing.T, repo simpleasset.Repository) {
	ctx := context.Background()
	src, v1, v2, v3 := create(t, repo), create(t, repo), create(t, repo), create(t, repo)
	bp := &simpleasset.BranchPoint{ID: uuid.New(), SourceAssetID: src.ID, Tag: "fork", CreatedAt: now()}
	require.NoError(t, repo.CreateBranchPoint(ctx, bp))

	first := &simpleasset.BranchVariant{ID: uuid.New(), BranchID: bp.ID, VariantAssetID: v2.ID, Name: "B", Tag: "b", CreatedAt: now()}
	second := &simpleasset.BranchVariant{ID: uuid.New(), BranchID: bp.ID, VariantAssetID: v1.ID, Name: "A", Tag: "a", CreatedAt: now()}
	require.NoError(t, repo.CreateBranchVariant(ctx, first))
	require.NoError(t, repo.CreateBranchVariant(ctx, second))
	assert.Less(t, first.Position, second.Position)

	err := repo.CreateBranchVariant(ctx, &simpleasset.BranchVariant{ID: uuid.New(), BranchID: bp.ID, VariantAssetID: v3.ID, Tag: "a", CreatedAt: now()})
	assert.ErrorIs(t, err, simpleasset.ErrDuplicateVariantTag)
	err = repo.CreateBranchVariant(ctx, &simpleasset.BranchVariant{ID: uuid.New(), BranchID: bp.ID, VariantAssetID: v1.ID, Tag: "c", CreatedAt: now()})
	assert.ErrorIs(t, err, simpleasset.ErrDuplicateVariantAsset)
	err = repo.CreateBranchVariant(ctx, &simpleasset.BranchVariant{ID: uuid.New(), BranchID: uuid.New(), VariantAssetID: v3.ID, Tag: "c", CreatedAt: now()})
	assert.ErrorIs(t, err, simpleasset.ErrBranchNotFound)

	variants, err := repo.ListBranchVariants(ctx, []uuid.UUID{bp.ID})
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "b", variants[0].Tag)
	assert.Equal(t, "a", variants[1].Tag)

	require.NoError(t, repo.DeleteBranchVariant(ctx, first.ID))
	assert.ErrorIs(t, repo.DeleteBranchVariant(ctx, first.ID), simpleasset.ErrVariantNotFound)

	third := &simpleasset.BranchVariant{ID: uuid.New(), BranchID: bp.ID, VariantAssetID: v3.ID, Tag: "b", CreatedAt: now()}
	require.NoError(t, repo.CreateBranchVariant(ctx, third))
	assert.Greater(t, third.Position, second.Position)

	n, err := repo.CountAssetReferences(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
