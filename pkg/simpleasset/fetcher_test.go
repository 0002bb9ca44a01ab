package simpleasset_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
)

func newFetcher(blobs simpleasset.BlobStore, opts ...simpleasset.FetcherOption) *simpleasset.HTTPFetcher {
	base := []simpleasset.FetcherOption{
		simpleasset.WithFetchRetries(2, time.Millisecond),
		simpleasset.WithFetcherLogger(discardLogger()),
	}
	return simpleasset.NewHTTPFetcher(blobs, append(base, opts...)...)
}

func TestFetchStoresAndHashes(t *testing.T) {
	o := newOrigin(t, testContent)
	blobs := memorystorage.New()
	asset := &simpleasset.Asset{ID: uuid.New(), OriginRemoteURL: o.URL()}

	res, err := newFetcher(blobs).Fetch(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, sha(testContent), res.Hash)
	assert.Equal(t, int64(len(testContent)), res.Size)
	assert.Equal(t, "video/mp4", res.MimeType)
	assert.Contains(t, res.Path, asset.ID.String()+"/")

	meta, err := blobs.GetObjectMeta(context.Background(), res.Path)
	require.NoError(t, err)
	assert.Equal(t, res.Size, meta.Size)
}

func TestFetchExpiredURLFailsFast(t *testing.T) {
	o := newOrigin(t, testContent)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Minute)
	asset := &simpleasset.Asset{ID: uuid.New(), OriginRemoteURL: o.URL(), OriginURLExpiresAt: &expired}

	f := newFetcher(memorystorage.New(), simpleasset.WithFetcherClock(func() time.Time { return now }))
	_, err := f.Fetch(context.Background(), asset)
	assert.ErrorIs(t, err, simpleasset.ErrOriginUnavailable)
	assert.Equal(t, int32(0), o.hits.Load())

	_, err = f.Fetch(context.Background(), &simpleasset.Asset{ID: uuid.New()})
	assert.ErrorIs(t, err, simpleasset.ErrOriginUnavailable)
}

func TestFetchStatusHandling(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantErr  error
		wantHits int32
	}{
		{"not found", http.StatusNotFound, simpleasset.ErrOriginUnavailable, 1},
		{"forbidden", http.StatusForbidden, simpleasset.ErrOriginUnavailable, 1},
		{"gone", http.StatusGone, simpleasset.ErrOriginUnavailable, 1},
		{"server error", http.StatusInternalServerError, nil, 3},
		{"rate limited", http.StatusTooManyRequests, nil, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrigin(t, testContent)
			o.set(nil, tt.status)
			blobs := memorystorage.New()

			_, err := newFetcher(blobs).Fetch(context.Background(), &simpleasset.Asset{ID: uuid.New(), OriginRemoteURL: o.URL()})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NotErrorIs(t, err, simpleasset.ErrOriginUnavailable)
			}
			assert.Equal(t, tt.wantHits, o.hits.Load())
			assert.Equal(t, 0, blobs.Len())
		})
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(testContent)
	}))
	defer srv.Close()

	res, err := newFetcher(memorystorage.New()).Fetch(context.Background(), &simpleasset.Asset{ID: uuid.New(), OriginRemoteURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, sha(testContent), res.Hash)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchIntegrityMismatchDiscardsBytes(t *testing.T) {
	o := newOrigin(t, testContent)
	blobs := memorystorage.New()
	asset := &simpleasset.Asset{ID: uuid.New(), OriginRemoteURL: o.URL(), OriginContentHash: sha([]byte("something else"))}

	_, err := newFetcher(blobs).Fetch(context.Background(), asset)
	var ie *simpleasset.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, sha(testContent), ie.Actual)
	assert.Equal(t, 0, blobs.Len())
}

func TestVerify(t *testing.T) {
	o := newOrigin(t, testContent)
	blobs := memorystorage.New()
	f := newFetcher(blobs)
	asset := &simpleasset.Asset{ID: uuid.New(), OriginRemoteURL: o.URL()}

	res, err := f.Fetch(context.Background(), asset)
	require.NoError(t, err)
	asset.LocalCachePath = res.Path
	asset.ContentHash = res.Hash
	require.NoError(t, f.Verify(context.Background(), asset))

	blobs.Corrupt(res.Path, []byte("flipped"))
	assert.ErrorIs(t, f.Verify(context.Background(), asset), simpleasset.ErrIntegrityMismatch)

	assert.ErrorIs(t, f.Verify(context.Background(), &simpleasset.Asset{ID: uuid.New()}), simpleasset.ErrInvalidCacheState)
}
