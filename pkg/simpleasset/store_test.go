package simpleasset_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/providers/fake"
	memoryrepo "github.com/tendant/simple-asset/pkg/simpleasset/repo/memory"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
)

const (
	pixverse simpleasset.ProviderID = "pixverse"
	sora     simpleasset.ProviderID = "sora"
	runway   simpleasset.ProviderID = "runway"
)

// origin is a provider CDN serving one object whose bytes and status can be
// changed mid-test.
type origin struct {
	srv  *httptest.Server
	hits atomic.Int32

	mu      sync.Mutex
	content []byte
	status  int
}

func newOrigin(t *testing.T, content []byte) *origin {
	t.Helper()
	o := &origin{content: content}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		o.mu.Lock()
		body, status := o.content, o.status
		o.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(body)
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) URL() string { return o.srv.URL + "/video.mp4" }

func (o *origin) set(content []byte, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.content = content
	o.status = status
}

type fixture struct {
	store  *simpleasset.AssetStore
	repo   *memoryrepo.Repository
	blobs  *memorystorage.Backend
	origin *origin
	sora   *fake.Provider
	runway *fake.Provider
}

var testContent = []byte("pixverse generated video bytes")

func sha(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...simpleasset.Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:   memoryrepo.New(),
		blobs:  memorystorage.New(),
		origin: newOrigin(t, testContent),
		sora:   fake.NewProvider(sora),
		runway: fake.NewProvider(runway),
	}
	base := []simpleasset.Option{
		simpleasset.WithRepository(f.repo),
		simpleasset.WithBlobStore(f.blobs),
		simpleasset.WithFetcher(simpleasset.NewHTTPFetcher(f.blobs,
			simpleasset.WithFetchRetries(1, time.Millisecond),
			simpleasset.WithFetcherLogger(discardLogger()),
		)),
		simpleasset.WithUploader(f.sora),
		simpleasset.WithUploader(f.runway),
		simpleasset.WithKnownProviders(pixverse, sora, runway),
		simpleasset.WithLogger(discardLogger()),
	}
	store, err := simpleasset.New(append(base, opts...)...)
	require.NoError(t, err)
	f.store = store
	return f
}

func (f *fixture) createAsset(t *testing.T) *simpleasset.Asset {
	t.Helper()
	asset, err := f.store.Registry().Create(context.Background(), simpleasset.CreateAssetRequest{
		OwnerID:               uuid.New(),
		OriginProviderID:      pixverse,
		OriginProviderAssetID: "pv_" + uuid.NewString(),
		OriginRemoteURL:       f.origin.URL(),
		MediaType:             simpleasset.MediaTypeVideo,
		MimeType:              "video/mp4",
	})
	require.NoError(t, err)
	return asset
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *simpleasset.Asset {
	t.Helper()
	asset, err := f.store.Registry().Get(context.Background(), id)
	require.NoError(t, err)
	return asset
}

func TestNewRequiresRepositoryAndBlobStore(t *testing.T) {
	_, err := simpleasset.New(simpleasset.WithBlobStore(memorystorage.New()))
	assert.Error(t, err)

	_, err = simpleasset.New(simpleasset.WithRepository(memoryrepo.New()))
	assert.Error(t, err)

	_, err = simpleasset.New(
		simpleasset.WithRepository(memoryrepo.New()),
		simpleasset.WithBlobStore(memorystorage.New()),
		simpleasset.WithKnownProviders("Not Valid"),
	)
	assert.ErrorIs(t, err, simpleasset.ErrInvalidProviderID)

	_, err = simpleasset.New(
		simpleasset.WithRepository(memoryrepo.New()),
		simpleasset.WithBlobStore(memorystorage.New()),
		simpleasset.WithUploadTimeout(0),
	)
	assert.Error(t, err)
}

func TestRecoverResetsInterruptedFetches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asset := f.createAsset(t)

	_, err := f.store.Registry().UpdateCacheState(ctx, asset.ID, simpleasset.CacheState{Status: simpleasset.CacheStatusFetching})
	require.NoError(t, err)

	n, err := f.store.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, simpleasset.CacheStatusAbsent, f.get(t, asset.ID).CacheStatus)

	n, err = f.store.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
