package simpleasset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-asset/pkg/simpleasset/internal/httpx"
)

// HTTPFetcher downloads origin bytes over HTTP into a BlobStore, hashing them
// on the way through.
type HTTPFetcher struct {
	blobs  BlobStore
	client *http.Client
	policy httpx.Policy
	logger *slog.Logger
	now    func() time.Time
}

// FetcherOption configures an HTTPFetcher
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the client used for origin requests
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithFetchRetries sets how often transient failures are retried and the
// initial backoff between attempts.
func WithFetchRetries(maxRetries int, backoff time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.policy.MaxRetries = maxRetries
		f.policy.Backoff = backoff
	}
}

// WithFetcherLogger sets the logger
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		if logger != nil {
			f.logger = logger.With("component", "fetcher")
		}
	}
}

// WithFetcherClock overrides the time source used for URL expiry checks
func WithFetcherClock(now func() time.Time) FetcherOption {
	return func(f *HTTPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// NewHTTPFetcher creates a fetcher that stores bytes in blobs
func NewHTTPFetcher(blobs BlobStore, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		blobs:  blobs,
		client: http.DefaultClient,
		policy: httpx.DefaultPolicy(),
		logger: slog.Default().With("component", "fetcher"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads asset.OriginRemoteURL. An expired or refused URL fails with
// ErrOriginUnavailable without retrying; bytes that disagree with a hash
// recorded earlier are deleted and reported as *IntegrityError.
func (f *HTTPFetcher) Fetch(ctx context.Context, asset *Asset) (*FetchResult, error) {
	if asset.OriginRemoteURL == "" {
		return nil, fmt.Errorf("%w: asset %s has no origin url", ErrOriginUnavailable, asset.ID)
	}
	if exp := asset.OriginURLExpiresAt; exp != nil && !f.now().Before(*exp) {
		return nil, fmt.Errorf("%w: origin url expired at %s", ErrOriginUnavailable, exp.UTC().Format(time.RFC3339))
	}

	key := fmt.Sprintf("%s/%s", asset.ID, uuid.NewString())
	var res *FetchResult
	err := httpx.Do(ctx, f.policy, f.logger, "origin fetch", func(ctx context.Context) error {
		r, err := f.fetchOnce(ctx, asset, key)
		res = r
		return err
	})
	if err != nil {
		f.discard(ctx, key)
		return nil, err
	}

	expected := asset.OriginContentHash
	if expected == "" {
		expected = asset.ContentHash
	}
	if expected != "" && res.Hash != expected {
		f.discard(ctx, key)
		return nil, &IntegrityError{AssetID: asset.ID, Expected: expected, Actual: res.Hash}
	}

	f.logger.InfoContext(ctx, "origin fetched", "asset_id", asset.ID, "path", res.Path, "bytes", res.Size)
	return res, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, asset *Asset, key string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.OriginRemoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOriginUnavailable, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := httpx.NewStatusError(resp)
		switch se.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
			return nil, fmt.Errorf("%w: %w", ErrOriginUnavailable, se)
		}
		return nil, se
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = asset.MimeType
	}

	h := sha256.New()
	n := &byteCounter{}
	body := io.TeeReader(resp.Body, io.MultiWriter(h, n))
	if err := f.blobs.UploadWithParams(ctx, body, UploadParams{ObjectKey: key, MimeType: mimeType}); err != nil {
		return nil, err
	}

	return &FetchResult{
		Path:     key,
		Hash:     hex.EncodeToString(h.Sum(nil)),
		Size:     n.n,
		MimeType: mimeType,
	}, nil
}

// Verify re-hashes the cached bytes against asset.ContentHash.
func (f *HTTPFetcher) Verify(ctx context.Context, asset *Asset) error {
	if asset.LocalCachePath == "" || asset.ContentHash == "" {
		return &AssetError{AssetID: asset.ID, Op: "verify", Err: ErrInvalidCacheState}
	}
	rc, err := f.blobs.Download(ctx, asset.LocalCachePath)
	if err != nil {
		return err
	}
	defer rc.Close()

	actual, _, err := hashReader(rc)
	if err != nil {
		return err
	}
	if actual != asset.ContentHash {
		return &IntegrityError{AssetID: asset.ID, Expected: asset.ContentHash, Actual: actual}
	}
	return nil
}

func (f *HTTPFetcher) discard(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := f.blobs.Delete(ctx, key); err != nil && !errors.Is(err, context.Canceled) {
		f.logger.DebugContext(ctx, "discard fetched bytes", "path", key, "err", err)
	}
}

func hashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

type byteCounter struct{ n int64 }

func (c *byteCounter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
