package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// UploadCache resolves an asset to a provider's own identifier, uploading the
// asset to that provider only on a cache miss. Concurrent misses for the same
// (asset, provider) pair share one transfer.
type UploadCache struct {
	registry  *Registry
	claims    *inflight
	fetcher   Fetcher
	uploaders *Uploaders
	blobs     BlobStore
	evictor   *Evictor
	logger    *slog.Logger

	fetchTimeout  time.Duration
	uploadTimeout time.Duration
	transfers     *semaphore.Weighted
	capacity      int64
	verify        bool

	reserveMu sync.Mutex
	reserved  int64
}

// GetAssetForProvider returns the provider asset id for assetID on provider.
// A hit performs no I/O beyond a best-effort touch. On a miss the bytes are
// cached locally if needed, uploaded once, and the result recorded.
// Fetch and upload failures are returned as *TransferError and leave the
// provider upload map untouched.
func (c *UploadCache) GetAssetForProvider(ctx context.Context, assetID uuid.UUID, provider ProviderID) (string, error) {
	if err := c.registry.CheckProvider(provider); err != nil {
		return "", err
	}
	asset, err := c.registry.Get(ctx, assetID)
	if err != nil {
		return "", err
	}
	if id, ok := asset.ProviderUploads.Get(provider); ok {
		c.registry.Touch(ctx, assetID)
		return id, nil
	}

	uploader, err := c.uploaders.Get(provider)
	if err != nil {
		return "", &TransferError{AssetID: assetID, Provider: provider, Stage: StageUpload, Err: err}
	}
	if !uploader.Accepts(asset.MediaType) {
		return "", &TransferError{
			AssetID:  assetID,
			Provider: provider,
			Stage:    StageUpload,
			Err:      fmt.Errorf("%w: %s does not accept %s", ErrUnsupportedMedia, provider, asset.MediaType),
		}
	}

	return c.claims.do(ctx, claimKey{AssetID: assetID, Provider: provider}, func(ctx context.Context) (string, error) {
		return c.transfer(ctx, assetID, uploader)
	})
}

// transfer runs under the (asset, provider) claim.
func (c *UploadCache) transfer(ctx context.Context, assetID uuid.UUID, uploader ProviderUploader) (string, error) {
	provider := uploader.Provider()
	logger := c.logger.With("asset_id", assetID, "provider", provider)

	asset, err := c.registry.Get(ctx, assetID)
	if err != nil {
		return "", err
	}
	// A flight that finished between the caller's read and this claim.
	if id, ok := asset.ProviderUploads.Get(provider); ok {
		c.registry.Touch(ctx, assetID)
		return id, nil
	}

	if _, err := c.claims.do(ctx, claimKey{AssetID: assetID}, func(ctx context.Context) (string, error) {
		return c.populate(ctx, assetID)
	}); err != nil {
		logger.WarnContext(ctx, "fetch failed", "err", err)
		return "", &TransferError{AssetID: assetID, Provider: provider, Stage: StageFetch, Err: err}
	}

	asset, err = c.registry.Get(ctx, assetID)
	if err != nil {
		return "", err
	}
	if asset.CacheStatus != CacheStatusPresent {
		return "", &TransferError{AssetID: assetID, Provider: provider, Stage: StageFetch, Err: &AssetError{AssetID: assetID, Op: "fetch", Err: ErrInvalidCacheState}}
	}

	providerAssetID, err := c.upload(ctx, asset, uploader)
	if err != nil {
		logger.WarnContext(ctx, "upload failed", "err", err)
		return "", &TransferError{AssetID: assetID, Provider: provider, Stage: StageUpload, Err: err}
	}

	if err := c.registry.RecordProviderUpload(ctx, assetID, provider, providerAssetID); err != nil {
		return "", err
	}
	c.registry.Touch(ctx, assetID)
	logger.InfoContext(ctx, "provider upload cached", "provider_asset_id", providerAssetID)
	return providerAssetID, nil
}

// populate makes the asset's bytes local and returns their path. It runs under
// the asset's fetch claim, so at most one populate per asset is in progress.
func (c *UploadCache) populate(ctx context.Context, assetID uuid.UUID) (string, error) {
	asset, err := c.registry.Get(ctx, assetID)
	if err != nil {
		return "", err
	}

	switch asset.CacheStatus {
	case CacheStatusPresent:
		ok, err := c.usable(ctx, asset)
		if err != nil {
			return "", err
		}
		if ok {
			return asset.LocalCachePath, nil
		}
		stale := asset.LocalCachePath
		if _, err := c.registry.UpdateCacheState(ctx, assetID, CacheState{Status: CacheStatusAbsent, ExpectPath: stale}); err != nil {
			return "", err
		}
		// Sibling uploads may still be reading the old bytes.
		c.claims.afterUnclaimed(assetID, func() { c.dropBytes(ctx, stale) })
	case CacheStatusFetching:
		// No flight owns it, so a previous process died mid-fetch.
		c.logger.WarnContext(ctx, "resetting stale fetch", "asset_id", assetID)
		if _, err := c.registry.UpdateCacheState(ctx, assetID, CacheState{Status: CacheStatusAbsent}); err != nil {
			return "", err
		}
	}

	release, err := c.reserve(ctx, asset)
	if err != nil {
		return "", err
	}
	defer release()
	if _, err := c.registry.UpdateCacheState(ctx, assetID, CacheState{Status: CacheStatusFetching}); err != nil {
		return "", err
	}

	res, err := c.fetch(ctx, asset)
	if err != nil {
		c.revert(ctx, assetID)
		return "", err
	}

	if _, err := c.registry.UpdateCacheState(ctx, assetID, CacheState{
		Status: CacheStatusPresent,
		Path:   res.Path,
		Hash:   res.Hash,
		Size:   res.Size,
	}); err != nil {
		c.dropBytes(ctx, res.Path)
		c.revert(ctx, assetID)
		return "", err
	}
	return res.Path, nil
}

func (c *UploadCache) fetch(ctx context.Context, asset *Asset) (*FetchResult, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	res, err := c.fetcher.Fetch(ctx, asset)
	if err != nil {
		return nil, asTimeout(err)
	}
	return res, nil
}

func (c *UploadCache) upload(ctx context.Context, asset *Asset, uploader ProviderUploader) (string, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	path := asset.LocalCachePath
	req := UploadRequest{
		AssetID:   asset.ID,
		LocalPath: path,
		MediaType: asset.MediaType,
		MimeType:  asset.MimeType,
		Size:      asset.FileSize,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return c.blobs.Download(ctx, path)
		},
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()
	id, err := uploader.Upload(ctx, req)
	if err != nil {
		return "", asTimeout(err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: %s returned an empty identifier", ErrProviderRejectedUpload, uploader.Provider())
	}
	return id, nil
}

// usable reports whether cached bytes still exist and, when verification is
// on, still hash to the recorded value. Only a missing object or a hash
// mismatch makes bytes unusable; other storage errors are returned.
func (c *UploadCache) usable(ctx context.Context, asset *Asset) (bool, error) {
	if _, err := c.blobs.GetObjectMeta(ctx, asset.LocalCachePath); err != nil {
		if !errors.Is(err, ErrObjectNotFound) {
			return false, fmt.Errorf("check cached bytes: %w", err)
		}
		c.logger.WarnContext(ctx, "cached bytes missing, refetching", "asset_id", asset.ID, "path", asset.LocalCachePath)
		return false, nil
	}
	if !c.verify {
		return true, nil
	}
	if err := c.fetcher.Verify(ctx, asset); err != nil {
		if !errors.Is(err, ErrIntegrityMismatch) && !errors.Is(err, ErrObjectNotFound) {
			return false, fmt.Errorf("verify cached bytes: %w", err)
		}
		c.logger.WarnContext(ctx, "cached bytes failed verification, refetching", "asset_id", asset.ID, "err", err)
		return false, nil
	}
	return true, nil
}

// reserve makes room for the asset when a capacity is configured and the
// expected size is known. Decisions are serialized and bytes being fetched
// count against capacity until the returned release is called.
func (c *UploadCache) reserve(ctx context.Context, asset *Asset) (func(), error) {
	if c.capacity <= 0 || asset.FileSize <= 0 {
		return func() {}, nil
	}
	c.reserveMu.Lock()
	defer c.reserveMu.Unlock()

	stats, err := c.evictor.Stats(ctx)
	if err != nil {
		return nil, err
	}
	short := stats.Bytes + c.reserved + asset.FileSize - c.capacity
	if short > 0 {
		if _, err := c.evictor.Sweep(ctx, short); err != nil {
			return nil, err
		}
		if stats, err = c.evictor.Stats(ctx); err != nil {
			return nil, err
		}
		if stats.Bytes+c.reserved+asset.FileSize > c.capacity {
			return nil, &AssetError{
				AssetID: asset.ID,
				Op:      "reserve",
				Err: fmt.Errorf("%w: need %d bytes, %d in use and %d reserved of %d",
					ErrCapacityExceeded, asset.FileSize, stats.Bytes, c.reserved, c.capacity),
			}
		}
	}

	c.reserved += asset.FileSize
	var once sync.Once
	return func() {
		once.Do(func() {
			c.reserveMu.Lock()
			c.reserved -= asset.FileSize
			c.reserveMu.Unlock()
		})
	}, nil
}

func (c *UploadCache) acquire(ctx context.Context) (func(), error) {
	if c.transfers == nil {
		return func() {}, nil
	}
	if err := c.transfers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { c.transfers.Release(1) }, nil
}

// revert puts a failed fetch back to absent even when ctx is already done.
func (c *UploadCache) revert(ctx context.Context, assetID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, err := c.registry.UpdateCacheState(ctx, assetID, CacheState{Status: CacheStatusAbsent}); err != nil && !errors.Is(err, ErrInvalidCacheTransition) {
		c.logger.ErrorContext(ctx, "failed to reset cache state after fetch error", "asset_id", assetID, "err", err)
	}
}

func (c *UploadCache) dropBytes(ctx context.Context, path string) {
	if path == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := c.blobs.Delete(ctx, path); err != nil {
		c.logger.WarnContext(ctx, "failed to delete cached bytes", "path", path, "err", err)
	}
}
