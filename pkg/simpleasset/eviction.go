package simpleasset

import (
	"context"
	"errors"
	"log/slog"
)

// Evictor reclaims local bytes of present assets, least recently accessed
// first, skipping any asset with a running fetch or upload.
type Evictor struct {
	repo     AssetRepository
	registry *Registry
	claims   *inflight
	blobs    BlobStore
	events   EventSink
	logger   *slog.Logger
	capacity int64
}

// Sweep evicts candidates until targetFreeBytes have been reclaimed or the
// candidates run out, and returns how many assets were evicted. Running out
// of candidates is not an error.
func (e *Evictor) Sweep(ctx context.Context, targetFreeBytes int64) (int, error) {
	if targetFreeBytes <= 0 {
		return 0, nil
	}
	candidates, err := e.repo.ListAssetsByCacheStatus(ctx, CacheStatusPresent)
	if err != nil {
		return 0, err
	}

	var freed int64
	evicted := 0
	for _, candidate := range candidates {
		if freed >= targetFreeBytes {
			break
		}
		if err := ctx.Err(); err != nil {
			return evicted, err
		}

		size := e.sizeOf(ctx, candidate)
		// The candidate list may be stale: only clear the row while it still
		// points at the bytes this sweep is about to delete.
		ok, err := e.claims.whenUnclaimed(candidate.ID, func() error {
			_, err := e.registry.UpdateCacheState(ctx, candidate.ID, CacheState{
				Status:     CacheStatusAbsent,
				ExpectPath: candidate.LocalCachePath,
			})
			return err
		})
		if !ok {
			e.logger.DebugContext(ctx, "skipping claimed asset", "asset_id", candidate.ID)
			continue
		}
		if errors.Is(err, ErrInvalidCacheTransition) || errors.Is(err, ErrAssetNotFound) {
			continue
		}
		if err != nil {
			return evicted, err
		}

		if err := e.blobs.Delete(ctx, candidate.LocalCachePath); err != nil {
			e.logger.WarnContext(ctx, "failed to delete evicted bytes", "asset_id", candidate.ID, "path", candidate.LocalCachePath, "err", err)
		}
		if err := e.events.AssetEvicted(ctx, candidate.ID, size); err != nil {
			e.logger.WarnContext(ctx, "event sink failed", "event", "asset_evicted", "asset_id", candidate.ID, "err", err)
		}
		freed += size
		evicted++
	}

	e.logger.InfoContext(ctx, "sweep finished",
		"evicted", evicted,
		"freed_bytes", freed,
		"target_bytes", targetFreeBytes,
		"candidates", len(candidates),
	)
	return evicted, nil
}

// Stats reports the current size of the local cache.
func (e *Evictor) Stats(ctx context.Context) (*CacheStats, error) {
	present, err := e.repo.ListAssetsByCacheStatus(ctx, CacheStatusPresent)
	if err != nil {
		return nil, err
	}
	fetching, err := e.repo.ListAssetsByCacheStatus(ctx, CacheStatusFetching)
	if err != nil {
		return nil, err
	}
	stats := &CacheStats{
		Entries:       len(present),
		Fetching:      len(fetching),
		InFlight:      e.claims.size(),
		CapacityBytes: e.capacity,
	}
	for _, a := range present {
		stats.Bytes += a.FileSize
	}
	return stats, nil
}

func (e *Evictor) sizeOf(ctx context.Context, asset *Asset) int64 {
	if asset.FileSize > 0 {
		return asset.FileSize
	}
	meta, err := e.blobs.GetObjectMeta(ctx, asset.LocalCachePath)
	if err != nil {
		return 0
	}
	return meta.Size
}
