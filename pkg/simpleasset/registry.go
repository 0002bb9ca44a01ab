package simpleasset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Registry is the canonical store of asset records. It owns identity, origin
// mapping, cache bookkeeping and classification.
type Registry struct {
	repo   Repository
	blobs  BlobStore
	events EventSink
	logger *slog.Logger
	now    func() time.Time
	known  map[ProviderID]struct{}
}

// CheckProvider validates the provider id and, when the store was configured
// with a known-provider set, its membership in that set.
func (r *Registry) CheckProvider(provider ProviderID) error {
	if err := provider.Validate(); err != nil {
		return err
	}
	if len(r.known) == 0 {
		return nil
	}
	if _, ok := r.known[provider]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return nil
}

// Create registers a completed generation. The origin provider mapping is
// cached immediately and the local cache starts absent.
func (r *Registry) Create(ctx context.Context, req CreateAssetRequest) (*Asset, error) {
	if err := r.CheckProvider(req.OriginProviderID); err != nil {
		return nil, err
	}
	if req.OriginProviderAssetID == "" {
		return nil, fmt.Errorf("%w: origin provider asset id is required", ErrInvalidAsset)
	}
	if !req.MediaType.Valid() {
		return nil, fmt.Errorf("%w: media type %q", ErrInvalidAsset, req.MediaType)
	}

	now := r.now()
	asset := &Asset{
		ID:                    uuid.New(),
		OwnerID:               req.OwnerID,
		MediaType:             req.MediaType,
		DurationSeconds:       req.DurationSeconds,
		Width:                 req.Width,
		Height:                req.Height,
		MimeType:              req.MimeType,
		FileSize:              req.FileSize,
		OriginProviderID:      req.OriginProviderID,
		OriginProviderAssetID: req.OriginProviderAssetID,
		OriginRemoteURL:       req.OriginRemoteURL,
		OriginURLExpiresAt:    req.OriginURLExpiresAt,
		OriginContentHash:     req.OriginContentHash,
		ProviderUploads:       ProviderUploads{req.OriginProviderID: req.OriginProviderAssetID},
		CacheStatus:           CacheStatusAbsent,
		LastAccessedAt:        now,
		Metadata:              req.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := asset.Validate(); err != nil {
		return nil, err
	}

	if err := r.repo.CreateAsset(ctx, asset); err != nil {
		return nil, &AssetError{AssetID: asset.ID, Op: "create", Err: err}
	}

	if err := r.events.AssetCreated(ctx, asset); err != nil {
		r.logger.WarnContext(ctx, "event sink failed", "event", "asset_created", "asset_id", asset.ID, "err", err)
	}
	return asset, nil
}

// Get returns a live asset; tombstoned or unknown ids yield ErrAssetNotFound.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Asset, error) {
	return r.repo.GetAsset(ctx, id)
}

// GetByOrigin looks up the asset registered for an origin object.
func (r *Registry) GetByOrigin(ctx context.Context, provider ProviderID, providerAssetID string) (*Asset, error) {
	return r.repo.GetAssetByOrigin(ctx, provider, providerAssetID)
}

// Touch bumps LastAccessedAt. Failures are logged and never returned.
func (r *Registry) Touch(ctx context.Context, id uuid.UUID) {
	if err := r.repo.TouchAsset(ctx, id, r.now()); err != nil {
		r.logger.WarnContext(ctx, "touch failed", "asset_id", id, "err", err)
	}
}

// RecordProviderUpload caches provider -> providerAssetID on the asset.
// Recording the same value again is a no-op; a different value fails with
// ErrInconsistentCache and leaves the record untouched.
func (r *Registry) RecordProviderUpload(ctx context.Context, id uuid.UUID, provider ProviderID, providerAssetID string) error {
	if err := r.CheckProvider(provider); err != nil {
		return err
	}
	if providerAssetID == "" {
		return &AssetError{AssetID: id, Op: "record_provider_upload", Err: ErrInconsistentCache}
	}
	if err := r.repo.PutProviderUpload(ctx, id, provider, providerAssetID, r.now()); err != nil {
		return &AssetError{AssetID: id, Op: "record_provider_upload", Err: err}
	}
	if err := r.events.ProviderUploadRecorded(ctx, id, provider, providerAssetID); err != nil {
		r.logger.WarnContext(ctx, "event sink failed", "event", "provider_upload_recorded", "asset_id", id, "err", err)
	}
	return nil
}

// UpdateCacheState moves the local cache through absent -> fetching -> present
// and back to absent. Any other move fails with ErrInvalidCacheTransition.
func (r *Registry) UpdateCacheState(ctx context.Context, id uuid.UUID, state CacheState) (*Asset, error) {
	if !state.Status.Valid() {
		return nil, &AssetError{AssetID: id, Op: "update_cache_state", Err: ErrInvalidCacheState}
	}
	switch state.Status {
	case CacheStatusPresent:
		if state.Path == "" || state.Hash == "" {
			return nil, &AssetError{AssetID: id, Op: "update_cache_state", Err: ErrInvalidCacheState}
		}
	default:
		if state.Path != "" || state.Hash != "" {
			return nil, &AssetError{AssetID: id, Op: "update_cache_state", Err: ErrInvalidCacheState}
		}
	}
	return r.repo.TransitionCacheState(ctx, id, state, r.now())
}

// SetClassification stores the opaque classification bag and flags.
func (r *Registry) SetClassification(ctx context.Context, id uuid.UUID, c Classification) error {
	if err := r.repo.SetClassification(ctx, id, c, r.now()); err != nil {
		return &AssetError{AssetID: id, Op: "set_classification", Err: err}
	}
	return nil
}

// Delete tombstones the asset. Graph rows keep referencing it by id.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.repo.TombstoneAsset(ctx, id, r.now()); err != nil {
		return &AssetError{AssetID: id, Op: "delete", Err: err}
	}
	return nil
}

// Purge hard-deletes an asset no lineage or branch row references, and drops
// its local bytes.
func (r *Registry) Purge(ctx context.Context, id uuid.UUID) error {
	refs, err := r.repo.CountAssetReferences(ctx, id)
	if err != nil {
		return &AssetError{AssetID: id, Op: "purge", Err: err}
	}
	if refs > 0 {
		return &AssetError{AssetID: id, Op: "purge", Err: fmt.Errorf("%w: %d references", ErrAssetReferenced, refs)}
	}

	purged, err := r.repo.PurgeAsset(ctx, id)
	if err != nil {
		return &AssetError{AssetID: id, Op: "purge", Err: err}
	}
	if purged.LocalCachePath != "" && r.blobs != nil {
		if err := r.blobs.Delete(ctx, purged.LocalCachePath); err != nil {
			r.logger.WarnContext(ctx, "failed to delete purged bytes", "asset_id", id, "path", purged.LocalCachePath, "err", err)
		}
	}
	return nil
}
