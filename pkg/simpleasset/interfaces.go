package simpleasset

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore defines the interface for local byte cache backends
type BlobStore interface {
	// Upload writes content under objectKey
	Upload(ctx context.Context, objectKey string, reader io.Reader) error

	// UploadWithParams writes content with additional parameters
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download reads content stored under objectKey
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// Delete removes content stored under objectKey
	Delete(ctx context.Context, objectKey string) error

	// GetObjectMeta retrieves metadata for an object
	GetObjectMeta(ctx context.Context, objectKey string) (*ObjectMeta, error)
}

// ObjectMeta contains metadata about an object in storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
	Metadata    map[string]string
}

// UploadParams contains parameters for writing an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
}

// AssetRepository persists asset rows. Every mutating call is atomic per row.
type AssetRepository interface {
	// CreateAsset inserts a new asset; returns *DuplicateOriginError when the
	// origin pair is already registered.
	CreateAsset(ctx context.Context, asset *Asset) error

	// GetAsset returns ErrAssetNotFound for unknown or tombstoned assets.
	GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
	GetAssetByOrigin(ctx context.Context, provider ProviderID, providerAssetID string) (*Asset, error)

	// ListAssetsByCacheStatus returns assets in the given status, tombstoned
	// ones included, ordered by last access, oldest first.
	ListAssetsByCacheStatus(ctx context.Context, status CacheStatus) ([]*Asset, error)

	TouchAsset(ctx context.Context, id uuid.UUID, at time.Time) error

	// PutProviderUpload records provider -> providerAssetID. Same value is a
	// no-op; a different value returns ErrInconsistentCache.
	PutProviderUpload(ctx context.Context, id uuid.UUID, provider ProviderID, providerAssetID string, at time.Time) error

	// TransitionCacheState is a compare-and-set over cache_status, tombstoned
	// rows included; it returns *CacheTransitionError when the current status
	// does not allow the move.
	TransitionCacheState(ctx context.Context, id uuid.UUID, state CacheState, at time.Time) (*Asset, error)

	SetClassification(ctx context.Context, id uuid.UUID, c Classification, at time.Time) error
	TombstoneAsset(ctx context.Context, id uuid.UUID, at time.Time) error

	// PurgeAsset hard-deletes the row, tombstoned or not, and returns it. It
	// fails with ErrAssetReferenced while graph rows name the asset.
	PurgeAsset(ctx context.Context, id uuid.UUID) (*Asset, error)
}

// GraphRepository persists lineage links and branch rows.
type GraphRepository interface {
	// CreateLineageLinks inserts all links or none.
	CreateLineageLinks(ctx context.Context, links []*LineageLink) error
	DeleteLineageLink(ctx context.Context, childID, parentID uuid.UUID) error
	ListLineageLinks(ctx context.Context) ([]*LineageLink, error)

	// CreateBranchPoint returns ErrDuplicateBranchTag on a tag collision.
	CreateBranchPoint(ctx context.Context, branch *BranchPoint) error
	GetBranchPoint(ctx context.Context, id uuid.UUID) (*BranchPoint, error)
	ListBranchPoints(ctx context.Context, sourceAssetIDs []uuid.UUID) ([]*BranchPoint, error)

	// CreateBranchVariant assigns Position and returns ErrDuplicateVariantTag
	// or ErrDuplicateVariantAsset on collisions.
	CreateBranchVariant(ctx context.Context, variant *BranchVariant) error
	DeleteBranchVariant(ctx context.Context, id uuid.UUID) error

	// ListBranchVariants returns the variants of the given branches ordered by
	// branch then Position.
	ListBranchVariants(ctx context.Context, branchIDs []uuid.UUID) ([]*BranchVariant, error)

	// CountAssetReferences counts lineage links and branch rows naming the asset.
	CountAssetReferences(ctx context.Context, assetID uuid.UUID) (int, error)
}

// Repository defines the interface for asset and graph persistence
type Repository interface {
	AssetRepository
	GraphRepository
}

// FetchResult describes bytes fetched into the local cache.
type FetchResult struct {
	Path     string
	Hash     string
	Size     int64
	MimeType string
}

// Fetcher retrieves asset bytes from the origin into the local byte store.
type Fetcher interface {
	Fetch(ctx context.Context, asset *Asset) (*FetchResult, error)

	// Verify re-hashes stored bytes and fails with ErrIntegrityMismatch when
	// they disagree with the asset's recorded hash.
	Verify(ctx context.Context, asset *Asset) error
}

// UploadRequest is what an uploader receives for one transfer.
type UploadRequest struct {
	AssetID   uuid.UUID
	LocalPath string
	MediaType MediaType
	MimeType  string
	Size      int64

	// Open returns a fresh reader over the cached bytes. Uploaders that retry
	// call it once per attempt.
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// ProviderUploader pushes cached bytes to one provider and returns that
// provider's asset identifier.
type ProviderUploader interface {
	Provider() ProviderID
	Accepts(mediaType MediaType) bool
	Upload(ctx context.Context, req UploadRequest) (string, error)
}

// EventSink defines the interface for event handling
type EventSink interface {
	// AssetCreated is fired when an asset is registered
	AssetCreated(ctx context.Context, asset *Asset) error

	// ProviderUploadRecorded is fired when a provider identifier is cached
	ProviderUploadRecorded(ctx context.Context, assetID uuid.UUID, provider ProviderID, providerAssetID string) error

	// AssetEvicted is fired when local bytes are reclaimed
	AssetEvicted(ctx context.Context, assetID uuid.UUID, bytes int64) error
}
