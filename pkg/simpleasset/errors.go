package simpleasset

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrAssetNotFound indicates an asset is unknown or tombstoned
	ErrAssetNotFound = errors.New("asset not found")

	// ErrBranchNotFound indicates a branch point is unknown
	ErrBranchNotFound = errors.New("branch not found")

	// ErrDuplicateOrigin indicates the origin object is already registered
	ErrDuplicateOrigin = errors.New("origin already registered")

	// ErrInconsistentCache indicates a stable provider identifier would change
	ErrInconsistentCache = errors.New("inconsistent provider upload cache")

	// ErrInvalidCacheTransition indicates a forbidden cache status transition
	ErrInvalidCacheTransition = errors.New("invalid cache transition")

	// ErrInvalidCacheState indicates cache fields disagree with cache status
	ErrInvalidCacheState = errors.New("invalid cache state")

	// ErrInvalidAsset indicates a malformed asset record
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrOriginUnavailable indicates the origin URL is expired or unreachable
	ErrOriginUnavailable = errors.New("origin unavailable")

	// ErrIntegrityMismatch indicates fetched bytes disagree with a recorded hash
	ErrIntegrityMismatch = errors.New("content integrity mismatch")

	// ErrUnsupportedMedia indicates a provider cannot accept the media type
	ErrUnsupportedMedia = errors.New("unsupported media type for provider")

	// ErrProviderRejectedUpload indicates a provider refused an upload (auth, quota)
	ErrProviderRejectedUpload = errors.New("provider rejected upload")

	// ErrTimeout indicates a fetch or upload exceeded its deadline
	ErrTimeout = errors.New("transfer timed out")

	// ErrCycleDetected indicates a lineage edge would create a cycle
	ErrCycleDetected = errors.New("lineage cycle detected")

	// ErrDuplicateLineageLink indicates the child/parent pair is already recorded
	ErrDuplicateLineageLink = errors.New("lineage link already exists")

	// ErrLineageLinkNotFound indicates the child/parent pair is not recorded
	ErrLineageLinkNotFound = errors.New("lineage link not found")

	// ErrVariantNotFound indicates a branch variant is unknown
	ErrVariantNotFound = errors.New("branch variant not found")

	// ErrDuplicateBranchTag indicates the tag is already used on the source asset
	ErrDuplicateBranchTag = errors.New("branch tag already used for source asset")

	// ErrDuplicateVariantTag indicates the tag is already used within the branch
	ErrDuplicateVariantTag = errors.New("variant tag already used in branch")

	// ErrDuplicateVariantAsset indicates the asset is already a variant of the branch
	ErrDuplicateVariantAsset = errors.New("asset already attached to branch")

	// ErrCapacityExceeded indicates eviction could not free space for a pending fetch
	ErrCapacityExceeded = errors.New("local cache capacity exceeded")

	// ErrInvalidProviderID indicates a malformed provider identifier
	ErrInvalidProviderID = errors.New("invalid provider id")

	// ErrUnknownProvider indicates a provider id outside the configured set
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUploaderNotFound indicates no uploader is registered for a provider
	ErrUploaderNotFound = errors.New("no uploader registered for provider")

	// ErrObjectNotFound indicates a blob store has no object under the key
	ErrObjectNotFound = errors.New("object not found")

	// ErrAssetReferenced indicates a hard delete of an asset still referenced by graph rows
	ErrAssetReferenced = errors.New("asset is referenced by lineage or branch rows")
)

// AssetError represents an error related to asset operations
type AssetError struct {
	AssetID uuid.UUID
	Op      string
	Err     error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset operation %s failed for asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// DuplicateOriginError carries the id of the asset already registered for an origin.
type DuplicateOriginError struct {
	Provider        ProviderID
	ProviderAssetID string
	ExistingID      uuid.UUID
}

func (e *DuplicateOriginError) Error() string {
	return fmt.Sprintf("origin %s/%s already registered as asset %s", e.Provider, e.ProviderAssetID, e.ExistingID)
}

func (e *DuplicateOriginError) Unwrap() error {
	return ErrDuplicateOrigin
}

// CacheTransitionError describes a rejected cache status transition.
type CacheTransitionError struct {
	AssetID uuid.UUID
	From    CacheStatus
	To      CacheStatus
}

func (e *CacheTransitionError) Error() string {
	return fmt.Sprintf("asset %s: cache transition %s -> %s not allowed", e.AssetID, e.From, e.To)
}

func (e *CacheTransitionError) Unwrap() error {
	return ErrInvalidCacheTransition
}

// IntegrityError describes a hash mismatch between fetched bytes and a recorded hash.
type IntegrityError struct {
	AssetID  uuid.UUID
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("asset %s: content hash %s does not match recorded %s", e.AssetID, e.Actual, e.Expected)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityMismatch
}

// Transfer stages
const (
	StageFetch  = "fetch"
	StageUpload = "upload"
)

// TransferError represents a failed fetch or upload for an (asset, provider) pair
type TransferError struct {
	AssetID  uuid.UUID
	Provider ProviderID
	Stage    string
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s failed for asset %s (provider %s): %v", e.Stage, e.AssetID, e.Provider, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// ProviderError represents an error reported by a provider endpoint
type ProviderError struct {
	Provider   ProviderID
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s responded %d: %s: %v", e.Provider, e.StatusCode, e.Body, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// asTimeout converts context deadline errors into ErrTimeout while keeping the
// original error in the chain.
func asTimeout(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// Failure reasons reported to the job processor.
const (
	ReasonNotFound            = "not_found"
	ReasonDuplicateOrigin     = "duplicate_origin"
	ReasonInconsistentCache   = "inconsistent_cache"
	ReasonInvalidTransition   = "invalid_cache_transition"
	ReasonOriginUnavailable   = "origin_unavailable"
	ReasonIntegrityMismatch   = "integrity_mismatch"
	ReasonUnsupportedMedia    = "unsupported_media"
	ReasonProviderRejected    = "provider_rejected_upload"
	ReasonTimeout             = "timeout"
	ReasonCycleDetected       = "cycle_detected"
	ReasonDuplicateBranchTag  = "duplicate_branch_tag"
	ReasonDuplicateVariantTag = "duplicate_variant_tag"
	ReasonDuplicateVariant    = "duplicate_variant_asset"
	ReasonCapacityExceeded    = "capacity_exceeded"
	ReasonUnknownProvider     = "unknown_provider"
	ReasonDuplicateLink       = "duplicate_lineage_link"
	ReasonAssetReferenced     = "asset_referenced"
	ReasonInvalid             = "invalid_request"
	ReasonCanceled            = "canceled"
	ReasonInternal            = "internal"
)

var reasonTable = []struct {
	err    error
	reason string
}{
	{ErrAssetNotFound, ReasonNotFound},
	{ErrBranchNotFound, ReasonNotFound},
	{ErrLineageLinkNotFound, ReasonNotFound},
	{ErrVariantNotFound, ReasonNotFound},
	{ErrDuplicateLineageLink, ReasonDuplicateLink},
	{ErrAssetReferenced, ReasonAssetReferenced},
	{ErrInvalidAsset, ReasonInvalid},
	{ErrInvalidCacheState, ReasonInvalid},
	{ErrDuplicateOrigin, ReasonDuplicateOrigin},
	{ErrInconsistentCache, ReasonInconsistentCache},
	{ErrInvalidCacheTransition, ReasonInvalidTransition},
	{ErrOriginUnavailable, ReasonOriginUnavailable},
	{ErrIntegrityMismatch, ReasonIntegrityMismatch},
	{ErrUnsupportedMedia, ReasonUnsupportedMedia},
	{ErrProviderRejectedUpload, ReasonProviderRejected},
	{ErrTimeout, ReasonTimeout},
	{ErrCycleDetected, ReasonCycleDetected},
	{ErrDuplicateBranchTag, ReasonDuplicateBranchTag},
	{ErrDuplicateVariantTag, ReasonDuplicateVariantTag},
	{ErrDuplicateVariantAsset, ReasonDuplicateVariant},
	{ErrCapacityExceeded, ReasonCapacityExceeded},
	{ErrUnknownProvider, ReasonUnknownProvider},
	{ErrUploaderNotFound, ReasonUnknownProvider},
	{ErrInvalidProviderID, ReasonUnknownProvider},
	{context.Canceled, ReasonCanceled},
}

// FailureReason maps an error to the reason string a job processor records
// for a failed job. Unknown errors map to "internal".
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range reasonTable {
		if errors.Is(err, entry.err) {
			return entry.reason
		}
	}
	return ReasonInternal
}
