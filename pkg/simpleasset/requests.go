package simpleasset

import (
	"time"

	"github.com/google/uuid"
)

// Request/Response DTOs

// CreateAssetRequest contains parameters for registering a completed generation.
// The origin mapping is cached on the new asset without any I/O.
type CreateAssetRequest struct {
	OwnerID uuid.UUID

	OriginProviderID      ProviderID
	OriginProviderAssetID string
	OriginRemoteURL       string
	OriginURLExpiresAt    *time.Time
	OriginContentHash     string

	MediaType       MediaType
	MimeType        string
	DurationSeconds float64
	Width           int
	Height          int
	FileSize        int64

	Metadata map[string]interface{}
}

// CreateBranchRequest contains parameters for a new branch point.
// At most one of BranchTime and BranchFrame is usually set.
type CreateBranchRequest struct {
	SourceAssetID uuid.UUID
	BranchTime    *float64
	BranchFrame   *int
	Name          string
	Tag           string
	Description   string
}

// AddVariantRequest contains parameters for attaching a variant to a branch.
type AddVariantRequest struct {
	BranchID       uuid.UUID
	VariantAssetID uuid.UUID
	Name           string
	Tag            string
}

// CacheStats summarizes the local byte cache.
type CacheStats struct {
	Entries       int   `json:"entries"`
	Bytes         int64 `json:"bytes"`
	Fetching      int   `json:"fetching"`
	InFlight      int   `json:"in_flight"`
	CapacityBytes int64 `json:"capacity_bytes"`
}
