package simpleasset

import (
	"time"

	"github.com/google/uuid"
)

// MediaType is the kind of media an asset carries.
type MediaType string

// Media type constants (typed).
const (
	MediaTypeVideo   MediaType = "video"
	MediaTypeImage   MediaType = "image"
	MediaTypeAudio   MediaType = "audio"
	MediaTypeModel3D MediaType = "model3d"
)

// Valid reports whether m is one of the known media types.
func (m MediaType) Valid() bool {
	switch m {
	case MediaTypeVideo, MediaTypeImage, MediaTypeAudio, MediaTypeModel3D:
		return true
	}
	return false
}

// CacheStatus is the state of an asset's local byte cache.
type CacheStatus string

// Cache status constants (typed).
const (
	CacheStatusAbsent   CacheStatus = "absent"
	CacheStatusFetching CacheStatus = "fetching"
	CacheStatusPresent  CacheStatus = "present"
)

// Valid reports whether s is a known cache status.
func (s CacheStatus) Valid() bool {
	switch s {
	case CacheStatusAbsent, CacheStatusFetching, CacheStatusPresent:
		return true
	}
	return false
}

// CanTransition reports whether the local cache may move from one status to another.
// Allowed: absent->fetching, fetching->present, present->absent, fetching->absent.
func CanTransition(from, to CacheStatus) bool {
	switch to {
	case CacheStatusFetching:
		return from == CacheStatusAbsent
	case CacheStatusPresent:
		return from == CacheStatusFetching
	case CacheStatusAbsent:
		return from == CacheStatusPresent || from == CacheStatusFetching
	}
	return false
}

// PriorStatuses returns the statuses from which a transition to "to" is allowed.
func PriorStatuses(to CacheStatus) []CacheStatus {
	switch to {
	case CacheStatusFetching:
		return []CacheStatus{CacheStatusAbsent}
	case CacheStatusPresent:
		return []CacheStatus{CacheStatusFetching}
	case CacheStatusAbsent:
		return []CacheStatus{CacheStatusPresent, CacheStatusFetching}
	}
	return nil
}

// CacheState is the target of a cache transition. Path and Hash must be set
// for CacheStatusPresent and empty otherwise. When ExpectPath is set the
// transition applies only while the row still points at that path.
type CacheState struct {
	Status     CacheStatus
	Path       string
	Hash       string
	Size       int64
	ExpectPath string
}

// Asset is the canonical record for one piece of generated media, independent
// of which provider produced it.
type Asset struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`

	MediaType       MediaType `json:"media_type"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Width           int       `json:"width,omitempty"`
	Height          int       `json:"height,omitempty"`
	MimeType        string    `json:"mime_type,omitempty"`
	FileSize        int64     `json:"file_size,omitempty"`

	OriginProviderID      ProviderID `json:"origin_provider_id"`
	OriginProviderAssetID string     `json:"origin_provider_asset_id"`
	OriginRemoteURL       string     `json:"origin_remote_url,omitempty"`
	OriginURLExpiresAt    *time.Time `json:"origin_url_expires_at,omitempty"`
	// OriginContentHash is the first hash observed for the origin object. It
	// survives eviction so a cache rebuild can detect a mutated origin.
	OriginContentHash string `json:"origin_content_hash,omitempty"`

	ProviderUploads ProviderUploads `json:"provider_uploads"`
	LocalCachePath  string          `json:"local_cache_path,omitempty"`
	CacheStatus     CacheStatus     `json:"cache_status"`
	ContentHash     string          `json:"content_hash,omitempty"`
	LastAccessedAt  time.Time       `json:"last_accessed_at"`

	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Searchable    bool                   `json:"searchable"`
	AgeRestricted bool                   `json:"age_restricted"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Clone returns a deep copy of the asset. Repositories hand out clones so
// callers never share mutable state with the store.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	c.ProviderUploads = a.ProviderUploads.Clone()
	if a.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	if a.OriginURLExpiresAt != nil {
		t := *a.OriginURLExpiresAt
		c.OriginURLExpiresAt = &t
	}
	if a.DeletedAt != nil {
		t := *a.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Deleted reports whether the asset has been tombstoned.
func (a *Asset) Deleted() bool {
	return a.DeletedAt != nil
}

// Validate checks the origin mapping and cache-state invariants.
func (a *Asset) Validate() error {
	if err := a.OriginProviderID.Validate(); err != nil {
		return err
	}
	if a.OriginProviderAssetID == "" {
		return &AssetError{AssetID: a.ID, Op: "validate", Err: ErrInvalidAsset}
	}
	if got, ok := a.ProviderUploads.Get(a.OriginProviderID); !ok || got != a.OriginProviderAssetID {
		return &AssetError{AssetID: a.ID, Op: "validate", Err: ErrInconsistentCache}
	}
	if err := a.ProviderUploads.Validate(); err != nil {
		return err
	}
	switch a.CacheStatus {
	case CacheStatusPresent:
		if a.LocalCachePath == "" || a.ContentHash == "" {
			return &AssetError{AssetID: a.ID, Op: "validate", Err: ErrInvalidCacheState}
		}
	case CacheStatusAbsent:
		if a.LocalCachePath != "" || a.ContentHash != "" {
			return &AssetError{AssetID: a.ID, Op: "validate", Err: ErrInvalidCacheState}
		}
	case CacheStatusFetching:
	default:
		return &AssetError{AssetID: a.ID, Op: "validate", Err: ErrInvalidCacheState}
	}
	return nil
}

// ApplyCacheState mutates the asset to reflect a cache transition. The caller
// is responsible for checking CanTransition first.
func (a *Asset) ApplyCacheState(state CacheState, at time.Time) {
	a.CacheStatus = state.Status
	switch state.Status {
	case CacheStatusPresent:
		a.LocalCachePath = state.Path
		a.ContentHash = state.Hash
		if state.Size > 0 {
			a.FileSize = state.Size
		}
		if a.OriginContentHash == "" {
			a.OriginContentHash = state.Hash
		}
	default:
		a.LocalCachePath = ""
		a.ContentHash = ""
	}
	a.UpdatedAt = at
}

// Classification is the opaque classification bag written by the
// classification collaborator. The engine persists it and never interprets it.
type Classification struct {
	Metadata      map[string]interface{} `json:"metadata"`
	Searchable    bool                   `json:"searchable"`
	AgeRestricted bool                   `json:"age_restricted"`
}

// LineageParent describes one parent of a derived asset.
type LineageParent struct {
	ParentID       uuid.UUID              `json:"parent_id"`
	Role           string                 `json:"role"`
	ParentFrame    *int                   `json:"parent_frame,omitempty"`
	ParentTime     *float64               `json:"parent_time,omitempty"`
	SequenceOrder  int                    `json:"sequence_order"`
	Transformation map[string]interface{} `json:"transformation,omitempty"`
}

// LineageEdge records that ChildID was derived from one or more parents.
type LineageEdge struct {
	ChildID uuid.UUID       `json:"child_id"`
	Parents []LineageParent `json:"parents"`
}

// LineageLink is the persisted form of a single child/parent pair.
type LineageLink struct {
	ChildID        uuid.UUID              `json:"child_id"`
	ParentID       uuid.UUID              `json:"parent_id"`
	Role           string                 `json:"role"`
	ParentFrame    *int                   `json:"parent_frame,omitempty"`
	ParentTime     *float64               `json:"parent_time,omitempty"`
	SequenceOrder  int                    `json:"sequence_order"`
	Transformation map[string]interface{} `json:"transformation,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// BranchPoint is a narrative fork on a source asset.
type BranchPoint struct {
	ID            uuid.UUID `json:"id"`
	SourceAssetID uuid.UUID `json:"source_asset_id"`
	BranchTime    *float64  `json:"branch_time,omitempty"`
	BranchFrame   *int      `json:"branch_frame,omitempty"`
	Name          string    `json:"name"`
	Tag           string    `json:"tag"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// BranchVariant is one mutually exclusive continuation of a branch point.
// Position is the authoring order within the branch.
type BranchVariant struct {
	ID             uuid.UUID `json:"id"`
	BranchID       uuid.UUID `json:"branch_id"`
	VariantAssetID uuid.UUID `json:"variant_asset_id"`
	Name           string    `json:"name"`
	Tag            string    `json:"tag"`
	Position       int       `json:"position"`
	CreatedAt      time.Time `json:"created_at"`
}
