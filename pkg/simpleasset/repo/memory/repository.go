package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

type originKey struct {
	provider simpleasset.ProviderID
	id       string
}

// Repository implements simpleasset.Repository using in-memory storage
type Repository struct {
	mu       sync.RWMutex
	assets   map[uuid.UUID]*simpleasset.Asset
	byOrigin map[originKey]uuid.UUID
	links    []*simpleasset.LineageLink
	branches map[uuid.UUID]*simpleasset.BranchPoint
	variants map[uuid.UUID]*simpleasset.BranchVariant
	// branch_id -> variant ids in insertion order
	variantsByBranch map[uuid.UUID][]uuid.UUID
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		assets:           make(map[uuid.UUID]*simpleasset.Asset),
		byOrigin:         make(map[originKey]uuid.UUID),
		branches:         make(map[uuid.UUID]*simpleasset.BranchPoint),
		variants:         make(map[uuid.UUID]*simpleasset.BranchVariant),
		variantsByBranch: make(map[uuid.UUID][]uuid.UUID),
	}
}

var _ simpleasset.Repository = (*Repository)(nil)

// Asset operations

func (r *Repository) CreateAsset(ctx context.Context, asset *simpleasset.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := originKey{asset.OriginProviderID, asset.OriginProviderAssetID}
	if existing, ok := r.byOrigin[key]; ok {
		return &simpleasset.DuplicateOriginError{
			Provider:        asset.OriginProviderID,
			ProviderAssetID: asset.OriginProviderAssetID,
			ExistingID:      existing,
		}
	}
	if _, ok := r.assets[asset.ID]; ok {
		return fmt.Errorf("%w: asset id %s already exists", simpleasset.ErrInvalidAsset, asset.ID)
	}

	// Create a copy to avoid external modifications
	r.assets[asset.ID] = asset.Clone()
	r.byOrigin[key] = asset.ID
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*simpleasset.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.assets[id]
	if !ok || asset.Deleted() {
		return nil, simpleasset.ErrAssetNotFound
	}
	return asset.Clone(), nil
}

func (r *Repository) GetAssetByOrigin(ctx context.Context, provider simpleasset.ProviderID, providerAssetID string) (*simpleasset.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrigin[originKey{provider, providerAssetID}]
	if !ok {
		return nil, simpleasset.ErrAssetNotFound
	}
	asset := r.assets[id]
	if asset.Deleted() {
		return nil, simpleasset.ErrAssetNotFound
	}
	return asset.Clone(), nil
}

func (r *Repository) ListAssetsByCacheStatus(ctx context.Context, status simpleasset.CacheStatus) ([]*simpleasset.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*simpleasset.Asset
	for _, asset := range r.assets {
		if asset.CacheStatus == status {
			out = append(out, asset.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAccessedAt.Equal(out[j].LastAccessedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].LastAccessedAt.Before(out[j].LastAccessedAt)
	})
	return out, nil
}

// live returns the stored (not copied) asset; callers hold the write lock.
func (r *Repository) live(id uuid.UUID) (*simpleasset.Asset, error) {
	asset, ok := r.assets[id]
	if !ok || asset.Deleted() {
		return nil, simpleasset.ErrAssetNotFound
	}
	return asset, nil
}

func (r *Repository) TouchAsset(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, err := r.live(id)
	if err != nil {
		return err
	}
	if at.After(asset.LastAccessedAt) {
		asset.LastAccessedAt = at
	}
	return nil
}

func (r *Repository) PutProviderUpload(ctx context.Context, id uuid.UUID, provider simpleasset.ProviderID, providerAssetID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, err := r.live(id)
	if err != nil {
		return err
	}
	if asset.ProviderUploads == nil {
		asset.ProviderUploads = make(simpleasset.ProviderUploads)
	}
	changed, err := asset.ProviderUploads.Merge(provider, providerAssetID)
	if err != nil {
		return err
	}
	if changed {
		asset.UpdatedAt = at
	}
	return nil
}

func (r *Repository) TransitionCacheState(ctx context.Context, id uuid.UUID, state simpleasset.CacheState, at time.Time) (*simpleasset.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.assets[id]
	if !ok {
		return nil, simpleasset.ErrAssetNotFound
	}
	if !simpleasset.CanTransition(asset.CacheStatus, state.Status) {
		return nil, &simpleasset.CacheTransitionError{AssetID: id, From: asset.CacheStatus, To: state.Status}
	}
	if state.ExpectPath != "" && asset.LocalCachePath != state.ExpectPath {
		return nil, &simpleasset.CacheTransitionError{AssetID: id, From: asset.CacheStatus, To: state.Status}
	}

	next := asset.Clone()
	next.ApplyCacheState(state, at)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	r.assets[id] = next
	return next.Clone(), nil
}

func (r *Repository) SetClassification(ctx context.Context, id uuid.UUID, c simpleasset.Classification, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, err := r.live(id)
	if err != nil {
		return err
	}
	next := asset.Clone()
	next.Metadata = c.Metadata
	next.Searchable = c.Searchable
	next.AgeRestricted = c.AgeRestricted
	next.UpdatedAt = at
	r.assets[id] = next.Clone()
	return nil
}

func (r *Repository) TombstoneAsset(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, err := r.live(id)
	if err != nil {
		return err
	}
	asset.DeletedAt = &at
	asset.UpdatedAt = at
	return nil
}

func (r *Repository) PurgeAsset(ctx context.Context, id uuid.UUID) (*simpleasset.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.assets[id]
	if !ok {
		return nil, simpleasset.ErrAssetNotFound
	}
	if n := r.referencesLocked(id); n > 0 {
		return nil, fmt.Errorf("%w: %d references", simpleasset.ErrAssetReferenced, n)
	}
	delete(r.assets, id)
	delete(r.byOrigin, originKey{asset.OriginProviderID, asset.OriginProviderAssetID})
	return asset.Clone(), nil
}

// Lineage operations

func (r *Repository) CreateLineageLinks(ctx context.Context, links []*simpleasset.LineageLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[[2]uuid.UUID]struct{}, len(r.links)+len(links))
	for _, l := range r.links {
		seen[[2]uuid.UUID{l.ChildID, l.ParentID}] = struct{}{}
	}
	for _, l := range links {
		if _, ok := r.assets[l.ChildID]; !ok {
			return simpleasset.ErrAssetNotFound
		}
		if _, ok := r.assets[l.ParentID]; !ok {
			return simpleasset.ErrAssetNotFound
		}
		key := [2]uuid.UUID{l.ChildID, l.ParentID}
		if _, ok := seen[key]; ok {
			return simpleasset.ErrDuplicateLineageLink
		}
		seen[key] = struct{}{}
	}
	for _, l := range links {
		c := *l
		r.links = append(r.links, &c)
	}
	return nil
}

func (r *Repository) DeleteLineageLink(ctx context.Context, childID, parentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, l := range r.links {
		if l.ChildID == childID && l.ParentID == parentID {
			r.links = append(r.links[:i], r.links[i+1:]...)
			return nil
		}
	}
	return simpleasset.ErrLineageLinkNotFound
}

func (r *Repository) ListLineageLinks(ctx context.Context) ([]*simpleasset.LineageLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*simpleasset.LineageLink, len(r.links))
	for i, l := range r.links {
		c := *l
		out[i] = &c
	}
	return out, nil
}

// Branch operations

func (r *Repository) CreateBranchPoint(ctx context.Context, branch *simpleasset.BranchPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.assets[branch.SourceAssetID]; !ok {
		return simpleasset.ErrAssetNotFound
	}
	for _, b := range r.branches {
		if b.SourceAssetID == branch.SourceAssetID && b.Tag == branch.Tag {
			return fmt.Errorf("%w: %q", simpleasset.ErrDuplicateBranchTag, branch.Tag)
		}
	}
	c := *branch
	r.branches[branch.ID] = &c
	return nil
}

func (r *Repository) GetBranchPoint(ctx context.Context, id uuid.UUID) (*simpleasset.BranchPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.branches[id]
	if !ok {
		return nil, simpleasset.ErrBranchNotFound
	}
	c := *b
	return &c, nil
}

func (r *Repository) ListBranchPoints(ctx context.Context, sourceAssetIDs []uuid.UUID) ([]*simpleasset.BranchPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[uuid.UUID]struct{}, len(sourceAssetIDs))
	for _, id := range sourceAssetIDs {
		want[id] = struct{}{}
	}
	var out []*simpleasset.BranchPoint
	for _, b := range r.branches {
		if _, ok := want[b.SourceAssetID]; ok {
			c := *b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Repository) CreateBranchVariant(ctx context.Context, variant *simpleasset.BranchVariant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.branches[variant.BranchID]; !ok {
		return simpleasset.ErrBranchNotFound
	}
	if _, ok := r.assets[variant.VariantAssetID]; !ok {
		return simpleasset.ErrAssetNotFound
	}
	ids := r.variantsByBranch[variant.BranchID]
	position := 0
	for _, id := range ids {
		v := r.variants[id]
		if v.Tag == variant.Tag {
			return fmt.Errorf("%w: %q", simpleasset.ErrDuplicateVariantTag, variant.Tag)
		}
		if v.VariantAssetID == variant.VariantAssetID {
			return fmt.Errorf("%w: %s", simpleasset.ErrDuplicateVariantAsset, variant.VariantAssetID)
		}
		if v.Position >= position {
			position = v.Position + 1
		}
	}

	variant.Position = position
	c := *variant
	r.variants[variant.ID] = &c
	r.variantsByBranch[variant.BranchID] = append(ids, variant.ID)
	return nil
}

func (r *Repository) DeleteBranchVariant(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.variants[id]
	if !ok {
		return simpleasset.ErrVariantNotFound
	}
	delete(r.variants, id)
	ids := r.variantsByBranch[v.BranchID]
	for i, vid := range ids {
		if vid == id {
			r.variantsByBranch[v.BranchID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Repository) ListBranchVariants(ctx context.Context, branchIDs []uuid.UUID) ([]*simpleasset.BranchVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*simpleasset.BranchVariant
	for _, bid := range branchIDs {
		for _, id := range r.variantsByBranch[bid] {
			c := *r.variants[id]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *Repository) CountAssetReferences(ctx context.Context, assetID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.referencesLocked(assetID), nil
}

func (r *Repository) referencesLocked(assetID uuid.UUID) int {
	n := 0
	for _, l := range r.links {
		if l.ChildID == assetID || l.ParentID == assetID {
			n++
		}
	}
	for _, b := range r.branches {
		if b.SourceAssetID == assetID {
			n++
		}
	}
	for _, v := range r.variants {
		if v.VariantAssetID == assetID {
			n++
		}
	}
	return n
}
