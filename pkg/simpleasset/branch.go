package simpleasset

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BranchGraph records narrative branch points on source assets and the
// mutually exclusive variants reachable from each point.
type BranchGraph struct {
	repo   GraphRepository
	assets *Registry
	logger *slog.Logger
	now    func() time.Time
}

// CreateBranch adds a branch point to a source asset. Tags are unique per
// source asset (ErrDuplicateBranchTag).
func (b *BranchGraph) CreateBranch(ctx context.Context, req CreateBranchRequest) (*BranchPoint, error) {
	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		return nil, fmt.Errorf("%w: branch tag is required", ErrInvalidAsset)
	}
	if _, err := b.assets.Get(ctx, req.SourceAssetID); err != nil {
		return nil, err
	}

	branch := &BranchPoint{
		ID:            uuid.New(),
		SourceAssetID: req.SourceAssetID,
		BranchTime:    req.BranchTime,
		BranchFrame:   req.BranchFrame,
		Name:          req.Name,
		Tag:           tag,
		Description:   req.Description,
		CreatedAt:     b.now(),
	}
	if err := b.repo.CreateBranchPoint(ctx, branch); err != nil {
		return nil, err
	}
	b.logger.InfoContext(ctx, "branch created", "branch_id", branch.ID, "source_asset_id", branch.SourceAssetID, "tag", tag)
	return branch, nil
}

// GetBranch returns a branch point or ErrBranchNotFound.
func (b *BranchGraph) GetBranch(ctx context.Context, id uuid.UUID) (*BranchPoint, error) {
	return b.repo.GetBranchPoint(ctx, id)
}

// AddVariant attaches a variant asset to a branch. The tag must be unused in
// the branch and the asset must not already be a variant of it. A variant
// whose own branches lead back to the branch's source fails with
// ErrCycleDetected.
func (b *BranchGraph) AddVariant(ctx context.Context, req AddVariantRequest) (*BranchVariant, error) {
	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		return nil, fmt.Errorf("%w: variant tag is required", ErrInvalidAsset)
	}
	branch, err := b.repo.GetBranchPoint(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}
	if _, err := b.assets.Get(ctx, req.VariantAssetID); err != nil {
		return nil, err
	}
	if err := b.checkAcyclic(ctx, branch.SourceAssetID, req.VariantAssetID); err != nil {
		return nil, err
	}

	variant := &BranchVariant{
		ID:             uuid.New(),
		BranchID:       branch.ID,
		VariantAssetID: req.VariantAssetID,
		Name:           req.Name,
		Tag:            tag,
		CreatedAt:      b.now(),
	}
	if err := b.repo.CreateBranchVariant(ctx, variant); err != nil {
		return nil, err
	}
	b.logger.InfoContext(ctx, "variant added", "branch_id", branch.ID, "variant_asset_id", variant.VariantAssetID, "tag", tag, "position", variant.Position)
	return variant, nil
}

// checkAcyclic walks source -> variant edges from the candidate variant and
// fails if it reaches the branch's source.
func (b *BranchGraph) checkAcyclic(ctx context.Context, sourceID, variantID uuid.UUID) error {
	if sourceID == variantID {
		return fmt.Errorf("%w: asset %s cannot be a variant of its own branch", ErrCycleDetected, sourceID)
	}
	visited := map[uuid.UUID]struct{}{variantID: {}}
	frontier := []uuid.UUID{variantID}
	for len(frontier) > 0 {
		next, err := b.variantAssets(ctx, frontier)
		if err != nil {
			return err
		}
		frontier = frontier[:0]
		for _, id := range next {
			if id == sourceID {
				return fmt.Errorf("%w: %s already branches back to %s", ErrCycleDetected, variantID, sourceID)
			}
			if _, ok := visited[id]; ok {
				continue
			}
			visited[id] = struct{}{}
			frontier = append(frontier, id)
		}
	}
	return nil
}

// variantAssets returns the variant asset ids of every branch on the sources.
func (b *BranchGraph) variantAssets(ctx context.Context, sources []uuid.UUID) ([]uuid.UUID, error) {
	branches, err := b.repo.ListBranchPoints(ctx, sources)
	if err != nil || len(branches) == 0 {
		return nil, err
	}
	ids := make([]uuid.UUID, len(branches))
	for i, br := range branches {
		ids[i] = br.ID
	}
	variants, err := b.repo.ListBranchVariants(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, len(variants))
	for i, v := range variants {
		out[i] = v.VariantAssetID
	}
	return out, nil
}

// VariantsFor returns the variants of a branch in authoring order.
func (b *BranchGraph) VariantsFor(ctx context.Context, branchID uuid.UUID) ([]*BranchVariant, error) {
	if _, err := b.repo.GetBranchPoint(ctx, branchID); err != nil {
		return nil, err
	}
	return b.repo.ListBranchVariants(ctx, []uuid.UUID{branchID})
}

// BranchesFor returns the branch points on a source asset.
func (b *BranchGraph) BranchesFor(ctx context.Context, sourceAssetID uuid.UUID) ([]*BranchPoint, error) {
	return b.repo.ListBranchPoints(ctx, []uuid.UUID{sourceAssetID})
}

// RemoveVariant detaches a variant. The variant asset is untouched.
func (b *BranchGraph) RemoveVariant(ctx context.Context, variantID uuid.UUID) error {
	return b.repo.DeleteBranchVariant(ctx, variantID)
}
