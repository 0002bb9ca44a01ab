package simpleasset_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

func TestBranchTagUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bg := f.store.Branches()
	source, other := f.createAsset(t), f.createAsset(t)

	at := 4.5
	first, err := bg.CreateBranch(ctx, simpleasset.CreateBranchRequest{SourceAssetID: source.ID, BranchTime: &at, Name: "Door", Tag: "door"})
	require.NoError(t, err)
	assert.Equal(t, source.ID, first.SourceAssetID)

	_, err = bg.CreateBranch(ctx, simpleasset.CreateBranchRequest{SourceAssetID: source.ID, Tag: "door"})
	assert.ErrorIs(t, err, simpleasset.ErrDuplicateBranchTag)
	assert.Equal(t, simpleasset.ReasonDuplicateBranchTag, simpleasset.FailureReason(err))

	_, err = bg.CreateBranch(ctx, simpleasset.CreateBranchRequest{SourceAssetID: other.ID, Tag: "door"})
	require.NoError(t, err, "tags are scoped to the source asset")

	_, err = bg.CreateBranch(ctx, simpleasset.CreateBranchRequest{SourceAssetID: source.ID, Tag: "  "})
	assert.ErrorIs(t, err, simpleasset.ErrInvalidAsset)
	_, err = bg.CreateBranch(ctx, simpleasset.CreateBranchRequest{SourceAssetID: uuid.New(), Tag: "x"})
	assert.ErrorIs(t, err, simpleasset.ErrAssetNotFound)

	branches, err := bg.BranchesFor(ctx, source.ID)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, first.ID, branches[0].ID)
}

func TestBranchVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bg := f.store.Branches()
	source, left, right, extra := f.createAsset(t), f.createAsset(t), f.createAsset(t), f.createAsset(t)

	branch, err := bg.CreateBranch(ctx, simpleasset.CreateBranchRequest{SourceAssetID: source.ID, Tag: "fork"})
	require.NoError(t, err)

	v1, err := bg.AddVariant(ctx, simpleasset.AddVariantRequest{BranchID: branch.ID, VariantAssetID: right.ID, Tag: "right"})
	require.NoError(t, err)
	v2, err := bg.AddVariant(ctx, simpleasset.AddVariantRequest{BranchID: branch.ID, VariantAssetID: left.ID, Tag: "left"})
	require.NoError(t, err)
	assert.Less(t, v1.Position, v2.Position)

	_, err = bg.AddVariant(ctx, simpleasset.AddVariantRequest{BranchID: branch.ID, VariantAssetID: extra.ID, Tag: "left"})
	assert.ErrorIs(t, err, simpleasset.ErrDuplicateVariantTag)
	_, err = bg.AddVariant(ctx, simpleasset.AddVariantRequest{BranchID: branch.ID, VariantAssetID: left.ID, Tag: "again"})
	assert.ErrorIs(t, err, simpleasset.ErrDuplicateVariantAsset)
	_, err = bg.AddVariant(ctx, simpleasset.AddVariantRequest{BranchID: uuid.New(), VariantAssetID: extra.ID, Tag: "x"})
	assert.ErrorIs(t, err, simpleasset.ErrBranchNotFound)

	variants, err := bg.VariantsFor(ctx, branch.ID)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "right", variants[0].Tag)
	assert.Equal(t, "left", variants[1].Tag)

	require.NoError(t, bg.RemoveVariant(ctx, v1.ID))
	assert.ErrorIs(t, bg.RemoveVariant(ctx, v1.ID), simpleasset.ErrVariantNotFound)
	variants, err = bg.VariantsFor(ctx, branch.ID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, left.ID, variants[0].VariantAssetID)

	_, err = bg.VariantsFor(ctx, uuid.New())
	assert.ErrorIs(t, err, simpleasset.ErrBranchNotFound)
}

func TestBranchGraphRejectsCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bg := f.store.Branches()
	a, b := f.createAsset(t), f.createAsset(t)

	onA, err := bg.CreateBranch(ctx, simpleasset.CreateBranchRequest{SourceAssetID: a.ID, Tag: "a"})
	require.NoError(t, err)
	_, err = bg.AddVariant(ctx, simpleasset.AddVariantRequest{BranchID: onA.ID, VariantAssetID: a.ID, Tag: "self"})
	assert.ErrorIs(t, err, simpleasset.ErrCycleDetected)

	_, err = bg.AddVariant(ctx, simpleasset.AddVariantRequest{BranchID: onA.ID, VariantAssetID: b.ID, Tag: "b"})
	require.NoError(t, err)

	onB, err := bg.CreateBranch(ctx, simpleasset.CreateBranchRequest{SourceAssetID: b.ID, Tag: "b"})
	require.NoError(t, err)
	_, err = bg.AddVariant(ctx, simpleasset.AddVariantRequest{BranchID: onB.ID, VariantAssetID: a.ID, Tag: "back"})
	assert.ErrorIs(t, err, simpleasset.ErrCycleDetected)
}
