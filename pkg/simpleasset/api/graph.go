package api

import (
	"context"
	"iter"
	"net/http"
	"strconv"

	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// AddLineageRequest lists the parents the asset was derived from
type AddLineageRequest struct {
	Parents []simpleasset.LineageParent `json:"parents"`
}

// CreateBranchRequest is the request body for a branch point
type CreateBranchRequest struct {
	BranchTime  *float64 `json:"branch_time,omitempty"`
	BranchFrame *int     `json:"branch_frame,omitempty"`
	Name        string   `json:"name"`
	Tag         string   `json:"tag"`
	Description string   `json:"description,omitempty"`
}

// AddVariantRequest is the request body for attaching a variant
type AddVariantRequest struct {
	VariantAssetID uuid.UUID `json:"variant_asset_id"`
	Name           string    `json:"name"`
	Tag            string    `json:"tag"`
}

// AddLineage records the asset's parents in one all-or-nothing write
func (h *Handler) AddLineage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req AddLineageRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, simpleasset.ReasonInvalid, err.Error())
		return
	}

	if err := h.store.Lineage().AddEdge(r.Context(), simpleasset.LineageEdge{ChildID: id, Parents: req.Parents}); err != nil {
		h.writeStoreError(w, r, "add lineage failed", err)
		return
	}
	links, err := h.store.Lineage().Parents(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "list lineage failed", err)
		return
	}
	created(w, r, links)
}

// ListLineage returns the direct parent links of the asset
func (h *Handler) ListLineage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	links, err := h.store.Lineage().Parents(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "list lineage failed", err)
		return
	}
	render.JSON(w, r, links)
}

// RemoveLineage deletes one child/parent link
func (h *Handler) RemoveLineage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	parent, ok := h.pathID(w, r, "parent")
	if !ok {
		return
	}
	if err := h.store.Lineage().RemoveEdge(r.Context(), id, parent); err != nil {
		h.writeStoreError(w, r, "remove lineage failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ancestors lists live ancestors breadth first; ?max_depth bounds the walk
func (h *Handler) Ancestors(w http.ResponseWriter, r *http.Request) {
	h.walk(w, r, h.store.Lineage().Ancestors)
}

// Descendants lists live descendants breadth first; ?max_depth bounds the walk
func (h *Handler) Descendants(w http.ResponseWriter, r *http.Request) {
	h.walk(w, r, h.store.Lineage().Descendants)
}

func (h *Handler) walk(w http.ResponseWriter, r *http.Request, traverse func(ctx context.Context, id uuid.UUID, maxDepth int) iter.Seq2[*simpleasset.Asset, error]) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	maxDepth := 0
	if raw := r.URL.Query().Get("max_depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, simpleasset.ReasonInvalid, "max_depth must be a non-negative integer")
			return
		}
		maxDepth = n
	}

	assets := make([]*simpleasset.Asset, 0)
	for asset, err := range traverse(r.Context(), id, maxDepth) {
		if err != nil {
			h.writeStoreError(w, r, "lineage walk failed", err)
			return
		}
		assets = append(assets, asset)
	}
	render.JSON(w, r, assets)
}

// CreateBranch adds a branch point to the asset
func (h *Handler) CreateBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req CreateBranchRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, simpleasset.ReasonInvalid, err.Error())
		return
	}

	branch, err := h.store.Branches().CreateBranch(r.Context(), simpleasset.CreateBranchRequest{
		SourceAssetID: id,
		BranchTime:    req.BranchTime,
		BranchFrame:   req.BranchFrame,
		Name:          req.Name,
		Tag:           req.Tag,
		Description:   req.Description,
	})
	if err != nil {
		h.writeStoreError(w, r, "create branch failed", err)
		return
	}
	created(w, r, branch)
}

// ListBranches returns the branch points on the asset
func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	branches, err := h.store.Branches().BranchesFor(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "list branches failed", err)
		return
	}
	render.JSON(w, r, branches)
}

// GetBranch returns one branch point
func (h *Handler) GetBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	branch, err := h.store.Branches().GetBranch(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "get branch failed", err)
		return
	}
	render.JSON(w, r, branch)
}

// AddVariant attaches a variant asset to the branch
func (h *Handler) AddVariant(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req AddVariantRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, simpleasset.ReasonInvalid, err.Error())
		return
	}

	variant, err := h.store.Branches().AddVariant(r.Context(), simpleasset.AddVariantRequest{
		BranchID:       id,
		VariantAssetID: req.VariantAssetID,
		Name:           req.Name,
		Tag:            req.Tag,
	})
	if err != nil {
		h.writeStoreError(w, r, "add variant failed", err)
		return
	}
	created(w, r, variant)
}

// ListVariants returns the branch's variants in authoring order
func (h *Handler) ListVariants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	variants, err := h.store.Branches().VariantsFor(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "list variants failed", err)
		return
	}
	render.JSON(w, r, variants)
}

// RemoveVariant detaches a variant from its branch
func (h *Handler) RemoveVariant(w http.ResponseWriter, r *http.Request) {
	variantID, ok := h.pathID(w, r, "variant")
	if !ok {
		return
	}
	if err := h.store.Branches().RemoveVariant(r.Context(), variantID); err != nil {
		h.writeStoreError(w, r, "remove variant failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LoadScene returns everything reachable from the asset
func (h *Handler) LoadScene(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	scene, err := h.store.LoadScene(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "load scene failed", err)
		return
	}
	render.JSON(w, r, scene)
}
