package api

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// SweepRequest is the request body for a manual eviction sweep
type SweepRequest struct {
	TargetFreeBytes int64 `json:"target_free_bytes"`
}

// SweepResponse reports how many assets a sweep evicted
type SweepResponse struct {
	Evicted int                     `json:"evicted"`
	Stats   *simpleasset.CacheStats `json:"stats"`
}

// Sweep evicts least recently used cached bytes
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, simpleasset.ReasonInvalid, err.Error())
		return
	}
	if req.TargetFreeBytes <= 0 {
		writeError(w, r, http.StatusBadRequest, simpleasset.ReasonInvalid, "target_free_bytes must be positive")
		return
	}

	evicted, err := h.store.Evictor().Sweep(r.Context(), req.TargetFreeBytes)
	if err != nil {
		h.writeStoreError(w, r, "sweep failed", err)
		return
	}
	stats, err := h.store.Evictor().Stats(r.Context())
	if err != nil {
		h.writeStoreError(w, r, "cache stats failed", err)
		return
	}
	render.JSON(w, r, SweepResponse{Evicted: evicted, Stats: stats})
}

// Stats reports the local cache size
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Evictor().Stats(r.Context())
	if err != nil {
		h.writeStoreError(w, r, "cache stats failed", err)
		return
	}
	render.JSON(w, r, stats)
}
