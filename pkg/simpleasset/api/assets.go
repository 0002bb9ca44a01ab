package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// CreateAssetRequest is the request body for registering a generation
type CreateAssetRequest struct {
	OwnerID               uuid.UUID              `json:"owner_id"`
	OriginProviderID      string                 `json:"origin_provider_id"`
	OriginProviderAssetID string                 `json:"origin_provider_asset_id"`
	OriginRemoteURL       string                 `json:"origin_remote_url"`
	OriginURLExpiresAt    *time.Time             `json:"origin_url_expires_at,omitempty"`
	OriginContentHash     string                 `json:"origin_content_hash,omitempty"`
	MediaType             string                 `json:"media_type"`
	MimeType              string                 `json:"mime_type,omitempty"`
	DurationSeconds       float64                `json:"duration_seconds,omitempty"`
	Width                 int                    `json:"width,omitempty"`
	Height                int                    `json:"height,omitempty"`
	FileSize              int64                  `json:"file_size,omitempty"`
	Metadata              map[string]interface{} `json:"metadata,omitempty"`
}

// ProviderUploadResponse is the response body for a provider lookup
type ProviderUploadResponse struct {
	AssetID         uuid.UUID              `json:"asset_id"`
	Provider        simpleasset.ProviderID `json:"provider"`
	ProviderAssetID string                 `json:"provider_asset_id"`
}

// CreateAsset registers a completed generation
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, simpleasset.ReasonInvalid, err.Error())
		return
	}

	asset, err := h.store.Registry().Create(r.Context(), simpleasset.CreateAssetRequest{
		OwnerID:               req.OwnerID,
		OriginProviderID:      simpleasset.ProviderID(req.OriginProviderID),
		OriginProviderAssetID: req.OriginProviderAssetID,
		OriginRemoteURL:       req.OriginRemoteURL,
		OriginURLExpiresAt:    req.OriginURLExpiresAt,
		OriginContentHash:     req.OriginContentHash,
		MediaType:             simpleasset.MediaType(req.MediaType),
		MimeType:              req.MimeType,
		DurationSeconds:       req.DurationSeconds,
		Width:                 req.Width,
		Height:                req.Height,
		FileSize:              req.FileSize,
		Metadata:              req.Metadata,
	})
	if err != nil {
		h.writeStoreError(w, r, "create asset failed", err)
		return
	}

	h.logger.InfoContext(r.Context(), "asset created", "asset_id", asset.ID, "origin", asset.OriginProviderID)
	created(w, r, asset)
}

// GetAsset returns a live asset
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	asset, err := h.store.Registry().Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "get asset failed", err)
		return
	}
	render.JSON(w, r, asset)
}

// GetAssetByOrigin looks an asset up by its origin provider object
func (h *Handler) GetAssetByOrigin(w http.ResponseWriter, r *http.Request) {
	provider := simpleasset.ProviderID(chi.URLParam(r, "provider"))
	asset, err := h.store.Registry().GetByOrigin(r.Context(), provider, chi.URLParam(r, "providerAssetID"))
	if err != nil {
		h.writeStoreError(w, r, "get asset by origin failed", err)
		return
	}
	render.JSON(w, r, asset)
}

// DeleteAsset tombstones an asset, or hard-deletes it with ?purge=true
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))
	var err error
	if purge {
		err = h.store.Registry().Purge(r.Context(), id)
	} else {
		err = h.store.Registry().Delete(r.Context(), id)
	}
	if err != nil {
		h.writeStoreError(w, r, "delete asset failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetClassification replaces the classification bag and flags
func (h *Handler) SetClassification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req simpleasset.Classification
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, simpleasset.ReasonInvalid, err.Error())
		return
	}
	if err := h.store.Registry().SetClassification(r.Context(), id, req); err != nil {
		h.writeStoreError(w, r, "set classification failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAssetForProvider returns the provider's id for the asset, transferring
// the bytes first on a miss. Blocks until the transfer finishes.
func (h *Handler) GetAssetForProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	provider := simpleasset.ProviderID(chi.URLParam(r, "provider"))

	providerAssetID, err := h.store.UploadCache().GetAssetForProvider(r.Context(), id, provider)
	if err != nil {
		h.writeStoreError(w, r, "provider lookup failed", err)
		return
	}
	render.JSON(w, r, ProviderUploadResponse{
		AssetID:         id,
		Provider:        provider,
		ProviderAssetID: providerAssetID,
	})
}
