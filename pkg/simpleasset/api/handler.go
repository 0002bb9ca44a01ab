// Package api exposes an AssetStore over HTTP with chi.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Handler serves the asset, graph and cache endpoints.
type Handler struct {
	store       *simpleasset.AssetStore
	logger      *slog.Logger
	environment string
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the handler logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithEnvironment sets the environment reported by /health
func WithEnvironment(env string) Option {
	return func(h *Handler) {
		h.environment = env
	}
}

// NewHandler creates a handler for store
func NewHandler(store *simpleasset.AssetStore, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "api")
	return h
}

// Routes returns every endpoint mounted at the root.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.Health)

	r.Route("/assets", func(r chi.Router) {
		r.Post("/", h.CreateAsset)
		r.Get("/by-origin/{provider}/{providerAssetID}", h.GetAssetByOrigin)
		r.Get("/{id}", h.GetAsset)
		r.Delete("/{id}", h.DeleteAsset)
		r.Put("/{id}/classification", h.SetClassification)
		r.Post("/{id}/providers/{provider}", h.GetAssetForProvider)

		r.Post("/{id}/lineage", h.AddLineage)
		r.Get("/{id}/lineage", h.ListLineage)
		r.Delete("/{id}/lineage/{parent}", h.RemoveLineage)
		r.Get("/{id}/ancestors", h.Ancestors)
		r.Get("/{id}/descendants", h.Descendants)

		r.Post("/{id}/branches", h.CreateBranch)
		r.Get("/{id}/branches", h.ListBranches)
		r.Get("/{id}/scene", h.LoadScene)
	})

	r.Route("/branches/{id}", func(r chi.Router) {
		r.Get("/", h.GetBranch)
		r.Post("/variants", h.AddVariant)
		r.Get("/variants", h.ListVariants)
		r.Delete("/variants/{variant}", h.RemoveVariant)
	})

	r.Route("/cache", func(r chi.Router) {
		r.Post("/sweep", h.Sweep)
		r.Get("/stats", h.Stats)
	})

	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status":      "healthy",
		"environment": h.environment,
		"providers":   h.store.Uploaders().Providers(),
	})
}

// pathID parses a uuid path parameter and writes a 400 when it is malformed.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.logger.WarnContext(r.Context(), "invalid id", "param", name, "value", raw)
		writeError(w, r, http.StatusBadRequest, simpleasset.ReasonInvalid, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func created(w http.ResponseWriter, r *http.Request, v interface{}) {
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, v)
}
