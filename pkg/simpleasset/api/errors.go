package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries a stable code (the job failure reason) and a message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusTable = []struct {
	err    error
	status int
}{
	{simpleasset.ErrAssetNotFound, http.StatusNotFound},
	{simpleasset.ErrBranchNotFound, http.StatusNotFound},
	{simpleasset.ErrLineageLinkNotFound, http.StatusNotFound},
	{simpleasset.ErrVariantNotFound, http.StatusNotFound},
	{simpleasset.ErrUploaderNotFound, http.StatusNotFound},
	{simpleasset.ErrDuplicateOrigin, http.StatusConflict},
	{simpleasset.ErrDuplicateLineageLink, http.StatusConflict},
	{simpleasset.ErrDuplicateBranchTag, http.StatusConflict},
	{simpleasset.ErrDuplicateVariantTag, http.StatusConflict},
	{simpleasset.ErrDuplicateVariantAsset, http.StatusConflict},
	{simpleasset.ErrInconsistentCache, http.StatusConflict},
	{simpleasset.ErrInvalidCacheTransition, http.StatusConflict},
	{simpleasset.ErrAssetReferenced, http.StatusConflict},
	{simpleasset.ErrCycleDetected, http.StatusUnprocessableEntity},
	{simpleasset.ErrUnsupportedMedia, http.StatusUnprocessableEntity},
	{simpleasset.ErrInvalidAsset, http.StatusBadRequest},
	{simpleasset.ErrInvalidCacheState, http.StatusBadRequest},
	{simpleasset.ErrInvalidProviderID, http.StatusBadRequest},
	{simpleasset.ErrUnknownProvider, http.StatusBadRequest},
	{simpleasset.ErrOriginUnavailable, http.StatusBadGateway},
	{simpleasset.ErrIntegrityMismatch, http.StatusBadGateway},
	{simpleasset.ErrProviderRejectedUpload, http.StatusBadGateway},
	{simpleasset.ErrTimeout, http.StatusGatewayTimeout},
	{simpleasset.ErrCapacityExceeded, http.StatusInsufficientStorage},
}

// statusFor maps a store error to an HTTP status.
func statusFor(err error) int {
	for _, entry := range statusTable {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// writeStoreError logs err and writes it with its mapped status.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), msg, "err", err, "path", r.URL.Path)
	} else {
		h.logger.InfoContext(r.Context(), msg, "err", err, "status", status, "path", r.URL.Path)
	}
	writeError(w, r, status, simpleasset.FailureReason(err), err.Error())
}
