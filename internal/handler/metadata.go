package handler

import (
	"net/http"

	"github.com/capitalize-ai/campus-assistant/internal/middleware"
	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/internal/service"
)

// MetadataHandler handles session citation metadata.
type MetadataHandler struct {
	service *service.SessionService
}

// NewMetadataHandler creates a new metadata handler.
func NewMetadataHandler(svc *service.SessionService) *MetadataHandler {
	return &MetadataHandler{service: svc}
}

// Get handles GET /api/v1/sessions/{id}/metadata
func (h *MetadataHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	meta, err := h.service.Metadata(ctx, middleware.GetUserID(ctx), sessionID)
	if err != nil {
		writeServiceError(w, err, "failed to get metadata")
		return
	}

	writeJSON(w, http.StatusOK, model.MetadataResponse{MetaData: meta})
}

// Put handles PUT /api/v1/sessions/{id}/metadata. The record is appended to
// the session's metadata.
func (h *MetadataHandler) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req model.MetadataUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateCitation(req.MetaData); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.AddMetadata(ctx, middleware.GetUserID(ctx), sessionID, req.MetaData); err != nil {
		writeServiceError(w, err, "failed to update metadata")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
