package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/internal/middleware"
	"github.com/capitalize-ai/campus-assistant/internal/model"
	"github.com/capitalize-ai/campus-assistant/internal/service"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
)

// MessageHandler handles session history endpoints.
type MessageHandler struct {
	service *service.SessionService
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.SessionService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		service: svc,
		logger:  logger.OrNop(log),
	}
}

// List handles GET /api/v1/sessions/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	msgs, err := h.service.Messages(ctx, middleware.GetUserID(ctx), sessionID)
	if err != nil {
		writeServiceError(w, err, "failed to get messages")
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}

// Add handles POST /api/v1/sessions/{id}/messages
func (h *MessageHandler) Add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	var req model.AddMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateMessage(req.Role, req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry := model.HistoryEntry{Role: req.Role, Content: req.Content}
	if err := h.service.AddMessage(ctx, middleware.GetUserID(ctx), sessionID, entry); err != nil {
		h.logger.Warn("failed to add message", zap.String("session_id", sessionID), zap.Error(err))
		writeServiceError(w, err, "failed to add message")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
