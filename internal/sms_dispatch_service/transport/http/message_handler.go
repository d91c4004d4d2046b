package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"

	"github.com/textgate/textgate/internal/sms_dispatch_service/app"
	"github.com/textgate/textgate/internal/sms_dispatch_service/domain"
)

type MessageHandler struct {
	registry *app.Registry
	logger   *slog.Logger
}

func NewMessageHandler(registry *app.Registry, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		registry: registry,
		logger:   logger.With("handler", "message"),
	}
}

func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/messages", h.handleSend)
	r.Post("/v1/messages/bulk", h.handleSendBulk)
}

func (h *MessageHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, GenericErrorResponse{Error: "invalid JSON body", Details: err.Error()})
		return
	}

	inst, ok := h.instance(w, req.Instance)
	if !ok {
		return
	}

	res, err := inst.Service.SendSingle(ctx, req.Sender, req.Recipient, req.Message, req.Options)
	if err != nil {
		writeDispatchError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *MessageHandler) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req BulkSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, GenericErrorResponse{Error: "invalid JSON body", Details: err.Error()})
		return
	}

	inst, ok := h.instance(w, req.Instance)
	if !ok {
		return
	}

	resp, err := inst.Service.SendBulk(ctx, domain.BulkRequest{
		Message:      req.Message,
		Recipients:   req.Recipients,
		Sender:       req.Sender,
		RegionHint:   req.RegionHint,
		ValidateOnly: req.ValidateOnly,
		Options:      req.Options,
	})
	if err != nil {
		writeDispatchError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// instance resolves the named instance ("default" when empty) or writes a 404.
func (h *MessageHandler) instance(w http.ResponseWriter, name string) (*app.Instance, bool) {
	if name == "" {
		name = "default"
	}
	inst, ok := h.registry.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, GenericErrorResponse{Error: "unknown instance", Details: name})
		return nil, false
	}
	return inst, true
}

func writeDispatchError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var capErr *domain.CapabilityError
	switch {
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusBadRequest, GenericErrorResponse{Error: "unsupported send option", Details: capErr.Error()})
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrNoRecipients),
		errors.Is(err, domain.ErrNoSender):
		writeJSON(w, http.StatusBadRequest, GenericErrorResponse{Error: err.Error()})
	default:
		logger.Error("Dispatch failed unexpectedly", "error", err)
		writeJSON(w, http.StatusInternalServerError, GenericErrorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
