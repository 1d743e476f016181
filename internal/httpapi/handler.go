package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/safar/storefront-checkout/internal/checkout"
	"github.com/safar/storefront-checkout/internal/payment"
)

type CheckoutService interface {
	CreateIntent(ctx context.Context, req checkout.IntentRequest) (string, error)
	Capture(ctx context.Context, req checkout.CaptureRequest) (uuid.UUID, error)
}

type Handler struct {
	service      CheckoutService
	session      SessionLookup
	logger       *slog.Logger
	maxBodyBytes int64
}

func NewHandler(service CheckoutService, session SessionLookup, logger *slog.Logger, maxBodyBytes int64) *Handler {
	return &Handler{
		service:      service,
		session:      session,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

type intentRequest struct {
	CartItems []checkout.RawLineItem `json:"cartItems"`
	CartTotal json.RawMessage        `json:"cartTotal,omitempty"`
}

type intentResponse struct {
	ProviderOrderID string `json:"providerOrderId"`
}

type captureRequest struct {
	ProviderOrderID   string                 `json:"providerOrderId"`
	CartItems         []checkout.RawLineItem `json:"cartItems"`
	ShippingAddressID string                 `json:"shippingAddressId,omitempty"`
	GuestAddress      *checkout.GuestProfile `json:"guestAddress,omitempty"`
	CartTotal         json.RawMessage        `json:"cartTotal,omitempty"`
}

type captureResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
}

type errorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if !h.decode(w, r, &req) {
		return
	}
	total, ok := declaredTotal(req.CartTotal)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "cartTotal must be a decimal amount", nil)
		return
	}

	providerOrderID, err := h.service.CreateIntent(r.Context(), checkout.IntentRequest{
		Items:     req.CartItems,
		CartTotal: total,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, intentResponse{ProviderOrderID: providerOrderID})
}

func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if !h.decode(w, r, &req) {
		return
	}
	total, ok := declaredTotal(req.CartTotal)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "cartTotal must be a decimal amount", nil)
		return
	}

	orderID, err := h.service.Capture(r.Context(), checkout.CaptureRequest{
		ProviderOrderID:   req.ProviderOrderID,
		Items:             req.CartItems,
		SessionUserID:     h.session.UserID(r),
		ShippingAddressID: req.ShippingAddressID,
		Guest:             req.GuestAddress,
		CartTotal:         total,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, captureResponse{Success: true, OrderID: orderID.String()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return false
	}
	return true
}

// declaredTotal accepts the client total as a JSON string or number.
func declaredTotal(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", true
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	return n.String(), true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetReqID(r.Context())

	var gwErr *payment.GatewayError
	if errors.As(err, &gwErr) {
		status := http.StatusBadGateway
		if gwErr.ClientFault() {
			status = http.StatusBadRequest
		}
		details := map[string]any{}
		if gwErr.Name != "" {
			details["name"] = gwErr.Name
		}
		if gwErr.DebugID != "" {
			details["debugId"] = gwErr.DebugID
		}
		h.writeError(w, status, gwErr.PublicMessage(), details)
		return
	}

	var rejection *checkout.Error
	if errors.As(err, &rejection) {
		switch {
		case errors.Is(rejection.Kind, checkout.ErrPersistence):
			h.logger.Error("checkout persistence failure", "error", err, "request_id", reqID)
			h.writeError(w, http.StatusInternalServerError, rejection.Message, nil)
		case errors.Is(rejection.Kind, checkout.ErrCaptureInProgress):
			h.writeError(w, http.StatusConflict, rejection.Message, rejection.Details)
		default:
			h.logger.Info("checkout rejected", "reason", rejection.Kind.Error(), "message", rejection.Message, "request_id", reqID)
			h.writeError(w, http.StatusBadRequest, rejection.Message, rejection.Details)
		}
		return
	}

	h.logger.Error("checkout failed", "error", err, "request_id", reqID)
	h.writeError(w, http.StatusInternalServerError, "internal server error", nil)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, details map[string]any) {
	if len(details) == 0 {
		details = nil
	}
	h.writeJSON(w, status, errorResponse{Error: message, Details: details})
}
