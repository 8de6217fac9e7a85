package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"sokoBack/internal/models"
	"sokoBack/internal/services"
)

type PaymentHandler struct {
	Gateway       *services.PesapalService
	Callbacks     *services.PaymentCallbackService
	Subscriptions *services.SubscriptionService
	Logger        *slog.Logger
}

// IPN receives the gateway's server-to-server notification. The delivery is
// always acknowledged with HTTP 200: gateways retry on error responses and
// processing is idempotent, so a failure is logged and reported only inside
// the ack payload.
func (h *PaymentHandler) IPN(w http.ResponseWriter, r *http.Request) {
	cb := models.IPNCallback{
		OrderTrackingID:   r.URL.Query().Get("OrderTrackingId"),
		MerchantReference: r.URL.Query().Get("OrderMerchantReference"),
		NotificationType:  r.URL.Query().Get("OrderNotificationType"),
	}
	if r.Method == http.MethodPost && strings.TrimSpace(cb.OrderTrackingID) == "" {
		// JSON body delivery; decode errors fall through to the missing-id path.
		_ = json.NewDecoder(r.Body).Decode(&cb)
	}

	ackStatus := http.StatusOK
	if err := h.handleCallback(r, cb); err != nil {
		h.logger().Error("ipn processing failed",
			"tracking_id", cb.OrderTrackingID,
			"merchant_reference", cb.MerchantReference,
			"err", err,
		)
		ackStatus = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"orderNotificationType":  cb.NotificationType,
		"orderTrackingId":        cb.OrderTrackingID,
		"orderMerchantReference": cb.MerchantReference,
		"status":                 ackStatus,
	})
}

func (h *PaymentHandler) handleCallback(r *http.Request, cb models.IPNCallback) error {
	res, err := h.Callbacks.ProcessCallback(r.Context(), cb)
	if err != nil {
		return err
	}
	return h.Subscriptions.ApplyPaymentStatus(r.Context(), *res)
}

// Redirect is the browser landing page after checkout. The displayed status
// is corroborated against the gateway, not taken from query parameters.
func (h *PaymentHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	cb := models.IPNCallback{
		OrderTrackingID:   r.URL.Query().Get("OrderTrackingId"),
		MerchantReference: r.URL.Query().Get("OrderMerchantReference"),
	}
	res, err := h.Callbacks.ProcessCallback(r.Context(), cb)
	if err != nil {
		if errors.Is(err, models.ErrMalformedCallback) {
			http.Error(w, "missing OrderTrackingId", http.StatusBadRequest)
			return
		}
		h.logger().Error("redirect status lookup failed", "tracking_id", cb.OrderTrackingID, "err", err)
		http.Error(w, "payment status unavailable", http.StatusBadGateway)
		return
	}
	if err := h.Subscriptions.ApplyPaymentStatus(r.Context(), *res); err != nil {
		h.logger().Error("apply payment status failed", "tracking_id", res.OrderTrackingID, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"order_tracking_id":  res.OrderTrackingID,
		"merchant_reference": res.MerchantReference,
		"status":             res.Status,
	})
}

// RegisterIPN is the one-time administrative call that registers the webhook
// URL with the gateway and returns the notification id to configure.
func (h *PaymentHandler) RegisterIPN(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL              string `json:"url"`
		NotificationType string `json:"notification_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	resp, err := h.Gateway.RegisterIPN(r.Context(), req.URL, req.NotificationType)
	if err != nil {
		http.Error(w, "register ipn: "+err.Error(), gatewayErrorStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// TransactionStatus exposes the authoritative status lookup for operators.
func (h *PaymentHandler) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	trackingID := r.URL.Query().Get(":tracking_id")
	if strings.TrimSpace(trackingID) == "" {
		http.Error(w, "invalid tracking_id", http.StatusBadRequest)
		return
	}
	status, err := h.Gateway.GetTransactionStatus(r.Context(), trackingID)
	if err != nil {
		http.Error(w, "transaction status: "+err.Error(), gatewayErrorStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func gatewayErrorStatus(err error) int {
	var apiErr *services.PesapalError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode
		}
	}
	return http.StatusBadGateway
}

func (h *PaymentHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
