package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"sokoBack/internal/models"
	"sokoBack/internal/services"
)

type SubscriptionHandler struct {
	Service *services.SubscriptionService
}

// CreateSubscription starts a subscription for the authenticated user. Paid
// tiers include a redirect_url the client must follow to complete payment.
func (h *SubscriptionHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID int                     `json:"product_id"`
		Tier      models.SubscriptionTier `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userID, ok := r.Context().Value("user_id").(int)
	if !ok {
		http.Error(w, "user not authorized", http.StatusUnauthorized)
		return
	}

	sub, redirectURL, err := h.Service.Create(r.Context(), userID, req.ProductID, req.Tier)
	if err != nil {
		writeSubscriptionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"subscription": sub,
		"redirect_url": redirectURL,
	})
}

// GetSubscriptionsByUser lists subscriptions for the specified user.
func (h *SubscriptionHandler) GetSubscriptionsByUser(w http.ResponseWriter, r *http.Request) {
	userIDStr := r.URL.Query().Get(":user_id")
	userID, err := strconv.Atoi(userIDStr)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	subs, err := h.Service.GetForUser(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(subs)
}

// ChangeTier re-prices the subscription; moving onto a paid tier returns a
// redirect_url for the payment step.
func (h *SubscriptionHandler) ChangeTier(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get(":id"))
	if err != nil {
		http.Error(w, "invalid subscription id", http.StatusBadRequest)
		return
	}
	var req struct {
		Tier models.SubscriptionTier `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, redirectURL, err := h.Service.ChangeTier(r.Context(), id, req.Tier)
	if err != nil {
		writeSubscriptionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"subscription": sub,
		"redirect_url": redirectURL,
	})
}

// Renew advances the billing period by one month.
func (h *SubscriptionHandler) Renew(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get(":id"))
	if err != nil {
		http.Error(w, "invalid subscription id", http.StatusBadRequest)
		return
	}

	sub, err := h.Service.Renew(r.Context(), id)
	if err != nil {
		writeSubscriptionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sub)
}

// Cancel is idempotent; cancelling twice returns the original record.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get(":id"))
	if err != nil {
		http.Error(w, "invalid subscription id", http.StatusBadRequest)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub, err := h.Service.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		writeSubscriptionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sub)
}

// RunReminders triggers the renewal-reminder sweep on demand (the same sweep
// that runs on a schedule).
func (h *SubscriptionHandler) RunReminders(w http.ResponseWriter, r *http.Request) {
	sent, err := h.Service.CheckAndSendReminders(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"reminders_sent": sent})
}

func writeSubscriptionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrSubscriptionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrPaymentStart):
		// Gateway detail stays in the logs.
		http.Error(w, models.ErrPaymentStart.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
