package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/payment"
)

type CheckoutHandler struct {
	payments *payment.Client
	logger   *slog.Logger
}

func NewCheckoutHandler(payments *payment.Client, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{payments: payments, logger: logger}
}

type checkoutRequest struct {
	Email    string `json:"email"`
	PlanType string `json:"planType"`
}

type checkoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// HandleCreateCheckout starts a Stripe Checkout session for the requested
// plan. The license itself is only issued later, by the webhook.
func (h *CheckoutHandler) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	if !h.payments.Configured() {
		http.Error(w, "payments not configured", http.StatusServiceUnavailable)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	plan, ok := model.ParsePlan(req.PlanType)
	if !ok {
		http.Error(w, "unknown planType", http.StatusBadRequest)
		return
	}

	session, err := h.payments.CreateCheckoutSession(req.Email, plan)
	if err != nil {
		h.logger.Error("checkout session failed", "error", err, "plan", plan)
		http.Error(w, "payment provider error", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{SessionID: session.SessionID, URL: session.URL})
}
