package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/keymint/keymint/internal/email"
	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/payment"
	"github.com/keymint/keymint/internal/store"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type WebhookHandler struct {
	payments  *payment.Client
	lifecycle *license.Service
	licenses  *store.LicenseStore
	events    *store.EventStore
	mailer    *email.Client
	logger    *slog.Logger
}

func NewWebhookHandler(
	payments *payment.Client,
	lifecycle *license.Service,
	licenses *store.LicenseStore,
	events *store.EventStore,
	mailer *email.Client,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		payments:  payments,
		lifecycle: lifecycle,
		licenses:  licenses,
		events:    events,
		mailer:    mailer,
		logger:    logger,
	}
}

// HandleWebhook processes a Stripe event delivery. The raw body must reach
// signature verification untouched, so this route has no body-parsing
// middleware in front of it. An event ID is recorded only after processing
// succeeds: a failed delivery answers 5xx and Stripe's redelivery retries
// it, while a duplicate of a processed event is acknowledged without effect.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.payments.VerifyAndDecode(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature rejected", "error", err, "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	seen, err := h.events.Seen(event.EventID())
	if err != nil {
		h.logger.Error("webhook idempotency check failed", "error", err, "event_id", event.EventID())
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}
	if seen {
		h.logger.Info("webhook already processed", "event_id", event.EventID())
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.process(event); err != nil {
		h.logger.Error("webhook processing failed", "error", err, "event_id", event.EventID())
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	if _, err := h.events.MarkProcessed(event.EventID(), eventKind(event)); err != nil {
		// The effects are committed; failing the delivery now would make
		// Stripe redeliver an event the duplicate-purchase guard absorbs.
		h.logger.Error("webhook mark processed failed", "error", err, "event_id", event.EventID())
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) process(ev payment.DomainEvent) error {
	switch e := ev.(type) {
	case payment.PaymentSucceeded:
		return h.handlePaymentSucceeded(e)

	case payment.SubscriptionRenewed:
		if _, err := h.lifecycle.Renew(e.SubscriptionRef, e.CustomerRef, e.PeriodEnd); err != nil {
			if errors.Is(err, license.ErrNotFound) {
				h.logger.Warn("renewal for unknown license",
					"subscription", e.SubscriptionRef, "customer", e.CustomerRef)
				return nil
			}
			return err
		}
		return nil

	case payment.SubscriptionStatusChanged:
		if _, err := h.lifecycle.ApplyStatus(e.SubscriptionRef, e.Status, e.PeriodEnd); err != nil {
			if errors.Is(err, license.ErrNotFound) {
				h.logger.Warn("status change for unknown license", "subscription", e.SubscriptionRef)
				return nil
			}
			return err
		}
		return nil

	case payment.Unhandled:
		h.logger.Info("webhook ignored", "type", e.Type, "event_id", e.ID)
		return nil
	}
	return nil
}

func (h *WebhookHandler) handlePaymentSucceeded(e payment.PaymentSucceeded) error {
	if e.CustomerEmail == "" {
		h.logger.Warn("checkout completed without email", "event_id", e.ID)
		return nil
	}

	// Guard against a redelivered checkout whose first processing crashed
	// after the insert but before the event was recorded.
	if e.SubscriptionRef != "" {
		existing, err := h.licenses.GetBySubscriptionID(e.SubscriptionRef)
		if err != nil {
			return err
		}
		if existing != nil {
			h.logger.Info("license already issued for subscription",
				"subscription", e.SubscriptionRef, "key", existing.Key)
			return nil
		}
	}

	lic, err := h.lifecycle.Issue(e.CustomerEmail, e.CustomerName, e.Plan, e.CustomerRef, e.SubscriptionRef)
	if err != nil {
		return err
	}

	// Decoupled so a slow email provider never stalls the webhook ack.
	go h.sendLicenseEmail(lic)
	return nil
}

func (h *WebhookHandler) sendLicenseEmail(lic *model.License) {
	if !h.mailer.Configured() {
		return
	}
	name := ""
	if lic.CustomerName != nil {
		name = *lic.CustomerName
	}
	if err := h.mailer.SendLicenseKey(lic.CustomerEmail, name, lic.Key, lic.Plan, lic.ExpiresAt); err != nil {
		h.logger.Error("license email failed", "error", err, "key", lic.Key)
		return
	}
	h.logger.Info("license email sent", "key", lic.Key, "email", lic.CustomerEmail)
}

func eventKind(ev payment.DomainEvent) string {
	switch e := ev.(type) {
	case payment.PaymentSucceeded:
		return "payment_succeeded"
	case payment.SubscriptionRenewed:
		return "subscription_renewed"
	case payment.SubscriptionStatusChanged:
		return "subscription_status_changed"
	case payment.Unhandled:
		return e.Type
	}
	return "unknown"
}
