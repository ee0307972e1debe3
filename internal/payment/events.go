package payment

import (
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/keymint/keymint/internal/model"
)

// DomainEvent is one of the four event kinds licensing cares about.
type DomainEvent interface {
	EventID() string
}

// PaymentSucceeded is emitted for a completed checkout: a new purchase.
type PaymentSucceeded struct {
	ID              string
	CustomerEmail   string
	CustomerName    string
	CustomerRef     string
	SubscriptionRef string
	Plan            model.PlanType
}

// SubscriptionRenewed is emitted when a recurring invoice is paid.
type SubscriptionRenewed struct {
	ID              string
	SubscriptionRef string
	CustomerRef     string
	PeriodEnd       *time.Time
}

// SubscriptionStatusChanged mirrors the provider's subscription status.
type SubscriptionStatusChanged struct {
	ID              string
	SubscriptionRef string
	Status          string
	PeriodEnd       *time.Time
}

// Unhandled is the catch-all for event types licensing ignores.
type Unhandled struct {
	ID   string
	Type string
}

func (e PaymentSucceeded) EventID() string { return e.ID }

func (e SubscriptionRenewed) EventID() string { return e.ID }

func (e SubscriptionStatusChanged) EventID() string { return e.ID }

func (e Unhandled) EventID() string { return e.ID }

// Minimal JSON mirrors of the Stripe payloads. Decoding into our own structs
// keeps webhook handling stable across stripe-go API-version struct changes;
// in webhook payloads customer and subscription are unexpanded string IDs.

type checkoutSessionPayload struct {
	ID              string            `json:"id"`
	Mode            string            `json:"mode"`
	Customer        string            `json:"customer"`
	Subscription    string            `json:"subscription"`
	CustomerEmail   string            `json:"customer_email"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

type subscriptionPayload struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	PeriodEnd    int64  `json:"period_end"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (c *Client) decodeEvent(event stripe.Event) (DomainEvent, error) {
	switch event.Type {
	case "checkout.session.completed":
		var sess checkoutSessionPayload
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		email := sess.CustomerDetails.Email
		if email == "" {
			email = sess.CustomerEmail
		}
		return PaymentSucceeded{
			ID:              event.ID,
			CustomerEmail:   email,
			CustomerName:    sess.CustomerDetails.Name,
			CustomerRef:     sess.Customer,
			SubscriptionRef: sess.Subscription,
			Plan:            c.planForSession(sess),
		}, nil

	case "invoice.paid", "invoice.payment_succeeded":
		var inv invoicePayload
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		subRef := inv.Subscription
		if subRef == "" {
			subRef = inv.Parent.SubscriptionDetails.Subscription
		}
		return SubscriptionRenewed{
			ID:              event.ID,
			SubscriptionRef: subRef,
			CustomerRef:     inv.Customer,
			PeriodEnd:       unixTime(inv.PeriodEnd),
		}, nil

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub subscriptionPayload
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		status := sub.Status
		if event.Type == "customer.subscription.deleted" {
			status = "canceled"
		}
		periodEnd := sub.CurrentPeriodEnd
		if periodEnd == 0 && len(sub.Items.Data) > 0 {
			periodEnd = sub.Items.Data[0].CurrentPeriodEnd
		}
		return SubscriptionStatusChanged{
			ID:              event.ID,
			SubscriptionRef: sub.ID,
			Status:          status,
			PeriodEnd:       unixTime(periodEnd),
		}, nil

	default:
		return Unhandled{ID: event.ID, Type: string(event.Type)}, nil
	}
}

// planForSession recovers the plan from session metadata. A price lookup is
// not possible here (prices live on line items, which the webhook payload
// omits), so an unmarked payment-mode session is treated as lifetime and
// anything else as monthly.
func (c *Client) planForSession(sess checkoutSessionPayload) model.PlanType {
	if plan, ok := model.ParsePlan(sess.Metadata["plan_type"]); ok {
		return plan
	}
	if sess.Mode == "payment" {
		return model.PlanLifetime
	}
	return model.PlanMonthly
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
