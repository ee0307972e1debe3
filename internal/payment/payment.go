// Package payment adapts Stripe to the license domain: it verifies and
// decodes webhook deliveries into a small set of domain events and creates
// checkout sessions for the three plans.
package payment

import (
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/keymint/keymint/internal/model"
)

type Config struct {
	SecretKey       string
	WebhookSecret   string
	MonthlyPriceID  string
	YearlyPriceID   string
	LifetimePriceID string
	SuccessURL      string
	CancelURL       string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// Configured returns true if the secret key is set.
func (c *Client) Configured() bool {
	return c.cfg.SecretKey != ""
}

// PriceIDForPlan returns the configured Stripe price for a plan.
func (c *Client) PriceIDForPlan(plan model.PlanType) string {
	switch plan {
	case model.PlanMonthly:
		return c.cfg.MonthlyPriceID
	case model.PlanYearly:
		return c.cfg.YearlyPriceID
	case model.PlanLifetime:
		return c.cfg.LifetimePriceID
	}
	return ""
}

// PlanForPriceID is the reverse mapping, used when a webhook payload carries
// a price but no plan metadata.
func (c *Client) PlanForPriceID(priceID string) (model.PlanType, bool) {
	switch priceID {
	case "":
		return "", false
	case c.cfg.MonthlyPriceID:
		return model.PlanMonthly, true
	case c.cfg.YearlyPriceID:
		return model.PlanYearly, true
	case c.cfg.LifetimePriceID:
		return model.PlanLifetime, true
	}
	return "", false
}

// CheckoutSession is the outcome of a checkout-session creation request.
type CheckoutSession struct {
	SessionID string
	URL       string
}

// CreateCheckoutSession creates a Stripe checkout session for the given plan.
// Monthly and yearly run in subscription mode; lifetime is a one-time
// payment. The plan tag is recorded in session metadata so the completed
// webhook can recover it without a price lookup.
func (c *Client) CreateCheckoutSession(email string, plan model.PlanType) (*CheckoutSession, error) {
	priceID := c.PriceIDForPlan(plan)
	if priceID == "" {
		return nil, fmt.Errorf("create checkout session: no price configured for plan %q", plan)
	}

	mode := stripe.CheckoutSessionModeSubscription
	if plan == model.PlanLifetime {
		mode = stripe.CheckoutSessionModePayment
	}

	params := &stripe.CheckoutSessionParams{
		CustomerEmail: stripe.String(email),
		Mode:          stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	params.AddMetadata("plan_type", string(plan))

	sess, err := checksession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}

// VerifyAndDecode checks the Stripe signature over the untouched raw payload
// and decodes the event into a domain event. The raw bytes must be exactly
// as delivered; any re-serialization before this call breaks the signature.
func (c *Client) VerifyAndDecode(payload []byte, sigHeader string) (DomainEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}
	return c.decodeEvent(event)
}
