package model

import "time"

// PlanType identifies the billing plan a license was purchased under.
type PlanType string

const (
	PlanMonthly  PlanType = "monthly"
	PlanYearly   PlanType = "yearly"
	PlanLifetime PlanType = "lifetime"
)

// LifetimeExpiry is the far-future sentinel used for lifetime licenses so
// expiry comparisons and sorting stay total.
var LifetimeExpiry = time.Date(2999, time.December, 31, 23, 59, 59, 0, time.UTC)

// ParsePlan converts a plan string to a PlanType.
func ParsePlan(s string) (PlanType, bool) {
	switch PlanType(s) {
	case PlanMonthly, PlanYearly, PlanLifetime:
		return PlanType(s), true
	}
	return "", false
}

// ExpiryFrom returns the expiry timestamp for a plan period starting at t.
// Monthly and yearly use calendar arithmetic, not fixed day counts.
func (p PlanType) ExpiryFrom(t time.Time) time.Time {
	switch p {
	case PlanMonthly:
		return t.AddDate(0, 1, 0)
	case PlanYearly:
		return t.AddDate(1, 0, 0)
	case PlanLifetime:
		return LifetimeExpiry
	}
	return t
}

// License is the central entity: a key bound to at most one device,
// valid while is_active and not past expires_at.
type License struct {
	Key                  string     `json:"key"`
	Plan                 PlanType   `json:"plan_type"`
	CustomerEmail        string     `json:"customer_email"`
	CustomerName         *string    `json:"customer_name,omitempty"`
	StripeCustomerID     *string    `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	ExpiresAt            time.Time  `json:"expires_at"`
	IsActive             bool       `json:"is_active"`
	DeviceID             *string    `json:"device_id,omitempty"`
	DeviceName           *string    `json:"device_name,omitempty"`
	LastValidatedAt      *time.Time `json:"last_validated_at,omitempty"`
	ValidationCount      int64      `json:"validation_count"`
}

// Expired reports whether the license expiry has passed at the given time.
func (l *License) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Valid reports whether the license is currently usable.
func (l *License) Valid(now time.Time) bool {
	return l.IsActive && !l.Expired(now)
}
