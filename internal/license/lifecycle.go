// Package license implements the license lifecycle state machine: issuance,
// validation with single-device binding, renewal, and provider status sync.
package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/keymint/keymint/internal/keygen"
	"github.com/keymint/keymint/internal/model"
	"github.com/keymint/keymint/internal/store"
)

// maxKeyAttempts bounds key generation retries on a store-level collision.
const maxKeyAttempts = 5

type Service struct {
	licenses *store.LicenseStore
	logger   *slog.Logger
}

func NewService(licenses *store.LicenseStore, logger *slog.Logger) *Service {
	return &Service{licenses: licenses, logger: logger}
}

// ValidationResult is returned on a successful validation.
type ValidationResult struct {
	License       *model.License
	RemainingDays int
}

// Issue mints a new license and persists it. Key collisions are retried up
// to maxKeyAttempts before giving up with ErrKeyspaceExhausted. Notification
// is deliberately not a side effect here: email failures must never block an
// already-committed license.
func (s *Service) Issue(email, name string, plan model.PlanType, customerID, subscriptionID string) (*model.License, error) {
	now := time.Now().UTC()
	lic := &model.License{
		Plan:          plan,
		CustomerEmail: email,
		CreatedAt:     now,
		ExpiresAt:     plan.ExpiryFrom(now),
		IsActive:      true,
	}
	if name != "" {
		lic.CustomerName = &name
	}
	if customerID != "" {
		lic.StripeCustomerID = &customerID
	}
	if subscriptionID != "" {
		lic.StripeSubscriptionID = &subscriptionID
	}

	backoff := retry.WithMaxRetries(maxKeyAttempts-1, retry.NewConstant(time.Millisecond))
	err := retry.Do(context.Background(), backoff, func(_ context.Context) error {
		key, err := keygen.Generate(plan)
		if err != nil {
			return err
		}
		lic.Key = key
		if err := s.licenses.Insert(lic); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				s.logger.Warn("license key collision, regenerating", "plan", string(plan))
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrKeyspaceExhausted
		}
		return nil, fmt.Errorf("issue license: %w", err)
	}

	s.logger.Info("license issued", "key", lic.Key, "plan", string(plan), "email", email)
	return lic, nil
}

// Validate checks a key against a device and, on success, binds or confirms
// the device and records the validation. Device limit is 1: a license bound
// to a different device fails with ErrDeviceConflict and is never silently
// rebound; moving a license requires an explicit ReleaseDevice.
func (s *Service) Validate(key, deviceID, deviceName string) (*ValidationResult, error) {
	lic, err := s.licenses.GetByKey(key)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, ErrNotFound
	}
	if !lic.IsActive {
		return nil, ErrInactive
	}

	now := time.Now().UTC()
	if lic.Expired(now) {
		// Lazy expiry: collapse Active-Expired to Inactive on first touch.
		if err := s.licenses.SetActive(key, false); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	if lic.DeviceID != nil && *lic.DeviceID != deviceID {
		return nil, ErrDeviceConflict
	}

	ok, err := s.licenses.BindDevice(key, deviceID, deviceName, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a concurrent bind race to another device.
		return nil, ErrDeviceConflict
	}

	lic, err = s.licenses.GetByKey(key)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, ErrNotFound
	}
	return &ValidationResult{
		License:       lic,
		RemainingDays: remainingDays(lic.ExpiresAt, now),
	}, nil
}

// Renew extends a license after a successful payment. The provider's billing
// period end is authoritative when supplied; otherwise the expiry is extended
// by the plan period from now. Expiry never moves backwards here, and
// lifetime licenses keep their sentinel expiry.
func (s *Service) Renew(subscriptionID, customerID string, periodEnd *time.Time) (*model.License, error) {
	lic, err := s.findByRefs(subscriptionID, customerID)
	if err != nil {
		return nil, err
	}

	newExpiry := lic.ExpiresAt
	if lic.Plan != model.PlanLifetime {
		switch {
		case periodEnd != nil:
			if periodEnd.After(newExpiry) {
				newExpiry = periodEnd.UTC()
			}
		default:
			if e := lic.Plan.ExpiryFrom(time.Now().UTC()); e.After(newExpiry) {
				newExpiry = e
			}
		}
	}

	if err := s.licenses.ApplyStatus(lic.Key, true, newExpiry); err != nil {
		return nil, err
	}
	s.logger.Info("license renewed", "key", lic.Key, "expires_at", newExpiry)
	return s.licenses.GetByKey(lic.Key)
}

// ApplyStatus syncs a license with the provider's subscription status. A
// canceled or delinquent subscription deactivates the license but leaves the
// device binding intact, so reactivation does not force re-activation on a
// new device.
func (s *Service) ApplyStatus(subscriptionID, status string, periodEnd *time.Time) (*model.License, error) {
	lic, err := s.findByRefs(subscriptionID, "")
	if err != nil {
		return nil, err
	}

	switch status {
	case "active", "trialing":
		newExpiry := lic.ExpiresAt
		if periodEnd != nil && lic.Plan != model.PlanLifetime {
			newExpiry = periodEnd.UTC()
		}
		if err := s.licenses.ApplyStatus(lic.Key, true, newExpiry); err != nil {
			return nil, err
		}
	default:
		// canceled, unpaid, past_due, incomplete_expired and anything new
		// the provider invents all deactivate.
		if err := s.licenses.SetActive(lic.Key, false); err != nil {
			return nil, err
		}
	}

	s.logger.Info("license status applied", "key", lic.Key, "status", status)
	return s.licenses.GetByKey(lic.Key)
}

// Deactivate is the explicit admin revoke: inactive plus device released.
func (s *Service) Deactivate(key string) error {
	lic, err := s.licenses.GetByKey(key)
	if err != nil {
		return err
	}
	if lic == nil {
		return ErrNotFound
	}
	if err := s.licenses.SetActive(key, false); err != nil {
		return err
	}
	if err := s.licenses.ClearDevice(key); err != nil {
		return err
	}
	s.logger.Info("license deactivated", "key", key)
	return nil
}

// ReleaseDevice unbinds the device so the license can be activated elsewhere.
func (s *Service) ReleaseDevice(key string) error {
	lic, err := s.licenses.GetByKey(key)
	if err != nil {
		return err
	}
	if lic == nil {
		return ErrNotFound
	}
	if err := s.licenses.ClearDevice(key); err != nil {
		return err
	}
	s.logger.Info("device released", "key", key)
	return nil
}

func (s *Service) findByRefs(subscriptionID, customerID string) (*model.License, error) {
	if subscriptionID != "" {
		lic, err := s.licenses.GetBySubscriptionID(subscriptionID)
		if err != nil {
			return nil, err
		}
		if lic != nil {
			return lic, nil
		}
	}
	if customerID != "" {
		lic, err := s.licenses.GetByCustomerID(customerID)
		if err != nil {
			return nil, err
		}
		if lic != nil {
			return lic, nil
		}
	}
	return nil, ErrNotFound
}

func remainingDays(expiresAt, now time.Time) int {
	return int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
}
