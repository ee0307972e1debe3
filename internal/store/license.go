package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keymint/keymint/internal/model"
)

// ErrDuplicateKey is returned by Insert when the license key already exists.
var ErrDuplicateKey = errors.New("duplicate license key")

// LicenseStore persists licenses. It is the single source of truth for
// license state; nothing else may cache mutable license fields.
type LicenseStore struct {
	db *sql.DB
}

func NewLicenseStore(db *sql.DB) *LicenseStore {
	return &LicenseStore{db: db}
}

const licenseCols = `key, plan_type, customer_email, customer_name, stripe_customer_id,
	stripe_subscription_id, created_at, expires_at, is_active, device_id, device_name,
	last_validated_at, validation_count`

func scanLicense(scanner interface{ Scan(...any) error }) (*model.License, error) {
	var l model.License
	var plan string
	var name, custID, subID, deviceID, deviceName sql.NullString
	var lastValidated sql.NullTime
	err := scanner.Scan(
		&l.Key, &plan, &l.CustomerEmail, &name, &custID,
		&subID, &l.CreatedAt, &l.ExpiresAt, &l.IsActive, &deviceID, &deviceName,
		&lastValidated, &l.ValidationCount,
	)
	if err != nil {
		return nil, err
	}
	l.Plan = model.PlanType(plan)
	if name.Valid {
		l.CustomerName = &name.String
	}
	if custID.Valid {
		l.StripeCustomerID = &custID.String
	}
	if subID.Valid {
		l.StripeSubscriptionID = &subID.String
	}
	if deviceID.Valid {
		l.DeviceID = &deviceID.String
	}
	if deviceName.Valid {
		l.DeviceName = &deviceName.String
	}
	if lastValidated.Valid {
		t := lastValidated.Time
		l.LastValidatedAt = &t
	}
	return &l, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Insert stores a new license. Returns ErrDuplicateKey when the key collides
// with an existing row; issuance depends on this constraint for uniqueness.
func (s *LicenseStore) Insert(l *model.License) error {
	_, err := s.db.Exec(
		`INSERT INTO licenses (`+licenseCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Key, string(l.Plan), l.CustomerEmail, l.CustomerName, l.StripeCustomerID,
		l.StripeSubscriptionID, l.CreatedAt, l.ExpiresAt, l.IsActive, l.DeviceID, l.DeviceName,
		l.LastValidatedAt, l.ValidationCount,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (s *LicenseStore) GetByKey(key string) (*model.License, error) {
	row := s.db.QueryRow(`SELECT `+licenseCols+` FROM licenses WHERE key = ?`, key)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license by key: %w", err)
	}
	return l, nil
}

// GetByDevice returns the active license currently bound to a device, if any.
func (s *LicenseStore) GetByDevice(deviceID string) (*model.License, error) {
	row := s.db.QueryRow(
		`SELECT `+licenseCols+` FROM licenses WHERE device_id = ? AND is_active = 1
		 ORDER BY created_at DESC LIMIT 1`,
		deviceID,
	)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license by device: %w", err)
	}
	return l, nil
}

func (s *LicenseStore) GetBySubscriptionID(subscriptionID string) (*model.License, error) {
	row := s.db.QueryRow(
		`SELECT `+licenseCols+` FROM licenses WHERE stripe_subscription_id = ?
		 ORDER BY created_at DESC LIMIT 1`,
		subscriptionID,
	)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license by subscription: %w", err)
	}
	return l, nil
}

func (s *LicenseStore) GetByCustomerID(customerID string) (*model.License, error) {
	row := s.db.QueryRow(
		`SELECT `+licenseCols+` FROM licenses WHERE stripe_customer_id = ?
		 ORDER BY created_at DESC LIMIT 1`,
		customerID,
	)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license by customer: %w", err)
	}
	return l, nil
}

// BindDevice binds a device and records the validation in one conditional
// update. The WHERE clause is the compare-and-swap: it matches only when the
// license is unbound or already bound to this same device, so two racing
// validations from different devices cannot both win. Returns false when the
// condition did not match.
func (s *LicenseStore) BindDevice(key, deviceID, deviceName string, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE licenses
		 SET device_id = ?, device_name = ?, last_validated_at = ?, validation_count = validation_count + 1
		 WHERE key = ? AND (device_id IS NULL OR device_id = ?)`,
		deviceID, deviceName, now, key, deviceID,
	)
	if err != nil {
		return false, fmt.Errorf("bind device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bind device rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *LicenseStore) SetActive(key string, active bool) error {
	_, err := s.db.Exec(`UPDATE licenses SET is_active = ? WHERE key = ?`, active, key)
	if err != nil {
		return fmt.Errorf("set license active: %w", err)
	}
	return nil
}

func (s *LicenseStore) UpdateExpiry(key string, expiresAt time.Time) error {
	_, err := s.db.Exec(`UPDATE licenses SET expires_at = ? WHERE key = ?`, expiresAt, key)
	if err != nil {
		return fmt.Errorf("update license expiry: %w", err)
	}
	return nil
}

// ApplyStatus sets activity and expiry together, for provider-driven syncs.
func (s *LicenseStore) ApplyStatus(key string, active bool, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE licenses SET is_active = ?, expires_at = ? WHERE key = ?`,
		active, expiresAt, key,
	)
	if err != nil {
		return fmt.Errorf("apply license status: %w", err)
	}
	return nil
}

// ClearDevice releases the device binding without touching activity or expiry.
func (s *LicenseStore) ClearDevice(key string) error {
	_, err := s.db.Exec(
		`UPDATE licenses SET device_id = NULL, device_name = NULL WHERE key = ?`,
		key,
	)
	if err != nil {
		return fmt.Errorf("clear device: %w", err)
	}
	return nil
}

// List returns a page of licenses, newest first. Page numbers start at 1.
func (s *LicenseStore) List(page, pageSize int) ([]*model.License, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	rows, err := s.db.Query(
		`SELECT `+licenseCols+` FROM licenses ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*model.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return licenses, nil
}

func (s *LicenseStore) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM licenses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count licenses: %w", err)
	}
	return n, nil
}

// Delete removes a license row. Returns false if no row matched.
func (s *LicenseStore) Delete(key string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM licenses WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete license: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete license rows affected: %w", err)
	}
	return n > 0, nil
}

// DeactivateExpired flips active licenses whose expiry has passed. Used by
// the background sweep; validation does the same check lazily, so the sweep
// is an optimization, not a correctness requirement.
func (s *LicenseStore) DeactivateExpired(now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE licenses SET is_active = 0 WHERE is_active = 1 AND expires_at <= ?`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate expired rows affected: %w", err)
	}
	return n, nil
}
