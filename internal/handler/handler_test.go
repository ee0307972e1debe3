package handler

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/keymint/keymint/internal/database"
	"github.com/keymint/keymint/internal/email"
	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/payment"
	"github.com/keymint/keymint/internal/store"
)

const testWebhookSecret = "whsec_handler_test"

type testEnv struct {
	db        *sql.DB
	licenses  *store.LicenseStore
	events    *store.EventStore
	lifecycle *license.Service
	payments  *payment.Client
	mailer    *email.Client
	logger    *slog.Logger
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	licenses := store.NewLicenseStore(db)

	return &testEnv{
		db:        db,
		licenses:  licenses,
		events:    store.NewEventStore(db),
		lifecycle: license.NewService(licenses, logger),
		payments: payment.NewClient(payment.Config{
			SecretKey:       "sk_test_123",
			WebhookSecret:   testWebhookSecret,
			MonthlyPriceID:  "price_monthly",
			YearlyPriceID:   "price_yearly",
			LifetimePriceID: "price_lifetime",
		}),
		mailer: email.NewClient("", ""),
		logger: logger,
	}
}

func (e *testEnv) webhookHandler() *WebhookHandler {
	return NewWebhookHandler(e.payments, e.lifecycle, e.licenses, e.events, e.mailer, e.logger)
}

func (e *testEnv) licenseHandler() *LicenseHandler {
	return NewLicenseHandler(e.lifecycle, e.licenses, e.logger)
}

func (e *testEnv) adminHandler() *AdminHandler {
	return NewAdminHandler(e.lifecycle, e.licenses, e.logger)
}

func signPayload(t *testing.T, payload string) ([]byte, string) {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}
