// Package server assembles the HTTP surface: stores, lifecycle service,
// handlers, middleware and routes.
package server

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/keymint/keymint/internal/email"
	"github.com/keymint/keymint/internal/handler"
	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/middleware"
	"github.com/keymint/keymint/internal/payment"
	"github.com/keymint/keymint/internal/store"
)

type Config struct {
	Payment     payment.Config
	EmailClient *email.Client
	AdminSecret string
	CORSOrigins []string
}

type Server struct {
	db        *sql.DB
	logger    *slog.Logger
	cfg       Config
	licenses  *store.LicenseStore
	lifecycle *license.Service
	limiter   *middleware.RateLimiter

	webhook  *handler.WebhookHandler
	licenseH *handler.LicenseHandler
	checkout *handler.CheckoutHandler
	admin    *handler.AdminHandler
}

func New(db *sql.DB, logger *slog.Logger, cfg Config) *Server {
	licenses := store.NewLicenseStore(db)
	events := store.NewEventStore(db)
	lifecycle := license.NewService(licenses, logger.With("component", "license"))
	payments := payment.NewClient(cfg.Payment)

	return &Server{
		db:        db,
		logger:    logger,
		cfg:       cfg,
		licenses:  licenses,
		lifecycle: lifecycle,
		// Validation is hammered by client startups; 10 requests then one
		// every 6 seconds per IP absorbs retry loops without hurting
		// legitimate use.
		limiter:  middleware.NewRateLimiter(6*time.Second, 10),
		webhook:  handler.NewWebhookHandler(payments, lifecycle, licenses, events, cfg.EmailClient, logger.With("component", "webhook")),
		licenseH: handler.NewLicenseHandler(lifecycle, licenses, logger.With("component", "validate")),
		checkout: handler.NewCheckoutHandler(payments, logger.With("component", "checkout")),
		admin:    handler.NewAdminHandler(lifecycle, licenses, logger.With("component", "admin")),
	}
}

// Licenses exposes the store for background jobs owned by main.
func (s *Server) Licenses() *store.LicenseStore {
	return s.licenses
}

// RateLimiter exposes the limiter so main can run periodic cleanup.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.limiter
}

// Router builds the full handler chain. The webhook route sits outside the
// rate limiter: Stripe retries on 429 and would amplify its own traffic.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	limited := middleware.RateLimit(s.limiter)
	adminOnly := middleware.AdminAuth(s.cfg.AdminSecret)

	mux.HandleFunc("POST /webhook", s.webhook.HandleWebhook)
	mux.Handle("POST /validate-license", limited(http.HandlerFunc(s.licenseH.HandleValidate)))
	mux.Handle("POST /device-license", limited(http.HandlerFunc(s.licenseH.HandleDeviceLicense)))
	mux.Handle("POST /create-checkout-session", limited(http.HandlerFunc(s.checkout.HandleCreateCheckout)))
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /admin/licenses", adminOnly(http.HandlerFunc(s.admin.HandleIssue)))
	mux.Handle("GET /admin/licenses", adminOnly(http.HandlerFunc(s.admin.HandleList)))
	mux.Handle("GET /admin/license/{key}", adminOnly(http.HandlerFunc(s.admin.HandleGet)))
	mux.Handle("POST /admin/license/{key}/release-device", adminOnly(http.HandlerFunc(s.admin.HandleReleaseDevice)))
	mux.Handle("POST /admin/license/{key}/deactivate", adminOnly(http.HandlerFunc(s.admin.HandleDeactivate)))
	mux.Handle("DELETE /admin/license/{key}", adminOnly(http.HandlerFunc(s.admin.HandleDelete)))

	var h http.Handler = mux
	h = middleware.CORS(s.cfg.CORSOrigins)(h)
	h = middleware.RequestLogger(s.logger)(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.logger.Error("health check db ping failed", "error", err)
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
