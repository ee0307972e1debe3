package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keymint/keymint/internal/database"
	"github.com/keymint/keymint/internal/email"
	"github.com/keymint/keymint/internal/payment"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(db, logger, Config{
		Payment:     payment.Config{WebhookSecret: "whsec_test"},
		EmailClient: email.NewClient("", ""),
		AdminSecret: "topsecret",
		CORSOrigins: []string{"https://app.example.com"},
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	req := httptest.NewRequest("GET", "/admin/licenses", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/admin/licenses", nil)
	req.Header.Set("X-Admin-Secret", "topsecret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestValidateRouteWired(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	req := httptest.NewRequest("POST", "/validate-license", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Missing fields reach the handler and get its 400, not a router 404.
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCORSHeaderApplied(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestRequestIDHeaderSet(t *testing.T) {
	srv := testServer(t)
	router := srv.Router()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id header")
	}
}
