// Package config loads process-wide configuration from the environment.
// A .env file is read best-effort first; real environment variables win.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every recognized option. envconfig resolves each field from
// KEYMINT_<NAME> first, then the bare name from the envconfig tag, so the
// conventional STRIPE_* and POSTMARK_* variables work unprefixed.
type Config struct {
	Port         string   `envconfig:"PORT" default:"8080"`
	BaseURL      string   `envconfig:"BASE_URL" default:"http://localhost:8080"`
	DatabasePath string   `envconfig:"DB_PATH" default:"keymint.db"`
	LogLevel     string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"LOG_FORMAT" default:"text"`
	AdminSecret  string   `envconfig:"ADMIN_SECRET"`
	CORSOrigins  []string `envconfig:"CORS_ORIGINS"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeMonthlyPrice  string `envconfig:"STRIPE_MONTHLY_PRICE_ID"`
	StripeYearlyPrice   string `envconfig:"STRIPE_YEARLY_PRICE_ID"`
	StripeLifetimePrice string `envconfig:"STRIPE_LIFETIME_PRICE_ID"`
	PostmarkServerToken string `envconfig:"POSTMARK_SERVER_TOKEN"`
	PostmarkFromEmail   string `envconfig:"POSTMARK_FROM_EMAIL"`
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("keymint", &cfg); err != nil {
		return nil, fmt.Errorf("process config: %w", err)
	}
	return &cfg, nil
}
