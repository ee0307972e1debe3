package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keymint/keymint/internal/config"
	"github.com/keymint/keymint/internal/database"
	"github.com/keymint/keymint/internal/email"
	"github.com/keymint/keymint/internal/logging"
	"github.com/keymint/keymint/internal/payment"
	"github.com/keymint/keymint/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer db.Close()

	emailClient := email.NewClient(cfg.PostmarkServerToken, cfg.PostmarkFromEmail)
	if !emailClient.Configured() {
		logger.Warn("email delivery not configured, license keys will not be mailed")
	}

	srv := server.New(db, logger, server.Config{
		Payment: payment.Config{
			SecretKey:       cfg.StripeSecretKey,
			WebhookSecret:   cfg.StripeWebhookSecret,
			MonthlyPriceID:  cfg.StripeMonthlyPrice,
			YearlyPriceID:   cfg.StripeYearlyPrice,
			LifetimePriceID: cfg.StripeLifetimePrice,
			SuccessURL:      cfg.BaseURL + "/purchase/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:       cfg.BaseURL + "/pricing",
		},
		EmailClient: emailClient,
		AdminSecret: cfg.AdminSecret,
		CORSOrigins: cfg.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.Licenses().DeactivateExpired(time.Now()); err != nil {
					logger.Error("expiry sweep failed", "error", err)
				} else if n > 0 {
					logger.Info("deactivated expired licenses", "count", n)
				}
				srv.RateLimiter().Cleanup(10 * time.Minute)
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("keymint starting", "addr", ":"+cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sweepCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
