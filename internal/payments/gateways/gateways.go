// Package gateways builds the payment registry from configuration.
package gateways

import (
	"log/slog"

	"tourney-registry/internal/config"
	"tourney-registry/internal/payments"
	"tourney-registry/internal/payments/asyncpay"
	"tourney-registry/internal/payments/hosted"
	"tourney-registry/internal/payments/manual"
	"tourney-registry/internal/payments/redirect"
)

// NewRegistry enables every gateway whose credentials are configured. Manual
// proof is always available.
func NewRegistry(cfg config.Config, logger *slog.Logger) (*payments.Registry, *manual.Gateway) {
	client := payments.NewHTTPClient(cfg.PaymentTimeout)
	man := manual.New(cfg.Manual.Payee)
	gws := []payments.Gateway{man}

	if cfg.Hosted.KeyID != "" && cfg.Hosted.Secret != "" {
		gws = append(gws, hosted.New(cfg.Hosted.KeyID, cfg.Hosted.Secret, cfg.Hosted.BaseURL, client, logger))
	}
	if cfg.Async.MerchantID != "" && cfg.Async.SaltKey != "" {
		gws = append(gws, asyncpay.New(asyncpay.Config{
			MerchantID:  cfg.Async.MerchantID,
			SaltKey:     cfg.Async.SaltKey,
			SaltIndex:   cfg.Async.SaltIndex,
			BaseURL:     cfg.Async.BaseURL,
			CallbackURL: cfg.PublicURL("/api/payments/asyncpay/callback"),
		}, client, logger))
	}
	if cfg.Redirect.SecretKey != "" {
		gws = append(gws, redirect.New(cfg.Redirect.SecretKey, cfg.Redirect.BaseURL, client, logger))
	}
	return payments.NewRegistry(gws...), man
}
