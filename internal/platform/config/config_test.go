package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type stubSecretResolver struct {
	values map[string]string
	err    error
	calls  []string
}

func (s *stubSecretResolver) ResolveSecret(_ context.Context, ref string) (string, error) {
	s.calls = append(s.calls, ref)
	if s.err != nil {
		return "", s.err
	}
	return s.values[ref], nil
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"FIRESTORE_PROJECT_ID": "aurea-test",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Fatalf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Notifications.MailTopic != "mail-dispatch" {
		t.Fatalf("unexpected mail topic: %s", cfg.Notifications.MailTopic)
	}
	if cfg.Pricing.BaseCurrency != "MXN" {
		t.Fatalf("unexpected base currency: %s", cfg.Pricing.BaseCurrency)
	}
	if !cfg.Pricing.VAT.Equal(decimal.NewFromFloat(0.16)) {
		t.Fatalf("unexpected VAT default: %s", cfg.Pricing.VAT)
	}
	if !cfg.Pricing.PaymentProcessingFixedFee.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected fixed fee default: %s", cfg.Pricing.PaymentProcessingFixedFee)
	}
}

func TestLoadParsesPricingOverrides(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"FIRESTORE_PROJECT_ID":   "aurea-test",
			"PRICING_GOLD_QUOTATION": "1350.25",
			"PRICING_PROFIT_MARGIN":  "0.15",
			"PRICING_EXCHANGE_RATES": "USD=0.058, EUR=0.054",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if !cfg.Pricing.GoldQuotation.Equal(decimal.NewFromFloat(1350.25)) {
		t.Fatalf("unexpected gold quotation: %s", cfg.Pricing.GoldQuotation)
	}
	if !cfg.Pricing.ProfitMargin.Equal(decimal.NewFromFloat(0.15)) {
		t.Fatalf("unexpected profit margin: %s", cfg.Pricing.ProfitMargin)
	}
	usd, ok := cfg.Pricing.ExchangeRates["USD"]
	if !ok || !usd.Equal(decimal.NewFromFloat(0.058)) {
		t.Fatalf("unexpected USD rate: %s (present=%t)", usd, ok)
	}
	if _, ok := cfg.Pricing.ExchangeRates["EUR"]; !ok {
		t.Fatal("expected EUR rate to be parsed")
	}
}

func TestLoadRejectsMalformedPricingValues(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"FIRESTORE_PROJECT_ID": "aurea-test",
			"PRICING_VAT":          "sixteen-percent",
		}),
	)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	resolver := &stubSecretResolver{values: map[string]string{
		"sm://projects/aurea/secrets/stripe-key/versions/latest":     "sk_test_123",
		"sm://projects/aurea/secrets/stripe-webhook/versions/latest": "whsec_456",
	}}

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithEnvMap(map[string]string{
			"FIRESTORE_PROJECT_ID":  "aurea-test",
			"STRIPE_API_KEY":        "sm://projects/aurea/secrets/stripe-key/versions/latest",
			"STRIPE_WEBHOOK_SECRET": "sm://projects/aurea/secrets/stripe-webhook/versions/latest",
		}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.PSP.StripeAPIKey != "sk_test_123" {
		t.Fatalf("unexpected stripe api key: %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.StripeWebhookSecret != "whsec_456" {
		t.Fatalf("unexpected webhook secret: %s", cfg.PSP.StripeWebhookSecret)
	}
	if len(resolver.calls) != 2 {
		t.Fatalf("expected two resolver calls, got %d", len(resolver.calls))
	}
}

func TestLoadFailsWhenSecretResolverMissing(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"FIRESTORE_PROJECT_ID": "aurea-test",
			"STRIPE_API_KEY":       "sm://projects/aurea/secrets/stripe-key/versions/latest",
		}),
	)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
}

func TestLoadReportsMissingProjectID(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{}),
	)
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) != 1 || fields[0] != "Firestore.ProjectID" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}
