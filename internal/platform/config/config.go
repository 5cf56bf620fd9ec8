package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile       = ".env"
	defaultPort          = "8080"
	defaultReadTimeout   = 15 * time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultIdleTimeout   = 120 * time.Second
	defaultBaseCurrency  = "MXN"
	defaultLocale        = "es-mx"
	defaultMailTopic     = "mail-dispatch"
	defaultWebhookWindow = 5 * time.Minute

	secretRefPrefix = "sm://"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firestore     FirestoreConfig
	PSP           PSPConfig
	Notifications NotificationConfig
	Pricing       PricingDefaults
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PSPConfig collects payment gateway credentials and verification settings.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	// WebhookTolerance bounds the accepted age of a signed webhook timestamp.
	WebhookTolerance time.Duration
}

// NotificationConfig controls how settlement notifications are dispatched.
type NotificationConfig struct {
	MailTopic     string
	AdminEmail    string
	SenderEmail   string
	DefaultLocale string
}

// PricingDefaults are the documented fallbacks applied when the settings
// store has no pricing document or the stored values are unusable. They keep
// price computation and display working rather than surfacing an error to
// storefront users.
type PricingDefaults struct {
	BaseCurrency              string
	GoldQuotation             decimal.Decimal
	ProfitMargin              decimal.Decimal
	VAT                       decimal.Decimal
	PaymentProcessingRate     decimal.Decimal
	PaymentProcessingFixedFee decimal.Decimal
	ExchangeRates             map[string]decimal.Decimal
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// EnvironmentValues returns the effective key/value environment map after applying the same
// precedence rules as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			system[key] = parts[1]
		}
		merge(system)
	}

	merge(options.envMap)

	return values, nil
}

// Load reads configuration from the environment, resolving sm:// secret
// references through the configured resolver and validating required fields.
func Load(ctx context.Context, opts ...Option) (*Config, error) {
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return nil, err
	}

	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	lookup := func(key string) string {
		return strings.TrimSpace(values[key])
	}

	resolve := func(key string) (string, error) {
		raw := lookup(key)
		if !strings.HasPrefix(raw, secretRefPrefix) {
			return raw, nil
		}
		if options.secret == nil {
			return "", &SecretError{Ref: raw, Err: errSecretResolverNotConfigured}
		}
		resolved, err := options.secret.ResolveSecret(ctx, raw)
		if err != nil {
			return "", &SecretError{Ref: raw, Err: err}
		}
		return strings.TrimSpace(resolved), nil
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         valueOrDefault(lookup("PORT"), defaultPort),
			ReadTimeout:  durationValue(lookup("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationValue(lookup("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationValue(lookup("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    lookup("FIRESTORE_PROJECT_ID"),
			EmulatorHost: lookup("FIRESTORE_EMULATOR_HOST"),
		},
		Notifications: NotificationConfig{
			MailTopic:     valueOrDefault(lookup("MAIL_TOPIC"), defaultMailTopic),
			AdminEmail:    lookup("ADMIN_NOTIFICATION_EMAIL"),
			SenderEmail:   lookup("MAIL_SENDER_EMAIL"),
			DefaultLocale: valueOrDefault(lookup("MAIL_DEFAULT_LOCALE"), defaultLocale),
		},
	}

	stripeKey, err := resolve("STRIPE_API_KEY")
	if err != nil {
		return nil, err
	}
	webhookSecret, err := resolve("STRIPE_WEBHOOK_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.PSP = PSPConfig{
		StripeAPIKey:        stripeKey,
		StripeWebhookSecret: webhookSecret,
		WebhookTolerance:    durationValue(lookup("STRIPE_WEBHOOK_TOLERANCE"), defaultWebhookWindow),
	}

	pricing, err := loadPricingDefaults(lookup)
	if err != nil {
		return nil, err
	}
	cfg.Pricing = pricing

	var missing []string
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ValidationError{fields: missing}
	}

	return cfg, nil
}

func loadPricingDefaults(lookup func(string) string) (PricingDefaults, error) {
	defaults := PricingDefaults{
		BaseCurrency:              valueOrDefault(strings.ToUpper(lookup("PRICING_BASE_CURRENCY")), defaultBaseCurrency),
		GoldQuotation:             decimal.NewFromInt(1200),
		ProfitMargin:              decimal.NewFromFloat(0.10),
		VAT:                       decimal.NewFromFloat(0.16),
		PaymentProcessingRate:     decimal.NewFromFloat(0.036),
		PaymentProcessingFixedFee: decimal.NewFromInt(3),
		ExchangeRates:             map[string]decimal.Decimal{},
	}

	assign := func(key string, field string, target *decimal.Decimal) error {
		raw := lookup(key)
		if raw == "" {
			return nil
		}
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return &ValidationError{fields: []string{field}}
		}
		*target = parsed
		return nil
	}

	if err := assign("PRICING_GOLD_QUOTATION", "Pricing.GoldQuotation", &defaults.GoldQuotation); err != nil {
		return PricingDefaults{}, err
	}
	if err := assign("PRICING_PROFIT_MARGIN", "Pricing.ProfitMargin", &defaults.ProfitMargin); err != nil {
		return PricingDefaults{}, err
	}
	if err := assign("PRICING_VAT", "Pricing.VAT", &defaults.VAT); err != nil {
		return PricingDefaults{}, err
	}
	if err := assign("PRICING_PROCESSING_RATE", "Pricing.PaymentProcessingRate", &defaults.PaymentProcessingRate); err != nil {
		return PricingDefaults{}, err
	}
	if err := assign("PRICING_PROCESSING_FIXED_FEE", "Pricing.PaymentProcessingFixedFee", &defaults.PaymentProcessingFixedFee); err != nil {
		return PricingDefaults{}, err
	}

	// PRICING_EXCHANGE_RATES is a comma-separated list of CODE=RATE pairs,
	// e.g. "USD=0.058,EUR=0.054".
	if raw := lookup("PRICING_EXCHANGE_RATES"); raw != "" {
		for _, pair := range strings.Split(raw, ",") {
			parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(parts) != 2 {
				return PricingDefaults{}, &ValidationError{fields: []string{"Pricing.ExchangeRates"}}
			}
			code := strings.ToUpper(strings.TrimSpace(parts[0]))
			rate, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
			if err != nil || code == "" {
				return PricingDefaults{}, &ValidationError{fields: []string{"Pricing.ExchangeRates"}}
			}
			defaults.ExchangeRates[code] = rate
		}
	}

	return defaults, nil
}

func valueOrDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func durationValue(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func loadDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open env file %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return values, nil
}
