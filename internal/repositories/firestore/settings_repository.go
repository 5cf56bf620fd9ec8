package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atelier-aurea/api/internal/domain"
	"github.com/atelier-aurea/api/internal/platform/config"
	pfirestore "github.com/atelier-aurea/api/internal/platform/firestore"
	"github.com/atelier-aurea/api/internal/repositories"
)

const (
	settingsCollection = "settings"
	pricingDocumentID  = "pricing"
	exchangeDocumentID = "exchangeRates"
)

// Decimal values are stored as strings so Firestore never coerces them
// through binary floating point.
type pricingDocument struct {
	GoldQuotation             string `firestore:"goldQuotation,omitempty"`
	ProfitMargin              string `firestore:"profitMargin,omitempty"`
	VAT                       string `firestore:"vat,omitempty"`
	PaymentProcessingRate     string `firestore:"paymentProcessingRate,omitempty"`
	PaymentProcessingFixedFee string `firestore:"paymentProcessingFixedFee,omitempty"`
}

type exchangeDocument struct {
	Base           string            `firestore:"base,omitempty"`
	Target         string            `firestore:"target,omitempty"`
	Rate           string            `firestore:"rate,omitempty"`
	FixedOverrides map[string]string `firestore:"fixedOverrides,omitempty"`
}

// SettingsRepository serves pricing parameters and exchange rates from the
// settings collection, falling back to configured defaults when documents or
// individual fields are absent.
type SettingsRepository struct {
	pricing  *pfirestore.BaseRepository[pricingDocument]
	exchange *pfirestore.BaseRepository[exchangeDocument]
	defaults config.PricingDefaults
}

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider, defaults config.PricingDefaults) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		pricing:  pfirestore.NewBaseRepository[pricingDocument](provider, settingsCollection, nil, nil),
		exchange: pfirestore.NewBaseRepository[exchangeDocument](provider, settingsCollection, nil, nil),
		defaults: defaults,
	}, nil
}

// GetPricingParameters loads the pricing document. A missing document or
// missing fields resolve to the configured defaults; malformed stored values
// are reported as errors rather than silently replaced.
func (r *SettingsRepository) GetPricingParameters(ctx context.Context) (domain.PricingParameters, error) {
	if r == nil || r.pricing == nil {
		return domain.PricingParameters{}, errors.New("settings repository not initialised")
	}

	params := domain.PricingParameters{
		GoldQuotation:             r.defaults.GoldQuotation,
		ProfitMargin:              r.defaults.ProfitMargin,
		VAT:                       r.defaults.VAT,
		PaymentProcessingRate:     r.defaults.PaymentProcessingRate,
		PaymentProcessingFixedFee: r.defaults.PaymentProcessingFixedFee,
	}

	doc, err := r.pricing.Get(ctx, pricingDocumentID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return params, nil
		}
		return domain.PricingParameters{}, err
	}

	fields := []struct {
		raw    string
		name   string
		target *decimal.Decimal
	}{
		{doc.Data.GoldQuotation, "goldQuotation", &params.GoldQuotation},
		{doc.Data.ProfitMargin, "profitMargin", &params.ProfitMargin},
		{doc.Data.VAT, "vat", &params.VAT},
		{doc.Data.PaymentProcessingRate, "paymentProcessingRate", &params.PaymentProcessingRate},
		{doc.Data.PaymentProcessingFixedFee, "paymentProcessingFixedFee", &params.PaymentProcessingFixedFee},
	}
	for _, field := range fields {
		raw := strings.TrimSpace(field.raw)
		if raw == "" {
			continue
		}
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.PricingParameters{}, fmt.Errorf("settings repository: malformed %s value %q: %w", field.name, raw, err)
		}
		*field.target = parsed
	}

	return params, nil
}

// GetExchangeRate loads the display-conversion rate document, resolving
// absences to the configured base currency and default rates.
func (r *SettingsRepository) GetExchangeRate(ctx context.Context) (domain.ExchangeRate, error) {
	if r == nil || r.exchange == nil {
		return domain.ExchangeRate{}, errors.New("settings repository not initialised")
	}

	rate := domain.ExchangeRate{
		Base:           r.defaults.BaseCurrency,
		Target:         r.defaults.BaseCurrency,
		Rate:           decimal.Zero,
		FixedOverrides: map[string]decimal.Decimal{},
	}
	for code, value := range r.defaults.ExchangeRates {
		rate.FixedOverrides[strings.ToUpper(code)] = value
	}

	doc, err := r.exchange.Get(ctx, exchangeDocumentID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return rate, nil
		}
		return domain.ExchangeRate{}, err
	}

	if base := strings.ToUpper(strings.TrimSpace(doc.Data.Base)); base != "" {
		rate.Base = base
	}
	if target := strings.ToUpper(strings.TrimSpace(doc.Data.Target)); target != "" {
		rate.Target = target
	}
	if raw := strings.TrimSpace(doc.Data.Rate); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.ExchangeRate{}, fmt.Errorf("settings repository: malformed rate value %q: %w", raw, err)
		}
		rate.Rate = parsed
	}
	for code, raw := range doc.Data.FixedOverrides {
		parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return domain.ExchangeRate{}, fmt.Errorf("settings repository: malformed fixed override for %s: %w", code, err)
		}
		rate.FixedOverrides[strings.ToUpper(strings.TrimSpace(code))] = parsed
	}

	return rate, nil
}
