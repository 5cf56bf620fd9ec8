package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/atelier-aurea/api/internal/domain"
	"github.com/atelier-aurea/api/internal/repositories"
)

// ErrConversionInvalid signals an unusable conversion request, such as a
// missing currency code or a non-positive rate for a non-base target.
var ErrConversionInvalid = errors.New("currency: invalid conversion")

// CurrencyConverter converts base-currency amounts into display currencies
// and formats amounts for a locale. Conversion affects presentation only;
// the stored price always stays in the base currency.
type CurrencyConverter struct {
	settings      repositories.SettingsRepository
	defaultLocale string
}

// CurrencyConverterDeps lists the collaborators required by NewCurrencyConverter.
type CurrencyConverterDeps struct {
	Settings      repositories.SettingsRepository
	DefaultLocale string
}

// NewCurrencyConverter validates dependencies and builds the converter.
func NewCurrencyConverter(deps CurrencyConverterDeps) (*CurrencyConverter, error) {
	if deps.Settings == nil {
		return nil, errors.New("currency converter: settings repository is required")
	}
	locale := strings.TrimSpace(deps.DefaultLocale)
	if locale == "" {
		locale = "es-mx"
	}
	return &CurrencyConverter{
		settings:      deps.Settings,
		defaultLocale: locale,
	}, nil
}

// Convert loads the current exchange rate and converts the amount into the
// target currency.
func (c *CurrencyConverter) Convert(ctx context.Context, amount domain.Money, targetCurrency string) (domain.Money, error) {
	if c == nil || c.settings == nil {
		return domain.Money{}, errors.New("currency converter not initialised")
	}
	rate, err := c.settings.GetExchangeRate(ctx)
	if err != nil {
		return domain.Money{}, fmt.Errorf("currency converter: load exchange rate: %w", err)
	}
	return ConvertAmount(amount, targetCurrency, rate)
}

// ConvertAmount applies the conversion rules:
//
//  1. target equal to the amount's currency is an identity, returned without
//     ever touching the rate, even when the rate is stale or zero;
//  2. a fixed override for the target currency is used verbatim;
//  3. otherwise the amount is multiplied by the rate, which must be positive.
func ConvertAmount(amount domain.Money, targetCurrency string, rate domain.ExchangeRate) (domain.Money, error) {
	base := strings.ToUpper(strings.TrimSpace(amount.Currency))
	target := strings.ToUpper(strings.TrimSpace(targetCurrency))
	if base == "" || target == "" {
		return domain.Money{}, fmt.Errorf("%w: currency code is required", ErrConversionInvalid)
	}

	if target == base {
		return domain.Money{Amount: amount.Amount, Currency: base}, nil
	}

	if override, ok := rate.FixedOverrides[target]; ok {
		return domain.Money{Amount: override, Currency: target}, nil
	}

	if rateBase := strings.ToUpper(strings.TrimSpace(rate.Base)); rateBase != "" && rateBase != base {
		return domain.Money{}, fmt.Errorf("%w: rate converts from %s, amount is in %s", ErrConversionInvalid, rateBase, base)
	}
	if rateTarget := strings.ToUpper(strings.TrimSpace(rate.Target)); rateTarget != "" && rateTarget != target {
		return domain.Money{}, fmt.Errorf("%w: no rate towards %s", ErrConversionInvalid, target)
	}
	if !rate.Rate.IsPositive() {
		return domain.Money{}, fmt.Errorf("%w: rate towards %s is not positive", ErrConversionInvalid, target)
	}

	return domain.Money{Amount: amount.Amount.Mul(rate.Rate), Currency: target}, nil
}

// FormatAmount renders a minor-unit amount with its currency symbol for the
// given locale. Unknown locales fall back to the converter default.
func (c *CurrencyConverter) FormatAmount(amountMinor int64, currencyCode, locale string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currencyCode))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: unknown currency %q", ErrConversionInvalid, currencyCode)
	}

	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag, err = language.Parse(c.defaultLocale)
		if err != nil {
			tag = language.Spanish
		}
	}

	major := decimal.New(amountMinor, -2)
	printer := message.NewPrinter(tag)
	return printer.Sprint(currency.Symbol(unit.Amount(major.InexactFloat64()))), nil
}
