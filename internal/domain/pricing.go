package domain

import "github.com/shopspring/decimal"

// PricingParameters is the process-wide cost configuration for pricing a
// piece. Values are loaded from the settings store on demand; callers must
// treat each load as a fresh snapshot and pass it by value so a single
// calculation never mixes two configuration generations.
type PricingParameters struct {
	// GoldQuotation is the base-currency price per gram of raw gold.
	GoldQuotation decimal.Decimal
	// ProfitMargin, VAT and PaymentProcessingRate are fractional rates in [0, 1).
	ProfitMargin          decimal.Decimal
	VAT                   decimal.Decimal
	PaymentProcessingRate decimal.Decimal
	// PaymentProcessingFixedFee is the flat per-transaction gateway fee.
	PaymentProcessingFixedFee decimal.Decimal
}

// ProductPricingInput carries the per-piece cost inputs. Immutable per
// calculation.
type ProductPricingInput struct {
	GoldGrams              decimal.Decimal
	Factor                 decimal.Decimal
	LaborCost              decimal.Decimal
	StoneCost              decimal.Decimal
	SalesCommissionPerGram decimal.Decimal
	ShippingCost           decimal.Decimal
}

// ProductPricingResult is the ordered chain of subtotals produced by the
// pricing engine. Intermediate stages keep full precision; only FinalPrice is
// rounded (two decimals, half-to-even). Never mutated after construction.
type ProductPricingResult struct {
	GoldCost           decimal.Decimal
	MaterialsCost      decimal.Decimal
	BeforeProfit       decimal.Decimal
	WithProfit         decimal.Decimal
	CommissionCost     decimal.Decimal
	WithCommissions    decimal.Decimal
	WithVAT            decimal.Decimal
	WithProcessingRate decimal.Decimal
	// FinalPrice is the authoritative retail price in the base currency.
	FinalPrice decimal.Decimal
}

// Money pairs a decimal amount with its ISO 4217 currency code.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// ExchangeRate is a display-conversion rate from the base currency into a
// target currency, with optional fixed per-currency overrides that take
// precedence over rate-based conversion.
type ExchangeRate struct {
	Base   string
	Target string
	Rate   decimal.Decimal
	// FixedOverrides maps a currency code to a fixed amount used verbatim
	// instead of converting. Keyed by upper-case ISO 4217 code.
	FixedOverrides map[string]decimal.Decimal
}
