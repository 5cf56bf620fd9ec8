package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atelier-aurea/api/internal/domain"
	"github.com/atelier-aurea/api/internal/repositories"
)

// ErrPricingInvalidInput signals malformed pricing input such as negative
// weights or cost terms.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

var one = decimal.NewFromInt(1)

// ProductPricingEngine prices a piece from its material inputs using the
// current pricing parameters.
type ProductPricingEngine struct {
	settings repositories.SettingsRepository
	logger   func(context.Context, string, map[string]any)
}

// ProductPricingEngineDeps lists the collaborators required by NewProductPricingEngine.
type ProductPricingEngineDeps struct {
	Settings repositories.SettingsRepository
	Logger   func(context.Context, string, map[string]any)
}

// NewProductPricingEngine validates dependencies and builds the engine.
func NewProductPricingEngine(deps ProductPricingEngineDeps) (*ProductPricingEngine, error) {
	if deps.Settings == nil {
		return nil, errors.New("pricing engine: settings repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ProductPricingEngine{
		settings: deps.Settings,
		logger:   logger,
	}, nil
}

// Quote loads a single snapshot of the pricing parameters and computes the
// price chain from it. The snapshot is read once so one quote never mixes two
// configuration generations.
func (e *ProductPricingEngine) Quote(ctx context.Context, input domain.ProductPricingInput) (domain.ProductPricingResult, error) {
	if e == nil || e.settings == nil {
		return domain.ProductPricingResult{}, errors.New("pricing engine not initialised")
	}

	params, err := e.settings.GetPricingParameters(ctx)
	if err != nil {
		return domain.ProductPricingResult{}, fmt.Errorf("pricing engine: load parameters: %w", err)
	}

	result, err := ComputeProductPrice(params, input)
	if err != nil {
		return domain.ProductPricingResult{}, err
	}

	e.logger(ctx, "pricing.quote_computed", map[string]any{
		"gold_grams":  input.GoldGrams.String(),
		"final_price": result.FinalPrice.String(),
	})
	return result, nil
}

// ComputeProductPrice runs the fixed pricing chain. It is pure: the same
// parameters and input always produce the same result, and malformed input is
// rejected before any stage runs.
//
// Stages, in order, each feeding the next:
//
//	goldCost           = goldQuotation * goldGrams * factor
//	materialsCost      = goldGrams * (laborCost + stoneCost)
//	beforeProfit       = goldCost + materialsCost
//	withProfit         = beforeProfit * (1 + profitMargin)
//	commissionCost     = goldGrams * salesCommissionPerGram
//	withCommissions    = withProfit + commissionCost + shippingCost
//	withVAT            = withCommissions * (1 + vat)
//	withProcessingRate = withVAT * (1 + paymentProcessingRate)
//	finalPrice         = round2(withProcessingRate + paymentProcessingFixedFee)
//
// Intermediates keep full precision; only the final price is rounded, to two
// decimals, half to even.
func ComputeProductPrice(params domain.PricingParameters, input domain.ProductPricingInput) (domain.ProductPricingResult, error) {
	if err := validatePricingInput(params, input); err != nil {
		return domain.ProductPricingResult{}, err
	}

	goldCost := params.GoldQuotation.Mul(input.GoldGrams).Mul(input.Factor)
	materialsCost := input.GoldGrams.Mul(input.LaborCost.Add(input.StoneCost))
	beforeProfit := goldCost.Add(materialsCost)
	withProfit := beforeProfit.Mul(one.Add(params.ProfitMargin))
	commissionCost := input.GoldGrams.Mul(input.SalesCommissionPerGram)
	withCommissions := withProfit.Add(commissionCost).Add(input.ShippingCost)
	withVAT := withCommissions.Mul(one.Add(params.VAT))
	withProcessingRate := withVAT.Mul(one.Add(params.PaymentProcessingRate))
	finalPrice := withProcessingRate.Add(params.PaymentProcessingFixedFee).RoundBank(2)

	return domain.ProductPricingResult{
		GoldCost:           goldCost,
		MaterialsCost:      materialsCost,
		BeforeProfit:       beforeProfit,
		WithProfit:         withProfit,
		CommissionCost:     commissionCost,
		WithCommissions:    withCommissions,
		WithVAT:            withVAT,
		WithProcessingRate: withProcessingRate,
		FinalPrice:         finalPrice,
	}, nil
}

func validatePricingInput(params domain.PricingParameters, input domain.ProductPricingInput) error {
	checks := []struct {
		name  string
		value decimal.Decimal
	}{
		{"goldGrams", input.GoldGrams},
		{"factor", input.Factor},
		{"laborCost", input.LaborCost},
		{"stoneCost", input.StoneCost},
		{"salesCommissionPerGram", input.SalesCommissionPerGram},
		{"shippingCost", input.ShippingCost},
		{"goldQuotation", params.GoldQuotation},
		{"profitMargin", params.ProfitMargin},
		{"vat", params.VAT},
		{"paymentProcessingRate", params.PaymentProcessingRate},
		{"paymentProcessingFixedFee", params.PaymentProcessingFixedFee},
	}
	for _, check := range checks {
		if check.value.IsNegative() {
			return fmt.Errorf("%w: %s cannot be negative", ErrPricingInvalidInput, check.name)
		}
	}
	if !params.GoldQuotation.IsPositive() {
		return fmt.Errorf("%w: goldQuotation must be positive", ErrPricingInvalidInput)
	}
	if !input.Factor.IsPositive() {
		return fmt.Errorf("%w: factor must be positive", ErrPricingInvalidInput)
	}
	return nil
}
