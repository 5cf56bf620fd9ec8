package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atelier-aurea/api/internal/domain"
	"github.com/atelier-aurea/api/internal/services"
)

type stubPricingService struct {
	result domain.ProductPricingResult
	err    error
	input  domain.ProductPricingInput
}

func (s *stubPricingService) Quote(_ context.Context, input domain.ProductPricingInput) (domain.ProductPricingResult, error) {
	s.input = input
	return s.result, s.err
}

type stubCurrencyService struct {
	result domain.Money
	err    error
	target string
}

func (s *stubCurrencyService) Convert(_ context.Context, _ domain.Money, targetCurrency string) (domain.Money, error) {
	s.target = targetCurrency
	return s.result, s.err
}

func postPricing(t *testing.T, handlers *PricingHandlers, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(WithPricingRoutes(handlers.Routes))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing"+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestQuoteReturnsStageBreakdown(t *testing.T) {
	pricing := &stubPricingService{
		result: domain.ProductPricingResult{
			GoldCost:           decimal.RequireFromString("4200"),
			MaterialsCost:      decimal.RequireFromString("175"),
			BeforeProfit:       decimal.RequireFromString("4375"),
			WithProfit:         decimal.RequireFromString("4812.5"),
			CommissionCost:     decimal.RequireFromString("17.5"),
			WithCommissions:    decimal.RequireFromString("4830"),
			WithVAT:            decimal.RequireFromString("5602.8"),
			WithProcessingRate: decimal.RequireFromString("5804.5008"),
			FinalPrice:         decimal.RequireFromString("5807.50"),
		},
	}
	handlers := NewPricingHandlers(pricing, &stubCurrencyService{})

	body := `{"goldGrams":"3.5","factor":"1","laborCost":"30","stoneCost":"20","salesCommissionPerGram":"5","shippingCost":"0"}`
	rr := postPricing(t, handlers, "/quote", body)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rr.Code, rr.Body.String())
	}
	var resp quoteResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !resp.FinalPrice.Equal(decimal.RequireFromString("5807.50")) {
		t.Fatalf("finalPrice = %s, want 5807.50", resp.FinalPrice)
	}
	if !resp.WithProcessingRate.Equal(decimal.RequireFromString("5804.5008")) {
		t.Fatalf("withProcessingRate = %s, want 5804.5008", resp.WithProcessingRate)
	}
	if !pricing.input.GoldGrams.Equal(decimal.RequireFromString("3.5")) {
		t.Fatalf("goldGrams forwarded = %s, want 3.5", pricing.input.GoldGrams)
	}
}

func TestQuoteRejectsInvalidInput(t *testing.T) {
	pricing := &stubPricingService{
		err: fmt.Errorf("%w: goldGrams must not be negative", services.ErrPricingInvalidInput),
	}
	handlers := NewPricingHandlers(pricing, &stubCurrencyService{})

	rr := postPricing(t, handlers, "/quote", `{"goldGrams":"-1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestQuoteRejectsMalformedJSON(t *testing.T) {
	handlers := NewPricingHandlers(&stubPricingService{}, &stubCurrencyService{})
	rr := postPricing(t, handlers, "/quote", `{"goldGrams":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestConvertReturnsConvertedAmount(t *testing.T) {
	currency := &stubCurrencyService{
		result: domain.Money{Amount: decimal.RequireFromString("336.84"), Currency: "USD"},
	}
	handlers := NewPricingHandlers(&stubPricingService{}, currency)

	rr := postPricing(t, handlers, "/convert", `{"amount":"5807.50","currency":"MXN","target":"USD"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rr.Code, rr.Body.String())
	}
	var resp convertResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Currency != "USD" {
		t.Fatalf("currency = %s, want USD", resp.Currency)
	}
	if !resp.Amount.Equal(decimal.RequireFromString("336.84")) {
		t.Fatalf("amount = %s, want 336.84", resp.Amount)
	}
	if currency.target != "USD" {
		t.Fatalf("target forwarded = %q, want USD", currency.target)
	}
}

func TestConvertRequiresTargetCurrency(t *testing.T) {
	handlers := NewPricingHandlers(&stubPricingService{}, &stubCurrencyService{})
	rr := postPricing(t, handlers, "/convert", `{"amount":"10","currency":"MXN"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestConvertRejectsUnknownCurrency(t *testing.T) {
	currency := &stubCurrencyService{
		err: fmt.Errorf("%w: no rate for ZZZ", services.ErrConversionInvalid),
	}
	handlers := NewPricingHandlers(&stubPricingService{}, currency)

	rr := postPricing(t, handlers, "/convert", `{"amount":"10","currency":"MXN","target":"ZZZ"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}
