package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atelier-aurea/api/internal/domain"
	"github.com/atelier-aurea/api/internal/platform/httpx"
	"github.com/atelier-aurea/api/internal/services"
)

const maxPricingBodySize = 8 * 1024

var errBodyTooLarge = errors.New("request body too large")

// PricingService produces a deterministic price for one piece.
type PricingService interface {
	Quote(ctx context.Context, input domain.ProductPricingInput) (domain.ProductPricingResult, error)
}

// CurrencyService converts amounts out of the store's base currency.
type CurrencyService interface {
	Convert(ctx context.Context, amount domain.Money, targetCurrency string) (domain.Money, error)
}

// PricingHandlers exposes quotation and conversion endpoints.
type PricingHandlers struct {
	pricing  PricingService
	currency CurrencyService
}

// NewPricingHandlers constructs pricing handlers.
func NewPricingHandlers(pricing PricingService, currency CurrencyService) *PricingHandlers {
	return &PricingHandlers{
		pricing:  pricing,
		currency: currency,
	}
}

// Routes registers pricing endpoints under the provided router.
func (h *PricingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
	r.Post("/convert", h.convert)
}

type quoteRequest struct {
	GoldGrams              decimal.Decimal `json:"goldGrams"`
	Factor                 decimal.Decimal `json:"factor"`
	LaborCost              decimal.Decimal `json:"laborCost"`
	StoneCost              decimal.Decimal `json:"stoneCost"`
	SalesCommissionPerGram decimal.Decimal `json:"salesCommissionPerGram"`
	ShippingCost           decimal.Decimal `json:"shippingCost"`
}

type quoteResponse struct {
	GoldCost           decimal.Decimal `json:"goldCost"`
	MaterialsCost      decimal.Decimal `json:"materialsCost"`
	BeforeProfit       decimal.Decimal `json:"beforeProfit"`
	WithProfit         decimal.Decimal `json:"withProfit"`
	CommissionCost     decimal.Decimal `json:"commissionCost"`
	WithCommissions    decimal.Decimal `json:"withCommissions"`
	WithVAT            decimal.Decimal `json:"withVat"`
	WithProcessingRate decimal.Decimal `json:"withProcessingRate"`
	FinalPrice         decimal.Decimal `json:"finalPrice"`
}

func (h *PricingHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPricingBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req quoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.pricing.Quote(ctx, domain.ProductPricingInput{
		GoldGrams:              req.GoldGrams,
		Factor:                 req.Factor,
		LaborCost:              req.LaborCost,
		StoneCost:              req.StoneCost,
		SalesCommissionPerGram: req.SalesCommissionPerGram,
		ShippingCost:           req.ShippingCost,
	})
	if err != nil {
		if errors.Is(err, services.ErrPricingInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("pricing_failed", "failed to compute price", http.StatusInternalServerError))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, quoteResponse{
		GoldCost:           result.GoldCost,
		MaterialsCost:      result.MaterialsCost,
		BeforeProfit:       result.BeforeProfit,
		WithProfit:         result.WithProfit,
		CommissionCost:     result.CommissionCost,
		WithCommissions:    result.WithCommissions,
		WithVAT:            result.WithVAT,
		WithProcessingRate: result.WithProcessingRate,
		FinalPrice:         result.FinalPrice,
	})
}

type convertRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Target   string          `json:"target"`
}

type convertResponse struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (h *PricingHandlers) convert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.currency == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "currency service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPricingBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req convertRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "target currency is required", http.StatusBadRequest))
		return
	}

	converted, err := h.currency.Convert(ctx, domain.Money{Amount: req.Amount, Currency: req.Currency}, req.Target)
	if err != nil {
		if errors.Is(err, services.ErrConversionInvalid) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("conversion_failed", "failed to convert amount", http.StatusInternalServerError))
		return
	}

	httpx.WriteJSON(w, http.StatusOK, convertResponse{
		Amount:   converted.Amount,
		Currency: converted.Currency,
	})
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}
