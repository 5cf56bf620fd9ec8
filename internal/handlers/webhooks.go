package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-aurea/api/internal/platform/httpx"
	"github.com/atelier-aurea/api/internal/services"
)

// Stripe documents event payloads of up to 64 KiB; the limit leaves headroom
// for large metadata blocks without accepting unbounded bodies.
const maxWebhookBodySize = 256 * 1024

const stripeSignatureHeader = "Stripe-Signature"

// WebhookReconciler applies one raw gateway delivery to the order it targets.
type WebhookReconciler interface {
	Reconcile(ctx context.Context, payload []byte, signatureHeader string) (services.ReconcileResult, error)
}

// WebhookHandlers exposes payment gateway callback endpoints.
type WebhookHandlers struct {
	reconciler WebhookReconciler
	logger     func(context.Context, string, map[string]any)
}

// NewWebhookHandlers constructs webhook handlers backed by the reconciler.
func NewWebhookHandlers(reconciler WebhookReconciler, logger func(context.Context, string, map[string]any)) *WebhookHandlers {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		reconciler: reconciler,
		logger:     logger,
	}
}

// Routes registers webhook endpoints under the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// stripeWebhook accepts a Stripe event delivery. Any 2xx acknowledges the
// event; non-2xx statuses ask the gateway to redeliver, so only failures
// that a redelivery could cure return them.
func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconciler == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook processing unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	result, err := h.reconciler.Reconcile(ctx, payload, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		h.writeReconcileError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, webhookResponse{
		Received: true,
		Outcome:  string(result.Outcome),
	})
}

func (h *WebhookHandlers) writeReconcileError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReconcileAuth):
		httpx.WriteError(ctx, w, httpx.NewError("signature_invalid", "webhook signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrReconcileValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReconcileOrderNotFound):
		// A 404 asks the gateway to redeliver later; the order may still be
		// in flight when the first delivery arrives.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "no order matches the payment reference", http.StatusNotFound))
	case errors.Is(err, services.ErrReconcileConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "order was updated concurrently, retry the delivery", http.StatusConflict))
	default:
		h.logger(ctx, "webhooks.reconcile_failed", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_failed", "event could not be processed", http.StatusInternalServerError))
	}
}
