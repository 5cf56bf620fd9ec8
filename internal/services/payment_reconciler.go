package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/atelier-aurea/api/internal/domain"
	"github.com/atelier-aurea/api/internal/notifications"
	"github.com/atelier-aurea/api/internal/payments"
	"github.com/atelier-aurea/api/internal/repositories"
)

var (
	// ErrReconcileAuth marks a delivery whose signature did not verify. Logged
	// as a potential security event and never retried by this service.
	ErrReconcileAuth = errors.New("reconcile: authentication failed")
	// ErrReconcileValidation marks a verified but unusable payload, such as a
	// missing payment reference.
	ErrReconcileValidation = errors.New("reconcile: invalid event")
	// ErrReconcileOrderNotFound marks an event whose reference matches no order.
	ErrReconcileOrderNotFound = errors.New("reconcile: order not found")
	// ErrReconcileIntegrity marks an order that must not advance, such as one
	// without line items.
	ErrReconcileIntegrity = errors.New("reconcile: order integrity violation")
	// ErrReconcileConflict marks a transition that lost the write race twice.
	// The gateway's retry redelivers the event against fresh state.
	ErrReconcileConflict = errors.New("reconcile: conflicting update")
)

// ReconcileOutcome classifies what a delivery did to the order.
type ReconcileOutcome string

const (
	// OutcomeApplied means the transition was persisted.
	OutcomeApplied ReconcileOutcome = "applied"
	// OutcomeDuplicate means the event ID was already processed.
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	// OutcomeNoop means the order already carried the target state.
	OutcomeNoop ReconcileOutcome = "noop"
	// OutcomeStale means the event would regress the order and was discarded.
	OutcomeStale ReconcileOutcome = "stale"
	// OutcomeIgnored means the event type produces no transition.
	OutcomeIgnored ReconcileOutcome = "ignored"
)

// ReconcileResult reports the effect of one webhook delivery.
type ReconcileResult struct {
	Outcome       ReconcileOutcome
	EventID       string
	EventType     domain.PaymentEventType
	OrderID       string
	PaymentStatus domain.PaymentStatus
	Notified      bool
}

const reconcilerMetricNamespace = "github.com/atelier-aurea/api/internal/services"

// PaymentReconciler turns verified gateway deliveries into order state
// transitions. Deliveries are at-least-once and unordered, so every step
// tolerates duplicates and regressions.
type PaymentReconciler struct {
	verifier      payments.EventVerifier
	orders        repositories.OrderRepository
	webhookEvents repositories.WebhookEventRepository
	notifier      notifications.Notifier
	logger        func(context.Context, string, map[string]any)
	clock         func() time.Time

	outcomes        metric.Int64Counter
	outcomesEnabled bool
}

// PaymentReconcilerDeps lists the collaborators required by NewPaymentReconciler.
type PaymentReconcilerDeps struct {
	Verifier      payments.EventVerifier
	Orders        repositories.OrderRepository
	WebhookEvents repositories.WebhookEventRepository
	Notifier      notifications.Notifier
	Logger        func(context.Context, string, map[string]any)
	Clock         func() time.Time
	Meter         metric.Meter
}

// NewPaymentReconciler validates dependencies and builds the reconciler.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (*PaymentReconciler, error) {
	if deps.Verifier == nil {
		return nil, errors.New("payment reconciler: event verifier is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("payment reconciler: notifier is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(reconcilerMetricNamespace)
	}

	outcomes, metricErr := meter.Int64Counter(
		"reconcile.outcomes",
		metric.WithDescription("Count of webhook reconciliation outcomes"),
	)

	return &PaymentReconciler{
		verifier:        deps.Verifier,
		orders:          deps.Orders,
		webhookEvents:   deps.WebhookEvents,
		notifier:        deps.Notifier,
		logger:          logger,
		clock:           func() time.Time { return clock().UTC() },
		outcomes:        outcomes,
		outcomesEnabled: metricErr == nil,
	}, nil
}

// Reconcile verifies a raw delivery and applies it to the order it targets.
// Verification happens before the payload is inspected in any way. The
// conditional ledger write is the concurrency boundary: of any number of
// concurrent deliveries for the same order, at most one observes a real
// transition into paid and only that one dispatches notifications.
func (r *PaymentReconciler) Reconcile(ctx context.Context, payload []byte, signatureHeader string) (ReconcileResult, error) {
	if r == nil || r.verifier == nil {
		return ReconcileResult{}, errors.New("payment reconciler not initialised")
	}

	event, err := r.verifier.VerifyAndParse(payload, signatureHeader)
	if err != nil {
		if errors.Is(err, payments.ErrSignatureInvalid) {
			r.logger(ctx, "reconcile.signature_rejected", map[string]any{"error": err.Error()})
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileAuth, err)
		}
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileValidation, err)
	}

	result := ReconcileResult{EventID: event.ID, EventType: event.Type}

	transition, actionable := domain.TransitionFor(event.Type)
	if !actionable {
		r.logger(ctx, "reconcile.event_ignored", map[string]any{
			"event_id":   event.ID,
			"event_type": string(event.Type),
		})
		result.Outcome = OutcomeIgnored
		r.recordOutcome(ctx, result.Outcome)
		return result, nil
	}

	if event.PaymentReference == "" {
		return ReconcileResult{}, fmt.Errorf("%w: event %s has no payment reference", ErrReconcileValidation, event.ID)
	}

	// Event-ID dedup is a fast path only; the conditional update below is the
	// authoritative guard, so a dedup store outage degrades rather than fails.
	if r.webhookEvents != nil {
		fresh, err := r.webhookEvents.Reserve(ctx, event.ID, event.ReceivedAt)
		if err != nil {
			r.logger(ctx, "reconcile.dedup_unavailable", map[string]any{
				"event_id": event.ID,
				"error":    err.Error(),
			})
		} else if !fresh {
			r.logger(ctx, "reconcile.event_redelivered", map[string]any{"event_id": event.ID})
			result.Outcome = OutcomeDuplicate
			r.recordOutcome(ctx, result.Outcome)
			return result, nil
		}
	}

	order, err := r.orders.FindByPaymentReference(ctx, event.PaymentReference)
	if err != nil {
		if repositories.IsNotFound(err) {
			return ReconcileResult{}, fmt.Errorf("%w: reference %s", ErrReconcileOrderNotFound, event.PaymentReference)
		}
		return ReconcileResult{}, fmt.Errorf("reconcile: look up order: %w", err)
	}
	result.OrderID = order.ID

	// One conflict retry: re-read and re-evaluate against fresh state.
	for attempt := 0; ; attempt++ {
		outcome, notified, applyErr := r.apply(ctx, order, event, transition)
		if applyErr == nil {
			result.Outcome = outcome
			result.Notified = notified
			result.PaymentStatus = transition.PaymentStatus
			if outcome != OutcomeApplied {
				result.PaymentStatus = order.PaymentStatus
			}
			r.recordOutcome(ctx, outcome)
			return result, nil
		}
		if !repositories.IsConflict(applyErr) || attempt >= 1 {
			if repositories.IsConflict(applyErr) {
				return ReconcileResult{}, fmt.Errorf("%w: order %s", ErrReconcileConflict, order.ID)
			}
			return ReconcileResult{}, applyErr
		}

		r.logger(ctx, "reconcile.cas_conflict", map[string]any{
			"order_id": order.ID,
			"event_id": event.ID,
		})
		order, err = r.orders.FindByID(ctx, order.ID)
		if err != nil {
			return ReconcileResult{}, fmt.Errorf("reconcile: re-read order: %w", err)
		}
	}
}

func (r *PaymentReconciler) apply(ctx context.Context, order domain.Order, event domain.PaymentEvent, transition domain.PaymentTransition) (ReconcileOutcome, bool, error) {
	if order.PaymentStatus == transition.PaymentStatus {
		r.logger(ctx, "reconcile.duplicate_transition", map[string]any{
			"order_id":       order.ID,
			"event_id":       event.ID,
			"payment_status": string(order.PaymentStatus),
		})
		r.audit(ctx, order.ID, event)
		return OutcomeNoop, false, nil
	}

	if !domain.CanApplyPayment(order.PaymentStatus, transition.PaymentStatus) {
		r.logger(ctx, "reconcile.stale_event_discarded", map[string]any{
			"order_id":   order.ID,
			"event_id":   event.ID,
			"current":    string(order.PaymentStatus),
			"event_type": string(event.Type),
		})
		r.audit(ctx, order.ID, event)
		return OutcomeStale, false, nil
	}

	if transition.PaymentStatus == domain.PaymentStatusPaid && !order.HasLineItems() {
		return "", false, fmt.Errorf("%w: order %s has no line items and cannot advance", ErrReconcileIntegrity, order.ID)
	}

	updated, err := r.orders.UpdateStatus(ctx, order.ID, repositories.OrderStatusUpdate{
		ExpectedPaymentStatus: order.PaymentStatus,
		Status:                transition.Status,
		PaymentStatus:         transition.PaymentStatus,
		PaymentReference:      event.PaymentReference,
		OccurredAt:            r.clock(),
	})
	if err != nil {
		return "", false, err
	}

	r.logger(ctx, "reconcile.transition_applied", map[string]any{
		"order_id": order.ID,
		"event_id": event.ID,
		"from":     string(order.PaymentStatus),
		"to":       string(transition.PaymentStatus),
	})
	r.audit(ctx, order.ID, event)

	notified := false
	if transition.PaymentStatus == domain.PaymentStatusPaid {
		// This branch runs at most once per order: the CAS that moved the
		// order into paid succeeded here and nowhere else.
		if updated.Locale == "" {
			updated.Locale = event.Locale
		}
		if err := r.notifier.OrderPaid(ctx, updated); err != nil {
			r.logger(ctx, "reconcile.notification_failed", map[string]any{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		} else {
			notified = true
		}
	}

	return OutcomeApplied, notified, nil
}

func (r *PaymentReconciler) audit(ctx context.Context, orderID string, event domain.PaymentEvent) {
	if err := r.orders.AppendPaymentEvent(ctx, orderID, event); err != nil {
		r.logger(ctx, "reconcile.audit_append_failed", map[string]any{
			"order_id": orderID,
			"event_id": event.ID,
			"error":    err.Error(),
		})
	}
}

func (r *PaymentReconciler) recordOutcome(ctx context.Context, outcome ReconcileOutcome) {
	if !r.outcomesEnabled {
		return
	}
	r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}
