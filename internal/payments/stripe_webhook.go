package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/atelier-aurea/api/internal/domain"
)

const defaultSignatureTolerance = 5 * time.Minute

// StripeEventVerifier authenticates Stripe webhook deliveries against the
// endpoint signing secret and maps the gateway event types onto the
// settlement vocabulary.
type StripeEventVerifier struct {
	secret    string
	tolerance time.Duration
	clock     func() time.Time
}

// StripeVerifierOption configures optional verifier behaviour.
type StripeVerifierOption func(*StripeEventVerifier)

// WithSignatureTolerance bounds the accepted age of the signed timestamp.
func WithSignatureTolerance(tolerance time.Duration) StripeVerifierOption {
	return func(v *StripeEventVerifier) {
		if tolerance > 0 {
			v.tolerance = tolerance
		}
	}
}

// WithClock injects the time source used for event receipt stamps.
func WithClock(clock func() time.Time) StripeVerifierOption {
	return func(v *StripeEventVerifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// NewStripeEventVerifier constructs a verifier bound to a webhook signing secret.
func NewStripeEventVerifier(secret string, opts ...StripeVerifierOption) (*StripeEventVerifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, errors.New("payments: stripe webhook secret is required")
	}
	v := &StripeEventVerifier{
		secret:    trimmed,
		tolerance: defaultSignatureTolerance,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// VerifyAndParse checks the Stripe-Signature header before any payload
// inspection, then normalises the event. Unrecognised event types come back
// as informational events rather than errors so new gateway types never break
// the endpoint.
func (v *StripeEventVerifier) VerifyAndParse(payload []byte, signatureHeader string) (domain.PaymentEvent, error) {
	if v == nil {
		return domain.PaymentEvent{}, errors.New("payments: stripe verifier not initialised")
	}

	event, err := webhook.ConstructEventWithTolerance(payload, signatureHeader, v.secret, v.tolerance)
	if err != nil {
		return domain.PaymentEvent{}, classifyWebhookError(err)
	}
	if strings.TrimSpace(event.ID) == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: missing event id", ErrPayloadInvalid)
	}

	normalised := domain.PaymentEvent{
		ID:         event.ID,
		Type:       eventTypeFor(string(event.Type)),
		ReceivedAt: v.clock().UTC(),
	}
	if normalised.Type == domain.PaymentEventOther {
		return normalised, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return domain.PaymentEvent{}, fmt.Errorf("%w: event %s has no payment intent payload", ErrPayloadInvalid, event.ID)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: decode payment intent: %v", ErrPayloadInvalid, err)
	}
	if strings.TrimSpace(intent.ID) == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: event %s carries no payment reference", ErrPayloadInvalid, event.ID)
	}

	normalised.PaymentReference = intent.ID
	if intent.Metadata != nil {
		normalised.Locale = strings.TrimSpace(intent.Metadata["locale"])
	}
	return normalised, nil
}

func eventTypeFor(stripeType string) domain.PaymentEventType {
	switch stripeType {
	case "payment_intent.succeeded":
		return domain.PaymentEventSucceeded
	case "payment_intent.payment_failed":
		return domain.PaymentEventFailed
	case "payment_intent.canceled":
		return domain.PaymentEventCanceled
	default:
		return domain.PaymentEventOther
	}
}

func classifyWebhookError(err error) error {
	switch {
	case errors.Is(err, webhook.ErrNotSigned),
		errors.Is(err, webhook.ErrNoValidSignature),
		errors.Is(err, webhook.ErrTooOld),
		errors.Is(err, webhook.ErrInvalidHeader):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
}
