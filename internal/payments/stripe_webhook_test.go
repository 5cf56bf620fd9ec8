package payments

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/atelier-aurea/api/internal/domain"
)

const testWebhookSecret = "whsec_test_secret"

// The library checks the signed timestamp against the wall clock, so test
// payloads are signed at time.Now. The verifier's injected clock only stamps
// the receipt time.
func signedHeader(t *testing.T, payload []byte, at time.Time) string {
	t.Helper()
	signature := webhook.ComputeSignature(at, payload, testWebhookSecret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(signature))
}

func eventPayload(eventID, eventType, intentID, locale string) []byte {
	metadata := ""
	if locale != "" {
		metadata = fmt.Sprintf(`, "metadata": {"locale": %q}`, locale)
	}
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": %q,
		"api_version": %q,
		"data": {"object": {"id": %q, "object": "payment_intent"%s}}
	}`, eventID, eventType, stripe.APIVersion, intentID, metadata))
}

func newTestVerifier(t *testing.T, receivedAt time.Time) *StripeEventVerifier {
	t.Helper()
	verifier, err := NewStripeEventVerifier(testWebhookSecret, WithClock(func() time.Time { return receivedAt }))
	if err != nil {
		t.Fatalf("NewStripeEventVerifier returned error: %v", err)
	}
	return verifier
}

func TestVerifyAndParseSucceededEvent(t *testing.T) {
	receivedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, receivedAt)

	payload := eventPayload("evt_1", "payment_intent.succeeded", "pi_123", "es-MX")
	event, err := verifier.VerifyAndParse(payload, signedHeader(t, payload, time.Now()))
	if err != nil {
		t.Fatalf("VerifyAndParse returned error: %v", err)
	}

	if event.ID != "evt_1" {
		t.Fatalf("unexpected event id: %s", event.ID)
	}
	if event.Type != domain.PaymentEventSucceeded {
		t.Fatalf("unexpected event type: %s", event.Type)
	}
	if event.PaymentReference != "pi_123" {
		t.Fatalf("unexpected payment reference: %s", event.PaymentReference)
	}
	if event.Locale != "es-MX" {
		t.Fatalf("unexpected locale: %s", event.Locale)
	}
	if !event.ReceivedAt.Equal(receivedAt) {
		t.Fatalf("unexpected receipt time: %s", event.ReceivedAt)
	}
}

func TestVerifyAndParseEventTypeMapping(t *testing.T) {
	verifier := newTestVerifier(t, time.Now())

	cases := []struct {
		stripeType string
		want       domain.PaymentEventType
	}{
		{"payment_intent.succeeded", domain.PaymentEventSucceeded},
		{"payment_intent.payment_failed", domain.PaymentEventFailed},
		{"payment_intent.canceled", domain.PaymentEventCanceled},
	}
	for _, tc := range cases {
		payload := eventPayload("evt_map", tc.stripeType, "pi_123", "")
		event, err := verifier.VerifyAndParse(payload, signedHeader(t, payload, time.Now()))
		if err != nil {
			t.Fatalf("%s: VerifyAndParse returned error: %v", tc.stripeType, err)
		}
		if event.Type != tc.want {
			t.Fatalf("%s: got type %s, want %s", tc.stripeType, event.Type, tc.want)
		}
	}
}

func TestVerifyAndParseUnknownTypeIsInformational(t *testing.T) {
	verifier := newTestVerifier(t, time.Now())

	payload := []byte(fmt.Sprintf(`{"id": "evt_2", "type": "charge.refunded", "api_version": %q, "data": {"object": {}}}`, stripe.APIVersion))
	event, err := verifier.VerifyAndParse(payload, signedHeader(t, payload, time.Now()))
	if err != nil {
		t.Fatalf("VerifyAndParse returned error: %v", err)
	}
	if event.Type != domain.PaymentEventOther {
		t.Fatalf("expected informational event, got %s", event.Type)
	}
	if event.PaymentReference != "" {
		t.Fatalf("informational events carry no reference, got %s", event.PaymentReference)
	}
}

func TestVerifyAndParseRejectsBadSignature(t *testing.T) {
	verifier := newTestVerifier(t, time.Now())

	payload := eventPayload("evt_3", "payment_intent.succeeded", "pi_123", "")
	header := signedHeader(t, []byte(`{"id": "evt_other"}`), time.Now())

	_, err := verifier.VerifyAndParse(payload, header)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyAndParseRejectsMissingHeader(t *testing.T) {
	verifier := newTestVerifier(t, time.Now())

	payload := eventPayload("evt_4", "payment_intent.succeeded", "pi_123", "")
	_, err := verifier.VerifyAndParse(payload, "")
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyAndParseRejectsStaleTimestamp(t *testing.T) {
	verifier := newTestVerifier(t, time.Now())

	payload := eventPayload("evt_5", "payment_intent.succeeded", "pi_123", "")
	header := signedHeader(t, payload, time.Now().Add(-time.Hour))

	_, err := verifier.VerifyAndParse(payload, header)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyAndParseRejectsMissingReference(t *testing.T) {
	verifier := newTestVerifier(t, time.Now())

	payload := []byte(fmt.Sprintf(`{"id": "evt_6", "type": "payment_intent.succeeded", "api_version": %q, "data": {"object": {"object": "payment_intent"}}}`, stripe.APIVersion))
	_, err := verifier.VerifyAndParse(payload, signedHeader(t, payload, time.Now()))
	if !errors.Is(err, ErrPayloadInvalid) {
		t.Fatalf("expected ErrPayloadInvalid, got %v", err)
	}
}
