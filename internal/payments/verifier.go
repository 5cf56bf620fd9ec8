package payments

import (
	"errors"

	"github.com/atelier-aurea/api/internal/domain"
)

// ErrSignatureInvalid is returned when a webhook payload fails signature
// verification or the signature header is missing or stale.
var ErrSignatureInvalid = errors.New("payments: webhook signature invalid")

// ErrPayloadInvalid is returned when a verified payload cannot be decoded.
var ErrPayloadInvalid = errors.New("payments: webhook payload invalid")

// EventVerifier authenticates a raw webhook delivery and normalises it into a
// gateway-neutral payment event. Verification always precedes parsing, so a
// payload is never inspected before its signature checks out.
type EventVerifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (domain.PaymentEvent, error)
}
