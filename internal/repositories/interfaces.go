package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/atelier-aurea/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Settings() SettingsRepository
	WebhookEvents() WebhookEventRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err carries not-found repository semantics.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries conflict repository semantics.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries transient-outage repository semantics.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

// OrderStatusUpdate describes a conditional order status transition. The
// update applies only while the stored payment status still equals
// ExpectedPaymentStatus, otherwise the repository reports a conflict.
type OrderStatusUpdate struct {
	ExpectedPaymentStatus domain.PaymentStatus
	Status                domain.OrderStatus
	PaymentStatus         domain.PaymentStatus
	PaymentReference      string
	OccurredAt            time.Time
}

// OrderRepository persists orders and enforces compare-and-set payment
// transitions.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, update OrderStatusUpdate) (domain.Order, error)
	AppendPaymentEvent(ctx context.Context, orderID string, event domain.PaymentEvent) error
}

// SettingsRepository serves pricing parameters and exchange rates. Both
// lookups fall back to configured defaults when no stored document exists.
type SettingsRepository interface {
	GetPricingParameters(ctx context.Context) (domain.PricingParameters, error)
	GetExchangeRate(ctx context.Context) (domain.ExchangeRate, error)
}

// WebhookEventRepository records processed webhook event IDs so redeliveries
// of the same event can be recognised.
type WebhookEventRepository interface {
	// Reserve marks the event ID as seen. It returns true when the event was
	// not previously recorded, false when this is a redelivery.
	Reserve(ctx context.Context, eventID string, receivedAt time.Time) (bool, error)
}

// HealthRepository reports backend connectivity for readiness probes.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
