package firestore

import (
	"context"
	"errors"

	"google.golang.org/api/iterator"

	"github.com/atelier-aurea/api/internal/platform/config"
	pfirestore "github.com/atelier-aurea/api/internal/platform/firestore"
	"github.com/atelier-aurea/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry interface.
type Registry struct {
	provider      *pfirestore.Provider
	orders        *OrderRepository
	settings      *SettingsRepository
	webhookEvents *WebhookEventRepository
	health        *HealthRepository
}

// NewRegistry wires the repositories against a shared provider.
func NewRegistry(provider *pfirestore.Provider, pricingDefaults config.PricingDefaults) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	settings, err := NewSettingsRepository(provider, pricingDefaults)
	if err != nil {
		return nil, err
	}
	webhookEvents, err := NewWebhookEventRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:      provider,
		orders:        orders,
		settings:      settings,
		webhookEvents: webhookEvents,
		health:        &HealthRepository{provider: provider},
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Settings returns the settings repository.
func (r *Registry) Settings() repositories.SettingsRepository { return r.settings }

// WebhookEvents returns the webhook event store.
func (r *Registry) WebhookEvents() repositories.WebhookEventRepository { return r.webhookEvents }

// Health returns the readiness probe repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// HealthRepository verifies Firestore connectivity by issuing a bounded read.
type HealthRepository struct {
	provider *pfirestore.Provider
}

// Ping runs a single-document query against the settings collection. An empty
// result set still proves connectivity.
func (r *HealthRepository) Ping(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return errors.New("health repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	iter := client.Collection(settingsCollection).Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("settings.ping", err)
	}
	return nil
}
