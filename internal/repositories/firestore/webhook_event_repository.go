package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/atelier-aurea/api/internal/platform/firestore"
	"github.com/atelier-aurea/api/internal/repositories"
)

const webhookEventCollection = "webhookEvents"

type webhookEventDocument struct {
	ReceivedAt time.Time `firestore:"receivedAt"`
}

// WebhookEventRepository records gateway event IDs so redelivered events can
// be recognised without reprocessing.
type WebhookEventRepository struct {
	base *pfirestore.BaseRepository[webhookEventDocument]
}

// NewWebhookEventRepository constructs a Firestore-backed webhook event store.
func NewWebhookEventRepository(provider *pfirestore.Provider) (*WebhookEventRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook event repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[webhookEventDocument](provider, webhookEventCollection, nil, nil)
	return &WebhookEventRepository{base: base}, nil
}

// Reserve creates a document keyed by the event ID. The create fails with a
// conflict when the event was already recorded, which is reported as a
// redelivery rather than an error.
func (r *WebhookEventRepository) Reserve(ctx context.Context, eventID string, receivedAt time.Time) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("webhook event repository not initialised")
	}
	id := strings.TrimSpace(eventID)
	if id == "" {
		return false, errors.New("webhook event repository: event id is required")
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	_, err := r.base.Create(ctx, id, webhookEventDocument{ReceivedAt: receivedAt.UTC()})
	if err != nil {
		if repositories.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
