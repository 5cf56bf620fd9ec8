package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/atelier-aurea/api/internal/domain"
	pfirestore "github.com/atelier-aurea/api/internal/platform/firestore"
	"github.com/atelier-aurea/api/internal/repositories"
)

const (
	orderCollection        = "orders"
	paymentEventCollection = "paymentEvents"
)

// OrderRepository persists orders in Firestore and applies payment
// transitions with transactional compare-and-set semantics.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[domain.Order]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[domain.Order](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert creates the order document, failing when the ID is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.PaymentStatus == "" {
		order.PaymentStatus = domain.PaymentStatusPending
	}
	order.Currency = strings.ToUpper(strings.TrimSpace(order.Currency))

	result, err := r.base.Create(ctx, orderID, order)
	if err != nil {
		return domain.Order{}, err
	}

	order.ID = orderID
	order.UpdatedAt = result.UpdateTime
	return order, nil
}

// FindByID loads an order by its document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	order := doc.Data
	order.ID = doc.ID
	return order, nil
}

// FindByPaymentReference resolves the order associated with a gateway payment
// reference. References are unique per order, so multiple matches indicate
// corrupted data and are reported as an error.
func (r *OrderRepository) FindByPaymentReference(ctx context.Context, reference string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return domain.Order{}, errors.New("order repository: payment reference is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("paymentReference", "==", ref).Limit(2)
	})
	if err != nil {
		return domain.Order{}, err
	}
	switch len(docs) {
	case 0:
		return domain.Order{}, pfirestore.NewNotFoundError("orders.query",
			fmt.Errorf("no order for payment reference %s", ref))
	case 1:
		order := docs[0].Data
		order.ID = docs[0].ID
		return order, nil
	default:
		return domain.Order{}, fmt.Errorf("order repository: payment reference %s matches multiple orders", ref)
	}
}

// UpdateStatus applies the transition inside a transaction. The write happens
// only while the stored payment status still equals the expected one; any
// interleaved writer that changed it first causes a conflict error, and the
// caller re-reads to decide whether the transition still applies.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	docRef, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	occurredAt := update.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		doc, err := r.base.Decode(ctx, snapshot)
		if err != nil {
			return err
		}

		current := doc.Data
		current.ID = doc.ID
		if current.PaymentStatus != update.ExpectedPaymentStatus {
			return pfirestore.NewConflictError("orders.update",
				fmt.Errorf("payment status is %s, expected %s", current.PaymentStatus, update.ExpectedPaymentStatus))
		}

		updates := []firestore.Update{
			{Path: "status", Value: update.Status},
			{Path: "paymentStatus", Value: update.PaymentStatus},
			{Path: "updatedAt", Value: occurredAt},
		}
		if ref := strings.TrimSpace(update.PaymentReference); ref != "" {
			updates = append(updates, firestore.Update{Path: "paymentReference", Value: ref})
		}
		if update.PaymentStatus == domain.PaymentStatusPaid && current.PaidAt == nil {
			updates = append(updates, firestore.Update{Path: "paidAt", Value: occurredAt})
		}
		if update.PaymentStatus == domain.PaymentStatusCancelled && current.CancelledAt == nil {
			updates = append(updates, firestore.Update{Path: "cancelledAt", Value: occurredAt})
		}

		if err := tx.Update(docRef, updates); err != nil {
			return err
		}

		updated = current
		updated.Status = update.Status
		updated.PaymentStatus = update.PaymentStatus
		updated.UpdatedAt = occurredAt
		if ref := strings.TrimSpace(update.PaymentReference); ref != "" {
			updated.PaymentReference = ref
		}
		if update.PaymentStatus == domain.PaymentStatusPaid && updated.PaidAt == nil {
			at := occurredAt
			updated.PaidAt = &at
		}
		if update.PaymentStatus == domain.PaymentStatusCancelled && updated.CancelledAt == nil {
			at := occurredAt
			updated.CancelledAt = &at
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// AppendPaymentEvent records a processed gateway event under the order for
// auditing. Uses the event ID as document ID so redeliveries overwrite rather
// than duplicate.
func (r *OrderRepository) AppendPaymentEvent(ctx context.Context, orderID string, event domain.PaymentEvent) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		return errors.New("order repository: event id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	receivedAt := event.ReceivedAt.UTC()
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	payload := map[string]any{
		"type":             string(event.Type),
		"paymentReference": event.PaymentReference,
		"receivedAt":       receivedAt,
	}
	if locale := strings.TrimSpace(event.Locale); locale != "" {
		payload["locale"] = locale
	}

	_, err = client.Collection(orderCollection).Doc(id).Collection(paymentEventCollection).Doc(eventID).Set(ctx, payload)
	return pfirestore.WrapError("orders.paymentEvents.set", err)
}
