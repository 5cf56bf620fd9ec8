package domain

import (
	"strings"
	"time"
)

// OrderStatus tracks the fulfilment side of an order's lifecycle.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus tracks the settlement side of an order's lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// PaymentEventType classifies gateway notifications after normalisation.
type PaymentEventType string

const (
	PaymentEventSucceeded PaymentEventType = "succeeded"
	PaymentEventFailed    PaymentEventType = "failed"
	PaymentEventCanceled  PaymentEventType = "canceled"
	// PaymentEventOther covers event types the gateway may add in the future.
	// They are accepted but produce no transition.
	PaymentEventOther PaymentEventType = "other"
)

// PaymentEvent is a verified, normalised gateway notification. Delivery is
// at-least-once and ordering between events for the same reference is not
// guaranteed.
type PaymentEvent struct {
	ID               string
	Type             PaymentEventType
	PaymentReference string
	Locale           string
	ReceivedAt       time.Time
}

// OrderLineItem is a snapshot of a purchased piece at order time.
type OrderLineItem struct {
	SKU       string         `firestore:"sku"`
	Name      string         `firestore:"name"`
	Quantity  int            `firestore:"quantity"`
	UnitPrice int64          `firestore:"unitPrice"`
	Currency  string         `firestore:"currency"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
}

// Order is the settlement-relevant view of a storefront order.
type Order struct {
	ID               string          `firestore:"-"`
	OrderNumber      string          `firestore:"orderNumber"`
	CustomerEmail    string          `firestore:"customerEmail"`
	CustomerName     string          `firestore:"customerName"`
	Locale           string          `firestore:"locale,omitempty"`
	Currency         string          `firestore:"currency"`
	Total            int64           `firestore:"total"`
	Status           OrderStatus     `firestore:"status"`
	PaymentStatus    PaymentStatus   `firestore:"paymentStatus"`
	PaymentReference string          `firestore:"paymentReference"`
	Items            []OrderLineItem `firestore:"items"`
	CreatedAt        time.Time       `firestore:"createdAt"`
	UpdatedAt        time.Time       `firestore:"updatedAt"`
	PaidAt           *time.Time      `firestore:"paidAt,omitempty"`
	CancelledAt      *time.Time      `firestore:"cancelledAt,omitempty"`
}

// HasLineItems reports whether the order carries at least one line item.
// Orders without items must never advance past pending.
func (o Order) HasLineItems() bool {
	return len(o.Items) > 0
}

// IsTerminal reports whether no further payment transitions are possible.
func (o Order) IsTerminal() bool {
	return o.PaymentStatus == PaymentStatusCancelled
}

// paymentStatusRank encodes the forward-progress total order used to guard
// against out-of-order and duplicate gateway deliveries: pending < failed < paid.
// cancelled is absorbing and handled separately.
var paymentStatusRank = map[PaymentStatus]int{
	PaymentStatusPending: 0,
	PaymentStatusFailed:  1,
	PaymentStatusPaid:    2,
}

// PaymentStatusRank returns the forward-progress rank for the status, or -1
// for statuses outside the total order (cancelled).
func PaymentStatusRank(status PaymentStatus) int {
	rank, ok := paymentStatusRank[status]
	if !ok {
		return -1
	}
	return rank
}

// PaymentTransition describes the target state pair for a gateway event.
type PaymentTransition struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
}

var paymentEventTransitions = map[PaymentEventType]PaymentTransition{
	PaymentEventSucceeded: {Status: OrderStatusProcessing, PaymentStatus: PaymentStatusPaid},
	PaymentEventFailed:    {Status: OrderStatusPending, PaymentStatus: PaymentStatusFailed},
	PaymentEventCanceled:  {Status: OrderStatusCancelled, PaymentStatus: PaymentStatusCancelled},
}

// TransitionFor resolves the transition table entry for the event type.
// The second result is false for unrecognised or informational events.
func TransitionFor(eventType PaymentEventType) (PaymentTransition, bool) {
	transition, ok := paymentEventTransitions[eventType]
	return transition, ok
}

// CanApplyPayment reports whether moving from the current payment status to
// target represents equal-or-forward progress. cancelled is reachable from any
// non-terminal state and never exited; once paid, failed/pending regressions
// are rejected.
func CanApplyPayment(current, target PaymentStatus) bool {
	if current == PaymentStatusCancelled {
		return false
	}
	if target == PaymentStatusCancelled {
		return true
	}
	currentRank := PaymentStatusRank(current)
	targetRank := PaymentStatusRank(target)
	if currentRank < 0 || targetRank < 0 {
		return false
	}
	return targetRank >= currentRank
}

// NormalizeLocale trims and lowers a locale hint, returning fallback when empty.
func NormalizeLocale(locale, fallback string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		return fallback
	}
	return strings.ReplaceAll(locale, "_", "-")
}
