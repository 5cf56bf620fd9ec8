package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atelier-aurea/api/internal/domain"
)

// Notifier dispatches settlement notifications. Implementations are
// best-effort: callers treat failures as logged events, never as reasons to
// rewind a committed transition.
type Notifier interface {
	OrderPaid(ctx context.Context, order domain.Order) error
}

// MailPublisher hands a rendered message to the delivery channel.
type MailPublisher interface {
	PublishMail(ctx context.Context, message Message) (string, error)
}

// AmountFormatter renders a minor-unit amount for display in the given locale.
type AmountFormatter func(amountMinor int64, currencyCode, locale string) (string, error)

// MailNotifierDeps lists the collaborators required by NewMailNotifier.
type MailNotifierDeps struct {
	Publisher     MailPublisher
	FormatAmount  AmountFormatter
	AdminEmail    string
	DefaultLocale string
	Logger        func(ctx context.Context, event string, fields map[string]any)
	Clock         func() time.Time
}

// MailNotifier renders the customer and staff mails for a settled order and
// publishes them. The two dispatches are independent so one failing template
// or publish never suppresses the other.
type MailNotifier struct {
	publisher     MailPublisher
	formatAmount  AmountFormatter
	adminEmail    string
	defaultLocale string
	logger        func(ctx context.Context, event string, fields map[string]any)
	clock         func() time.Time
}

// NewMailNotifier validates dependencies and builds a MailNotifier.
func NewMailNotifier(deps MailNotifierDeps) (*MailNotifier, error) {
	if deps.Publisher == nil {
		return nil, errors.New("mail notifier requires publisher")
	}
	if deps.FormatAmount == nil {
		return nil, errors.New("mail notifier requires amount formatter")
	}
	if strings.TrimSpace(deps.AdminEmail) == "" {
		return nil, errors.New("mail notifier requires admin email")
	}

	locale := strings.TrimSpace(deps.DefaultLocale)
	if locale == "" {
		locale = "es-mx"
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &MailNotifier{
		publisher:     deps.Publisher,
		formatAmount:  deps.FormatAmount,
		adminEmail:    strings.TrimSpace(deps.AdminEmail),
		defaultLocale: locale,
		logger:        logger,
		clock:         func() time.Time { return clock().UTC() },
	}, nil
}

// OrderPaid dispatches the order confirmation to the customer and the paid
// alert to staff. Both are attempted; the joined error reports whichever
// dispatches failed.
func (n *MailNotifier) OrderPaid(ctx context.Context, order domain.Order) error {
	if n == nil || n.publisher == nil {
		return errors.New("mail notifier not initialised")
	}

	locale := domain.NormalizeLocale(order.Locale, n.defaultLocale)
	formattedTotal, err := n.formatAmount(order.Total, order.Currency, locale)
	if err != nil {
		formattedTotal = fmt.Sprintf("%.2f %s", float64(order.Total)/100, strings.ToUpper(order.Currency))
		n.logger(ctx, "notifications.format_amount_failed", map[string]any{
			"order_id": order.ID,
			"error":    err.Error(),
		})
	}

	data := templateData{
		CustomerName:   order.CustomerName,
		OrderNumber:    order.OrderNumber,
		FormattedTotal: formattedTotal,
	}

	var errs []error
	if strings.TrimSpace(order.CustomerEmail) == "" {
		n.logger(ctx, "notifications.customer_email_missing", map[string]any{"order_id": order.ID})
	} else if err := n.dispatch(ctx, TemplateOrderConfirmation, order, order.CustomerEmail, locale, data); err != nil {
		errs = append(errs, err)
	}

	// Staff mail always uses the default storefront locale.
	if err := n.dispatch(ctx, TemplateAdminOrderPaid, order, n.adminEmail, n.defaultLocale, data); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (n *MailNotifier) dispatch(ctx context.Context, kind TemplateKind, order domain.Order, to, locale string, data templateData) error {
	subject, body, err := renderTemplate(kind, locale, data)
	if err != nil {
		return err
	}

	message := Message{
		DispatchID: ulid.MustNew(ulid.Timestamp(n.clock()), ulid.DefaultEntropy()).String(),
		Kind:       kind,
		To:         to,
		Locale:     locale,
		Subject:    subject,
		HTMLBody:   body,
		OrderID:    order.ID,
		Attributes: map[string]string{
			"orderNumber": order.OrderNumber,
		},
	}

	messageID, err := n.publisher.PublishMail(ctx, message)
	if err != nil {
		return fmt.Errorf("notifications: dispatch %s for order %s: %w", kind, order.ID, err)
	}

	n.logger(ctx, "notifications.dispatched", map[string]any{
		"order_id":    order.ID,
		"kind":        string(kind),
		"dispatch_id": message.DispatchID,
		"message_id":  messageID,
	})
	return nil
}
