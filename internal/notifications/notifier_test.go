package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/atelier-aurea/api/internal/domain"
)

type stubMailPublisher struct {
	messages []Message
	failKind TemplateKind
	err      error
}

func (s *stubMailPublisher) PublishMail(_ context.Context, message Message) (string, error) {
	if s.err != nil && (s.failKind == "" || s.failKind == message.Kind) {
		return "", s.err
	}
	s.messages = append(s.messages, message)
	return "msg-" + message.DispatchID, nil
}

func plainFormatter(amountMinor int64, currencyCode, _ string) (string, error) {
	return fmt.Sprintf("%.2f %s", float64(amountMinor)/100, strings.ToUpper(currencyCode)), nil
}

func testOrder() domain.Order {
	return domain.Order{
		ID:            "ord_1",
		OrderNumber:   "AA-1042",
		CustomerEmail: "cliente@example.com",
		CustomerName:  "María García",
		Locale:        "es-MX",
		Currency:      "MXN",
		Total:         580760,
		Status:        domain.OrderStatusProcessing,
		PaymentStatus: domain.PaymentStatusPaid,
	}
}

func newTestNotifier(t *testing.T, publisher MailPublisher) *MailNotifier {
	t.Helper()
	notifier, err := NewMailNotifier(MailNotifierDeps{
		Publisher:     publisher,
		FormatAmount:  plainFormatter,
		AdminEmail:    "taller@atelier-aurea.mx",
		DefaultLocale: "es-mx",
		Clock:         func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewMailNotifier returned error: %v", err)
	}
	return notifier
}

func TestOrderPaidDispatchesBothTemplates(t *testing.T) {
	publisher := &stubMailPublisher{}
	notifier := newTestNotifier(t, publisher)

	if err := notifier.OrderPaid(context.Background(), testOrder()); err != nil {
		t.Fatalf("OrderPaid returned error: %v", err)
	}
	if len(publisher.messages) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(publisher.messages))
	}

	byKind := map[TemplateKind]Message{}
	for _, msg := range publisher.messages {
		byKind[msg.Kind] = msg
	}

	confirmation, ok := byKind[TemplateOrderConfirmation]
	if !ok {
		t.Fatal("missing order confirmation dispatch")
	}
	if confirmation.To != "cliente@example.com" {
		t.Fatalf("unexpected confirmation recipient: %s", confirmation.To)
	}
	if !strings.Contains(confirmation.Subject, "AA-1042") {
		t.Fatalf("confirmation subject missing order number: %s", confirmation.Subject)
	}
	if !strings.Contains(confirmation.HTMLBody, "5807.60 MXN") {
		t.Fatalf("confirmation body missing formatted total: %s", confirmation.HTMLBody)
	}
	if confirmation.DispatchID == "" {
		t.Fatal("confirmation dispatch id is empty")
	}

	adminAlert, ok := byKind[TemplateAdminOrderPaid]
	if !ok {
		t.Fatal("missing admin dispatch")
	}
	if adminAlert.To != "taller@atelier-aurea.mx" {
		t.Fatalf("unexpected admin recipient: %s", adminAlert.To)
	}
	if adminAlert.DispatchID == confirmation.DispatchID {
		t.Fatal("dispatch ids must be unique per message")
	}
}

func TestOrderPaidSkipsCustomerWithoutEmail(t *testing.T) {
	publisher := &stubMailPublisher{}
	notifier := newTestNotifier(t, publisher)

	order := testOrder()
	order.CustomerEmail = ""

	if err := notifier.OrderPaid(context.Background(), order); err != nil {
		t.Fatalf("OrderPaid returned error: %v", err)
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("expected only admin dispatch, got %d messages", len(publisher.messages))
	}
	if publisher.messages[0].Kind != TemplateAdminOrderPaid {
		t.Fatalf("unexpected dispatch kind: %s", publisher.messages[0].Kind)
	}
}

func TestOrderPaidPublishFailureDoesNotBlockOtherDispatch(t *testing.T) {
	publisher := &stubMailPublisher{
		failKind: TemplateOrderConfirmation,
		err:      errors.New("broker unavailable"),
	}
	notifier := newTestNotifier(t, publisher)

	err := notifier.OrderPaid(context.Background(), testOrder())
	if err == nil {
		t.Fatal("expected error for failed confirmation dispatch")
	}
	if len(publisher.messages) != 1 {
		t.Fatalf("admin dispatch should still go out, got %d messages", len(publisher.messages))
	}
	if publisher.messages[0].Kind != TemplateAdminOrderPaid {
		t.Fatalf("unexpected surviving dispatch: %s", publisher.messages[0].Kind)
	}
}

func TestOrderPaidSanitisesCustomerName(t *testing.T) {
	publisher := &stubMailPublisher{}
	notifier := newTestNotifier(t, publisher)

	order := testOrder()
	order.CustomerName = `<script>alert("x")</script>María`

	if err := notifier.OrderPaid(context.Background(), order); err != nil {
		t.Fatalf("OrderPaid returned error: %v", err)
	}
	for _, msg := range publisher.messages {
		if strings.Contains(msg.HTMLBody, "<script>") {
			t.Fatalf("script tag leaked into %s body", msg.Kind)
		}
		if !strings.Contains(msg.HTMLBody, "María") {
			t.Fatalf("customer name stripped entirely from %s body", msg.Kind)
		}
	}
}

func TestOrderPaidFallsBackToEnglishTemplates(t *testing.T) {
	publisher := &stubMailPublisher{}
	notifier := newTestNotifier(t, publisher)

	order := testOrder()
	order.Locale = "en-US"

	if err := notifier.OrderPaid(context.Background(), order); err != nil {
		t.Fatalf("OrderPaid returned error: %v", err)
	}
	for _, msg := range publisher.messages {
		if msg.Kind != TemplateOrderConfirmation {
			continue
		}
		if !strings.Contains(msg.Subject, "Thank you") {
			t.Fatalf("expected English confirmation subject, got %s", msg.Subject)
		}
	}
}
