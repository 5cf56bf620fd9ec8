package domain

import "testing"

func TestTransitionFor(t *testing.T) {
	cases := []struct {
		eventType  PaymentEventType
		actionable bool
		want       PaymentTransition
	}{
		{PaymentEventSucceeded, true, PaymentTransition{Status: OrderStatusProcessing, PaymentStatus: PaymentStatusPaid}},
		{PaymentEventFailed, true, PaymentTransition{Status: OrderStatusPending, PaymentStatus: PaymentStatusFailed}},
		{PaymentEventCanceled, true, PaymentTransition{Status: OrderStatusCancelled, PaymentStatus: PaymentStatusCancelled}},
		{PaymentEventOther, false, PaymentTransition{}},
		{PaymentEventType("charge.refunded"), false, PaymentTransition{}},
	}
	for _, tc := range cases {
		got, ok := TransitionFor(tc.eventType)
		if ok != tc.actionable {
			t.Fatalf("%s: actionable = %t, want %t", tc.eventType, ok, tc.actionable)
		}
		if got != tc.want {
			t.Fatalf("%s: transition = %+v, want %+v", tc.eventType, got, tc.want)
		}
	}
}

func TestCanApplyPayment(t *testing.T) {
	cases := []struct {
		name    string
		current PaymentStatus
		target  PaymentStatus
		want    bool
	}{
		{"pending to paid", PaymentStatusPending, PaymentStatusPaid, true},
		{"pending to failed", PaymentStatusPending, PaymentStatusFailed, true},
		{"failed to paid", PaymentStatusFailed, PaymentStatusPaid, true},
		{"paid to failed", PaymentStatusPaid, PaymentStatusFailed, false},
		{"paid to pending", PaymentStatusPaid, PaymentStatusPending, false},
		{"failed to pending", PaymentStatusFailed, PaymentStatusPending, false},
		{"same status", PaymentStatusPaid, PaymentStatusPaid, true},
		{"pending to cancelled", PaymentStatusPending, PaymentStatusCancelled, true},
		{"paid to cancelled", PaymentStatusPaid, PaymentStatusCancelled, true},
		{"cancelled absorbs paid", PaymentStatusCancelled, PaymentStatusPaid, false},
		{"cancelled absorbs cancelled", PaymentStatusCancelled, PaymentStatusCancelled, false},
		{"unknown target", PaymentStatusPending, PaymentStatus("refunded"), false},
	}
	for _, tc := range cases {
		if got := CanApplyPayment(tc.current, tc.target); got != tc.want {
			t.Fatalf("%s: CanApplyPayment(%s, %s) = %t, want %t", tc.name, tc.current, tc.target, got, tc.want)
		}
	}
}

func TestPaymentStatusRank(t *testing.T) {
	if PaymentStatusRank(PaymentStatusPending) >= PaymentStatusRank(PaymentStatusFailed) {
		t.Fatal("pending must rank below failed")
	}
	if PaymentStatusRank(PaymentStatusFailed) >= PaymentStatusRank(PaymentStatusPaid) {
		t.Fatal("failed must rank below paid")
	}
	if PaymentStatusRank(PaymentStatusCancelled) != -1 {
		t.Fatal("cancelled sits outside the rank order")
	}
}

func TestHasLineItems(t *testing.T) {
	empty := Order{ID: "ord_1"}
	if empty.HasLineItems() {
		t.Fatal("order without items reported line items")
	}

	withItem := Order{ID: "ord_2", Items: []OrderLineItem{{SKU: "ring-solar", Quantity: 1}}}
	if !withItem.HasLineItems() {
		t.Fatal("order with an item reported no line items")
	}
}

func TestNormalizeLocale(t *testing.T) {
	cases := []struct {
		in       string
		fallback string
		want     string
	}{
		{"es-MX", "es-mx", "es-mx"},
		{"  EN_us  ", "es-mx", "en-us"},
		{"", "es-mx", "es-mx"},
		{"fr", "es-mx", "fr"},
	}
	for _, tc := range cases {
		if got := NormalizeLocale(tc.in, tc.fallback); got != tc.want {
			t.Fatalf("NormalizeLocale(%q, %q) = %q, want %q", tc.in, tc.fallback, got, tc.want)
		}
	}
}
