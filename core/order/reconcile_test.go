package order

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const (
	testSecret  = "whsec_test_secret"
	testOrderID = "0b5c6a1e-2f3d-4e5f-8a9b-0c1d2e3f4a5b"
	testUserID  = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
)

// memLedger mirrors the transactional rules of Store.Apply in memory.
type memLedger struct {
	seen        map[string]bool
	orders      map[string]*Order
	transitions int
	rebuilt     []Order
}

func newMemLedger(orders ...Order) *memLedger {
	l := &memLedger{seen: make(map[string]bool), orders: make(map[string]*Order)}
	for i := range orders {
		o := orders[i]
		l.orders[o.ID] = &o
	}
	return l
}

func (l *memLedger) Apply(ctx context.Context, o Outcome) (Result, error) {
	if l.seen[o.EventID] {
		return Duplicate, nil
	}
	l.seen[o.EventID] = true

	var ord *Order
	for _, cand := range l.orders {
		if cand.ID == o.OrderID || cand.SessionID == o.SessionID ||
			(cand.PaymentIntentID != nil && *cand.PaymentIntentID == o.PaymentIntentID) {
			ord = cand
			break
		}
	}

	if ord == nil {
		if o.Status == Paid && o.Rebuild != nil {
			l.rebuilt = append(l.rebuilt, *o.Rebuild)
			return Applied, nil
		}
		return Unchanged, nil
	}

	if ord.Status != Pending {
		if ord.Status == PaymentFailed && o.Status == Paid {
			return Stale, nil
		}
		return Unchanged, nil
	}
	ord.Status = o.Status
	l.transitions++
	return Applied, nil
}

func signedEvent(t *testing.T, id string, typ string, object map[string]any) ([]byte, string) {
	t.Helper()
	return signedEventWith(t, testSecret, id, typ, object)
}

func signedEventWith(t *testing.T, secret, id, typ string, object map[string]any) ([]byte, string) {
	t.Helper()

	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatal(err)
	}

	evt := map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        typ,
		"data":        map[string]json.RawMessage{"object": raw},
	}

	b, err := json.Marshal(evt)
	if err != nil {
		t.Fatal(err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   b,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func completedSession(sessionID string) map[string]any {
	return map[string]any{
		"id":                  sessionID,
		"object":              "checkout.session",
		"mode":                "payment",
		"payment_status":      "paid",
		"client_reference_id": testOrderID,
		"payment_intent":      "pi_123",
	}
}

func pendingOrder() Order {
	return Order{ID: testOrderID, SessionID: "cs_test_1", Status: Pending}
}

func newTestReconciler(l Ledger) *Reconciler {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewReconciler(l, testSecret, log)
}

func TestHandleStripeRejectsBadSignature(t *testing.T) {
	l := newMemLedger(pendingOrder())
	rec := newTestReconciler(l)

	payload, header := signedEvent(t, "evt_1", EventCheckoutCompleted, completedSession("cs_test_1"))

	tests := []struct {
		name    string
		payload []byte
		header  string
	}{
		{"missing header", payload, ""},
		{"wrong signature", payload, "t=123,v1=deadbeef"},
		{"tampered payload", append([]byte(" "), payload...), header},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rec.HandleStripe(context.Background(), tt.payload, tt.header)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}

	if len(l.seen) != 0 || l.orders[testOrderID].Status != Pending {
		t.Fatal("an unverified event changed state")
	}
}

func TestHandleStripeIsIdempotent(t *testing.T) {
	l := newMemLedger(pendingOrder())
	rec := newTestReconciler(l)

	payload, header := signedEvent(t, "evt_1", EventCheckoutCompleted, completedSession("cs_test_1"))

	var got []Result
	for i := 0; i < 2; i++ {
		res, err := rec.HandleStripe(context.Background(), payload, header)
		if err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
		got = append(got, res)
	}

	if diff := cmp.Diff([]Result{Applied, Duplicate}, got); diff != "" {
		t.Fatalf("unexpected results (-want +got):\n%s", diff)
	}
	if l.transitions != 1 || l.orders[testOrderID].Status != Paid {
		t.Fatalf("expected one transition to paid, got %d transitions and status %s",
			l.transitions, l.orders[testOrderID].Status)
	}
}

func TestHandleStripeSecondSuccessEventIsUnchanged(t *testing.T) {
	l := newMemLedger(pendingOrder())
	rec := newTestReconciler(l)

	p1, h1 := signedEvent(t, "evt_1", EventCheckoutCompleted, completedSession("cs_test_1"))
	p2, h2 := signedEvent(t, "evt_2", EventPaymentSucceeded, map[string]any{
		"id":       "pi_123",
		"object":   "payment_intent",
		"metadata": map[string]string{"order_id": testOrderID},
	})

	if res, err := rec.HandleStripe(context.Background(), p1, h1); err != nil || res != Applied {
		t.Fatalf("expected applied, got %v %v", res, err)
	}
	if res, err := rec.HandleStripe(context.Background(), p2, h2); err != nil || res != Unchanged {
		t.Fatalf("expected unchanged, got %v %v", res, err)
	}
	if l.transitions != 1 {
		t.Fatalf("expected a single transition, got %d", l.transitions)
	}
}

func TestHandleStripePaymentFailed(t *testing.T) {
	l := newMemLedger(pendingOrder())
	rec := newTestReconciler(l)

	payload, header := signedEvent(t, "evt_9", EventPaymentFailed, map[string]any{
		"id":       "pi_123",
		"object":   "payment_intent",
		"metadata": map[string]string{"order_id": testOrderID},
	})

	res, err := rec.HandleStripe(context.Background(), payload, header)
	if err != nil {
		t.Fatal(err)
	}
	if res != Applied || l.orders[testOrderID].Status != PaymentFailed {
		t.Fatalf("expected payment_failed, got %v with status %s", res, l.orders[testOrderID].Status)
	}
}

func TestHandleStripeIgnoresUnknownEvents(t *testing.T) {
	l := newMemLedger(pendingOrder())
	rec := newTestReconciler(l)

	payload, header := signedEvent(t, "evt_x", "customer.created", map[string]any{"id": "cus_1", "object": "customer"})

	res, err := rec.HandleStripe(context.Background(), payload, header)
	if err != nil {
		t.Fatal(err)
	}
	if res != Ignored || len(l.seen) != 0 {
		t.Fatalf("expected the event to be ignored, got %v", res)
	}
}

func TestHandleStripeRebuildsMissingOrder(t *testing.T) {
	l := newMemLedger()
	rec := newTestReconciler(l)

	s := completedSession("cs_lost")
	s["metadata"] = map[string]string{
		"order_id":         testOrderID,
		"user_id":          testUserID,
		"customer_name":    "Ada",
		"customer_email":   "ada@example.com",
		"shipping_address": `{"line1":"1 Main St","city":"Springfield","postalCode":"12345","country":"US"}`,
		"currency":         "usd",
		"subtotal":         "3000",
		"shipping":         "500",
		"tax":              "240",
		"total":            "3740",
		"items":            `[{"p":"6c1e5d2a-8b3f-4c7e-a1d2-5f6e7a8b9c01","q":2,"u":1500}]`,
	}

	payload, header := signedEvent(t, "evt_1", EventCheckoutCompleted, s)
	res, err := rec.HandleStripe(context.Background(), payload, header)
	if err != nil {
		t.Fatal(err)
	}
	if res != Applied || len(l.rebuilt) != 1 {
		t.Fatalf("expected the order to be rebuilt, got %v", res)
	}

	ord := l.rebuilt[0]
	if ord.ID != testOrderID || ord.SessionID != "cs_lost" || ord.TotalCents != 3740 {
		t.Fatalf("unexpected rebuilt order: %+v", ord)
	}
	if ord.UserID == nil || *ord.UserID != testUserID {
		t.Fatal("rebuilt order lost its buyer")
	}
	exp := []Item{{ProductID: "6c1e5d2a-8b3f-4c7e-a1d2-5f6e7a8b9c01", Qty: 2, UnitCents: 1500, TotalCents: 3000}}
	if diff := cmp.Diff(exp, ord.Items); diff != "" {
		t.Fatalf("unexpected items (-want +got):\n%s", diff)
	}
}

func TestRebuildNeedsTotals(t *testing.T) {
	md := map[string]string{"order_id": testOrderID, "subtotal": "3000"}
	if ord := rebuild("stripe", "cs_1", md); ord != nil {
		t.Fatalf("expected no order from partial metadata, got %+v", ord)
	}
}

func TestHandleStripeWebhook(t *testing.T) {
	l := newMemLedger(pendingOrder())
	h := HandleStripeWebhook(newTestReconciler(l))

	payload, header := signedEvent(t, "evt_1", EventCheckoutCompleted, completedSession("cs_test_1"))

	r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	r.Header.Set("Stripe-Signature", header)
	w := httptest.NewRecorder()

	if err := h(r.Context(), w, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var ack webhookAck
	if err := json.NewDecoder(w.Body).Decode(&ack); err != nil || !ack.Received {
		t.Fatalf("expected {received:true}, got %+v (%v)", ack, err)
	}

	r = httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	r.Header.Set("Stripe-Signature", "t=1,v1=00")
	err := h(r.Context(), httptest.NewRecorder(), r)

	_, code, ok := weberr.Response(err)
	if !ok || code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad signature, got %d (%v)", code, err)
	}
}

func TestHandleStripeWithoutSecret(t *testing.T) {
	l := newMemLedger(pendingOrder())

	log := logrus.New()
	log.SetOutput(io.Discard)
	rec := NewReconciler(l, "", log)

	// Signed with the same empty key the reconciler would verify against.
	payload, header := signedEventWith(t, "", "evt_1", EventCheckoutCompleted, completedSession("cs_test_1"))

	if _, err := rec.HandleStripe(context.Background(), payload, header); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature without a secret, got %v", err)
	}
	if l.transitions != 0 || len(l.seen) != 0 {
		t.Fatalf("ledger touched without a secret: %d transitions, %d events", l.transitions, len(l.seen))
	}
	if got := l.orders[testOrderID].Status; got != Pending {
		t.Fatalf("order moved to %s", got)
	}
}

func TestSuccessAfterFailureIsFlagged(t *testing.T) {
	failed := pendingOrder()
	failed.Status = PaymentFailed
	l := newMemLedger(failed)

	log, hook := logtest.NewNullLogger()
	rec := NewReconciler(l, testSecret, log)

	payload, header := signedEvent(t, "evt_late", EventCheckoutCompleted, completedSession("cs_test_1"))
	res, err := rec.HandleStripe(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != Stale {
		t.Fatalf("expected %s, got %s", Stale, res)
	}
	if got := l.orders[testOrderID].Status; got != PaymentFailed {
		t.Fatalf("terminal order moved to %s", got)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning for the late success, got %+v", entry)
	}
	if entry.Data["order_id"] != testOrderID {
		t.Fatalf("warning does not name the order: %v", entry.Data)
	}
}

func TestHandleStripeWebhookTooLarge(t *testing.T) {
	l := newMemLedger(pendingOrder())
	h := HandleStripeWebhook(newTestReconciler(l))

	body := bytes.Repeat([]byte("a"), maxWebhookBytes+1)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	r.Header.Set("Stripe-Signature", "t=1,v1=00")

	err := h(r.Context(), httptest.NewRecorder(), r)
	_, code, ok := weberr.Response(err)
	if !ok || code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d (%v)", code, err)
	}
	if len(l.seen) != 0 {
		t.Fatal("oversized delivery reached the ledger")
	}
}
