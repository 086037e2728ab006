package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx/types"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventPaymentSucceeded     = "payment_intent.succeeded"
	EventPaymentFailed        = "payment_intent.payment_failed"
	EventPaypalCaptureSuccess = "paypal.capture.completed"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

// Ledger applies a payment outcome at most once per event id.
type Ledger interface {
	Apply(ctx context.Context, o Outcome) (Result, error)
}

// Reconciler turns signed provider notifications into order status changes.
type Reconciler struct {
	ledger Ledger
	secret string
	log    logrus.FieldLogger
}

func NewReconciler(ledger Ledger, webhookSecret string, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{ledger: ledger, secret: webhookSecret, log: log}
}

// HandleStripe verifies payload against the signature header before
// reading any of it. Event types that carry no payment outcome are
// reported as Ignored so the caller still acknowledges them. Without a
// configured secret every delivery is rejected.
func (r *Reconciler) HandleStripe(ctx context.Context, payload []byte, signature string) (Result, error) {
	if r.secret == "" {
		return 0, fmt.Errorf("%w: no webhook secret configured", ErrInvalidSignature)
	}
	if signature == "" {
		return 0, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEvent(payload, signature, r.secret)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	log := r.log.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	o, ok, err := stripeOutcome(event)
	if err != nil {
		return 0, err
	}
	if !ok {
		log.Info("webhook ignored")
		return Ignored, nil
	}

	res, err := r.ledger.Apply(ctx, o)
	if err != nil {
		return 0, fmt.Errorf("applying event[%s]: %w", event.ID, err)
	}

	logResult(log.WithField("order_id", o.OrderID), res)
	return res, nil
}

func logResult(log logrus.FieldLogger, res Result) {
	log = log.WithField("result", res.String())
	if res == Stale {
		log.Warn("payment succeeded for an order marked payment_failed, order left unchanged")
		return
	}
	log.Info("payment outcome processed")
}

// Apply feeds an outcome that was verified by other means, such as a
// server side capture call.
func (r *Reconciler) Apply(ctx context.Context, o Outcome) (Result, error) {
	res, err := r.ledger.Apply(ctx, o)
	if err != nil {
		return 0, err
	}

	logResult(r.log.WithFields(logrus.Fields{
		"event_id":   o.EventID,
		"event_type": o.EventType,
		"order_id":   o.OrderID,
		"session_id": o.SessionID,
	}), res)
	return res, nil
}

func stripeOutcome(event stripe.Event) (Outcome, bool, error) {
	if event.Data == nil {
		return Outcome{}, false, fmt.Errorf("%w: event[%s] has no data", ErrMalformedEvent, event.ID)
	}

	switch event.Type {
	case EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return Outcome{}, false, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}

		if s.Mode != stripe.CheckoutSessionModePayment {
			return Outcome{}, false, nil
		}

		o := Outcome{
			EventID:   event.ID,
			EventType: EventCheckoutCompleted,
			Status:    Paid,
			OrderID:   s.ClientReferenceID,
			SessionID: s.ID,
			Rebuild:   rebuild("stripe", s.ID, s.Metadata),
		}
		if s.PaymentIntent != nil {
			o.PaymentIntentID = s.PaymentIntent.ID
		}
		return o, true, nil

	case EventPaymentSucceeded, EventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return Outcome{}, false, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}

		o := Outcome{
			EventID:         event.ID,
			EventType:       EventPaymentSucceeded,
			Status:          Paid,
			OrderID:         pi.Metadata["order_id"],
			PaymentIntentID: pi.ID,
		}
		if event.Type == EventPaymentFailed {
			o.EventType = EventPaymentFailed
			o.Status = PaymentFailed
		}
		return o, true, nil
	}

	return Outcome{}, false, nil
}

type metadataItem struct {
	ProductID string `json:"p"`
	Qty       int    `json:"q"`
	UnitCents int64  `json:"u"`
}

// rebuild reconstructs an order from session metadata. It returns nil when
// the metadata cannot describe a whole order.
func rebuild(provider, sessionID string, md map[string]string) *Order {
	id := md["order_id"]
	if !validate.IsID(id) {
		return nil
	}

	amounts := make(map[string]int64, 4)
	for _, k := range []string{"subtotal", "shipping", "tax", "total"} {
		v, err := strconv.ParseInt(md[k], 10, 64)
		if err != nil {
			return nil
		}
		amounts[k] = v
	}

	ord := &Order{
		ID:              id,
		Provider:        provider,
		SessionID:       sessionID,
		CustomerName:    md["customer_name"],
		CustomerEmail:   md["customer_email"],
		CustomerPhone:   md["customer_phone"],
		ShippingAddress: types.JSONText("{}"),
		Currency:        md["currency"],
		SubtotalCents:   amounts["subtotal"],
		ShippingCents:   amounts["shipping"],
		TaxCents:        amounts["tax"],
		TotalCents:      amounts["total"],
		Items:           []Item{},
	}

	if addr := md["shipping_address"]; json.Valid([]byte(addr)) {
		ord.ShippingAddress = types.JSONText(addr)
	}
	if uid := md["user_id"]; validate.IsID(uid) {
		ord.UserID = &uid
	}

	var items []metadataItem
	if err := json.Unmarshal([]byte(md["items"]), &items); err == nil {
		for _, it := range items {
			if !validate.IsID(it.ProductID) {
				continue
			}
			ord.Items = append(ord.Items, Item{
				ProductID:  it.ProductID,
				Qty:        it.Qty,
				UnitCents:  it.UnitCents,
				TotalCents: it.UnitCents * int64(it.Qty),
			})
		}
	}

	return ord
}
