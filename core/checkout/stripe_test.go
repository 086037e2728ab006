package checkout

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	mock "github.com/stripe/stripe-mock/param"
)

func testRequest() Request {
	return Request{
		OrderID: "0b5c6a1e-2f3d-4e5f-8a9b-0c1d2e3f4a5b",
		Snapshot: Snapshot{
			Currency: "usd",
			Lines: []SnapshotLine{
				{ProductID: teeID, Title: "Classic Tee", Image: "https://cdn.example.com/tee.png", Qty: 1, UnitCents: 1500, TotalCents: 1500},
				{ProductID: hoodieID, Title: "Sticker", Image: "http://cdn.example.com/sticker.png", Qty: 3, UnitCents: 500, TotalCents: 1500},
			},
			SubtotalCents: 3000,
			ShippingCents: 500,
			TaxCents:      240,
			TotalCents:    3740,
		},
		Customer: Customer{
			Name:    "Ada Lovelace",
			Email:   "ada@example.com",
			Address: Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		},
	}
}

func TestStripeParamsMatchSnapshot(t *testing.T) {
	g := NewStripeGateway(nil, StripeConfig{
		SuccessURL:       "https://shop.example.com/success",
		CancelURL:        "https://shop.example.com/cart",
		AllowedCountries: []string{"US", "CA"},
	})

	req := testRequest()
	p := g.params(req)

	var names []string
	var sum int64
	for _, li := range p.LineItems {
		names = append(names, *li.PriceData.ProductData.Name)
		sum += *li.Quantity * *li.PriceData.UnitAmount
	}

	exp := []string{"Classic Tee", "Sticker", "Shipping", "Tax"}
	if len(names) != len(exp) {
		t.Fatalf("expected line items %v, got %v", exp, names)
	}
	for i := range exp {
		if names[i] != exp[i] {
			t.Fatalf("expected line items %v, got %v", exp, names)
		}
	}

	if sum != req.Snapshot.TotalCents {
		t.Fatalf("line items add up to %d, expected %d", sum, req.Snapshot.TotalCents)
	}

	if imgs := p.LineItems[0].PriceData.ProductData.Images; len(imgs) != 1 {
		t.Fatalf("expected the https image to be kept, got %d", len(imgs))
	}
	if imgs := p.LineItems[1].PriceData.ProductData.Images; len(imgs) != 0 {
		t.Fatalf("expected the plain http image to be dropped, got %d", len(imgs))
	}

	if *p.ClientReferenceID != req.OrderID {
		t.Fatalf("expected client reference %s, got %s", req.OrderID, *p.ClientReferenceID)
	}
	if p.Metadata["order_id"] != req.OrderID || p.PaymentIntentData.Metadata["total"] != "3740" {
		t.Fatal("order metadata missing from the session or the payment intent")
	}
	if *p.CustomerEmail != "ada@example.com" {
		t.Fatalf("unexpected customer email %s", *p.CustomerEmail)
	}
}

func TestStripeParamsWithoutSurcharges(t *testing.T) {
	g := NewStripeGateway(nil, StripeConfig{})

	req := testRequest()
	req.Snapshot.ShippingCents = 0
	req.Snapshot.TaxCents = 0
	req.Snapshot.TotalCents = 3000

	p := g.params(req)
	if len(p.LineItems) != 2 {
		t.Fatalf("expected only product lines, got %d", len(p.LineItems))
	}
	if p.ShippingAddressCollection != nil {
		t.Fatal("expected no shipping countries")
	}
}

// lineItems accepts both shapes stripe-mock may give an indexed form array.
func lineItems(v any) []map[string]any {
	var out []map[string]any
	switch lines := v.(type) {
	case []any:
		for _, li := range lines {
			out = append(out, li.(map[string]any))
		}
	case map[string]any:
		keys := make([]string, 0, len(lines))
		for k := range lines {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, _ := strconv.Atoi(keys[i])
			b, _ := strconv.Atoi(keys[j])
			return a < b
		})
		for _, k := range keys {
			out = append(out, lines[k].(map[string]any))
		}
	}
	return out
}

func stripeAPI(url string) *stripecl.API {
	b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(url),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})

	api := &stripecl.API{}
	api.Init("sk_test_123", &stripe.Backends{API: b, Connect: b, Uploads: b})
	return api
}

func TestStripeCreateSession(t *testing.T) {
	var total int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			http.NotFound(w, r)
			return
		}

		params, err := mock.ParseParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		for _, it := range lineItems(params["line_items"]) {
			qty, _ := strconv.ParseInt(it["quantity"].(string), 10, 64)
			pd := it["price_data"].(map[string]any)
			unit, _ := strconv.ParseInt(pd["unit_amount"].(string), 10, 64)
			total += qty * unit
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`)
	}))
	defer srv.Close()

	g := NewStripeGateway(stripeAPI(srv.URL), StripeConfig{SuccessURL: "https://a", CancelURL: "https://b"})

	sess, err := g.CreateSession(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sess.ID != "cs_test_1" || sess.URL != "https://checkout.stripe.com/c/pay/cs_test_1" || sess.Provider != ProviderStripe {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if total != 3740 {
		t.Fatalf("provider was asked to charge %d, expected 3740", total)
	}
}

func TestStripeCreateSessionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"type":"api_error","message":"boom"}}`)
	}))
	defer srv.Close()

	g := NewStripeGateway(stripeAPI(srv.URL), StripeConfig{})

	_, err := g.CreateSession(context.Background(), testRequest())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

// =============================================================================

type flakyGateway struct {
	calls int
	err   error
	sess  Session
	block bool
}

func (g *flakyGateway) CreateSession(ctx context.Context, req Request) (Session, error) {
	g.calls++
	if g.block {
		<-ctx.Done()
		return Session{}, ctx.Err()
	}
	return g.sess, g.err
}

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	gw := &flakyGateway{err: errors.New("connection refused")}
	b := NewBreaker(gw, time.Second, quietLog())

	for i := 0; i < 7; i++ {
		if _, err := b.CreateSession(context.Background(), testRequest()); !errors.Is(err, ErrGatewayUnavailable) {
			t.Fatalf("call %d: expected ErrGatewayUnavailable, got %v", i, err)
		}
	}

	if gw.calls != 5 {
		t.Fatalf("expected the breaker to stop calling after 5 failures, got %d calls", gw.calls)
	}
}

func TestBreakerRejectsEmptySession(t *testing.T) {
	gw := &flakyGateway{sess: Session{ID: "cs_1"}}
	b := NewBreaker(gw, time.Second, quietLog())

	if _, err := b.CreateSession(context.Background(), testRequest()); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected a session without url to be rejected, got %v", err)
	}
}

func TestBreakerTimeout(t *testing.T) {
	gw := &flakyGateway{block: true}
	b := NewBreaker(gw, 20*time.Millisecond, quietLog())

	start := time.Now()
	_, err := b.CreateSession(context.Background(), testRequest())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("gateway call was not bounded by the timeout")
	}
}

func TestDecimalCents(t *testing.T) {
	tests := map[int64]string{
		0:    "0.00",
		5:    "0.05",
		3740: "37.40",
		6480: "64.80",
	}

	for cents, exp := range tests {
		if got := decimalCents(cents); got != exp {
			t.Errorf("decimalCents(%d) = %s, expected %s", cents, got, exp)
		}
	}
}
