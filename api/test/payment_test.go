package test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/irsalhamdi/storefront/api/web"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	mock "github.com/stripe/stripe-mock/param"
)

type stripeSession struct {
	ID                string
	ClientReferenceID string
	Total             int64
	Lines             int
	Metadata          map[string]string
}

// mockStripe answers checkout session creation the way the Stripe API does
// and remembers every session it handed out.
type mockStripe struct {
	mu       sync.Mutex
	sessions []stripeSession
}

func (m *mockStripe) last() stripeSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return stripeSession{}
	}
	return m.sessions[len(m.sessions)-1]
}

func (m *mockStripe) handle() http.Handler {
	checkout := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := mock.ParseParams(r)
		if err != nil {
			web.Respond(context.Background(), w, nil, 400)
			return
		}

		var s stripeSession
		for _, it := range lineItems(params["line_items"]) {
			pd, ok := it["price_data"].(map[string]any)
			if !ok {
				web.Respond(context.Background(), w, nil, 400)
				return
			}

			qty, err := strconv.ParseInt(fmt.Sprint(it["quantity"]), 10, 64)
			if err != nil {
				web.Respond(context.Background(), w, err, 400)
				return
			}
			unit, err := strconv.ParseInt(fmt.Sprint(pd["unit_amount"]), 10, 64)
			if err != nil {
				web.Respond(context.Background(), w, err, 400)
				return
			}

			s.Total += qty * unit
			s.Lines++
		}

		s.ClientReferenceID = fmt.Sprint(params["client_reference_id"])
		s.Metadata = map[string]string{}
		if md, ok := params["metadata"].(map[string]any); ok {
			for k, v := range md {
				s.Metadata[k] = fmt.Sprint(v)
			}
		}

		m.mu.Lock()
		s.ID = fmt.Sprintf("cs_test_%d", len(m.sessions)+1)
		m.sessions = append(m.sessions, s)
		m.mu.Unlock()

		ord := map[string]any{
			"id":     s.ID,
			"object": "checkout.session",
			"url":    "https://checkout.stripe.com/c/pay/" + s.ID,
		}
		web.Respond(context.Background(), w, ord, 200)
	})

	r := mux.NewRouter()
	r.Handle("/v1/checkout/sessions", checkout).Methods("POST")
	return r
}

func lineItems(v any) []map[string]any {
	var out []map[string]any
	switch lines := v.(type) {
	case []any:
		for _, li := range lines {
			if it, ok := li.(map[string]any); ok {
				out = append(out, it)
			}
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
			if it, ok := lines[k].(map[string]any); ok {
				out = append(out, it)
			}
		}
	}
	return out
}

// signedEvent builds a webhook delivery the way Stripe signs it.
func signedEvent(t *testing.T, secret, id, typ string, object map[string]any) ([]byte, string) {
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
