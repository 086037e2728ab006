package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/irsalhamdi/storefront/api/middleware"
	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/sirupsen/logrus"
)

func quietLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func serve(t *testing.T, h web.Handler, mw ...web.Middleware) *httptest.ResponseRecorder {
	t.Helper()

	h = web.WrapMiddleware(mw, h)
	r := httptest.NewRequest(http.MethodGet, "/cart", nil)
	w := httptest.NewRecorder()
	if err := h(r.Context(), w, r); err != nil {
		t.Fatalf("error escaped the middleware chain: %v", err)
	}
	return w
}

func TestErrors(t *testing.T) {
	log := quietLog()

	tests := []struct {
		name string
		err  error
		code int
		body map[string]string
	}{
		{
			name: "decorated",
			err:  weberr.NotFound(errors.New("cart[1] not found")),
			code: http.StatusNotFound,
			body: map[string]string{"error": "the resource could not be found"},
		},
		{
			name: "unprocessable keeps the message",
			err:  weberr.Unprocessable(errors.New("price unavailable for product 42")),
			code: http.StatusUnprocessableEntity,
			body: map[string]string{"error": "price unavailable for product 42"},
		},
		{
			name: "undecorated",
			err:  errors.New("connection reset"),
			code: http.StatusInternalServerError,
			body: map[string]string{"error": "Internal Server Error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				return tt.err
			}

			w := serve(t, h, middleware.RequestID(), middleware.Errors(log))
			if w.Code != tt.code {
				t.Fatalf("expected status %d, got %d", tt.code, w.Code)
			}
			if w.Code != weberr.Status(tt.err) {
				t.Fatalf("answered %d but the error maps to %d", w.Code, weberr.Status(tt.err))
			}

			var got map[string]string
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.body, got); diff != "" {
				t.Fatalf("unexpected body (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPanicsAnswered(t *testing.T) {
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var quotes map[string]int64
		quotes["tee"] = 1500
		return nil
	}

	w := serve(t, h, middleware.Errors(quietLog()), middleware.Panics())
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after a panic, got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		seen = middleware.ContextRequestID(ctx)
		return nil
	}

	w := serve(t, h, middleware.RequestID())
	if seen == "" {
		t.Fatal("no request id in context")
	}
	if got := w.Header().Get(middleware.RequestIDHeader); got != seen {
		t.Fatalf("echoed %q, handler saw %q", got, seen)
	}
}

func TestWithFieldsMerges(t *testing.T) {
	err := weberr.Wrap(errors.New("boom"),
		weberr.WithFields(map[string]interface{}{"order_id": "o1", "step": "record"}),
		weberr.WithFields(map[string]interface{}{"step": "gateway"}),
	)

	got, ok := weberr.Fields(err)
	if !ok {
		t.Fatal("expected fields")
	}
	exp := map[string]interface{}{"order_id": "o1", "step": "gateway"}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("unexpected fields (-want +got):\n%s", diff)
	}
}
