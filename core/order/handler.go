package order

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/plutov/paypal/v4"
)

// Larger deliveries are answered 413.
const maxWebhookBytes = 1 << 20

type webhookAck struct {
	Received bool `json:"received"`
}

// HandleStripeWebhook acknowledges every verified event with 200, including
// duplicates and event types it does not act on, so the provider stops
// redelivering them.
func HandleStripeWebhook(rec *Reconciler) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return weberr.NewError(err, "payload too large", http.StatusRequestEntityTooLarge)
			}
			return weberr.BadRequest(fmt.Errorf("cannot read the request body: %w", err))
		}

		_, err = rec.HandleStripe(ctx, b, r.Header.Get("Stripe-Signature"))
		if err != nil {
			switch {
			case errors.Is(err, ErrInvalidSignature):
				return weberr.NewError(err, "invalid signature", http.StatusBadRequest)
			case errors.Is(err, ErrMalformedEvent):
				return weberr.BadRequest(err)
			}
			return fmt.Errorf("reconciling stripe event: %w", err)
		}

		return web.Respond(ctx, w, webhookAck{Received: true}, http.StatusOK)
	}
}

// HandlePaypalCapture captures an approved PayPal order and marks the
// matching order paid.
func HandlePaypalCapture(rec *Reconciler, pp *paypal.Client) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		providerID := web.Param(r, "id")

		resp, err := pp.CaptureOrder(ctx, providerID, paypal.CaptureOrderRequest{})
		if err != nil {
			return fmt.Errorf("capturing paypal order[%s]: %w", providerID, err)
		}

		if resp.Status != "COMPLETED" {
			return fmt.Errorf("captured order[%s] with status[%s] different from 'COMPLETED'", providerID, resp.Status)
		}

		o := Outcome{
			EventID:   "paypal:" + providerID + ":capture",
			EventType: EventPaypalCaptureSuccess,
			Status:    Paid,
			SessionID: providerID,
		}
		if _, err := rec.Apply(ctx, o); err != nil {
			return fmt.Errorf("the order was payed but its reconciliation failed: %w", err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func HandleShowBySession(store *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			err := errors.New("session_id is required")
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		ord, err := store.FetchBySession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err, weberr.WithFields(map[string]interface{}{"session_id": sessionID}))
			}
			return fmt.Errorf("fetching order of session[%s]: %w", sessionID, err)
		}

		return web.Respond(ctx, w, ord, http.StatusOK)
	}
}

func HandleListOwned(store *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		orders, err := store.ListByUser(ctx, clm.UserID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, orders, http.StatusOK)
	}
}

func HandleShow(store *Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")

		ord, err := store.Fetch(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching order[%s]: %w", id, err)
		}

		owner := ""
		if ord.UserID != nil {
			owner = *ord.UserID
		}
		if !claims.CanAccess(ctx, owner) {
			return weberr.NotFound(fmt.Errorf("order[%s] not visible to caller", id))
		}

		return web.Respond(ctx, w, ord, http.StatusOK)
	}
}
