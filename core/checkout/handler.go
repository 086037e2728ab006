package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/irsalhamdi/storefront/core/order"
	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx/types"
	"github.com/sirupsen/logrus"
)

// ItemNew is a line of a checkout request. Prices always come from the
// pricing oracle, never from the client.
type ItemNew struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Qty       int    `json:"qty" validate:"gte=1,lte=10000"`
}

type CheckoutNew struct {
	Items        []ItemNew `json:"items" validate:"omitempty,max=100,dive"`
	CustomerInfo Customer  `json:"customerInfo"`
	Total        *int64    `json:"total,omitempty"`
}

// TotalChanged is returned with 409 when the client saw a different total.
type TotalChanged struct {
	Error    string   `json:"error"`
	Total    int64    `json:"total"`
	Snapshot Snapshot `json:"snapshot"`
}

// Recorder persists the pending order of a started session.
type Recorder interface {
	Record(ctx context.Context, ord order.Order) error
}

type Config struct {
	Log      logrus.FieldLogger
	Carts    cart.Store
	Oracle   product.Quoter
	Gateway  Gateway
	Orders   Recorder
	Policy   Policy
	Provider string
}

// HandleCreateSession prices the request from authoritative data and starts
// a payment session for exactly that snapshot.
func HandleCreateSession(cfg Config) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var in CheckoutNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		lines, err := requestLines(ctx, r, cfg.Carts, in.Items)
		if err != nil {
			if errors.Is(err, cart.ErrInvalidQuantity) {
				return weberr.NewError(err, err.Error(), http.StatusBadRequest)
			}
			return err
		}
		if len(lines) == 0 {
			return weberr.NewError(ErrEmptyCart, ErrEmptyCart.Error(), http.StatusBadRequest)
		}

		ids := make([]string, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.ProductID)
		}

		quotes, err := cfg.Oracle.Quote(ctx, ids)
		if err != nil {
			if errors.Is(err, product.ErrPricingUnavailable) {
				return weberr.Unavailable(err)
			}
			return fmt.Errorf("quoting checkout lines: %w", err)
		}

		snap, err := BuildSnapshot(lines, quotes, cfg.Policy)
		if err != nil {
			var pue *PriceUnavailableError
			if errors.As(err, &pue) {
				return weberr.Unprocessable(err, weberr.WithFields(map[string]interface{}{"product_id": pue.ProductID}))
			}
			switch {
			case errors.Is(err, ErrEmptyCart), errors.Is(err, cart.ErrInvalidQuantity):
				return weberr.NewError(err, err.Error(), http.StatusBadRequest)
			case errors.Is(err, ErrAmountTooLarge):
				return weberr.Unprocessable(err)
			}
			return err
		}

		if in.Total != nil && *in.Total != snap.TotalCents {
			err := fmt.Errorf("client total %d differs from %d", *in.Total, snap.TotalCents)
			return weberr.Conflict(err, TotalChanged{Error: "order total changed", Total: snap.TotalCents, Snapshot: snap})
		}

		req := Request{
			OrderID:  validate.GenerateID(),
			Snapshot: snap,
			Customer: in.CustomerInfo,
		}
		if clm, err := claims.Get(ctx); err == nil {
			req.UserID = clm.UserID
		}

		sess, err := cfg.Gateway.CreateSession(ctx, req)
		if err != nil {
			if errors.Is(err, ErrGatewayUnavailable) {
				return weberr.BadGateway(err)
			}
			return fmt.Errorf("creating payment session: %w", err)
		}

		if sess.Provider == "" {
			sess.Provider = cfg.Provider
		}

		// The session exists at the provider now. A failed insert is left to
		// the payment notification, which rebuilds the order from metadata.
		if err := cfg.Orders.Record(ctx, pendingOrder(req, sess)); err != nil {
			cfg.Log.WithFields(logrus.Fields{
				"order_id":   req.OrderID,
				"session_id": sess.ID,
				"message":    err,
			}).Error("recording pending order")
		}

		return web.Respond(ctx, w, sess, http.StatusOK)
	}
}

// requestLines folds repeated products together. Without explicit items
// the caller's server side cart is used. A folded quantity above
// cart.MaxQty fails with cart.ErrInvalidQuantity.
func requestLines(ctx context.Context, r *http.Request, carts cart.Store, items []ItemNew) ([]Line, error) {
	var lines []Line
	index := make(map[string]int)

	add := func(productID string, qty int) error {
		i, ok := index[productID]
		if !ok {
			i = len(lines)
			index[productID] = i
			lines = append(lines, Line{ProductID: productID})
		}
		if !cart.ValidQty(qty) || qty > cart.MaxQty-lines[i].Qty {
			return fmt.Errorf("product %s: %w", productID, cart.ErrInvalidQuantity)
		}
		lines[i].Qty += qty
		return nil
	}

	if len(items) > 0 {
		for _, it := range items {
			if err := add(it.ProductID, it.Qty); err != nil {
				return nil, err
			}
		}
		return lines, nil
	}

	c, err := carts.Get(ctx, cart.IdentityFrom(ctx, r))
	if err != nil {
		return nil, fmt.Errorf("reading cart: %w", err)
	}
	for _, l := range c.Lines {
		if err := add(l.ProductID, l.Qty); err != nil {
			return nil, err
		}
	}
	return lines, nil
}

func pendingOrder(req Request, sess Session) order.Order {
	now := time.Now().UTC()
	snap, c := req.Snapshot, req.Customer

	addr, _ := json.Marshal(c.Address)

	ord := order.Order{
		ID:              req.OrderID,
		Provider:        sess.Provider,
		SessionID:       sess.ID,
		CustomerName:    c.Name,
		CustomerEmail:   c.Email,
		CustomerPhone:   c.Phone,
		ShippingAddress: types.JSONText(addr),
		Currency:        snap.Currency,
		SubtotalCents:   snap.SubtotalCents,
		ShippingCents:   snap.ShippingCents,
		TaxCents:        snap.TaxCents,
		TotalCents:      snap.TotalCents,
		Status:          order.Pending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items:           make([]order.Item, 0, len(snap.Lines)),
	}
	if req.UserID != "" {
		uid := req.UserID
		ord.UserID = &uid
	}

	for _, l := range snap.Lines {
		ord.Items = append(ord.Items, order.Item{
			ProductID:  l.ProductID,
			Title:      l.Title,
			Qty:        l.Qty,
			UnitCents:  l.UnitCents,
			TotalCents: l.TotalCents,
		})
	}
	return ord
}
