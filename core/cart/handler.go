package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/validate"
)

type ViewLine struct {
	ID             string `json:"id"`
	ProductID      string `json:"productId"`
	Qty            int    `json:"qty"`
	Title          string `json:"title,omitempty"`
	Image          string `json:"image,omitempty"`
	PriceCents     *int64 `json:"priceCents"`
	LineTotalCents *int64 `json:"lineTotalCents"`
}

// View is a cart priced at read time. Lines whose product can no longer be
// bought carry no price and are listed in Unavailable.
type View struct {
	ID            string     `json:"id,omitempty"`
	Lines         []ViewLine `json:"lines"`
	SubtotalCents int64      `json:"subtotalCents"`
	Unavailable   []string   `json:"unavailable"`
}

type MutationResponse struct {
	Success bool   `json:"success"`
	CartID  string `json:"cartId,omitempty"`
	Cart    Cart   `json:"cart"`
}

type MergeResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	MergedCartID string `json:"mergedCartId,omitempty"`
}

func HandleShow(store Store, oracle product.Quoter) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		c, err := store.Get(ctx, IdentityFrom(ctx, r))
		if err != nil {
			return toWebErr(err)
		}

		quotes, err := oracle.Quote(ctx, c.ProductIDs())
		if err != nil {
			if errors.Is(err, product.ErrPricingUnavailable) {
				return weberr.Unavailable(err)
			}
			return err
		}

		return web.Respond(ctx, w, price(c, quotes), http.StatusOK)
	}
}

func price(c Cart, quotes map[string]product.Quote) View {
	v := View{ID: c.ID, Lines: make([]ViewLine, 0, len(c.Lines)), Unavailable: []string{}}
	for _, l := range c.Lines {
		vl := ViewLine{ID: l.ID, ProductID: l.ProductID, Qty: l.Qty}
		if q, ok := quotes[l.ProductID]; ok {
			unit := q.PriceCents
			total := unit * int64(l.Qty)
			vl.Title = q.Title
			vl.Image = q.Image
			vl.PriceCents = &unit
			vl.LineTotalCents = &total
			v.SubtotalCents += total
		} else {
			v.Unavailable = append(v.Unavailable, l.ProductID)
		}
		v.Lines = append(v.Lines, vl)
	}
	return v
}

func HandleAdd(store Store, cookies Cookies) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var ln LineNew
		if err := web.Decode(w, r, &ln); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(ln); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		id := IdentityFrom(ctx, r)
		c, err := store.AddLine(ctx, id, ln.ProductID, ln.Qty)
		if err != nil {
			return toWebErr(err)
		}

		if id.Kind == Anonymous {
			if tok := c.AnonymousToken(); tok != "" && tok != id.Token {
				cookies.Set(w, tok)
			}
		}

		return web.Respond(ctx, w, MutationResponse{Success: true, CartID: c.ID, Cart: c}, http.StatusOK)
	}
}

func HandleUpdate(store Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var up LineUp
		if err := web.Decode(w, r, &up); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(up); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		c, err := store.SetLineQty(ctx, IdentityFrom(ctx, r), up.ItemID, up.Qty)
		if err != nil {
			return toWebErr(err)
		}

		return web.Respond(ctx, w, MutationResponse{Success: true, CartID: c.ID, Cart: c}, http.StatusOK)
	}
}

func HandleRemove(store Store) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var ref LineRef
		if err := web.Decode(w, r, &ref); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(ref); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		c, err := store.RemoveLine(ctx, IdentityFrom(ctx, r), ref.ItemID)
		if err != nil {
			return toWebErr(err)
		}

		return web.Respond(ctx, w, MutationResponse{Success: true, CartID: c.ID, Cart: c}, http.StatusOK)
	}
}

func HandleClear(store Store, cookies Cookies) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := IdentityFrom(ctx, r)
		if err := store.Clear(ctx, id); err != nil {
			return toWebErr(err)
		}

		if id.Kind == Anonymous && id.Token != "" {
			cookies.Clear(w)
		}

		return web.Respond(ctx, w, struct {
			Success bool `json:"success"`
		}{true}, http.StatusOK)
	}
}

func HandleMerge(merger Merger, cookies Cookies) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		token := Token(r)
		res, err := merger.Merge(ctx, token, clm.UserID)
		if err != nil {
			return err
		}

		if token != "" {
			cookies.Clear(w)
		}

		return web.Respond(ctx, w, mergeResponse(res), http.StatusOK)
	}
}

func mergeResponse(res MergeResult) MergeResponse {
	switch res.Outcome {
	case Merged:
		return MergeResponse{Success: true, Message: "Cart merged successfully", MergedCartID: res.CartID}
	case EmptyAnonymousCart:
		return MergeResponse{Success: true, Message: "Guest cart was empty"}
	}
	return MergeResponse{Success: true, Message: "No guest cart to merge"}
}

func toWebErr(err error) error {
	switch {
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrUnknownProduct):
		return weberr.NewError(err, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		return weberr.NotFound(err)
	}
	return err
}
