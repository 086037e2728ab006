package product

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const maxBatch = 100

// Quoter is the read side of the pricing oracle.
type Quoter interface {
	Quote(ctx context.Context, ids []string) (map[string]Quote, error)
}

type PricesRequest struct {
	ProductIDs []string `json:"productIds" validate:"required,min=1,max=100"`
}

type ShowResponse struct {
	Product Product   `json:"product"`
	Related []Product `json:"related"`
}

func HandleList(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		qs := r.URL.Query()
		f := Filter{
			Search:   qs.Get("search"),
			Category: qs.Get("category"),
			Sort:     qs.Get("sort"),
			Page:     web.QueryInt(r, "page", 1),
			PageSize: web.QueryInt(r, "pageSize", DefaultPageSize),
		}
		if f.PageSize > maxBatch {
			f.PageSize = maxBatch
		}

		page, err := List(ctx, db, f)
		if err != nil {
			return fmt.Errorf("listing products: %w", err)
		}

		return web.Respond(ctx, w, page, http.StatusOK)
	}
}

func HandleListFeatured(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		items, err := ListFeatured(ctx, db)
		if err != nil {
			return err
		}
		return web.Respond(ctx, w, items, http.StatusOK)
	}
}

func HandleShowBySlug(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		slug := web.Param(r, "slug")

		p, err := FetchBySlug(ctx, db, slug)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err, weberr.WithFields(map[string]interface{}{"slug": slug}))
			}
			return fmt.Errorf("fetching product[%s]: %w", slug, err)
		}

		related, err := ListRelated(ctx, db, p)
		if err != nil {
			return fmt.Errorf("fetching products related to [%s]: %w", p.ID, err)
		}

		return web.Respond(ctx, w, ShowResponse{Product: p, Related: related}, http.StatusOK)
	}
}

func HandleShow(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		p, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching product[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, p, http.StatusOK)
	}
}

// HandlePrices answers the current price of every known product in the
// request. Unknown products are omitted from the response.
func HandlePrices(oracle Quoter) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var req PricesRequest
		if err := web.Decode(w, r, &req); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(req); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		quotes, err := oracle.Quote(ctx, req.ProductIDs)
		if err != nil {
			if errors.Is(err, ErrPricingUnavailable) {
				return weberr.Unavailable(err)
			}
			return err
		}

		out := make([]Quote, 0, len(quotes))
		seen := make(map[string]bool, len(quotes))
		for _, id := range req.ProductIDs {
			if q, ok := quotes[id]; ok && !seen[id] {
				seen[id] = true
				out = append(out, q)
			}
		}

		return web.Respond(ctx, w, out, http.StatusOK)
	}
}

func HandleListCategories(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		cats, err := ListCategories(ctx, db)
		if err != nil {
			return err
		}
		return web.Respond(ctx, w, cats, http.StatusOK)
	}
}

func HandleCreate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var pn ProductNew
		if err := web.Decode(w, r, &pn); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(pn); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		status := pn.Status
		if status == "" {
			status = Active
		}

		now := time.Now().UTC()
		p := Product{
			ID:             validate.GenerateID(),
			CategoryID:     pn.CategoryID,
			Title:          pn.Title,
			Slug:           pn.Slug,
			Description:    pn.Description,
			SKU:            pn.SKU,
			PriceCents:     pn.PriceCents,
			CompareAtCents: pn.CompareAtCents,
			Images:         pq.StringArray(pn.Images),
			StockQuantity:  pn.StockQuantity,
			Status:         status,
			Featured:       pn.Featured,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := Create(ctx, db, p); err != nil {
			if errors.Is(err, ErrSlugTaken) {
				return weberr.NewError(err, err.Error(), http.StatusBadRequest)
			}
			return fmt.Errorf("creating product: %w", err)
		}

		return web.Respond(ctx, w, p, http.StatusCreated)
	}
}

func HandleUpdate(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		var up ProductUp
		if err := web.Decode(w, r, &up); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(up); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		p, err := Fetch(ctx, db, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("fetching product[%s]: %w", id, err)
		}

		apply(&p, up)
		p.UpdatedAt = time.Now().UTC()

		if err := Update(ctx, db, p); err != nil {
			switch {
			case errors.Is(err, ErrNotFound):
				return weberr.NotFound(err)
			case errors.Is(err, ErrSlugTaken):
				return weberr.NewError(err, err.Error(), http.StatusBadRequest)
			}
			return fmt.Errorf("updating product[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, p, http.StatusOK)
	}
}

func HandleDelete(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		id := web.Param(r, "id")
		if err := validate.CheckID(id); err != nil {
			return weberr.BadRequest(err)
		}

		if err := Delete(ctx, db, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return weberr.NotFound(err)
			}
			return fmt.Errorf("deleting product[%s]: %w", id, err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func apply(p *Product, up ProductUp) {
	if up.CategoryID != nil {
		p.CategoryID = up.CategoryID
	}
	if up.Title != nil {
		p.Title = *up.Title
	}
	if up.Slug != nil {
		p.Slug = *up.Slug
	}
	if up.Description != nil {
		p.Description = *up.Description
	}
	if up.SKU != nil {
		p.SKU = *up.SKU
	}
	if up.PriceCents != nil {
		p.PriceCents = *up.PriceCents
	}
	if up.CompareAtCents != nil {
		p.CompareAtCents = up.CompareAtCents
	}
	if up.Images != nil {
		p.Images = pq.StringArray(*up.Images)
	}
	if up.StockQuantity != nil {
		p.StockQuantity = *up.StockQuantity
	}
	if up.Status != nil {
		p.Status = *up.Status
	}
	if up.Featured != nil {
		p.Featured = *up.Featured
	}
}
