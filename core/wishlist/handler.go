package wishlist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
)

type ack struct {
	Success bool `json:"success"`
}

func HandleList(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		items, err := List(ctx, db, clm.UserID)
		if err != nil {
			return err
		}

		return web.Respond(ctx, w, items, http.StatusOK)
	}
}

func HandleAdd(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var in ItemNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		if err := Add(ctx, db, clm.UserID, in.ProductID, time.Now().UTC()); err != nil {
			if errors.Is(err, ErrAlreadyListed) || errors.Is(err, ErrUnknownProduct) {
				return weberr.NewError(err, err.Error(), http.StatusBadRequest)
			}
			return err
		}

		return web.Respond(ctx, w, ack{Success: true}, http.StatusCreated)
	}
}

func HandleRemove(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		var in ItemNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(in); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		if err := Remove(ctx, db, clm.UserID, in.ProductID); err != nil {
			if errors.Is(err, ErrNotListed) {
				return weberr.NotFound(err)
			}
			return err
		}

		return web.Respond(ctx, w, ack{Success: true}, http.StatusOK)
	}
}

func HandleClear(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("user not authenticated"))
		}

		if err := Clear(ctx, db, clm.UserID); err != nil {
			return err
		}

		return web.Respond(ctx, w, ack{Success: true}, http.StatusOK)
	}
}
