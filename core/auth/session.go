package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/claims"
)

const (
	userIDKey = "userID"
	roleKey   = "role"
)

// LoadAndSave runs handler with the request session loaded and commits it
// once the handler returns.
func LoadAndSave(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			var err error

			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				err = handler(r.Context(), w, r)
			})
			session.LoadAndSave(next).ServeHTTP(w, r.WithContext(ctx))

			return err
		}
		return h
	}
	return m
}

func fromSession(ctx context.Context, session *scs.SessionManager) (claims.Claims, bool) {
	clm := claims.Claims{
		UserID: session.GetString(ctx, userIDKey),
		Role:   session.GetString(ctx, roleKey),
	}
	return clm, clm.UserID != ""
}

// Identify attaches the caller's claims when a session exists and lets
// anonymous requests through unchanged.
func Identify(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if clm, ok := fromSession(ctx, session); ok {
				ctx = claims.Set(ctx, clm)
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func Authenticate(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			clm, ok := fromSession(ctx, session)
			if !ok {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}

			return handler(claims.Set(ctx, clm), w, r)
		}
		return h
	}
	return m
}

func Admin(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			clm, ok := fromSession(ctx, session)
			if !ok {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}

			if clm.Role != claims.RoleAdmin {
				return weberr.Forbidden(errors.New("admin role required"), weberr.WithFields(map[string]interface{}{
					"user_id": clm.UserID,
				}))
			}

			return handler(claims.Set(ctx, clm), w, r)
		}
		return h
	}
	return m
}
