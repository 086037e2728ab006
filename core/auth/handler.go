package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/irsalhamdi/storefront/core/user"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// SignIn binds a user to the request session. A guest cart sent with the
// request is merged into the user cart first; if that fails no session
// is written and the guest cart is left untouched.
type SignIn struct {
	Session *scs.SessionManager
	Merger  cart.Merger
	Cookies cart.Cookies
}

func (s SignIn) Do(ctx context.Context, w http.ResponseWriter, r *http.Request, usr user.User) error {
	if token := cart.Token(r); token != "" {
		if _, err := s.Merger.Merge(ctx, token, usr.ID); err != nil {
			return fmt.Errorf("merging guest cart into user[%s]: %w", usr.ID, err)
		}
		s.Cookies.Clear(w)
	}

	if err := s.Session.RenewToken(ctx); err != nil {
		return fmt.Errorf("renewing session token: %w", err)
	}

	s.Session.Put(ctx, userIDKey, usr.ID)
	s.Session.Put(ctx, roleKey, usr.Role)
	return nil
}

func HandleSignup(db *sqlx.DB, in SignIn) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var u user.UserSignup
		if err := web.Decode(w, r, &u); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(u); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("generating password hash: %w", err)
		}

		now := time.Now().UTC()
		usr := user.User{
			ID:           validate.GenerateID(),
			Name:         u.Name,
			Email:        strings.ToLower(u.Email),
			Role:         claims.RoleUser,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		if err := user.Create(ctx, db, usr); err != nil {
			if errors.Is(err, user.ErrEmailTaken) {
				return weberr.NewError(err, err.Error(), http.StatusConflict)
			}
			return fmt.Errorf("creating user: %w", err)
		}

		if err := in.Do(ctx, w, r, usr); err != nil {
			return err
		}

		return web.Respond(ctx, w, usr, http.StatusCreated)
	}
}

func HandleLogin(db *sqlx.DB, in SignIn) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var u user.UserLogin
		if err := web.Decode(w, r, &u); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(u); err != nil {
			return weberr.NewError(err, err.Error(), http.StatusBadRequest)
		}

		usr, err := user.FetchByEmail(ctx, db, strings.ToLower(u.Email))
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return weberr.NewError(ErrInvalidCredentials, ErrInvalidCredentials.Error(), http.StatusUnauthorized)
			}
			return fmt.Errorf("fetching user by email: %w", err)
		}

		if err := bcrypt.CompareHashAndPassword(usr.PasswordHash, []byte(u.Password)); err != nil {
			return weberr.NewError(ErrInvalidCredentials, ErrInvalidCredentials.Error(), http.StatusUnauthorized,
				weberr.WithFields(map[string]interface{}{"user_id": usr.ID}))
		}

		if err := in.Do(ctx, w, r, usr); err != nil {
			return err
		}

		return web.Respond(ctx, w, usr, http.StatusOK)
	}
}

func HandleLogout(session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if err := session.Destroy(ctx); err != nil {
			return fmt.Errorf("destroying session: %w", err)
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
