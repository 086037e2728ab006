package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/irsalhamdi/storefront/core/user"
	"github.com/irsalhamdi/storefront/random"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"
)

type ProviderConfig struct {
	Name        string
	Client      string
	Secret      string
	URL         string
	RedirectURL string
}

// Provider is an OpenID Connect identity provider ready for the
// authorization code flow.
type Provider struct {
	oauth2.Config
	Verifier *oidc.IDTokenVerifier
}

// MakeProviders discovers every configured provider. Entries without a
// client id are skipped.
func MakeProviders(ctx context.Context, cfgs []ProviderConfig) (map[string]Provider, error) {
	provs := make(map[string]Provider, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Client == "" {
			continue
		}

		p, err := oidc.NewProvider(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("discovering provider[%s]: %w", cfg.Name, err)
		}

		provs[cfg.Name] = Provider{
			Config: oauth2.Config{
				ClientID:     cfg.Client,
				ClientSecret: cfg.Secret,
				Endpoint:     p.Endpoint(),
				RedirectURL:  cfg.RedirectURL,
				Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			},
			Verifier: p.Verifier(&oidc.Config{ClientID: cfg.Client}),
		}
	}
	return provs, nil
}

func stateKey(provider string) string { return "oauth_state_" + provider }
func nonceKey(provider string) string { return "oauth_nonce_" + provider }

func HandleOauthLogin(session *scs.SessionManager, provs map[string]Provider) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		name := web.Param(r, "provider")
		prov, ok := provs[name]
		if !ok {
			return weberr.NotFound(fmt.Errorf("oauth provider[%s] not configured", name))
		}

		state, err := random.StringSecure(32)
		if err != nil {
			return fmt.Errorf("generating oauth state: %w", err)
		}
		nonce, err := random.StringSecure(32)
		if err != nil {
			return fmt.Errorf("generating oauth nonce: %w", err)
		}

		session.Put(ctx, stateKey(name), state)
		session.Put(ctx, nonceKey(name), nonce)

		http.Redirect(w, r, prov.AuthCodeURL(state, oidc.Nonce(nonce)), http.StatusFound)
		return nil
	}
}

type idClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Nonce         string `json:"nonce"`
}

// HandleOauthCallback completes the code flow, signs in the user owning
// the verified email (creating it on first login) and redirects home.
func HandleOauthCallback(db *sqlx.DB, in SignIn, provs map[string]Provider, redirectURL string) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		name := web.Param(r, "provider")
		prov, ok := provs[name]
		if !ok {
			return weberr.NotFound(fmt.Errorf("oauth provider[%s] not configured", name))
		}

		state := in.Session.PopString(ctx, stateKey(name))
		nonce := in.Session.PopString(ctx, nonceKey(name))
		if state == "" || r.URL.Query().Get("state") != state {
			return weberr.BadRequest(errors.New("oauth state mismatch"))
		}

		tok, err := prov.Exchange(ctx, r.URL.Query().Get("code"))
		if err != nil {
			return weberr.NotAuthorized(fmt.Errorf("exchanging oauth code: %w", err))
		}

		raw, ok := tok.Extra("id_token").(string)
		if !ok {
			return weberr.NotAuthorized(errors.New("token response has no id_token"))
		}

		idt, err := prov.Verifier.Verify(ctx, raw)
		if err != nil {
			return weberr.NotAuthorized(fmt.Errorf("verifying id_token: %w", err))
		}

		var c idClaims
		if err := idt.Claims(&c); err != nil {
			return weberr.NotAuthorized(fmt.Errorf("reading id_token claims: %w", err))
		}
		if c.Nonce != nonce {
			return weberr.NotAuthorized(errors.New("id_token nonce mismatch"))
		}
		if c.Email == "" || !c.EmailVerified {
			return weberr.NotAuthorized(errors.New("email not verified by provider"))
		}

		usr, err := findOrCreate(ctx, db, strings.ToLower(c.Email), c.Name)
		if err != nil {
			return err
		}

		if err := in.Do(ctx, w, r, usr); err != nil {
			return err
		}

		http.Redirect(w, r, redirectURL, http.StatusFound)
		return nil
	}
}

func findOrCreate(ctx context.Context, db *sqlx.DB, email, name string) (user.User, error) {
	usr, err := user.FetchByEmail(ctx, db, email)
	if err == nil {
		return usr, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return user.User{}, fmt.Errorf("fetching user by email: %w", err)
	}

	now := time.Now().UTC()
	usr = user.User{
		ID:           validate.GenerateID(),
		Name:         name,
		Email:        email,
		Role:         claims.RoleUser,
		PasswordHash: []byte{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := user.Create(ctx, db, usr); err != nil {
		return user.User{}, fmt.Errorf("creating user from oauth login: %w", err)
	}
	return usr, nil
}
