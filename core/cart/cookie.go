package cart

import (
	"context"
	"net/http"
	"time"

	"github.com/irsalhamdi/storefront/core/claims"
)

const CookieName = "cart_id"

// Cookies writes and reads the anonymous cart token.
type Cookies struct {
	Secure bool
	MaxAge time.Duration
}

func (c Cookies) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token returns the anonymous cart token sent by the client, if any.
func Token(r *http.Request) string {
	ck, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return ck.Value
}

// IdentityFrom picks the user cart for signed-in callers and the anonymous
// cart otherwise.
func IdentityFrom(ctx context.Context, r *http.Request) Identity {
	if clm, err := claims.Get(ctx); err == nil {
		return UserIdentity(clm.UserID)
	}
	return AnonymousIdentity(Token(r))
}
