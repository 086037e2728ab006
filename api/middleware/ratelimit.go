package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/api/weberr"
	"github.com/irsalhamdi/storefront/rate"
)

var ErrTooManyRequests = errors.New("too many requests")

// RateLimit rejects a client once it exhausts its token bucket. Clients are
// keyed by remote host.
func RateLimit(lim *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			if !lim.Check(host) {
				return weberr.NewError(ErrTooManyRequests, "rate limit exceeded, slow down", http.StatusTooManyRequests,
					weberr.WithFields(map[string]interface{}{"client": host}))
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
