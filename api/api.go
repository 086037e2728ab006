package api

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
	"github.com/irsalhamdi/storefront/api/middleware"
	"github.com/irsalhamdi/storefront/api/web"
	"github.com/irsalhamdi/storefront/core/auth"
	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/core/checkout"
	"github.com/irsalhamdi/storefront/core/order"
	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/core/user"
	"github.com/irsalhamdi/storefront/core/wishlist"
	"github.com/irsalhamdi/storefront/database"
	"github.com/irsalhamdi/storefront/rate"
	"github.com/jmoiron/sqlx"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigin       string
	Log              logrus.FieldLogger
	DB               *sqlx.DB
	Session          *scs.SessionManager
	Limiter          *rate.Limiter
	CartCookies      cart.Cookies
	Oracle           product.Quoter
	Gateway          checkout.Gateway
	Provider         string
	Policy           checkout.Policy
	Paypal           *paypal.Client
	WebhookSecret    string
	Providers        map[string]auth.Provider
	LoginRedirectURL string
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, auth.LoadAndSave(cfg.Session))
	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())
	a.mw = append(a.mw, auth.Identify(cfg.Session))

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	authen := auth.Authenticate(cfg.Session)
	admin := auth.Admin(cfg.Session)

	var limit web.Middleware
	if cfg.Limiter != nil {
		limit = middleware.RateLimit(cfg.Limiter)
	}

	carts := cart.NewStores(cfg.DB)
	merger := cart.NewMergeEngine(cfg.DB)
	orders := order.NewStore(cfg.DB)
	reconciler := order.NewReconciler(orders, cfg.WebhookSecret, cfg.Log)

	signIn := auth.SignIn{
		Session: cfg.Session,
		Merger:  merger,
		Cookies: cfg.CartCookies,
	}

	a.Handle(http.MethodGet, "/readiness", handleReadiness(cfg.DB))
	a.Handle(http.MethodGet, "/liveness", handleLiveness())

	a.Handle(http.MethodPost, "/auth/signup", auth.HandleSignup(cfg.DB, signIn), limit)
	a.Handle(http.MethodPost, "/auth/login", auth.HandleLogin(cfg.DB, signIn), limit)
	a.Handle(http.MethodPost, "/auth/logout", auth.HandleLogout(cfg.Session))
	a.Handle(http.MethodGet, "/auth/oauth-login/{provider}", auth.HandleOauthLogin(cfg.Session, cfg.Providers))
	a.Handle(http.MethodGet, "/auth/oauth-callback/{provider}", auth.HandleOauthCallback(cfg.DB, signIn, cfg.Providers, cfg.LoginRedirectURL))

	a.Handle(http.MethodGet, "/users/current", user.HandleShowCurrent(cfg.DB), authen)
	a.Handle(http.MethodGet, "/users", user.HandleList(cfg.DB), admin)
	a.Handle(http.MethodPut, "/users/{id}/role", user.HandleUpdateRole(cfg.DB), admin)
	a.Handle(http.MethodDelete, "/users/{id}", user.HandleDelete(cfg.DB), admin)

	a.Handle(http.MethodGet, "/categories", product.HandleListCategories(cfg.DB))
	a.Handle(http.MethodGet, "/products/featured", product.HandleListFeatured(cfg.DB))
	a.Handle(http.MethodGet, "/products/slug/{slug}", product.HandleShowBySlug(cfg.DB))
	a.Handle(http.MethodPost, "/products/prices", product.HandlePrices(cfg.Oracle))
	a.Handle(http.MethodGet, "/products/{id}", product.HandleShow(cfg.DB))
	a.Handle(http.MethodGet, "/products", product.HandleList(cfg.DB))
	a.Handle(http.MethodPost, "/products", product.HandleCreate(cfg.DB), admin)
	a.Handle(http.MethodPut, "/products/{id}", product.HandleUpdate(cfg.DB), admin)
	a.Handle(http.MethodDelete, "/products/{id}", product.HandleDelete(cfg.DB), admin)

	a.Handle(http.MethodGet, "/cart", cart.HandleShow(carts, cfg.Oracle))
	a.Handle(http.MethodPost, "/cart/add", cart.HandleAdd(carts, cfg.CartCookies), limit)
	a.Handle(http.MethodPut, "/cart/update", cart.HandleUpdate(carts))
	a.Handle(http.MethodDelete, "/cart/remove", cart.HandleRemove(carts))
	a.Handle(http.MethodDelete, "/cart/clear", cart.HandleClear(carts, cfg.CartCookies))
	a.Handle(http.MethodPost, "/cart/merge", cart.HandleMerge(merger, cfg.CartCookies), authen)

	a.Handle(http.MethodPost, "/checkout/create-session", checkout.HandleCreateSession(checkout.Config{
		Log:      cfg.Log,
		Carts:    carts,
		Oracle:   cfg.Oracle,
		Gateway:  cfg.Gateway,
		Orders:   orders,
		Policy:   cfg.Policy,
		Provider: cfg.Provider,
	}), limit)

	if cfg.WebhookSecret != "" {
		a.Handle(http.MethodPost, "/webhooks/stripe", order.HandleStripeWebhook(reconciler))
	}
	a.Handle(http.MethodGet, "/orders/success", order.HandleShowBySession(orders))
	a.Handle(http.MethodGet, "/orders/{id}", order.HandleShow(orders), authen)
	a.Handle(http.MethodGet, "/orders", order.HandleListOwned(orders), authen)
	if cfg.Paypal != nil {
		a.Handle(http.MethodPost, "/orders/paypal/{id}/capture", order.HandlePaypalCapture(reconciler, cfg.Paypal))
	}

	a.Handle(http.MethodGet, "/wishlist", wishlist.HandleList(cfg.DB), authen)
	a.Handle(http.MethodPost, "/wishlist", wishlist.HandleAdd(cfg.DB), authen)
	a.Handle(http.MethodDelete, "/wishlist/clear", wishlist.HandleClear(cfg.DB), authen)
	a.Handle(http.MethodDelete, "/wishlist", wishlist.HandleRemove(cfg.DB), authen)

	return a.Router
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}

type health struct {
	Status string `json:"status"`
}

func handleReadiness(db *sqlx.DB) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if err := database.StatusCheck(ctx, db); err != nil {
			return web.Respond(ctx, w, health{Status: "db not ready"}, http.StatusInternalServerError)
		}
		return web.Respond(ctx, w, health{Status: "ok"}, http.StatusOK)
	}
}

func handleLiveness() web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return web.Respond(ctx, w, health{Status: "up"}, http.StatusOK)
	}
}
