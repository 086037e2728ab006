package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/storefront/api"
	"github.com/irsalhamdi/storefront/config"
	"github.com/irsalhamdi/storefront/core/auth"
	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/core/checkout"
	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/database"
	"github.com/irsalhamdi/storefront/rate"
	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	const prefix = "STORE"
	var cfg config.Config
	if help, err := conf.Parse(prefix, &cfg); err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}
	defer db.Close()

	sessionManager := scs.New()
	sessionManager.Store = memstore.New()
	sessionManager.Lifetime = cfg.Session.Lifetime
	sessionManager.Cookie.Secure = cfg.Session.Secure
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode

	taxRate, err := decimal.NewFromString(cfg.Checkout.TaxRate)
	if err != nil {
		return fmt.Errorf("parsing tax rate[%s]: %w", cfg.Checkout.TaxRate, err)
	}

	var (
		pp *paypal.Client
		gw checkout.Gateway
	)

	if cfg.Paypal.ClientID != "" {
		pp, err = paypal.NewClient(cfg.Paypal.ClientID, cfg.Paypal.Secret, cfg.Paypal.URL)
		if err != nil {
			return fmt.Errorf("failed to build the paypal client: %w", err)
		}

		if _, err = pp.GetAccessToken(context.TODO()); err != nil {
			return fmt.Errorf("failed to get the first paypal access token: %w", err)
		}
	}

	switch cfg.Checkout.Provider {
	case checkout.ProviderPaypal:
		if pp == nil {
			return fmt.Errorf("checkout provider %q selected without paypal credentials", cfg.Checkout.Provider)
		}
		gw = checkout.NewPaypalGateway(pp, checkout.PaypalConfig{
			ReturnURL: cfg.Checkout.SuccessURL,
			CancelURL: cfg.Checkout.CancelURL,
		})
	case checkout.ProviderStripe:
		if cfg.Stripe.APISecret == "" || cfg.Stripe.WebhookSecret == "" {
			return fmt.Errorf("checkout provider %q selected without stripe api and webhook secrets", cfg.Checkout.Provider)
		}
		strp := &stripecl.API{}
		strp.Init(cfg.Stripe.APISecret, nil)

		gw = checkout.NewStripeGateway(strp, checkout.StripeConfig{
			SuccessURL:       cfg.Checkout.SuccessURL,
			CancelURL:        cfg.Checkout.CancelURL,
			AllowedCountries: cfg.Checkout.AllowedCountries,
		})
	default:
		return fmt.Errorf("unknown checkout provider %q", cfg.Checkout.Provider)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Oauth.DiscoveryTimeout)
	defer cancel()
	google := cfg.Oauth.Google
	oauthProvs, err := auth.MakeProviders(ctx, []auth.ProviderConfig{
		{Name: "google", Client: google.Client, Secret: google.Secret, URL: google.URL, RedirectURL: google.RedirectURL},
	})
	if err != nil {
		return fmt.Errorf("failed to discover oauth providers: %w", err)
	}

	limiter := rate.NewLimiter(cfg.Rate.Burst, cfg.Rate.Expiry, rate.Every(cfg.Rate.Every))
	defer limiter.Stop()

	mux := api.APIMux(api.APIConfig{
		CorsOrigin: cfg.Cors.Origin,
		Log:        logger,
		DB:         db,
		Session:    sessionManager,
		Limiter:    limiter,
		CartCookies: cart.Cookies{
			Secure: cfg.Cart.CookieSecure,
			MaxAge: cfg.Cart.CookieMaxAge,
		},
		Oracle:   product.NewOracle(db, cfg.Checkout.PricingTimeout),
		Gateway:  checkout.NewBreaker(gw, cfg.Checkout.GatewayTimeout, logger),
		Provider: cfg.Checkout.Provider,
		Policy: checkout.Policy{
			Currency:              cfg.Checkout.Currency,
			FreeShippingThreshold: cfg.Checkout.FreeShippingThreshold,
			ShippingFee:           cfg.Checkout.ShippingFee,
			TaxRate:               taxRate,
		},
		Paypal:           pp,
		WebhookSecret:    cfg.Stripe.WebhookSecret,
		Providers:        oauthProvs,
		LoginRedirectURL: cfg.Oauth.LoginRedirectURL,
	})

	api := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}
