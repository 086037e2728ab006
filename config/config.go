package config

import "time"

type Config struct {
	Web      Web
	DB       DB
	Session  Session
	Cart     Cart
	Checkout Checkout
	Stripe   Stripe
	Paypal   Paypal
	Oauth    Oauth
	Cors     Cors
	Rate     Rate
}

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type DB struct {
	User         string `conf:"default:postgres"`
	Password     string `conf:"default:postgres,mask"`
	Host         string `conf:"default:localhost"`
	Name         string `conf:"default:storefront"`
	MaxIdleConns int    `conf:"default:0"`
	MaxOpenConns int    `conf:"default:0"`
	DisableTLS   bool   `conf:"default:true"`
}

type Session struct {
	Lifetime time.Duration `conf:"default:24h"`
	Secure   bool          `conf:"default:false"`
}

// Cart configures the cookie carrying the anonymous cart token.
type Cart struct {
	CookieSecure bool          `conf:"default:true"`
	CookieMaxAge time.Duration `conf:"default:720h"`
}

type Checkout struct {
	Provider              string        `conf:"default:stripe,help:stripe or paypal"`
	Currency              string        `conf:"default:usd"`
	FreeShippingThreshold int64         `conf:"default:5000"`
	ShippingFee           int64         `conf:"default:500"`
	TaxRate               string        `conf:"default:0.08"`
	SuccessURL            string        `conf:"default:http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}"`
	CancelURL             string        `conf:"default:http://localhost:3000/cart"`
	AllowedCountries      []string      `conf:"default:US;CA"`
	PricingTimeout        time.Duration `conf:"default:3s"`
	GatewayTimeout        time.Duration `conf:"default:5s"`
}

type Stripe struct {
	APISecret     string `conf:"mask"`
	WebhookSecret string `conf:"mask"`
}

type Paypal struct {
	ClientID string
	Secret   string `conf:"mask"`
	URL      string `conf:"default:https://api-m.sandbox.paypal.com"`
}

type Oauth struct {
	Google           OauthProvider
	DiscoveryTimeout time.Duration `conf:"default:10s"`
	LoginRedirectURL string        `conf:"default:http://localhost:3000"`
}

type OauthProvider struct {
	Client      string
	Secret      string `conf:"mask"`
	URL         string `conf:"default:https://accounts.google.com"`
	RedirectURL string
}

type Cors struct {
	Origin string
}

type Rate struct {
	Burst  int           `conf:"default:20"`
	Every  time.Duration `conf:"default:1s"`
	Expiry int           `conf:"default:10,help:minutes before an idle client is forgotten"`
}
