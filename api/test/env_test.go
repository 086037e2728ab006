package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/irsalhamdi/storefront/api"
	"github.com/irsalhamdi/storefront/config"
	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/core/checkout"
	"github.com/irsalhamdi/storefront/core/claims"
	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/core/user"
	"github.com/irsalhamdi/storefront/database"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"golang.org/x/crypto/bcrypt"
)

const (
	teeID    = "6c1e5d2a-8b3f-4c7e-a1d2-5f6e7a8b9c01"
	hoodieID = "6c1e5d2a-8b3f-4c7e-a1d2-5f6e7a8b9c02"
	toteID   = "6c1e5d2a-8b3f-4c7e-a1d2-5f6e7a8b9c03"
)

type TestEnv struct {
	*httptest.Server
	DB            *sqlx.DB
	Stripe        *mockStripe
	WebhookSecret string
	UserEmail     string
	UserPass      string
	AdminEmail    string
	AdminPass     string
}

// NewTestEnv starts a throwaway Postgres, migrates and seeds it, and serves
// the full API against it with Stripe replaced by a local mock.
func NewTestEnv(t *testing.T, dbName string) (*TestEnv, error) {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("connecting to docker: %w", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker not available: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15-alpine",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_PASSWORD=postgres",
			"POSTGRES_DB=" + dbName,
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return nil, fmt.Errorf("starting postgres: %w", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("purging postgres: %v", err)
		}
	})
	resource.Expire(300)

	cfg := config.DB{
		User:       "postgres",
		Password:   "postgres",
		Host:       resource.GetHostPort("5432/tcp"),
		Name:       dbName,
		DisableTLS: true,
	}

	var db *sqlx.DB
	pool.MaxWait = time.Minute
	err = pool.Retry(func() error {
		var err error
		if db, err = database.Open(cfg); err != nil {
			return err
		}
		return database.StatusCheck(context.Background(), db)
	})
	if err != nil {
		return nil, fmt.Errorf("waiting for postgres: %w", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(cfg); err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}
	if err := database.Seed(context.Background(), db); err != nil {
		return nil, fmt.Errorf("seeding: %w", err)
	}

	env := &TestEnv{
		DB:            db,
		Stripe:        &mockStripe{},
		WebhookSecret: "whsec_test_secret",
		UserEmail:     "user@example.com",
		UserPass:      "user-password",
		AdminEmail:    "admin@example.com",
		AdminPass:     "admin-password",
	}

	if err := createUser(db, env.UserEmail, env.UserPass, claims.RoleUser); err != nil {
		return nil, err
	}
	if err := createUser(db, env.AdminEmail, env.AdminPass, claims.RoleAdmin); err != nil {
		return nil, err
	}

	stripeSrv := httptest.NewServer(env.Stripe.handle())
	t.Cleanup(stripeSrv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(stripeSrv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	strp := &stripecl.API{}
	strp.Init("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	log := logrus.New()
	log.SetOutput(io.Discard)

	gw := checkout.NewStripeGateway(strp, checkout.StripeConfig{
		SuccessURL:       "http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:        "http://localhost:3000/cart",
		AllowedCountries: []string{"US", "CA"},
	})

	mux := api.APIMux(api.APIConfig{
		Log:         log,
		DB:          db,
		Session:     scs.New(),
		CartCookies: cart.Cookies{MaxAge: 720 * time.Hour},
		Oracle:      product.NewOracle(db, 3*time.Second),
		Gateway:     checkout.NewBreaker(gw, 5*time.Second, log),
		Provider:    checkout.ProviderStripe,
		Policy: checkout.Policy{
			Currency:              "usd",
			FreeShippingThreshold: 5000,
			ShippingFee:           500,
			TaxRate:               decimal.RequireFromString("0.08"),
		},
		WebhookSecret: env.WebhookSecret,
	})

	env.Server = httptest.NewServer(mux)
	t.Cleanup(env.Server.Close)

	return env, nil
}

func createUser(db *sqlx.DB, email, pass, role string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.MinCost)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	usr := user.User{
		ID:           validate.GenerateID(),
		Name:         email,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Create(context.Background(), db, usr); err != nil {
		return fmt.Errorf("creating user %s: %w", email, err)
	}
	return nil
}

// NewClient returns a client with its own cookie jar, standing in for one
// browser.
func (env *TestEnv) NewClient(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}

	return &http.Client{
		Jar:       jar,
		Transport: env.Client().Transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Do sends body as JSON and decodes the response into out when given.
func (env *TestEnv) Do(t *testing.T, c *http.Client, method, path string, body, out any) int {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}

	r, err := http.NewRequest(method, env.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	w, err := c.Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if out != nil && w.StatusCode < 300 {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, path, err)
		}
	}
	return w.StatusCode
}

func (env *TestEnv) Login(t *testing.T, c *http.Client, email, pass string) {
	t.Helper()

	body := user.UserLogin{Email: email, Password: pass}
	if code := env.Do(t, c, http.MethodPost, "/auth/login", body, nil); code != http.StatusOK {
		t.Fatalf("login of %s failed with status %d", email, code)
	}
}

func (env *TestEnv) Logout(t *testing.T, c *http.Client) {
	t.Helper()

	if code := env.Do(t, c, http.MethodPost, "/auth/logout", nil, nil); code != http.StatusNoContent {
		t.Fatalf("logout failed with status %d", code)
	}
}
