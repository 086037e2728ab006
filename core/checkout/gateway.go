package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// ErrGatewayUnavailable means no payment session was started. The caller
// must not treat the checkout as begun.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type Address struct {
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
}

type Customer struct {
	Name    string  `json:"name" validate:"required"`
	Email   string  `json:"email" validate:"required,email"`
	Phone   string  `json:"phone,omitempty"`
	Address Address `json:"address"`
}

// Session is a started payment session the client is redirected to.
type Session struct {
	ID       string `json:"sessionId"`
	URL      string `json:"url"`
	Provider string `json:"-"`
}

// Request is everything a gateway needs to start a session. OrderID is
// chosen before the session exists so the provider can echo it back.
type Request struct {
	OrderID  string
	UserID   string
	Snapshot Snapshot
	Customer Customer
}

// Gateway starts a payment session for a priced checkout.
type Gateway interface {
	CreateSession(ctx context.Context, req Request) (Session, error)
}

// Metadata is what a later payment notification needs to rebuild the
// order without reading the cart again.
func Metadata(req Request) map[string]string {
	snap, c := req.Snapshot, req.Customer
	addr, _ := json.Marshal(c.Address)

	md := map[string]string{
		"order_id":         req.OrderID,
		"customer_name":    c.Name,
		"customer_email":   c.Email,
		"customer_phone":   c.Phone,
		"shipping_address": string(addr),
		"items_count":      strconv.Itoa(len(snap.Lines)),
		"currency":         snap.Currency,
		"subtotal":         strconv.FormatInt(snap.SubtotalCents, 10),
		"shipping":         strconv.FormatInt(snap.ShippingCents, 10),
		"tax":              strconv.FormatInt(snap.TaxCents, 10),
		"total":            strconv.FormatInt(snap.TotalCents, 10),
	}
	if req.UserID != "" {
		md["user_id"] = req.UserID
	}

	if items := compactItems(snap); len(items) <= maxMetadataValue {
		md["items"] = items
	}
	return md
}

// Stripe caps metadata values at 500 characters.
const maxMetadataValue = 500

type compactItem struct {
	ProductID string `json:"p"`
	Qty       int    `json:"q"`
	UnitCents int64  `json:"u"`
}

func compactItems(snap Snapshot) string {
	items := make([]compactItem, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		items = append(items, compactItem{ProductID: l.ProductID, Qty: l.Qty, UnitCents: l.UnitCents})
	}
	b, _ := json.Marshal(items)
	return string(b)
}

// secureImage keeps absolute https image URLs and drops anything else.
func secureImage(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", false
	}
	return u.String(), true
}

// =============================================================================

// Breaker bounds every gateway call with a timeout and stops calling a
// failing provider for a while. All failures surface as ErrGatewayUnavailable.
type Breaker struct {
	gw      Gateway
	cb      *gobreaker.CircuitBreaker[Session]
	timeout time.Duration
}

func NewBreaker(gw Gateway, timeout time.Duration, log logrus.FieldLogger) *Breaker {
	st := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("breaker state changed")
		},
	}

	return &Breaker{
		gw:      gw,
		cb:      gobreaker.NewCircuitBreaker[Session](st),
		timeout: timeout,
	}
}

func (b *Breaker) CreateSession(ctx context.Context, req Request) (Session, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	s, err := b.cb.Execute(func() (Session, error) {
		return b.gw.CreateSession(ctx, req)
	})
	if err != nil {
		if errors.Is(err, ErrGatewayUnavailable) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if s.ID == "" || s.URL == "" {
		return Session{}, fmt.Errorf("%w: provider returned no redirect target", ErrGatewayUnavailable)
	}
	return s, nil
}
