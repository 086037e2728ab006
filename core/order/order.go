package order

import (
	"errors"
	"time"

	"github.com/jmoiron/sqlx/types"
)

type Status string

const (
	Pending       Status = "pending"
	Paid          Status = "paid"
	PaymentFailed Status = "payment_failed"
)

var ErrNotFound = errors.New("order not found")

type Order struct {
	ID              string         `json:"id" db:"order_id"`
	UserID          *string        `json:"userId,omitempty" db:"user_id"`
	Provider        string         `json:"provider" db:"provider"`
	SessionID       string         `json:"sessionId" db:"session_id"`
	PaymentIntentID *string        `json:"paymentIntentId,omitempty" db:"payment_intent_id"`
	CustomerName    string         `json:"customerName" db:"customer_name"`
	CustomerEmail   string         `json:"customerEmail" db:"customer_email"`
	CustomerPhone   string         `json:"customerPhone" db:"customer_phone"`
	ShippingAddress types.JSONText `json:"shippingAddress" db:"shipping_address"`
	Currency        string         `json:"currency" db:"currency"`
	SubtotalCents   int64          `json:"subtotalCents" db:"subtotal_cents"`
	ShippingCents   int64          `json:"shippingCents" db:"shipping_cents"`
	TaxCents        int64          `json:"taxCents" db:"tax_cents"`
	TotalCents      int64          `json:"totalCents" db:"total_cents"`
	Status          Status         `json:"status" db:"status"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
	Items           []Item         `json:"items" db:"-"`
}

type Item struct {
	OrderID    string    `json:"-" db:"order_id"`
	Position   int       `json:"-" db:"position"`
	ProductID  string    `json:"productId" db:"product_id"`
	Title      string    `json:"title" db:"title"`
	Qty        int       `json:"qty" db:"qty"`
	UnitCents  int64     `json:"unitCents" db:"unit_cents"`
	TotalCents int64     `json:"totalCents" db:"total_cents"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// Outcome is a payment result reported by a provider. EventID keys the
// idempotency ledger; the order is matched by OrderID, then SessionID,
// then PaymentIntentID.
type Outcome struct {
	EventID         string
	EventType       string
	Status          Status
	OrderID         string
	SessionID       string
	PaymentIntentID string

	// Rebuild is used when no pending order matches a successful payment.
	Rebuild *Order
}

type Result int

const (
	// Applied means the order moved from pending to the outcome status.
	Applied Result = iota + 1
	// Duplicate means the event id was already processed.
	Duplicate
	// Unchanged means no pending order matched, or the order was already
	// in a terminal status.
	Unchanged
	// Ignored means the event type carries no payment outcome.
	Ignored
	// Stale means a successful payment arrived for an order already marked
	// payment_failed. The order is left as it is and needs a manual look.
	Stale
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Unchanged:
		return "unchanged"
	case Ignored:
		return "ignored"
	case Stale:
		return "stale"
	}
	return "unknown"
}
