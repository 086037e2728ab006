package cart

import (
	"context"
	"errors"
	"time"
)

// MaxQty bounds the quantity of one line. Request DTOs repeat it in their
// validate tags.
const MaxQty = 10000

var (
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 10000")
	ErrNotFound        = errors.New("cart line not found")
	ErrUnknownProduct  = errors.New("product does not exist")
	ErrUnknownIdentity = errors.New("unknown cart identity")
)

type Kind int

const (
	Anonymous Kind = iota + 1
	User
)

// Identity selects the cart a request works on: the anonymous cart bound
// to a cookie token, or the cart of a signed-in user.
type Identity struct {
	Kind   Kind
	Token  string
	UserID string
}

func AnonymousIdentity(token string) Identity {
	return Identity{Kind: Anonymous, Token: token}
}

func UserIdentity(userID string) Identity {
	return Identity{Kind: User, UserID: userID}
}

// Cart is a set of quantity intents. Prices are never stored on it.
type Cart struct {
	ID        string    `json:"id" db:"cart_id"`
	UserID    *string   `json:"-" db:"user_id"`
	Token     *string   `json:"-" db:"token"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
	Lines     []Line    `json:"lines" db:"-"`
}

type Line struct {
	ID        string    `json:"id" db:"line_id"`
	CartID    string    `json:"-" db:"cart_id"`
	ProductID string    `json:"productId" db:"product_id"`
	Qty       int       `json:"qty" db:"qty"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type LineNew struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Qty       int    `json:"qty" validate:"lte=10000"`
}

type LineUp struct {
	ItemID string `json:"itemId" validate:"required,uuid"`
	Qty    int    `json:"qty" validate:"lte=10000"`
}

// ValidQty reports whether qty may be stored on a line.
func ValidQty(qty int) bool {
	return qty >= 1 && qty <= MaxQty
}

type LineRef struct {
	ItemID string `json:"itemId" validate:"required,uuid"`
}

// Store is the capability set shared by both cart variants. Every call is
// scoped to exactly one identity.
type Store interface {
	Get(ctx context.Context, id Identity) (Cart, error)

	// AddLine adds qty to the line of productID, creating the line and the
	// cart when missing. For an anonymous identity without a live cart a
	// fresh token is allocated and returned in Cart.Token.
	AddLine(ctx context.Context, id Identity, productID string, qty int) (Cart, error)
	SetLineQty(ctx context.Context, id Identity, lineID string, qty int) (Cart, error)
	RemoveLine(ctx context.Context, id Identity, lineID string) (Cart, error)
	Clear(ctx context.Context, id Identity) error
}

// ProductIDs lists the products referenced by the cart lines in order.
func (c Cart) ProductIDs() []string {
	ids := make([]string, 0, len(c.Lines))
	for _, l := range c.Lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

func (c Cart) AnonymousToken() string {
	if c.Token == nil {
		return ""
	}
	return *c.Token
}
