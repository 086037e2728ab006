package checkout

import (
	"errors"
	"fmt"
	"math"

	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/core/product"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart      = errors.New("cart is empty")
	ErrAmountTooLarge = errors.New("order amount is too large")
)

// PriceUnavailableError names the first line whose product has no current
// price. Such a line is never priced at zero.
type PriceUnavailableError struct {
	ProductID string
}

func (e *PriceUnavailableError) Error() string {
	return fmt.Sprintf("price unavailable for product %s", e.ProductID)
}

// Policy holds the shipping and tax constants applied to every checkout.
type Policy struct {
	Currency              string
	FreeShippingThreshold int64
	ShippingFee           int64
	TaxRate               decimal.Decimal
}

// Line is a quantity intent for one product.
type Line struct {
	ProductID string
	Qty       int
}

type SnapshotLine struct {
	ProductID  string `json:"productId"`
	Title      string `json:"title"`
	Image      string `json:"image,omitempty"`
	Qty        int    `json:"qty"`
	UnitCents  int64  `json:"unitCents"`
	TotalCents int64  `json:"totalCents"`
}

// Snapshot is the priced content of one checkout attempt.
type Snapshot struct {
	Currency      string         `json:"currency"`
	Lines         []SnapshotLine `json:"lines"`
	SubtotalCents int64          `json:"subtotalCents"`
	ShippingCents int64          `json:"shippingCents"`
	TaxCents      int64          `json:"taxCents"`
	TotalCents    int64          `json:"totalCents"`
}

// BuildSnapshot prices lines with quotes under policy p. It depends on
// nothing else, so equal inputs give equal snapshots.
func BuildSnapshot(lines []Line, quotes map[string]product.Quote, p Policy) (Snapshot, error) {
	if len(lines) == 0 {
		return Snapshot{}, ErrEmptyCart
	}

	s := Snapshot{
		Currency: p.Currency,
		Lines:    make([]SnapshotLine, 0, len(lines)),
	}

	for _, l := range lines {
		q, ok := quotes[l.ProductID]
		if !ok {
			return Snapshot{}, &PriceUnavailableError{ProductID: l.ProductID}
		}

		if !cart.ValidQty(l.Qty) {
			return Snapshot{}, fmt.Errorf("line of product %s: %w", l.ProductID, cart.ErrInvalidQuantity)
		}

		lineTotal, err := mulCents(q.PriceCents, int64(l.Qty))
		if err != nil {
			return Snapshot{}, err
		}

		sl := SnapshotLine{
			ProductID:  l.ProductID,
			Title:      q.Title,
			Image:      q.Image,
			Qty:        l.Qty,
			UnitCents:  q.PriceCents,
			TotalCents: lineTotal,
		}
		s.Lines = append(s.Lines, sl)

		if s.SubtotalCents, err = addCents(s.SubtotalCents, sl.TotalCents); err != nil {
			return Snapshot{}, err
		}
	}

	if s.SubtotalCents < p.FreeShippingThreshold {
		s.ShippingCents = p.ShippingFee
	}

	var err error
	if s.TaxCents, err = Tax(s.SubtotalCents, p.TaxRate); err != nil {
		return Snapshot{}, err
	}

	total, err := addCents(s.SubtotalCents, s.ShippingCents)
	if err != nil {
		return Snapshot{}, err
	}
	if s.TotalCents, err = addCents(total, s.TaxCents); err != nil {
		return Snapshot{}, err
	}

	return s, nil
}

// mulCents and addCents work on non-negative amounts and fail instead of
// wrapping around.
func mulCents(unit, qty int64) (int64, error) {
	if unit < 0 || qty < 0 {
		return 0, ErrAmountTooLarge
	}
	if qty != 0 && unit > math.MaxInt64/qty {
		return 0, ErrAmountTooLarge
	}
	return unit * qty, nil
}

func addCents(a, b int64) (int64, error) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, ErrAmountTooLarge
	}
	return a + b, nil
}

// Tax rounds subtotal*rate half-up to a whole cent.
func Tax(subtotal int64, rate decimal.Decimal) (int64, error) {
	tax := decimal.NewFromInt(subtotal).Mul(rate).Round(0)
	if tax.IsNegative() || tax.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, ErrAmountTooLarge
	}
	return tax.IntPart(), nil
}
