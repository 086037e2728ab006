package product

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrPricingUnavailable means current prices could not be read. Callers
// must not fall back to any previously seen price.
var ErrPricingUnavailable = errors.New("pricing unavailable")

// Quote is the authoritative sale data of a product at the time of the call.
type Quote struct {
	ProductID  string `json:"id" db:"product_id"`
	PriceCents int64  `json:"price_cents" db:"price_cents"`
	Title      string `json:"-" db:"title"`
	Image      string `json:"-" db:"image"`
}

// Oracle reads current unit prices. Only active products are quoted;
// unknown, draft and archived products are left out of the result.
type Oracle struct {
	db      sqlx.QueryerContext
	timeout time.Duration
}

func NewOracle(db sqlx.QueryerContext, timeout time.Duration) *Oracle {
	return &Oracle{db: db, timeout: timeout}
}

func (o *Oracle) Quote(ctx context.Context, ids []string) (map[string]Quote, error) {
	keys := normalizeIDs(ids)
	quotes := make(map[string]Quote, len(keys))
	if len(keys) == 0 {
		return quotes, nil
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	const q = `
	SELECT product_id, price_cents, title, COALESCE(images[1], '') AS image
	FROM products
	WHERE product_id = ANY($1::uuid[]) AND status = 'active'`

	var rows []Quote
	if err := sqlx.SelectContext(ctx, o.db, &rows, q, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}

	found := make(map[string]Quote, len(rows))
	for _, r := range rows {
		found[r.ProductID] = r
	}

	// Answer under the identifiers the caller used.
	for _, id := range ids {
		if qt, ok := found[strings.ToLower(id)]; ok {
			qt.ProductID = id
			quotes[id] = qt
		}
	}
	return quotes, nil
}

// normalizeIDs drops duplicates and identifiers that cannot name a product.
func normalizeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(id)
		if seen[id] || !validate.IsID(id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
