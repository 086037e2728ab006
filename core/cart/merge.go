package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/database"
	"github.com/jmoiron/sqlx"
)

type MergeOutcome int

const (
	// Merged means anonymous lines were folded into the user cart.
	Merged MergeOutcome = iota + 1
	// NoAnonymousCart means there was nothing to merge.
	NoAnonymousCart
	// EmptyAnonymousCart means the anonymous cart existed but had no lines.
	// It has been discarded.
	EmptyAnonymousCart
)

type MergeResult struct {
	Outcome MergeOutcome
	CartID  string
}

func (m MergeResult) Noop() bool { return m.Outcome != Merged }

type Merger interface {
	Merge(ctx context.Context, token, userID string) (MergeResult, error)
}

type mergedLine struct {
	ProductID string `db:"product_id"`
	Qty       int    `db:"qty"`
}

// MergeEngine folds an anonymous cart into a user cart.
type MergeEngine struct {
	db *sqlx.DB
}

func NewMergeEngine(db *sqlx.DB) *MergeEngine {
	return &MergeEngine{db: db}
}

// Merge consumes the anonymous cart bound to token exactly once. Taking the
// anonymous lines, summing them into the user cart and dropping the
// anonymous cart all commit together, so a retry after any failure either
// redoes the whole merge or observes no anonymous cart and reports a noop.
func (m *MergeEngine) Merge(ctx context.Context, token, userID string) (MergeResult, error) {
	res := MergeResult{Outcome: NoAnonymousCart}
	if token == "" {
		return res, nil
	}

	err := database.Transaction(m.db, func(tx sqlx.ExtContext) error {
		const lock = `
		SELECT cart_id, user_id, token, created_at, updated_at
		FROM carts
		WHERE token = $1
		FOR UPDATE`

		c, err := selectCart(ctx, tx, lock, token)
		if err != nil {
			if errors.Is(err, errNoCart) {
				return nil
			}
			return err
		}
		cartID := c.ID

		const take = `DELETE FROM cart_lines WHERE cart_id = $1 RETURNING product_id, qty`
		var lines []mergedLine
		if err := sqlx.SelectContext(ctx, tx, &lines, take, cartID); err != nil {
			return fmt.Errorf("taking lines of anonymous cart[%s]: %w", cartID, err)
		}

		if err := deleteCart(ctx, tx, cartID); err != nil {
			return err
		}

		if len(lines) == 0 {
			res.Outcome = EmptyAnonymousCart
			return nil
		}

		now := time.Now().UTC()
		uc, err := ensureUserCart(ctx, tx, userID, now)
		if err != nil {
			return err
		}

		for _, l := range lines {
			if err := mergeLine(ctx, tx, uc.ID, l.ProductID, l.Qty, now); err != nil {
				return err
			}
		}

		res = MergeResult{Outcome: Merged, CartID: uc.ID}
		return nil
	})
	if err != nil {
		return MergeResult{}, fmt.Errorf("merging anonymous cart into cart of user[%s]: %w", userID, err)
	}

	return res, nil
}
