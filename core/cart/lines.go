package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/database"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
)

func selectCart(ctx context.Context, db sqlx.QueryerContext, q string, arg string) (Cart, error) {
	var c Cart
	if err := sqlx.GetContext(ctx, db, &c, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cart{}, errNoCart
		}
		return Cart{}, fmt.Errorf("selecting cart: %w", err)
	}
	return c, nil
}

func selectLines(ctx context.Context, db sqlx.QueryerContext, cartID string) ([]Line, error) {
	const q = `
	SELECT line_id, cart_id, product_id, qty, created_at, updated_at
	FROM cart_lines
	WHERE cart_id = $1
	ORDER BY created_at, line_id`

	lines := []Line{}
	if err := sqlx.SelectContext(ctx, db, &lines, q, cartID); err != nil {
		return nil, fmt.Errorf("selecting lines of cart[%s]: %w", cartID, err)
	}
	return lines, nil
}

// insertLine adds qty to the line of productID. The unique (cart, product)
// pair makes concurrent adds sum instead of duplicating the line. A sum
// above MaxQty leaves the line untouched and fails with ErrInvalidQuantity.
func insertLine(ctx context.Context, db sqlx.ExtContext, cartID, productID string, qty int, now time.Time) error {
	const q = `
	INSERT INTO cart_lines (line_id, cart_id, product_id, qty, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (cart_id, product_id)
	DO UPDATE SET qty = cart_lines.qty + EXCLUDED.qty, updated_at = EXCLUDED.updated_at
	WHERE cart_lines.qty + EXCLUDED.qty <= $6`

	return upsertLine(ctx, db, q, cartID, productID, qty, now)
}

// mergeLine is insertLine for merges: the summed quantity is capped at
// MaxQty so that signing in never fails on an oversized sum.
func mergeLine(ctx context.Context, db sqlx.ExtContext, cartID, productID string, qty int, now time.Time) error {
	const q = `
	INSERT INTO cart_lines (line_id, cart_id, product_id, qty, created_at, updated_at)
	VALUES ($1, $2, $3, LEAST($4::integer, $6::integer), $5, $5)
	ON CONFLICT (cart_id, product_id)
	DO UPDATE SET qty = LEAST(cart_lines.qty + EXCLUDED.qty, $6::integer), updated_at = EXCLUDED.updated_at`

	return upsertLine(ctx, db, q, cartID, productID, qty, now)
}

func upsertLine(ctx context.Context, db sqlx.ExtContext, q, cartID, productID string, qty int, now time.Time) error {
	res, err := db.ExecContext(ctx, q, validate.GenerateID(), cartID, productID, qty, now, MaxQty)
	if err != nil {
		if errors.Is(database.Classify(err), database.ErrDBReference) {
			return ErrUnknownProduct
		}
		return fmt.Errorf("upserting line of product[%s]: %w", productID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrInvalidQuantity
	}
	return nil
}

func ensureUserCart(ctx context.Context, db sqlx.ExtContext, userID string, now time.Time) (Cart, error) {
	const q = `
	INSERT INTO carts (cart_id, user_id, created_at, updated_at)
	VALUES ($1, $2, $3, $3)
	ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
	RETURNING cart_id, user_id, token, created_at, updated_at`

	var c Cart
	if err := sqlx.GetContext(ctx, db, &c, q, validate.GenerateID(), userID, now); err != nil {
		return Cart{}, fmt.Errorf("ensuring cart of user[%s]: %w", userID, err)
	}
	return c, nil
}

func deleteLines(ctx context.Context, db sqlx.ExecerContext, cartID string) error {
	const q = `DELETE FROM cart_lines WHERE cart_id = $1`
	if _, err := db.ExecContext(ctx, q, cartID); err != nil {
		return fmt.Errorf("deleting lines of cart[%s]: %w", cartID, err)
	}
	return nil
}

func deleteCart(ctx context.Context, db sqlx.ExecerContext, cartID string) error {
	const q = `DELETE FROM carts WHERE cart_id = $1`
	if _, err := db.ExecContext(ctx, q, cartID); err != nil {
		return fmt.Errorf("deleting cart[%s]: %w", cartID, err)
	}
	return nil
}

// ClearUser empties the cart of a user. It is a no-op when the user has no cart.
func ClearUser(ctx context.Context, db sqlx.ExecerContext, userID string) error {
	const q = `DELETE FROM cart_lines WHERE cart_id = (SELECT cart_id FROM carts WHERE user_id = $1)`
	if _, err := db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("clearing cart of user[%s]: %w", userID, err)
	}
	return nil
}
