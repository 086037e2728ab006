package wishlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/core/product"
	"github.com/irsalhamdi/storefront/database"
	"github.com/jmoiron/sqlx"
)

var (
	ErrAlreadyListed  = errors.New("product already in wishlist")
	ErrNotListed      = errors.New("product not in wishlist")
	ErrUnknownProduct = errors.New("product does not exist")
)

type Item struct {
	AddedAt time.Time       `json:"addedAt" db:"added_at"`
	Product product.Product `json:"product" db:"product"`
}

type ItemNew struct {
	ProductID string `json:"productId" validate:"required,uuid"`
}

// List returns the user's wishlist, newest first. Products that left the
// catalog stay listed with their current status.
func List(ctx context.Context, db sqlx.QueryerContext, userID string) ([]Item, error) {
	const q = `
	SELECT
		w.created_at AS added_at,
		p.product_id AS "product.product_id",
		p.category_id AS "product.category_id",
		p.title AS "product.title",
		p.slug AS "product.slug",
		p.description AS "product.description",
		p.sku AS "product.sku",
		p.price_cents AS "product.price_cents",
		p.compare_at_cents AS "product.compare_at_cents",
		p.images AS "product.images",
		p.stock_quantity AS "product.stock_quantity",
		p.status AS "product.status",
		p.featured AS "product.featured",
		p.created_at AS "product.created_at",
		p.updated_at AS "product.updated_at"
	FROM wishlist_items w
	JOIN products p ON p.product_id = w.product_id
	WHERE w.user_id = $1
	ORDER BY w.created_at DESC`

	items := []Item{}
	if err := sqlx.SelectContext(ctx, db, &items, q, userID); err != nil {
		return nil, fmt.Errorf("selecting wishlist of user[%s]: %w", userID, err)
	}
	return items, nil
}

func Add(ctx context.Context, db sqlx.ExecerContext, userID, productID string, now time.Time) error {
	const q = `
	INSERT INTO wishlist_items (user_id, product_id, created_at)
	VALUES ($1, $2, $3)`

	if _, err := db.ExecContext(ctx, q, userID, productID, now); err != nil {
		err = database.Classify(err)
		switch {
		case errors.Is(err, database.ErrDBDuplicate):
			return ErrAlreadyListed
		case errors.Is(err, database.ErrDBReference):
			return ErrUnknownProduct
		}
		return fmt.Errorf("inserting wishlist item: %w", err)
	}
	return nil
}

func Remove(ctx context.Context, db sqlx.ExecerContext, userID, productID string) error {
	const q = `DELETE FROM wishlist_items WHERE user_id = $1 AND product_id = $2`

	res, err := db.ExecContext(ctx, q, userID, productID)
	if err != nil {
		return fmt.Errorf("deleting wishlist item: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotListed
	}
	return nil
}

func Clear(ctx context.Context, db sqlx.ExecerContext, userID string) error {
	const q = `DELETE FROM wishlist_items WHERE user_id = $1`

	if _, err := db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("clearing wishlist of user[%s]: %w", userID, err)
	}
	return nil
}
