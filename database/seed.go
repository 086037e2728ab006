package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type seedProduct struct {
	ID       string
	Category string
	Title    string
	Slug     string
	SKU      string
	Price    int64
	Images   []string
	Featured bool
}

var seedCategories = map[string][2]string{
	"3b0a2f6e-4f4a-4d1e-9a61-0c4f1a1b7c01": {"Apparel", "apparel"},
	"3b0a2f6e-4f4a-4d1e-9a61-0c4f1a1b7c02": {"Accessories", "accessories"},
}

var seedProducts = []seedProduct{
	{"6c1e5d2a-8b3f-4c7e-a1d2-5f6e7a8b9c01", "3b0a2f6e-4f4a-4d1e-9a61-0c4f1a1b7c01", "Classic Tee", "classic-tee", "TEE-001", 1500, []string{"https://cdn.example.com/classic-tee.jpg"}, true},
	{"6c1e5d2a-8b3f-4c7e-a1d2-5f6e7a8b9c02", "3b0a2f6e-4f4a-4d1e-9a61-0c4f1a1b7c01", "Hoodie", "hoodie", "HOOD-001", 4500, []string{"https://cdn.example.com/hoodie.jpg"}, true},
	{"6c1e5d2a-8b3f-4c7e-a1d2-5f6e7a8b9c03", "3b0a2f6e-4f4a-4d1e-9a61-0c4f1a1b7c02", "Canvas Tote", "canvas-tote", "TOTE-001", 2000, []string{"https://cdn.example.com/tote.jpg"}, false},
	{"6c1e5d2a-8b3f-4c7e-a1d2-5f6e7a8b9c04", "3b0a2f6e-4f4a-4d1e-9a61-0c4f1a1b7c02", "Enamel Pin", "enamel-pin", "PIN-001", 800, []string{}, false},
}

// Seed inserts a small demo catalog. Rows that already exist are left untouched.
func Seed(ctx context.Context, db *sqlx.DB) error {
	return Transaction(db, func(tx sqlx.ExtContext) error {
		now := time.Now().UTC()

		const qc = `
		INSERT INTO categories (category_id, name, slug, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (slug) DO NOTHING`

		for id, c := range seedCategories {
			if _, err := tx.ExecContext(ctx, qc, id, c[0], c[1], now); err != nil {
				return fmt.Errorf("seeding category[%s]: %w", c[1], err)
			}
		}

		const qp = `
		INSERT INTO products
			(product_id, category_id, title, slug, sku, price_cents, images, featured, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (slug) DO NOTHING`

		for _, p := range seedProducts {
			if _, err := tx.ExecContext(ctx, qp, p.ID, p.Category, p.Title, p.Slug, p.SKU, p.Price, pq.StringArray(p.Images), p.Featured, now); err != nil {
				return fmt.Errorf("seeding product[%s]: %w", p.Slug, err)
			}
		}

		return nil
	})
}
