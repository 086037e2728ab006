package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/irsalhamdi/storefront/database"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound  = errors.New("product not found")
	ErrSlugTaken = errors.New("slug already in use")
)

type Status string

const (
	Active   Status = "active"
	Draft    Status = "draft"
	Archived Status = "archived"
)

const (
	DefaultPageSize = 12
	featuredLimit   = 8
	relatedLimit    = 4
)

type Product struct {
	ID             string         `json:"id" db:"product_id"`
	CategoryID     *string        `json:"categoryId" db:"category_id"`
	Title          string         `json:"title" db:"title"`
	Slug           string         `json:"slug" db:"slug"`
	Description    string         `json:"description" db:"description"`
	SKU            string         `json:"sku" db:"sku"`
	PriceCents     int64          `json:"priceCents" db:"price_cents"`
	CompareAtCents *int64         `json:"compareAtCents" db:"compare_at_cents"`
	Images         pq.StringArray `json:"images" db:"images"`
	StockQuantity  int            `json:"stockQuantity" db:"stock_quantity"`
	Status         Status         `json:"status" db:"status"`
	Featured       bool           `json:"featured" db:"featured"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time      `json:"updatedAt" db:"updated_at"`
}

type ProductNew struct {
	CategoryID     *string  `json:"categoryId" validate:"omitempty,uuid"`
	Title          string   `json:"title" validate:"required"`
	Slug           string   `json:"slug" validate:"required"`
	Description    string   `json:"description"`
	SKU            string   `json:"sku"`
	PriceCents     int64    `json:"priceCents" validate:"gte=0"`
	CompareAtCents *int64   `json:"compareAtCents" validate:"omitempty,gte=0"`
	Images         []string `json:"images" validate:"dive,url"`
	StockQuantity  int      `json:"stockQuantity" validate:"gte=0"`
	Status         Status   `json:"status" validate:"omitempty,oneof=active draft archived"`
	Featured       bool     `json:"featured"`
}

type ProductUp struct {
	CategoryID     *string   `json:"categoryId" validate:"omitempty,uuid"`
	Title          *string   `json:"title" validate:"omitempty,min=1"`
	Slug           *string   `json:"slug" validate:"omitempty,min=1"`
	Description    *string   `json:"description"`
	SKU            *string   `json:"sku"`
	PriceCents     *int64    `json:"priceCents" validate:"omitempty,gte=0"`
	CompareAtCents *int64    `json:"compareAtCents" validate:"omitempty,gte=0"`
	Images         *[]string `json:"images" validate:"omitempty,dive,url"`
	StockQuantity  *int      `json:"stockQuantity" validate:"omitempty,gte=0"`
	Status         *Status   `json:"status" validate:"omitempty,oneof=active draft archived"`
	Featured       *bool     `json:"featured"`
}

type Category struct {
	ID        string    `json:"id" db:"category_id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Filter narrows a catalog listing. Only active products are ever listed.
type Filter struct {
	Search   string
	Category string
	Sort     string
	Page     int
	PageSize int
}

type Page struct {
	Items    []Product `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"pageSize"`
}

const columns = `p.product_id, p.category_id, p.title, p.slug, p.description, p.sku, p.price_cents,
	p.compare_at_cents, p.images, p.stock_quantity, p.status, p.featured, p.created_at, p.updated_at`

func List(ctx context.Context, db sqlx.QueryerContext, f Filter) (Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}

	where := []string{"p.status = 'active'"}
	args := []interface{}{}

	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(p.title ILIKE $%d OR p.description ILIKE $%d OR p.sku ILIKE $%d)", n, n, n))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("p.category_id = (SELECT category_id FROM categories WHERE slug = $%d)", len(args)))
	}

	order := "p.created_at DESC"
	switch f.Sort {
	case "price-asc":
		order = "p.price_cents ASC"
	case "price-desc":
		order = "p.price_cents DESC"
	}

	cond := strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, db, &total, `SELECT count(*) FROM products p WHERE `+cond, args...); err != nil {
		return Page{}, fmt.Errorf("counting products: %w", err)
	}

	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	q := fmt.Sprintf(`SELECT %s FROM products p WHERE %s ORDER BY %s, p.product_id LIMIT $%d OFFSET $%d`,
		columns, cond, order, len(args)-1, len(args))

	items := []Product{}
	if err := sqlx.SelectContext(ctx, db, &items, q, args...); err != nil {
		return Page{}, fmt.Errorf("selecting products: %w", err)
	}

	return Page{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func ListFeatured(ctx context.Context, db sqlx.QueryerContext) ([]Product, error) {
	q := `SELECT ` + columns + ` FROM products p
	WHERE p.status = 'active' AND p.featured
	ORDER BY p.created_at DESC LIMIT $1`

	items := []Product{}
	if err := sqlx.SelectContext(ctx, db, &items, q, featuredLimit); err != nil {
		return nil, fmt.Errorf("selecting featured products: %w", err)
	}
	return items, nil
}

// ListRelated returns active products sharing the category of p.
func ListRelated(ctx context.Context, db sqlx.QueryerContext, p Product) ([]Product, error) {
	items := []Product{}
	if p.CategoryID == nil {
		return items, nil
	}

	q := `SELECT ` + columns + ` FROM products p
	WHERE p.status = 'active' AND p.category_id = $1 AND p.product_id <> $2
	ORDER BY p.created_at DESC LIMIT $3`

	if err := sqlx.SelectContext(ctx, db, &items, q, *p.CategoryID, p.ID, relatedLimit); err != nil {
		return nil, fmt.Errorf("selecting related products: %w", err)
	}
	return items, nil
}

func Fetch(ctx context.Context, db sqlx.QueryerContext, id string) (Product, error) {
	q := `SELECT ` + columns + ` FROM products p WHERE p.product_id = $1`
	return fetch(ctx, db, q, id)
}

func FetchBySlug(ctx context.Context, db sqlx.QueryerContext, slug string) (Product, error) {
	q := `SELECT ` + columns + ` FROM products p WHERE p.slug = $1 AND p.status = 'active'`
	return fetch(ctx, db, q, slug)
}

func fetch(ctx context.Context, db sqlx.QueryerContext, q string, arg string) (Product, error) {
	var p Product
	if err := sqlx.GetContext(ctx, db, &p, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("selecting product: %w", err)
	}
	return p, nil
}

func Create(ctx context.Context, db sqlx.ExtContext, p Product) error {
	const q = `
	INSERT INTO products
		(product_id, category_id, title, slug, description, sku, price_cents, compare_at_cents,
		 images, stock_quantity, status, featured, created_at, updated_at)
	VALUES
		(:product_id, :category_id, :title, :slug, :description, :sku, :price_cents, :compare_at_cents,
		 :images, :stock_quantity, :status, :featured, :created_at, :updated_at)`

	if p.Images == nil {
		p.Images = pq.StringArray{}
	}

	if _, err := sqlx.NamedExecContext(ctx, db, q, p); err != nil {
		return classify(err)
	}
	return nil
}

func Update(ctx context.Context, db sqlx.ExtContext, p Product) error {
	const q = `
	UPDATE products SET
		category_id = :category_id,
		title = :title,
		slug = :slug,
		description = :description,
		sku = :sku,
		price_cents = :price_cents,
		compare_at_cents = :compare_at_cents,
		images = :images,
		stock_quantity = :stock_quantity,
		status = :status,
		featured = :featured,
		updated_at = :updated_at
	WHERE product_id = :product_id`

	if p.Images == nil {
		p.Images = pq.StringArray{}
	}

	res, err := sqlx.NamedExecContext(ctx, db, q, p)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func Delete(ctx context.Context, db sqlx.ExecerContext, id string) error {
	const q = `DELETE FROM products WHERE product_id = $1`

	res, err := db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("deleting product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func ListCategories(ctx context.Context, db sqlx.QueryerContext) ([]Category, error) {
	const q = `SELECT category_id, name, slug, created_at FROM categories ORDER BY name`

	cats := []Category{}
	if err := sqlx.SelectContext(ctx, db, &cats, q); err != nil {
		return nil, fmt.Errorf("selecting categories: %w", err)
	}
	return cats, nil
}

func classify(err error) error {
	err = database.Classify(err)
	switch {
	case errors.Is(err, database.ErrDBDuplicate):
		return ErrSlugTaken
	case errors.Is(err, database.ErrDBReference):
		return fmt.Errorf("unknown category: %w", err)
	}
	return fmt.Errorf("writing product: %w", err)
}
