package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/core/cart"
	"github.com/irsalhamdi/storefront/database"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
)

const columns = `order_id, user_id, provider, session_id, payment_intent_id, customer_name, customer_email,
	customer_phone, shipping_address, currency, subtotal_cents, shipping_cents, tax_cents, total_cents,
	status, created_at, updated_at`

// Store persists orders and applies payment outcomes exactly once.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Record inserts a pending order with its items.
func (s *Store) Record(ctx context.Context, ord Order) error {
	return database.Transaction(s.db, func(tx sqlx.ExtContext) error {
		return create(ctx, tx, ord)
	})
}

func create(ctx context.Context, tx sqlx.ExtContext, ord Order) error {
	const q = `
	INSERT INTO orders
		(order_id, user_id, provider, session_id, payment_intent_id, customer_name, customer_email,
		 customer_phone, shipping_address, currency, subtotal_cents, shipping_cents, tax_cents, total_cents,
		 status, created_at, updated_at)
	VALUES
		(:order_id, :user_id, :provider, :session_id, :payment_intent_id, :customer_name, :customer_email,
		 :customer_phone, :shipping_address, :currency, :subtotal_cents, :shipping_cents, :tax_cents, :total_cents,
		 :status, :created_at, :updated_at)`

	if len(ord.ShippingAddress) == 0 {
		ord.ShippingAddress = []byte("{}")
	}

	if _, err := sqlx.NamedExecContext(ctx, tx, q, ord); err != nil {
		return fmt.Errorf("inserting order[%s]: %w", ord.ID, err)
	}

	const qi = `
	INSERT INTO order_items
		(order_id, position, product_id, title, qty, unit_cents, total_cents, created_at)
	VALUES
		(:order_id, :position, :product_id, :title, :qty, :unit_cents, :total_cents, :created_at)`

	for i, it := range ord.Items {
		it.OrderID = ord.ID
		it.Position = i
		it.CreatedAt = ord.CreatedAt
		if _, err := sqlx.NamedExecContext(ctx, tx, qi, it); err != nil {
			return fmt.Errorf("inserting item %d of order[%s]: %w", i, ord.ID, err)
		}
	}
	return nil
}

func (s *Store) FetchBySession(ctx context.Context, sessionID string) (Order, error) {
	return s.fetchWithItems(ctx, `SELECT `+columns+` FROM orders WHERE session_id = $1`, sessionID)
}

func (s *Store) Fetch(ctx context.Context, id string) (Order, error) {
	if !validate.IsID(id) {
		return Order{}, ErrNotFound
	}
	return s.fetchWithItems(ctx, `SELECT `+columns+` FROM orders WHERE order_id = $1`, id)
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	q := `SELECT ` + columns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	orders := []Order{}
	if err := sqlx.SelectContext(ctx, s.db, &orders, q, userID); err != nil {
		return nil, fmt.Errorf("selecting orders of user[%s]: %w", userID, err)
	}
	return orders, nil
}

func (s *Store) fetchWithItems(ctx context.Context, q string, arg string) (Order, error) {
	var ord Order
	if err := sqlx.GetContext(ctx, s.db, &ord, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("selecting order: %w", err)
	}

	const qi = `
	SELECT order_id, position, product_id, title, qty, unit_cents, total_cents, created_at
	FROM order_items
	WHERE order_id = $1
	ORDER BY position`

	ord.Items = []Item{}
	if err := sqlx.SelectContext(ctx, s.db, &ord.Items, qi, ord.ID); err != nil {
		return Order{}, fmt.Errorf("selecting items of order[%s]: %w", ord.ID, err)
	}
	return ord, nil
}

// Apply records the event id and moves the matching pending order in the
// same transaction. A replayed event id commits nothing and reports
// Duplicate; a second event for an order that already left pending
// reports Unchanged.
func (s *Store) Apply(ctx context.Context, o Outcome) (Result, error) {
	res := Unchanged

	err := database.Transaction(s.db, func(tx sqlx.ExtContext) error {
		now := time.Now().UTC()

		const ledger = `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`

		r, err := tx.ExecContext(ctx, ledger, o.EventID, o.EventType, now)
		if err != nil {
			return fmt.Errorf("recording event[%s]: %w", o.EventID, err)
		}
		if n, err := r.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			res = Duplicate
			return nil
		}

		ord, err := locate(ctx, tx, o)
		if errors.Is(err, ErrNotFound) {
			if o.Status != Paid || o.Rebuild == nil {
				return nil
			}

			rb := *o.Rebuild
			rb.Status = Paid
			rb.CreatedAt, rb.UpdatedAt = now, now
			if err := create(ctx, tx, rb); err != nil {
				return fmt.Errorf("rebuilding order from event[%s]: %w", o.EventID, err)
			}
			if rb.UserID != nil {
				if err := cart.ClearUser(ctx, tx, *rb.UserID); err != nil {
					return err
				}
			}
			res = Applied
			return nil
		}
		if err != nil {
			return err
		}

		if ord.Status != Pending {
			if ord.Status == PaymentFailed && o.Status == Paid {
				res = Stale
			}
			return nil
		}

		const up = `
		UPDATE orders
		SET status = $1, payment_intent_id = COALESCE(payment_intent_id, NULLIF($2, '')), updated_at = $3
		WHERE order_id = $4 AND status = 'pending'`

		r, err = tx.ExecContext(ctx, up, o.Status, o.PaymentIntentID, now, ord.ID)
		if err != nil {
			return fmt.Errorf("updating status of order[%s]: %w", ord.ID, err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			return nil
		}

		if o.Status == Paid && ord.UserID != nil {
			if err := cart.ClearUser(ctx, tx, *ord.UserID); err != nil {
				return err
			}
		}

		res = Applied
		return nil
	})
	if err != nil {
		return 0, err
	}
	return res, nil
}

// locate finds and locks the order an outcome refers to.
func locate(ctx context.Context, tx sqlx.QueryerContext, o Outcome) (Order, error) {
	type key struct {
		column string
		value  string
	}

	var keys []key
	if validate.IsID(o.OrderID) {
		keys = append(keys, key{"order_id", o.OrderID})
	}
	if o.SessionID != "" {
		keys = append(keys, key{"session_id", o.SessionID})
	}
	if o.PaymentIntentID != "" {
		keys = append(keys, key{"payment_intent_id", o.PaymentIntentID})
	}

	for _, k := range keys {
		q := `SELECT ` + columns + ` FROM orders WHERE ` + k.column + ` = $1 FOR UPDATE`

		var ord Order
		err := sqlx.GetContext(ctx, tx, &ord, q, k.value)
		if err == nil {
			return ord, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Order{}, fmt.Errorf("selecting order by %s: %w", k.column, err)
		}
	}
	return Order{}, ErrNotFound
}
