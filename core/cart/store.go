package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/database"
	"github.com/irsalhamdi/storefront/random"
	"github.com/irsalhamdi/storefront/validate"
	"github.com/jmoiron/sqlx"
)

const tokenLength = 32

var errNoCart = errors.New("no cart for identity")

// variant knows how one kind of identity maps onto a carts row.
type variant interface {
	locate(ctx context.Context, db sqlx.QueryerContext, id Identity) (Cart, error)
	create(ctx context.Context, db sqlx.ExtContext, id Identity, now time.Time) (Cart, error)
	discard(ctx context.Context, db sqlx.ExtContext, c Cart) error
}

type store struct {
	db *sqlx.DB
	v  variant
}

func NewAnonymousStore(db *sqlx.DB) Store {
	return &store{db: db, v: anonymousCarts{}}
}

func NewUserStore(db *sqlx.DB) Store {
	return &store{db: db, v: userCarts{}}
}

func (s *store) Get(ctx context.Context, id Identity) (Cart, error) {
	c, err := s.v.locate(ctx, s.db, id)
	if err != nil {
		if errors.Is(err, errNoCart) {
			return Cart{Lines: []Line{}}, nil
		}
		return Cart{}, err
	}

	if c.Lines, err = selectLines(ctx, s.db, c.ID); err != nil {
		return Cart{}, err
	}
	return c, nil
}

func (s *store) AddLine(ctx context.Context, id Identity, productID string, qty int) (Cart, error) {
	if !ValidQty(qty) {
		return Cart{}, ErrInvalidQuantity
	}
	if !validate.IsID(productID) {
		return Cart{}, ErrUnknownProduct
	}

	var c Cart
	err := database.Transaction(s.db, func(tx sqlx.ExtContext) error {
		now := time.Now().UTC()

		var err error
		c, err = s.v.locate(ctx, tx, id)
		if errors.Is(err, errNoCart) {
			c, err = s.v.create(ctx, tx, id, now)
		}
		if err != nil {
			return err
		}

		if err := insertLine(ctx, tx, c.ID, productID, qty, now); err != nil {
			return err
		}

		c.Lines, err = selectLines(ctx, tx, c.ID)
		return err
	})
	if err != nil {
		return Cart{}, err
	}
	return c, nil
}

func (s *store) SetLineQty(ctx context.Context, id Identity, lineID string, qty int) (Cart, error) {
	if !ValidQty(qty) {
		return Cart{}, ErrInvalidQuantity
	}

	const q = `UPDATE cart_lines SET qty = $1, updated_at = $2 WHERE line_id = $3 AND cart_id = $4`
	return s.mutateLine(ctx, id, lineID, func(tx sqlx.ExtContext, c Cart) (sql.Result, error) {
		return tx.ExecContext(ctx, q, qty, time.Now().UTC(), lineID, c.ID)
	})
}

func (s *store) RemoveLine(ctx context.Context, id Identity, lineID string) (Cart, error) {
	const q = `DELETE FROM cart_lines WHERE line_id = $1 AND cart_id = $2`
	return s.mutateLine(ctx, id, lineID, func(tx sqlx.ExtContext, c Cart) (sql.Result, error) {
		return tx.ExecContext(ctx, q, lineID, c.ID)
	})
}

func (s *store) mutateLine(ctx context.Context, id Identity, lineID string, f func(sqlx.ExtContext, Cart) (sql.Result, error)) (Cart, error) {
	if !validate.IsID(lineID) {
		return Cart{}, ErrNotFound
	}

	var c Cart
	err := database.Transaction(s.db, func(tx sqlx.ExtContext) error {
		var err error
		c, err = s.v.locate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, errNoCart) {
				return ErrNotFound
			}
			return err
		}

		res, err := f(tx, c)
		if err != nil {
			return fmt.Errorf("writing line[%s]: %w", lineID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}

		c.Lines, err = selectLines(ctx, tx, c.ID)
		return err
	})
	if err != nil {
		return Cart{}, err
	}
	return c, nil
}

func (s *store) Clear(ctx context.Context, id Identity) error {
	return database.Transaction(s.db, func(tx sqlx.ExtContext) error {
		c, err := s.v.locate(ctx, tx, id)
		if err != nil {
			if errors.Is(err, errNoCart) {
				return nil
			}
			return err
		}
		return s.v.discard(ctx, tx, c)
	})
}

// =============================================================================

type anonymousCarts struct{}

func (anonymousCarts) locate(ctx context.Context, db sqlx.QueryerContext, id Identity) (Cart, error) {
	if id.Token == "" {
		return Cart{}, errNoCart
	}
	const q = `SELECT cart_id, user_id, token, created_at, updated_at FROM carts WHERE token = $1`
	return selectCart(ctx, db, q, id.Token)
}

// create always allocates a fresh token: a token without a live cart was
// invalidated by a merge or a clear and must not be revived.
func (anonymousCarts) create(ctx context.Context, db sqlx.ExtContext, id Identity, now time.Time) (Cart, error) {
	token, err := random.StringSecure(tokenLength)
	if err != nil {
		return Cart{}, fmt.Errorf("generating cart token: %w", err)
	}

	c := Cart{
		ID:        validate.GenerateID(),
		Token:     &token,
		CreatedAt: now,
		UpdatedAt: now,
	}

	const q = `
	INSERT INTO carts (cart_id, token, created_at, updated_at)
	VALUES (:cart_id, :token, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, c); err != nil {
		return Cart{}, fmt.Errorf("inserting anonymous cart: %w", err)
	}
	return c, nil
}

func (anonymousCarts) discard(ctx context.Context, db sqlx.ExtContext, c Cart) error {
	return deleteCart(ctx, db, c.ID)
}

type userCarts struct{}

func (userCarts) locate(ctx context.Context, db sqlx.QueryerContext, id Identity) (Cart, error) {
	if id.UserID == "" {
		return Cart{}, errNoCart
	}
	const q = `SELECT cart_id, user_id, token, created_at, updated_at FROM carts WHERE user_id = $1`
	return selectCart(ctx, db, q, id.UserID)
}

func (userCarts) create(ctx context.Context, db sqlx.ExtContext, id Identity, now time.Time) (Cart, error) {
	return ensureUserCart(ctx, db, id.UserID, now)
}

func (userCarts) discard(ctx context.Context, db sqlx.ExtContext, c Cart) error {
	return deleteLines(ctx, db, c.ID)
}

// =============================================================================

// Stores dispatches every call to the variant matching the identity kind.
type Stores struct {
	anonymous Store
	user      Store
}

func NewStores(db *sqlx.DB) *Stores {
	return &Stores{
		anonymous: NewAnonymousStore(db),
		user:      NewUserStore(db),
	}
}

func (s *Stores) pick(id Identity) (Store, error) {
	switch id.Kind {
	case Anonymous:
		return s.anonymous, nil
	case User:
		return s.user, nil
	}
	return nil, ErrUnknownIdentity
}

func (s *Stores) Get(ctx context.Context, id Identity) (Cart, error) {
	st, err := s.pick(id)
	if err != nil {
		return Cart{}, err
	}
	return st.Get(ctx, id)
}

func (s *Stores) AddLine(ctx context.Context, id Identity, productID string, qty int) (Cart, error) {
	st, err := s.pick(id)
	if err != nil {
		return Cart{}, err
	}
	return st.AddLine(ctx, id, productID, qty)
}

func (s *Stores) SetLineQty(ctx context.Context, id Identity, lineID string, qty int) (Cart, error) {
	st, err := s.pick(id)
	if err != nil {
		return Cart{}, err
	}
	return st.SetLineQty(ctx, id, lineID, qty)
}

func (s *Stores) RemoveLine(ctx context.Context, id Identity, lineID string) (Cart, error) {
	st, err := s.pick(id)
	if err != nil {
		return Cart{}, err
	}
	return st.RemoveLine(ctx, id, lineID)
}

func (s *Stores) Clear(ctx context.Context, id Identity) error {
	st, err := s.pick(id)
	if err != nil {
		return err
	}
	return st.Clear(ctx, id)
}
