package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/storefront/database"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already in use")
)

type User struct {
	ID           string    `json:"id" db:"user_id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	Role         string    `json:"role" db:"role"`
	PasswordHash []byte    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

type UserSignup struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"passwordConfirm" validate:"eqfield=Password"`
}

type UserLogin struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RoleUp struct {
	Role string `json:"role" validate:"required,oneof=ADMIN USER"`
}

const columns = `user_id, name, email, role, password_hash, created_at, updated_at`

func Create(ctx context.Context, db sqlx.ExtContext, usr User) error {
	const q = `
	INSERT INTO users
		(user_id, name, email, role, password_hash, created_at, updated_at)
	VALUES
		(:user_id, :name, :email, :role, :password_hash, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, usr); err != nil {
		if errors.Is(database.Classify(err), database.ErrDBDuplicate) {
			return ErrEmailTaken
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func Fetch(ctx context.Context, db sqlx.QueryerContext, id string) (User, error) {
	q := `SELECT ` + columns + ` FROM users WHERE user_id = $1`
	return fetch(ctx, db, q, id)
}

func FetchByEmail(ctx context.Context, db sqlx.QueryerContext, email string) (User, error) {
	q := `SELECT ` + columns + ` FROM users WHERE email = $1`
	return fetch(ctx, db, q, email)
}

func fetch(ctx context.Context, db sqlx.QueryerContext, q string, arg string) (User, error) {
	var usr User
	if err := sqlx.GetContext(ctx, db, &usr, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("selecting user: %w", err)
	}
	return usr, nil
}

func List(ctx context.Context, db sqlx.QueryerContext, page, rows int) ([]User, error) {
	q := `SELECT ` + columns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	users := []User{}
	if err := sqlx.SelectContext(ctx, db, &users, q, rows, (page-1)*rows); err != nil {
		return nil, fmt.Errorf("selecting users: %w", err)
	}
	return users, nil
}

func UpdateRole(ctx context.Context, db sqlx.ExecerContext, id string, role string, now time.Time) error {
	const q = `UPDATE users SET role = $1, updated_at = $2 WHERE user_id = $3`

	res, err := db.ExecContext(ctx, q, role, now, id)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	return mustAffect(res)
}

func Delete(ctx context.Context, db sqlx.ExecerContext, id string) error {
	const q = `DELETE FROM users WHERE user_id = $1`

	res, err := db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return mustAffect(res)
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
