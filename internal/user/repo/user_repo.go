package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/user/entity"
)

const uniqueViolation = "23505"

const userColumns = `id, email, name, password_hash, role, refresh_token, created_at, updated_at`

// UserRepo provides data access for the users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row. A taken email yields ErrDuplicateEmail.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (id, email, name, password_hash, role)
		VALUES (:id, :email, :name, :password_hash, :role)`
	if _, err := r.db.NamedExecContext(ctx, q, u); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// FindByEmail returns a user matched by email (case-insensitive due to citext).
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
}

// FindByRefreshToken returns the user whose stored refresh token equals token.
func (r *UserRepo) FindByRefreshToken(ctx context.Context, token string) (*entity.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE refresh_token=$1`, token)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*entity.User, error) {
	var u entity.User
	if err := r.db.GetContext(ctx, &u, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

// SetRefreshToken overwrites the refresh-token slot; nil clears it.
// The single-row UPDATE is atomic, so concurrent logins resolve to last writer.
func (r *UserRepo) SetRefreshToken(ctx context.Context, id string, token *string) error {
	const q = `UPDATE users SET refresh_token=$2, updated_at=NOW() WHERE id=$1`
	res, err := r.db.ExecContext(ctx, q, id, token)
	if err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	return expectOneRow(res)
}

// SwapRefreshToken replaces the slot only if it still holds old.
func (r *UserRepo) SwapRefreshToken(ctx context.Context, id, old, next string) (bool, error) {
	const q = `UPDATE users SET refresh_token=$3, updated_at=NOW() WHERE id=$1 AND refresh_token=$2`
	res, err := r.db.ExecContext(ctx, q, id, old, next)
	if err != nil {
		return false, fmt.Errorf("swap refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
