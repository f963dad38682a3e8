package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go-stdlib/internal/user/entity"
)

var userCols = []string{"id", "email", "name", "password_hash", "role", "refresh_token", "created_at", "updated_at"}

func newRepoWithMock(t *testing.T) (*UserRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewUserRepo(sqlx.NewDb(db, "postgres")), mock
}

func TestUserRepo_Create(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)^INSERT INTO users \(id, email, name, password_hash, role\)\s+VALUES \(\$1, \$2, \$3, \$4, \$5\)$`).
		WithArgs("u1", "a@b.com", "A", "hash", entity.RoleUser).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.Create(context.Background(), &entity.User{ID: "u1", Email: "a@b.com", Name: "A", PasswordHash: "hash", Role: entity.RoleUser})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_UniqueViolation(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := r.Create(context.Background(), &entity.User{ID: "u2", Email: "a@b.com"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestUserRepo_Create_DBError(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO users`).WillReturnError(errors.New("db down"))

	err := r.Create(context.Background(), &entity.User{ID: "u2", Email: "a@b.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateEmail)
	assert.Contains(t, err.Error(), "db down")
}

func TestUserRepo_FindByEmail(t *testing.T) {
	r, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	rt := "tok"

	mock.ExpectQuery(`SELECT .+ FROM users WHERE email=\$1`).
		WithArgs("a@b.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "a@b.com", "A", "hash", "USER", rt, now, now))

	u, err := r.FindByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "A", u.Name)
	require.NotNil(t, u.RefreshToken)
	assert.Equal(t, "tok", *u.RefreshToken)
}

func TestUserRepo_FindByEmail_NotFound(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE email=\$1`).
		WithArgs("x@y.z").
		WillReturnError(sql.ErrNoRows)

	_, err := r.FindByEmail(context.Background(), "x@y.z")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepo_FindByRefreshToken_NullSlot(t *testing.T) {
	r, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM users WHERE refresh_token=\$1`).
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "a@b.com", "A", "hash", "USER", nil, now, now))

	u, err := r.FindByRefreshToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Nil(t, u.RefreshToken)
}

func TestUserRepo_SetRefreshToken(t *testing.T) {
	r, mock := newRepoWithMock(t)
	tok := "tok"

	mock.ExpectExec(`UPDATE users SET refresh_token=\$2, updated_at=NOW\(\) WHERE id=\$1`).
		WithArgs("u1", tok).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET refresh_token=\$2`).
		WithArgs("u1", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET refresh_token=\$2`).
		WithArgs("missing", tok).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, r.SetRefreshToken(ctx, "u1", &tok))
	require.NoError(t, r.SetRefreshToken(ctx, "u1", nil))
	require.ErrorIs(t, r.SetRefreshToken(ctx, "missing", &tok), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_SwapRefreshToken(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE users SET refresh_token=\$3, updated_at=NOW\(\) WHERE id=\$1 AND refresh_token=\$2`).
		WithArgs("u1", "old", "new").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET refresh_token=\$3`).
		WithArgs("u1", "stale", "new2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := r.SwapRefreshToken(context.Background(), "u1", "old", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.SwapRefreshToken(context.Background(), "u1", "stale", "new2")
	require.NoError(t, err)
	assert.False(t, ok)
}
