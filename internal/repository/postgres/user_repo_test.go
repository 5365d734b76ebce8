package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/talko/internal/errs"
	"github.com/and161185/talko/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var userCols = []string{"id", "username", "password_hash", "created_at", "last_seen"}

func TestUserRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Username: "alice", PasswordHash: "$argon2id$..."}

	mock.ExpectQuery(`INSERT INTO users \(id, username, password_hash\) VALUES \(\$1, \$2, \$3\) RETURNING created_at, last_seen`).
		WithArgs(u.ID, u.Username, u.PasswordHash).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "last_seen"}).AddRow(now, now))
	require.NoError(t, r.Create(ctx, u))
	require.Equal(t, now, u.CreatedAt)
	require.Equal(t, now, u.LastSeen)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(u.ID, u.Username, u.PasswordHash).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	err := r.Create(ctx, u)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT id, username, password_hash, created_at, last_seen FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(userCols).AddRow(id, "alice", "h", now, now))
	u, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
	require.Equal(t, "alice", u.Username)

	mock.ExpectQuery(`FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_GetByUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`FROM users WHERE username=\$1`).
		WithArgs("bob").
		WillReturnRows(pgxmock.NewRows(userCols).AddRow(id, "bob", "h", now, now))
	u, err := r.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", u.Username)

	mock.ExpectQuery(`FROM users WHERE username=\$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByUsername(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_ListExcept(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	me := uuid.Must(uuid.NewV4())
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`FROM users WHERE id<>\$1 ORDER BY username`).
		WithArgs(me).
		WillReturnRows(pgxmock.NewRows(userCols).
			AddRow(a, "bob", "h", now, now).
			AddRow(b, "carol", "h", now, now))
	users, err := r.ListExcept(context.Background(), me)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "bob", users[0].Username)
	require.Equal(t, b, users[1].ID)

	mock.ExpectQuery(`FROM users WHERE id<>\$1`).
		WithArgs(me).
		WillReturnRows(pgxmock.NewRows(userCols))
	users, err = r.ListExcept(context.Background(), me)
	require.NoError(t, err)
	require.NotNil(t, users)
	require.Empty(t, users)
}

func TestUserRepo_TouchLastSeen(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)
	id := uuid.Must(uuid.NewV4())
	at := time.Now()

	mock.ExpectExec(`UPDATE users SET last_seen=\$2 WHERE id=\$1`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.TouchLastSeen(context.Background(), id, at))

	mock.ExpectExec(`UPDATE users SET last_seen`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.TouchLastSeen(context.Background(), id, at), errs.ErrNotFound)
}

func TestDB_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	db := &DB{Pool: mock}

	mock.ExpectPing()
	require.NoError(t, db.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
