package postgres

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/talko/internal/errs"
	"github.com/and161185/talko/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, username, password_hash, created_at, last_seen`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.LastSeen); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

// Create inserts a new user row and fills in the server-assigned timestamps.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, username, password_hash)
VALUES ($1, $2, $3)
RETURNING created_at, last_seen`
	err := r.db.Pool.QueryRow(ctx, q, u.ID, u.Username, u.PasswordHash).Scan(&u.CreatedAt, &u.LastSeen)
	return mapErr(err)
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE username=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, username))
}

// ListExcept returns all users but id.
func (r *UserRepo) ListExcept(ctx context.Context, id uuid.UUID) ([]model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id<>$1 ORDER BY username`
	rows, err := r.db.Pool.Query(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// TouchLastSeen updates last_seen for id.
func (r *UserRepo) TouchLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE users SET last_seen=$2 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
