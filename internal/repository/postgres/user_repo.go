package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/zann-project/zann/internal/errs"
	"github.com/zann-project/zann/internal/model"
	"github.com/zann-project/zann/internal/repository"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, email, pwd_hash, auth_salt, kdf_salt, kdf_algorithm, kdf_iterations, kdf_memory_kb, kdf_parallelism)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Pool.Exec(ctx, q,
		u.ID, u.Email, u.PwdHash, u.AuthSalt, u.KdfSalt,
		u.KdfParams.Algorithm, u.KdfParams.Iterations, u.KdfParams.MemoryKB, u.KdfParams.Parallelism,
	)
	if isUniqueViolation(err) {
		return errs.New(errs.KindEmailExists, "email already registered")
	}
	return err
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID, &u.Email, &u.PwdHash, &u.AuthSalt, &u.KdfSalt,
		&u.KdfParams.Algorithm, &u.KdfParams.Iterations, &u.KdfParams.MemoryKB, &u.KdfParams.Parallelism,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

// GetByID selects a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `
SELECT id, email, pwd_hash, auth_salt, kdf_salt, kdf_algorithm, kdf_iterations, kdf_memory_kb, kdf_parallelism, created_at
FROM users WHERE id=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const q = `
SELECT id, email, pwd_hash, auth_salt, kdf_salt, kdf_algorithm, kdf_iterations, kdf_memory_kb, kdf_parallelism, created_at
FROM users WHERE email=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, email))
}

var _ repository.UserRepository = (*UserRepo)(nil)
