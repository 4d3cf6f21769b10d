package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/dmstream/internal/models"
)

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Create inserts a new user row. Postgres generates the id and timestamp.
// A duplicate username or email surfaces as repository.ErrConflict.
func (s *UserStore) Create(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, username, email, password_hash, created_at`

	var u models.User
	err := s.pool.QueryRow(ctx, query, username, email, passwordHash).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, translate("insert user", err)
	}
	return &u, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID int64) (*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE id = $1`

	return s.getOne(ctx, "get user", query, userID)
}

// GetByEmail looks up a user by email. Used for login.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE email = $1`

	return s.getOne(ctx, "get user by email", query, email)
}

func (s *UserStore) ListExcept(ctx context.Context, userID int64) ([]models.User, error) {
	query := `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE id <> $1
		ORDER BY username ASC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, translate("list users", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, translate("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("iterate users", err)
	}
	return users, nil
}

func (s *UserStore) getOne(ctx context.Context, op, query string, arg any) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, translate(op, err)
	}
	return &u, nil
}
