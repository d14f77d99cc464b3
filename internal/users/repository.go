package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roleguard/roleguard/internal/rbac"
	"github.com/roleguard/roleguard/internal/shared"
)

const userColumns = `id, name, email, role, permissions, password_hash, is_active, created_at, updated_at`

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a user. A duplicate email yields ErrEmailTaken.
func (r *Repository) Create(ctx context.Context, in NewUser) (User, error) {
	perms, err := json.Marshal(in.Permissions)
	if err != nil {
		return User{}, err
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (name, email, role, permissions, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		in.Name, in.Email, in.Role.String(), perms, in.PasswordHash)
	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return user, nil
}

// FindByID fetches a user by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// FindByEmail fetches a user by email, case-insensitively.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 LIMIT 1`, strings.ToLower(strings.TrimSpace(email))))
}

// List returns all users ordered by id.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// scanUser reads one row. A stored role missing from the role table is an
// error, never a downgrade.
func scanUser(row pgx.Row) (User, error) {
	var (
		user User
		role string
	)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &role, &user.Permissions, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	user.Role, err = rbac.ParseRole(role)
	if err != nil {
		return User{}, fmt.Errorf("users: user %d: %w", user.ID, err)
	}
	return user, nil
}

var _ RepositoryPort = (*Repository)(nil)
