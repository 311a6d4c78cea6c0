package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/database"
)

const userColumns = `id, email, password_hash, full_name, COALESCE(registration_number,''), role, shift, created_at, updated_at`

// UserStore is the user persistence used by the auth handler.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUser returns a user by ID.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getBy(ctx, `id = $1`, id)
}

// GetUserByEmail returns a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(ctx, `email = $1`, email)
}

func (r *Repository) getBy(ctx context.Context, where string, arg any) (*models.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if database.IsNoRows(err) {
		return nil, apperr.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateUser inserts a new user. A taken email is reported as a duplicate.
func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (email, password_hash, full_name, registration_number, role, shift)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, $6)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, u.Email, u.Password, u.FullName, u.RegistrationNumber, string(u.Role), string(u.Shift)).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if database.IsUniqueViolation(err, "") {
		return ErrEmailTaken
	}
	return err
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role, shift string
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.RegistrationNumber, &role, &shift, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.Shift = models.Shift(shift)
	return &u, nil
}
