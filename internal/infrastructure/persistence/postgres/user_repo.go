package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyhub/study-hub/internal/domain/identity"
)

// ══════════════════════════════════════════════════════════════════════════════
// USER REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// UserRepository implements identity.UserRepository for PostgreSQL.
type UserRepository struct {
	conn *Connection
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(conn *Connection) *UserRepository {
	return &UserRepository{conn: conn}
}

var _ identity.UserRepository = (*UserRepository)(nil)

// Create inserts a user. A duplicate email yields identity.ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, u *identity.User) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, u.CreatedAt,
	)
	if IsUniqueViolation(err) {
		return identity.ErrEmailTaken
	}
	return translate("create user", err)
}

// GetByEmail returns the user with the normalised email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	return r.get(ctx, `SELECT id, email, display_name, password_hash, created_at FROM users WHERE email = $1`, email)
}

// GetByID returns the user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*identity.User, error) {
	return r.get(ctx, `SELECT id, email, display_name, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (r *UserRepository) get(ctx context.Context, query, arg string) (*identity.User, error) {
	u, err := scanUser(r.conn.QueryRow(ctx, query, arg))
	if IsNoRows(err) {
		return nil, identity.ErrUserNotFound
	}
	if err != nil {
		return nil, translate("get user", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*identity.User, error) {
	var u identity.User
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdatePassword replaces the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, hash string) error {
	tag, err := r.conn.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, hash)
	if err != nil {
		return translate("update password", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// SaveResetToken stores a reset token hash.
func (r *UserRepository) SaveResetToken(ctx context.Context, t identity.ResetToken) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`,
		t.TokenHash, t.UserID, t.ExpiresAt,
	)
	return translate("save reset token", err)
}

// ConsumeResetToken deletes an unexpired token and returns its user.
// Expired tokens are removed as a side effect.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	var userID string
	err := r.conn.QueryRow(ctx, `
		DELETE FROM password_resets
		WHERE token_hash = $1 AND expires_at > $2
		RETURNING user_id`,
		tokenHash, now,
	).Scan(&userID)
	_, _ = r.conn.Exec(ctx, `DELETE FROM password_resets WHERE expires_at <= $1`, now)
	if IsNoRows(err) {
		return "", identity.ErrTokenNotFound
	}
	if err != nil {
		return "", translate("consume reset token", err)
	}
	return userID, nil
}
