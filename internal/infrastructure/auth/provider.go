// Package auth implements identity.Provider with bcrypt password hashes,
// HS256 session tokens and a revocation list for sign-out.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/studyhub/study-hub/internal/domain/identity"
	"github.com/studyhub/study-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Provider.
type Config struct {
	// Secret signs session tokens. At least 32 bytes.
	Secret []byte

	// Issuer is written to and checked in every token.
	Issuer string

	SessionTTL time.Duration
	ResetTTL   time.Duration

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// MinSecretLength is the minimum accepted signing secret size.
const MinSecretLength = 32

// DefaultConfig returns sensible defaults for secret.
func DefaultConfig(secret string) Config {
	return Config{
		Secret:     []byte(secret),
		Issuer:     "studyhub",
		SessionTTL: 7 * 24 * time.Hour,
		ResetTTL:   time.Hour,
		BcryptCost: bcrypt.DefaultCost,
	}
}

// ErrWeakSecret is returned by NewProvider for a short signing secret.
var ErrWeakSecret = fmt.Errorf("auth: secret must be at least %d bytes", MinSecretLength)

// ══════════════════════════════════════════════════════════════════════════════
// PROVIDER
// ══════════════════════════════════════════════════════════════════════════════

// Provider implements identity.Provider.
type Provider struct {
	cfg       Config
	users     identity.UserRepository
	revoked   identity.RevocationList
	notifier  identity.ResetNotifier
	publisher shared.EventPublisher
	now       func() time.Time
	logger    *slog.Logger
}

var _ identity.Provider = (*Provider)(nil)

// Deps are the collaborators of a Provider. Notifier and Publisher are optional.
type Deps struct {
	Users     identity.UserRepository
	Revoked   identity.RevocationList
	Notifier  identity.ResetNotifier
	Publisher shared.EventPublisher
	Logger    *slog.Logger
}

// NewProvider creates a Provider.
func NewProvider(cfg Config, deps Deps) (*Provider, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	def := DefaultConfig("")
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = def.SessionTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = def.ResetTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = def.BcryptCost
	}
	if deps.Users == nil || deps.Revoked == nil {
		return nil, errors.New("auth: user repository and revocation list are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")
	notifier := deps.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}

	return &Provider{
		cfg:       cfg,
		users:     deps.Users,
		revoked:   deps.Revoked,
		notifier:  notifier,
		publisher: deps.Publisher,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// SignUp registers an account and opens a session.
func (p *Provider) SignUp(ctx context.Context, email, password, displayName string) (*identity.Session, error) {
	email, err := identity.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := identity.ValidatePassword(password); err != nil {
		return nil, err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, identity.NewError(identity.CodeMissingName, "Please enter your name.", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cfg.BcryptCost)
	if err != nil {
		return nil, internalError(err)
	}

	u := &identity.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    p.now().UTC(),
	}
	if err := p.users.Create(ctx, u); err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			return nil, identity.NewError(identity.CodeEmailInUse, "An account with this email already exists.", err)
		}
		return nil, internalError(err)
	}
	p.logger.Info("user registered", "user_id", u.ID)

	if p.publisher != nil {
		if err := p.publisher.Publish(shared.NewUserRegisteredEvent(u.ID, u.Email, u.DisplayName)); err != nil {
			p.logger.Warn("failed to publish registration", "user_id", u.ID, "error", err)
		}
	}
	return p.issue(u)
}

// SignIn checks credentials and opens a session. Unknown email and wrong
// password produce the same error.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	bad := identity.NewError(identity.CodeInvalidCredential, "Invalid email or password.", nil)

	email, err := identity.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	u, err := p.users.GetByEmail(ctx, email)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, bad
	}
	if err != nil {
		return nil, internalError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, bad
	}
	return p.issue(u)
}

// SignOut revokes the session token. Signing out an invalid token is a no-op.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	claims, err := p.parse(token)
	if err != nil {
		return nil
	}
	if err := p.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return internalError(err)
	}
	return nil
}

// ResetPassword issues a single-use reset token and hands it to the notifier.
func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	email, err := identity.NormalizeEmail(email)
	if err != nil {
		return err
	}
	u, err := p.users.GetByEmail(ctx, email)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return internalError(err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return internalError(err)
	}
	token := hex.EncodeToString(raw)

	if err := p.users.SaveResetToken(ctx, identity.ResetToken{
		UserID:    u.ID,
		TokenHash: HashToken(token),
		ExpiresAt: p.now().Add(p.cfg.ResetTTL),
	}); err != nil {
		return internalError(err)
	}
	if err := p.notifier.SendReset(ctx, u.Email, token); err != nil {
		return internalError(err)
	}
	return nil
}

// ConfirmReset sets a new password using a reset token.
func (p *Provider) ConfirmReset(ctx context.Context, token, newPassword string) error {
	if err := identity.ValidatePassword(newPassword); err != nil {
		return err
	}
	userID, err := p.users.ConsumeResetToken(ctx, HashToken(strings.TrimSpace(token)), p.now())
	if errors.Is(err, identity.ErrTokenNotFound) {
		return identity.NewError(identity.CodeInvalidToken, "This reset link is invalid or has expired.", err)
	}
	if err != nil {
		return internalError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), p.cfg.BcryptCost)
	if err != nil {
		return internalError(err)
	}
	if err := p.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return internalError(err)
	}
	p.logger.Info("password reset", "user_id", userID)
	return nil
}

// Verify validates a session token and returns its identity.
func (p *Provider) Verify(ctx context.Context, token string) (*identity.Identity, error) {
	expired := identity.NewError(identity.CodeInvalidToken, "Your session has expired. Please sign in again.", nil)

	claims, err := p.parse(token)
	if err != nil {
		return nil, identity.NewError(identity.CodeInvalidToken, expired.Message, err)
	}
	revoked, err := p.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, internalError(err)
	}
	if revoked {
		return nil, expired
	}
	return &identity.Identity{
		UserID:      claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		TokenID:     claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TOKENS
// ══════════════════════════════════════════════════════════════════════════════

type sessionClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

func (p *Provider) issue(u *identity.User) (*identity.Session, error) {
	now := p.now()
	exp := now.Add(p.cfg.SessionTTL)
	claims := sessionClaims{
		Email: u.Email,
		Name:  u.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			Issuer:    p.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.cfg.Secret)
	if err != nil {
		return nil, internalError(err)
	}
	return &identity.Session{
		Token:     signed,
		ExpiresAt: exp.Truncate(time.Second),
		User: identity.Identity{
			UserID:      u.ID,
			Email:       u.Email,
			DisplayName: u.DisplayName,
			TokenID:     claims.ID,
			ExpiresAt:   exp.Truncate(time.Second),
		},
	}, nil
}

func (p *Provider) parse(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims,
		func(*jwt.Token) (interface{}, error) { return p.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("auth: token is missing subject or id")
	}
	return claims, nil
}

// HashToken returns the hex SHA-256 of a reset token. Only the hash is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func internalError(err error) error {
	return identity.NewError(identity.CodeInternal, "Something went wrong. Please try again.", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFIER
// ══════════════════════════════════════════════════════════════════════════════

// LogNotifier writes reset tokens to the log. For development only.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendReset(_ context.Context, email, token string) error {
	n.Logger.Info("password reset requested", "email", email, "token", token)
	return nil
}
