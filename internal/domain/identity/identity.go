// Package identity описывает учётные записи и провайдера аутентификации.
package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
)

// MinPasswordLength - минимальная длина пароля.
const MinPasswordLength = 6

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// Code - машинный код ошибки аутентификации.
type Code string

const (
	CodeEmailInUse        Code = "email-already-in-use"
	CodeInvalidEmail      Code = "invalid-email"
	CodeWeakPassword      Code = "weak-password"
	CodeInvalidCredential Code = "invalid-credential"
	CodeInvalidToken      Code = "invalid-token"
	CodeMissingName       Code = "missing-display-name"
	CodeInternal          Code = "internal-error"
)

// Error - ошибка провайдера с сообщением для пользователя.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "identity: " + string(e.Code) + ": " + e.Err.Error()
	}
	return "identity: " + string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NewError создаёт ошибку с кодом.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// CodeOf возвращает код ошибки или "" для прочих ошибок.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Ошибки хранилища пользователей.
var (
	ErrUserNotFound  = errors.New("identity: user not found")
	ErrEmailTaken    = errors.New("identity: email already registered")
	ErrTokenNotFound = errors.New("identity: reset token not found or expired")
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// User - учётная запись.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity - аутентифицированный пользователь, как его видят остальные слои.
type Identity struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	TokenID     string    `json:"-"`
	ExpiresAt   time.Time `json:"-"`
}

// Session - выданный токен.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Identity  `json:"user"`
}

// ResetToken - одноразовый токен сброса пароля. Хранится только хеш.
type ResetToken struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
}

// NormalizeEmail приводит email к нижнему регистру и проверяет формат.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", NewError(CodeInvalidEmail, "Please enter a valid email address.", nil)
	}
	return email, nil
}

// ValidatePassword проверяет длину пароля.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return NewError(CodeWeakPassword, "Password should be at least 6 characters.", nil)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Provider - провайдер аутентификации. Все ошибки для пользователя - *Error.
type Provider interface {
	SignUp(ctx context.Context, email, password, displayName string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, token string) error

	// ResetPassword выпускает токен сброса. Для неизвестного email ошибки нет.
	ResetPassword(ctx context.Context, email string) error

	// ConfirmReset меняет пароль по токену сброса.
	ConfirmReset(ctx context.Context, token, newPassword string) error

	// Verify проверяет токен сессии.
	Verify(ctx context.Context, token string) (*Identity, error)
}

// UserRepository - хранилище учётных записей.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	UpdatePassword(ctx context.Context, userID, hash string) error

	SaveResetToken(ctx context.Context, t ResetToken) error
	// ConsumeResetToken удаляет токен и возвращает его владельца.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time) (string, error)
}

// RevocationList хранит отозванные токены до истечения их срока.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// ResetNotifier доставляет токен сброса пользователю.
type ResetNotifier interface {
	SendReset(ctx context.Context, email, token string) error
}

// ctxKey - ключ Identity в контексте запроса.
type ctxKey struct{}

// WithIdentity кладёт Identity в контекст.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext достаёт Identity из контекста.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}
