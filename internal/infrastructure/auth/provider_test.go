package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/studyhub/study-hub/internal/domain/identity"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/internal/infrastructure/persistence/memory"
	"github.com/studyhub/study-hub/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type capturePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (c *capturePublisher) Publish(e shared.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

type captureNotifier struct {
	email, token string
}

func (c *captureNotifier) SendReset(_ context.Context, email, token string) error {
	c.email, c.token = email, token
	return nil
}

type env struct {
	p        *Provider
	users    *memory.UserStore
	pub      *capturePublisher
	notifier *captureNotifier
	now      time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		users:    memory.NewUserStore(),
		pub:      &capturePublisher{},
		notifier: &captureNotifier{},
		now:      time.Now().Truncate(time.Second),
	}
	cfg := DefaultConfig(testSecret)
	cfg.BcryptCost = bcrypt.MinCost

	p, err := NewProvider(cfg, Deps{
		Users:     e.users,
		Revoked:   memory.NewRevocationList(),
		Notifier:  e.notifier,
		Publisher: e.pub,
		Logger:    logger.Discard(),
	})
	require.NoError(t, err)
	p.now = func() time.Time { return e.now }
	e.p = p
	return e
}

func TestNewProvider_RejectsShortSecret(t *testing.T) {
	_, err := NewProvider(DefaultConfig("short"), Deps{Users: memory.NewUserStore(), Revoked: memory.NewRevocationList()})
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestSignUp(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	s, err := e.p.SignUp(ctx, "  Dana@Example.com ", "secret1", " Dana ")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Token)
	assert.Equal(t, "dana@example.com", s.User.Email)
	assert.Equal(t, "Dana", s.User.DisplayName)
	assert.Equal(t, e.now.Add(7*24*time.Hour), s.ExpiresAt)

	stored, err := e.users.GetByEmail(ctx, "dana@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)

	require.Len(t, e.pub.events, 1)
	assert.Equal(t, shared.EventUserRegistered, e.pub.events[0].EventType())
	assert.Equal(t, s.User.UserID, e.pub.events[0].AggregateID())

	_, err = e.p.SignUp(ctx, "dana@example.com", "secret2", "Other")
	assert.Equal(t, identity.CodeEmailInUse, identity.CodeOf(err))
}

func TestSignUp_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name                  string
		email, password, user string
		want                  identity.Code
	}{
		{"bad email", "not-an-email", "secret1", "A", identity.CodeInvalidEmail},
		{"short password", "a@b.co", "12345", "A", identity.CodeWeakPassword},
		{"missing name", "a@b.co", "secret1", "  ", identity.CodeMissingName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.p.SignUp(ctx, tt.email, tt.password, tt.user)
			require.Error(t, err)
			assert.Equal(t, tt.want, identity.CodeOf(err))
		})
	}
	assert.Empty(t, e.pub.events)
}

func TestSignInAndVerify(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.p.SignUp(ctx, "dana@example.com", "secret1", "Dana")
	require.NoError(t, err)

	_, err = e.p.SignIn(ctx, "dana@example.com", "wrong-pass")
	assert.Equal(t, identity.CodeInvalidCredential, identity.CodeOf(err))
	_, err = e.p.SignIn(ctx, "nobody@example.com", "secret1")
	assert.Equal(t, identity.CodeInvalidCredential, identity.CodeOf(err))

	s, err := e.p.SignIn(ctx, "DANA@example.com", "secret1")
	require.NoError(t, err)

	id, err := e.p.Verify(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, s.User.UserID, id.UserID)
	assert.Equal(t, "Dana", id.DisplayName)

	_, err = e.p.Verify(ctx, s.Token+"x")
	assert.Equal(t, identity.CodeInvalidToken, identity.CodeOf(err))

	e.now = e.now.Add(8 * 24 * time.Hour)
	_, err = e.p.Verify(ctx, s.Token)
	assert.Equal(t, identity.CodeInvalidToken, identity.CodeOf(err))
}

func TestVerify_RejectsForeignTokens(t *testing.T) {
	e := newEnv(t)
	other := newEnv(t)
	other.p.cfg.Secret = []byte(strings.Repeat("z", 32))

	s, err := other.p.SignUp(context.Background(), "x@example.com", "secret1", "X")
	require.NoError(t, err)

	_, err = e.p.Verify(context.Background(), s.Token)
	assert.Equal(t, identity.CodeInvalidToken, identity.CodeOf(err))
}

func TestSignOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s, err := e.p.SignUp(ctx, "dana@example.com", "secret1", "Dana")
	require.NoError(t, err)

	require.NoError(t, e.p.SignOut(ctx, s.Token))
	_, err = e.p.Verify(ctx, s.Token)
	assert.Equal(t, identity.CodeInvalidToken, identity.CodeOf(err))

	assert.NoError(t, e.p.SignOut(ctx, "garbage"))

	// A fresh sign-in is unaffected.
	s2, err := e.p.SignIn(ctx, "dana@example.com", "secret1")
	require.NoError(t, err)
	_, err = e.p.Verify(ctx, s2.Token)
	assert.NoError(t, err)
}

func TestPasswordReset(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.p.SignUp(ctx, "dana@example.com", "secret1", "Dana")
	require.NoError(t, err)

	require.NoError(t, e.p.ResetPassword(ctx, "unknown@example.com"))
	assert.Empty(t, e.notifier.token)

	require.NoError(t, e.p.ResetPassword(ctx, "dana@example.com"))
	assert.Equal(t, "dana@example.com", e.notifier.email)
	require.Len(t, e.notifier.token, 64)
	token := e.notifier.token

	err = e.p.ConfirmReset(ctx, token, "123")
	assert.Equal(t, identity.CodeWeakPassword, identity.CodeOf(err))

	require.NoError(t, e.p.ConfirmReset(ctx, token, "brand-new"))
	_, err = e.p.SignIn(ctx, "dana@example.com", "secret1")
	assert.Equal(t, identity.CodeInvalidCredential, identity.CodeOf(err))
	_, err = e.p.SignIn(ctx, "dana@example.com", "brand-new")
	assert.NoError(t, err)

	err = e.p.ConfirmReset(ctx, token, "another1")
	assert.Equal(t, identity.CodeInvalidToken, identity.CodeOf(err), "token is single use")
}

func TestPasswordReset_Expired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.p.SignUp(ctx, "dana@example.com", "secret1", "Dana")
	require.NoError(t, err)
	require.NoError(t, e.p.ResetPassword(ctx, "dana@example.com"))

	e.now = e.now.Add(2 * time.Hour)
	err = e.p.ConfirmReset(ctx, e.notifier.token, "brand-new")
	assert.Equal(t, identity.CodeInvalidToken, identity.CodeOf(err))
}

func TestHashToken(t *testing.T) {
	assert.Len(t, HashToken("abc"), 64)
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
}
