package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/EternisAI/silo-relay/internal/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	hash, err := users.HashPassword("hunter2")
	require.NoError(t, err)

	accounts := users.NewService()
	require.NoError(t, accounts.Load(strings.NewReader("alice@x:secret\nbob:"+hash+"\n")))
	return NewService(accounts, Config{Secret: "svc-secret"})
}

func TestService_Login(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Login(context.Background(), "alice@x", "secret")
	require.NoError(t, err)

	identity, err := svc.Verifier().Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@x", identity)
}

func TestService_LoginBcrypt(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Login(context.Background(), "bob", "hunter2")
	require.NoError(t, err)

	claims, err := ValidateToken("svc-secret", token)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.Email)
}

func TestService_LoginRejected(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Login(context.Background(), "alice@x", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "carol", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_LoginCanceled(t *testing.T) {
	svc := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Login(ctx, "alice@x", "secret")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJWTVerifier_Empty(t *testing.T) {
	_, err := NewJWTVerifier("s").Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
