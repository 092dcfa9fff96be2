package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/backend/internal/domain"
)

func TestAuthManagerUpgradesPlainPassword(t *testing.T) {
	users := NewStaticUserStore(SeededUsers("admin123", "", time.Now().UTC())...)

	manager := NewAuthManager("test-secret", time.Hour, "123456", users)
	_, err := manager.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	stored, err := users.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, "admin123", stored[0].Password)
	assert.True(t, strings.HasPrefix(stored[0].Password, "$2"), "expected bcrypt hash, got %s", stored[0].Password)
}

func TestLoginRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	users := NewStaticUserStore(
		domain.UserAccount{Username: "Kasir", Password: "kasir123", Role: RoleCashier, Active: true},
		domain.UserAccount{Username: "former", Password: "former123", Role: RoleCashier, Active: false},
	)
	manager := NewAuthManager("test-secret", time.Hour, "123456", users)

	_, err := manager.Login(domain.LoginRequest{Username: "kasir", Password: "nope"})
	require.EqualError(t, err, "invalid credentials")

	_, err = manager.Login(domain.LoginRequest{Username: "former", Password: "former123"})
	require.EqualError(t, err, "account is inactive")

	resp, err := manager.Login(domain.LoginRequest{Username: " KASIR ", Password: "kasir123"})
	require.NoError(t, err)
	assert.Equal(t, RoleCashier, resp.Role)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "kasir", Role: RoleCashier}, actor)
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	users := NewStaticUserStore(SeededUsers("admin123", "", time.Now().UTC())...)
	issuer := NewAuthManager("secret-a", time.Hour, "123456", users)
	verifier := NewAuthManager("secret-b", time.Hour, "123456", nil)

	resp, err := issuer.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	_, err = verifier.ParseToken(resp.AccessToken)
	require.Error(t, err)
}

func TestSeededUsersSkipsEmptyPasswords(t *testing.T) {
	accounts := SeededUsers("", "kasir123", time.Now().UTC())
	require.Len(t, accounts, 1)
	assert.Equal(t, "kasir", accounts[0].Username)
	assert.Equal(t, RoleCashier, accounts[0].Role)
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", NewStaticUserStore())

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}
	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}
	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}
