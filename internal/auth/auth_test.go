package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	m := NewManager("test-secret", "webitel")
	userID := uuid.New()

	token, err := m.Issue(userID, time.Minute)
	require.NoError(t, err)

	got, err := m.Verify(token)
	require.NoError(t, err)
	require.Equal(t, userID, got)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", "webitel").Issue(uuid.New(), time.Minute)
	require.NoError(t, err)

	_, err = NewManager("secret-b", "webitel").Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	token, err := NewManager("secret", "someone-else").Issue(uuid.New(), time.Minute)
	require.NoError(t, err)

	_, err = NewManager("secret", "webitel").Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewManager("secret", "webitel")
	token, err := m.Issue(uuid.New(), -time.Minute)
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := NewManager("secret", "webitel").Verify("not.a.token")
	require.ErrorIs(t, err, ErrInvalidToken)
}
