package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func TestManager_RoundTrip(t *testing.T) {
	m, err := NewManager(testSecret, time.Hour, "chatting")
	require.NoError(t, err)

	token, exp, err := m.Generate("u-1", "alice", "alice@example.com")
	require.NoError(t, err)
	assert.Greater(t, exp, time.Now().Unix())

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestManager_Rejects(t *testing.T) {
	m, err := NewManager(testSecret, time.Hour, "chatting")
	require.NoError(t, err)
	token, _, err := m.Generate("u-1", "alice", "alice@example.com")
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { m.now = time.Now }()
		_, err := m.Validate(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewManager("another-secret-0123456", time.Hour, "chatting")
		require.NoError(t, err)
		_, err = other.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other issuer", func(t *testing.T) {
		other, err := NewManager(testSecret, time.Hour, "someone-else")
		require.NoError(t, err)
		_, err = other.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := m.Validate("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewManager_ShortSecret(t *testing.T) {
	_, err := NewManager("short", time.Hour, "chatting")
	assert.Error(t, err)
}
