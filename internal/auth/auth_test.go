package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenRoundTrip(t *testing.T) {
	signed, expiresAt, err := GenerateToken("tenant-1", "test-secret", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	parsed, err := jwt.ParseWithClaims(signed, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	claims, ok := parsed.Claims.(*Claims)
	require.True(t, ok)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, "tenant-1", claims.Subject)
}

func TestGenerateTokenWrongSecretRejected(t *testing.T) {
	signed, _, err := GenerateToken("tenant-1", "test-secret", time.Hour)
	require.NoError(t, err)

	_, err = jwt.ParseWithClaims(signed, &Claims{}, func(*jwt.Token) (any, error) {
		return []byte("other-secret"), nil
	})
	require.Error(t, err)
}
