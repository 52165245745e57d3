package service

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/Membership-service/internal/domain"
	"github.com/Dhoini/Membership-service/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccessService(e *env, adminIDs []int64) *AccessService {
	return NewAccessService(e.subs, "test-secret", time.Hour, adminIDs, logger.New(logger.ERROR))
}

func TestHasAccess(t *testing.T) {
	e := newEnv()
	access := newAccessService(e, nil)
	ctx := context.Background()

	ok, sub, err := access.HasAccess(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, sub)

	createActive(t, e, 1, time.Now().Add(24*time.Hour))

	ok, sub, err = access.HasAccess(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, sub)
	assert.Equal(t, int64(1), sub.UserID)
}

func TestHasAccessAdminBypass(t *testing.T) {
	e := newEnv()
	access := newAccessService(e, []int64{42})

	ok, sub, err := access.HasAccess(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, sub)
	assert.True(t, access.IsAdmin(42))
	assert.False(t, access.IsAdmin(43))
}

func TestIssueTokenRoundtrip(t *testing.T) {
	e := newEnv()
	access := newAccessService(e, nil)
	ctx := context.Background()

	createActive(t, e, 7, time.Now().Add(24*time.Hour))

	token, err := access.IssueToken(ctx, 7)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := access.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
}

func TestIssueTokenWithoutAccess(t *testing.T) {
	e := newEnv()
	access := newAccessService(e, nil)

	_, err := access.IssueToken(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	e := newEnv()
	access := newAccessService(e, nil)

	_, err := access.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	e := newEnv()
	access := newAccessService(e, nil)

	claims := jwt.MapClaims{
		"sub":   "7",
		"scope": ScopeMember,
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = access.ValidateToken(forged)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestValidateTokenRejectsWrongScope(t *testing.T) {
	e := newEnv()
	access := newAccessService(e, nil)

	claims := jwt.MapClaims{
		"sub":   "7",
		"scope": "service",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = access.ValidateToken(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	e := newEnv()
	access := newAccessService(e, nil)

	claims := jwt.MapClaims{
		"sub":   "7",
		"scope": ScopeMember,
		"iat":   time.Now().Add(-2 * time.Hour).Unix(),
		"exp":   time.Now().Add(-time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = access.ValidateToken(token)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}
