package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-insights-bridge/internal/models"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
)

func TestTokenVerifierRoundTrip(t *testing.T) {
	v := NewTokenVerifier("secret", "moodle")
	token, err := v.IssueToken(12, models.RoleTeacher, []int64{7, 8}, time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(12), claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
	assert.True(t, claims.CanAccessCourse(7))
	assert.False(t, claims.CanAccessCourse(9))
}

func TestTokenVerifierRejectsWrongSecretAndExpired(t *testing.T) {
	issuer := NewTokenVerifier("other", "moodle")
	v := NewTokenVerifier("secret", "moodle")

	token, err := issuer.IssueToken(1, models.RoleAdmin, nil, time.Hour)
	require.NoError(t, err)
	_, err = v.ValidateToken(token)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)

	expired, err := v.IssueToken(1, models.RoleAdmin, nil, -time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(expired)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestTokenVerifierRejectsWrongIssuerAndRole(t *testing.T) {
	v := NewTokenVerifier("secret", "moodle")

	foreign, err := NewTokenVerifier("secret", "elsewhere").IssueToken(1, models.RoleAdmin, nil, time.Hour)
	require.NoError(t, err)
	_, err = v.ValidateToken(foreign)
	require.Error(t, err)

	claims := &models.JWTClaims{UserID: 1, Role: "student", RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "moodle",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.ValidateToken(signed)
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
