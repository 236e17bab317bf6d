package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-entropy"

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
}

func TestIssueAndValidate(t *testing.T) {
	token, err := IssueToken(testSecret, IssueRequest{
		Subject: "op-1",
		Name:    "Office Operator",
		Roles:   []string{"ops", "admin"},
		Issuer:  "hitl-gateway",
		TTL:     time.Hour,
	}, fixedNow())
	require.NoError(t, err)

	v, err := NewHMACValidator(testSecret, "hitl-gateway", WithClock(fixedNow))
	require.NoError(t, err)

	claims, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.Sub)
	assert.Equal(t, "Office Operator", claims.Name)
	assert.Equal(t, []string{"ops", "admin"}, claims.Roles)
	assert.Equal(t, "hitl-gateway", claims.Iss)
	assert.Equal(t, fixedNow().Add(time.Hour).Unix(), claims.Exp)
	assert.Equal(t, fixedNow().Unix(), claims.Iat)
}

func TestValidateToken_Failures(t *testing.T) {
	valid := func(req IssueRequest) string {
		tok, err := IssueToken(testSecret, req, fixedNow())
		require.NoError(t, err)
		return tok
	}

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := IssueToken("another-secret", IssueRequest{Subject: "op-1"}, fixedNow())
		require.NoError(t, err)

		v, _ := NewHMACValidator(testSecret, "", WithClock(fixedNow))
		_, err = v.ValidateToken(context.Background(), tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		tok := valid(IssueRequest{Subject: "op-1", TTL: time.Minute})
		later := func() time.Time { return fixedNow().Add(time.Hour) }

		v, _ := NewHMACValidator(testSecret, "", WithClock(later))
		_, err := v.ValidateToken(context.Background(), tok)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("within leeway", func(t *testing.T) {
		tok := valid(IssueRequest{Subject: "op-1", TTL: time.Minute})
		justAfter := func() time.Time { return fixedNow().Add(time.Minute + 10*time.Second) }

		v, _ := NewHMACValidator(testSecret, "", WithClock(justAfter), WithLeeway(30*time.Second))
		_, err := v.ValidateToken(context.Background(), tok)
		assert.NoError(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		tok := valid(IssueRequest{Subject: "op-1", Issuer: "someone-else"})

		v, _ := NewHMACValidator(testSecret, "hitl-gateway", WithClock(fixedNow))
		_, err := v.ValidateToken(context.Background(), tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm rejected", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "op-1"}}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		v, _ := NewHMACValidator(testSecret, "", WithClock(fixedNow))
		_, err = v.ValidateToken(context.Background(), tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := Claims{Roles: []string{"ops"}}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		v, _ := NewHMACValidator(testSecret, "", WithClock(fixedNow))
		_, err = v.ValidateToken(context.Background(), tok)
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("garbage", func(t *testing.T) {
		v, _ := NewHMACValidator(testSecret, "", WithClock(fixedNow))
		_, err := v.ValidateToken(context.Background(), "not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestNewHMACValidator_EmptySecret(t *testing.T) {
	_, err := NewHMACValidator("", "")
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, err = IssueToken("", IssueRequest{Subject: "op-1"}, fixedNow())
	assert.ErrorIs(t, err, ErrEmptySecret)

	_, err = IssueToken(testSecret, IssueRequest{}, fixedNow())
	assert.ErrorIs(t, err, ErrMissingSubject)
}
