package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/hitl-control-plane/middleware"
)

var (
	// ErrInvalidToken is returned when the token is malformed or its signature does not verify
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrMissingSubject is returned when the token has no sub claim
	ErrMissingSubject = errors.New("missing required claim: sub")

	// ErrEmptySecret is returned when signing or validating without a key
	ErrEmptySecret = errors.New("signing secret is empty")
)

// Claims are the JWT claims understood by the gateway
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// HMACValidator validates HS256 bearer tokens signed with a shared secret.
// It implements middleware.TokenValidator.
type HMACValidator struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Option configures an HMACValidator
type Option func(*HMACValidator)

// WithLeeway tolerates clock skew when checking exp and nbf
func WithLeeway(d time.Duration) Option {
	return func(v *HMACValidator) { v.leeway = d }
}

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(v *HMACValidator) { v.now = now }
}

// NewHMACValidator creates a validator. An empty issuer accepts any iss.
func NewHMACValidator(secret, issuer string, opts ...Option) (*HMACValidator, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	v := &HMACValidator{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ValidateToken verifies signature, expiry and issuer and returns the caller claims
func (v *HMACValidator) ValidateToken(_ context.Context, tokenString string) (*middleware.Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithIssuedAt(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	out := &middleware.Claims{
		Sub:   claims.Subject,
		Name:  claims.Name,
		Roles: claims.Roles,
		Iss:   claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		out.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		out.Iat = claims.IssuedAt.Unix()
	}
	return out, nil
}

// IssueRequest describes a token to mint
type IssueRequest struct {
	Subject string
	Name    string
	Roles   []string
	Issuer  string
	TTL     time.Duration
}

// IssueToken signs an HS256 token. A zero TTL issues a token that never expires.
func IssueToken(secret string, req IssueRequest, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	if req.Subject == "" {
		return "", ErrMissingSubject
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  req.Subject,
			Issuer:   req.Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Name:  req.Name,
		Roles: req.Roles,
	}
	if req.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(req.TTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
