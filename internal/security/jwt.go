package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arcana-labs/jobcore/internal/config"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// JWTProvider validates the bearer tokens A4's auth gate accepts. There is
// no user/role model in this service: a validated token merely proves the
// caller holds jwtSecret, which is all the mutating endpoints require.
type JWTProvider struct {
	secret []byte
	issuer string
}

// NewJWTProvider wires a JWTProvider over the configured secret and issuer.
func NewJWTProvider(cfg *config.JWTConfig) *JWTProvider {
	return &JWTProvider{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
}

// IssueToken mints a bearer token for operator tooling (no HTTP endpoint
// exposes this; it exists for out-of-band token issuance).
func (p *JWTProvider) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// ValidateToken checks tokenString's signature and expiry.
func (p *JWTProvider) ValidateToken(tokenString string) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
