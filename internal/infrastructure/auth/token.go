// Package auth issues and validates the continuation tokens the authority
// hands to clients. Tokens are short-lived HS256 JWTs; the server mints a
// fresh one on every successful session check and the client re-sends it as
// a bearer header.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the continuation token claims
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// TokenService mints and validates continuation tokens
type TokenService struct {
	secret     []byte
	expiration time.Duration
	issuer     string
}

// NewTokenService creates a token service. A zero expiration defaults to 30
// minutes.
func NewTokenService(secret []byte, expiration time.Duration, issuer string) *TokenService {
	if expiration <= 0 {
		expiration = 30 * time.Minute
	}
	return &TokenService{
		secret:     secret,
		expiration: expiration,
		issuer:     issuer,
	}
}

// Mint issues a fresh continuation token for the username
func (s *TokenService) Mint(username string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
		},
		Username: username,
	})
	return token.SignedString(s.secret)
}

// Validate parses the token and returns the username it was minted for
func (s *TokenService) Validate(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username == "" {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}

// Expiration returns the configured token lifetime
func (s *TokenService) Expiration() time.Duration {
	return s.expiration
}
