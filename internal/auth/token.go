// ABOUTME: JWT signing and verification plus the token sources used for backend sessions
// ABOUTME: Uses HS256 with a configurable secret; static tokens pass through unchanged

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrEmptySecret  = errors.New("jwt secret must not be empty")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (subject string, err error)
}

// TokenSource yields the auth token attached to a backend session.
type TokenSource interface {
	Token(sessionKey string) (string, error)
}

// StaticToken is a TokenSource that always returns the same shared token.
type StaticToken string

// Token returns the configured token.
func (t StaticToken) Token(string) (string, error) {
	return string(t), nil
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates a new JWT token for the given subject with expiration
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// SessionTokens mints a short-lived JWT per backend session, with the
// session key as subject.
type SessionTokens struct {
	signer *JWTVerifier
	ttl    time.Duration
}

// NewSessionTokens creates a TokenSource that signs with secret.
func NewSessionTokens(secret []byte, ttl time.Duration) (*SessionTokens, error) {
	signer, err := NewJWTVerifier(secret)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionTokens{signer: signer, ttl: ttl}, nil
}

// Token signs a JWT for sessionKey.
func (s *SessionTokens) Token(sessionKey string) (string, error) {
	if sessionKey == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return s.signer.Generate(sessionKey, s.ttl)
}
