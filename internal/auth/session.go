package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rmacdonaldsmith/modhub-go/pkg/protocol"
)

// DefaultSessionTTL is used when no TTL is configured
const DefaultSessionTTL = 24 * time.Hour

var (
	// ErrEmptyIdentifier is returned when issuing a token without an identifier
	ErrEmptyIdentifier = errors.New("identifier cannot be empty")
	// ErrEmptyToken is returned when verifying an empty token
	ErrEmptyToken = errors.New("token cannot be empty")
)

// Claims are carried by session tokens
type Claims struct {
	Identifier string              `json:"identifier"`
	ClientType protocol.ClientType `json:"client_type"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies HS256 session tokens
type Sessions struct {
	secretKey []byte
	ttl       time.Duration
}

// NewSessions creates a token issuer. An empty secret is replaced by random
// bytes, which invalidates tokens across restarts.
func NewSessions(secret string, ttl time.Duration) (*Sessions, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{secretKey: key, ttl: ttl}, nil
}

// Issue creates a token for an authenticated client
func (s *Sessions) Issue(identifier string, clientType protocol.ClientType) (string, time.Time, error) {
	if identifier == "" {
		return "", time.Time{}, ErrEmptyIdentifier
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		Identifier: identifier,
		ClientType: clientType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identifier,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Verify validates a token, with or without a "Bearer " prefix
func (s *Sessions) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("token is not valid")
	}

	return claims, nil
}
