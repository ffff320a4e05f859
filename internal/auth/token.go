// Package auth issues and verifies the bearer tokens that identify a user on
// the WebSocket endpoint.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/friendchat/internal/chat"
)

var (
	// ErrMissingToken is returned when a request carries no token.
	ErrMissingToken = errors.New("auth: missing token")
	// ErrInvalidToken is returned for malformed, forged or expired tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

const issuer = "friendchat"

// Tokens signs and verifies HS256 tokens whose subject is the user's handle.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens returns a Tokens using secret as the HMAC key.
func NewTokens(secret string) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("auth: empty secret")
	}
	return &Tokens{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for handle valid for ttl.
func (t *Tokens) Issue(handle string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Subject:   chat.NormalizeHandle(handle),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the handle a token was issued for.
func (t *Tokens) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(t.now))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	handle := chat.NormalizeHandle(claims.Subject)
	if handle == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return handle, nil
}

// FromRequest extracts a token from the Authorization header or, since
// browsers cannot set headers on WebSocket handshakes, the token query
// parameter.
func FromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}
