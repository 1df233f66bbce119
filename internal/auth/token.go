// Package auth issues and verifies teacher session tokens and password hashes.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/okian/resultportal/internal/domain/model"
)

// Claims carried by a session token. Subject holds the teacher id.
type Claims struct {
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// TeacherID returns the subject.
func (c *Claims) TeacherID() string { return c.Subject }

// Tokens issues and verifies HS256 tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures Tokens.
type Option func(*Tokens)

// WithClock overrides the issue-time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokens validates the signing parameters.
func NewTokens(secret, issuer string, ttl time.Duration, opts ...Option) (*Tokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidSetup)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidSetup)
	}
	t := &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a token for teacher and returns it with its expiry.
func (t *Tokens) Issue(teacher model.Teacher) (string, time.Time, error) { //nolint:gocritic // hugeParam
	if teacher.ID == "" {
		return "", time.Time{}, fmt.Errorf("%w: teacher without id", ErrInvalidSetup)
	}
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		Name:     teacher.Name,
		Username: teacher.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   teacher.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses raw and checks signature, expiry and issuer.
func (t *Tokens) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, fmt.Errorf("%w: %w", ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if t.issuer != "" && !claims.VerifyIssuer(t.issuer, true) {
		return nil, fmt.Errorf("%w: wrong issuer", ErrInvalidToken)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}
