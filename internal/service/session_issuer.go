package service

import (
	"errors"
	"fmt"
	"time"

	"attendance-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultSessionTTL = 30 * 24 * time.Hour
	sessionIssuer     = "attendance-service"
)

// Claims carries the account ID in sub and the issuance second in iat.
// PasswordChangedAt pins the token to the password it was minted under,
// in unix milliseconds.
type Claims struct {
	jwt.RegisteredClaims
	PasswordChangedAt int64 `json:"pwd_at"`
}

func (c *Claims) AccountID() string {
	return c.Subject
}

func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// SessionIssuer mints and validates HS256 bearer tokens.
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  Clock
}

func NewSessionIssuer(secret string, ttl time.Duration, clock Clock) *SessionIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &SessionIssuer{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue signs a token for account valid for the configured TTL.
func (s *SessionIssuer) Issue(account *models.Account) (string, *Claims, error) {
	now := s.clock.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
		PasswordChangedAt: account.PasswordChangedAt.UnixMilli(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, claims, nil
}

// Validate checks signature and expiry. It returns ErrTokenExpired for an
// otherwise valid token past its expiry and ErrInvalidToken for anything
// malformed, forged or missing required claims.
func (s *SessionIssuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IsStale reports whether the account's password changed since the token
// was issued. The comparison is at millisecond granularity, which is what
// the account stores keep, so a change later in the same second as the
// issuance still invalidates the token.
func IsStale(claims *Claims, account *models.Account) bool {
	return account.PasswordChangedAt.UnixMilli() != claims.PasswordChangedAt
}
