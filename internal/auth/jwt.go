package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nugget/taskmate/internal/tasks"
)

// JWTService signs and verifies HS256 access tokens.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService returns nil when secret is empty, which disables Bearer
// authentication.
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if secret == "" {
		return nil
	}
	return &JWTService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Claims are the access token claims.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issue signs a token for u and returns it with its expiry.
func (s *JWTService) Issue(u *tasks.User) (string, time.Time, error) {
	if s == nil {
		return "", time.Time{}, ErrAuthDisabled
	}
	if u == nil || u.ID == 0 {
		return "", time.Time{}, errors.New("issue token: user id required")
	}

	now := s.now()
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  strconv.FormatInt(u.ID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	var expires time.Time
	if s.ttl > 0 {
		expires = now.Add(s.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expires)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses token and returns its claims.
func (s *JWTService) Verify(token string) (*Claims, error) {
	if s == nil {
		return nil, ErrAuthDisabled
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == 0 {
		return nil, ErrUnauthorized
	}
	return claims, nil
}
