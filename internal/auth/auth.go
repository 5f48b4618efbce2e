// Package auth authenticates API callers by opaque token or JWT and
// hashes passwords.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/taskmate/internal/tasks"
)

var (
	// ErrUnauthorized is returned for missing, malformed or invalid
	// credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAuthDisabled is returned by JWT operations when no secret is
	// configured.
	ErrAuthDisabled = errors.New("jwt auth disabled")
)

// UserStore is the slice of the task store authentication needs.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*tasks.User, error)
	GetUserByUsername(ctx context.Context, username string) (*tasks.User, error)
	UserForToken(ctx context.Context, key string) (*tasks.User, error)
}

// Authenticator resolves Authorization headers and credentials to users.
type Authenticator struct {
	users UserStore
	jwt   *JWTService
}

// NewAuthenticator builds an authenticator. jwt may be nil.
func NewAuthenticator(users UserStore, jwt *JWTService) *Authenticator {
	return &Authenticator{users: users, jwt: jwt}
}

// JWT returns the token service, or nil when Bearer auth is disabled.
func (a *Authenticator) JWT() *JWTService { return a.jwt }

// Authenticate resolves an Authorization header value of the form
// "Token <key>" or "Bearer <jwt>".
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*tasks.User, error) {
	scheme, cred, ok := strings.Cut(strings.TrimSpace(header), " ")
	cred = strings.TrimSpace(cred)
	if !ok || cred == "" {
		return nil, ErrUnauthorized
	}

	var (
		u   *tasks.User
		err error
	)
	switch strings.ToLower(scheme) {
	case "token":
		u, err = a.users.UserForToken(ctx, cred)
	case "bearer":
		var claims *Claims
		claims, err = a.jwt.Verify(cred)
		if err == nil {
			u, err = a.users.GetUser(ctx, claims.UserID)
		}
	default:
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, unauthorized(err)
	}
	if !u.IsActive {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// Login checks a username and password.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*tasks.User, error) {
	u, err := a.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, unauthorized(err)
	}
	if !u.IsActive || !CheckPassword(u.PasswordHash, password) {
		return nil, ErrUnauthorized
	}
	return u, nil
}

// unauthorized folds lookup misses into ErrUnauthorized and keeps other
// failures distinct so callers can answer 500.
func unauthorized(err error) error {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrAuthDisabled) || errors.Is(err, tasks.ErrNotFound) {
		return ErrUnauthorized
	}
	return fmt.Errorf("authenticate: %w", err)
}
