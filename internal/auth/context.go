package auth

import (
	"context"

	"github.com/nugget/taskmate/internal/tasks"
)

type userContextKey struct{}

// WithUser attaches the authenticated user to ctx.
func WithUser(ctx context.Context, u *tasks.User) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, u)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*tasks.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*tasks.User)
	return u, ok
}
