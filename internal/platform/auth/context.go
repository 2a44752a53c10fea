package auth

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
	VerifiedKey contextKey = "identity_verified"
)

// Wire roles carried in tokens, headers and channel names.
const (
	RolePatient  = "user"
	RoleProvider = "doctor"
)

var ErrUnauthenticated = errors.New("request is not authenticated")

// ValidRole reports whether role is one of the two participant roles.
func ValidRole(role string) bool {
	return role == RolePatient || role == RoleProvider
}

// WithIdentity stores the caller's account id and role. verified is true when
// the identity came from a checked token rather than development headers.
func WithIdentity(ctx context.Context, id int64, role string, verified bool) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, id)
	ctx = context.WithValue(ctx, UserRoleKey, role)
	return context.WithValue(ctx, VerifiedKey, verified)
}

// IdentityFromContext returns the account id and role set by the auth
// middleware, or ErrUnauthenticated.
func IdentityFromContext(ctx context.Context) (int64, string, error) {
	id, ok := ctx.Value(UserIDKey).(int64)
	if !ok || id <= 0 {
		return 0, "", ErrUnauthenticated
	}
	role, _ := ctx.Value(UserRoleKey).(string)
	return id, role, nil
}

// IsVerified reports whether the identity in ctx was proven by a token.
func IsVerified(ctx context.Context) bool {
	v, _ := ctx.Value(VerifiedKey).(bool)
	return v
}

func setIdentity(c echo.Context, id int64, role string, verified bool) {
	c.Set("user_id", id)
	c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id, role, verified)))
}
