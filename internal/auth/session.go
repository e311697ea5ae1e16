package auth

import "context"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// ParseRole maps unknown or empty values to RoleViewer.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleOperator:
		return Role(s)
	default:
		return RoleViewer
	}
}

// Session identifies the caller of a service operation.
type Session struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (s Session) CanWrite() bool {
	return s.Role == RoleAdmin || s.Role == RoleOperator
}

type sessionKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored by Middleware.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
