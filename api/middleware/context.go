package middleware

import "context"

// Identity is the verified buyer behind a request. Guests have none.
type Identity struct {
	UserID string
	Role   string
	Email  string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// WithUserID attaches an identity that only carries a user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return WithIdentity(ctx, Identity{UserID: userID})
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}

func RoleFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// EmailFromContext returns the lower-cased email from a verified token.
func EmailFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Email
}
