package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/bullionstore-backend/api/responses"
	pkgAuth "github.com/angelmondragon/bullionstore-backend/pkg/auth"
	"github.com/angelmondragon/bullionstore-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/bullionstore-backend/pkg/errors"
	"github.com/angelmondragon/bullionstore-backend/pkg/logger"
)

// OptionalAuth lets guests through and attaches an Identity when a bearer
// token verifies. A presented token that does not verify is a 401, never a
// silent downgrade to guest checkout.
func OptionalAuth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity, err := verifyBearer(cfg, header)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithIdentity(r.Context(), identity)
			if logg != nil {
				ctx = logg.WithFields(logg.WithUserID(ctx, identity.UserID), map[string]any{"actor_role": identity.Role})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verifyBearer(cfg config.JWTConfig, header string) (Identity, error) {
	if !cfg.Enabled() {
		return Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "bearer tokens are not accepted")
	}
	token := header
	if scheme, rest, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "bearer") {
		token = strings.TrimSpace(rest)
	}
	if token == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	claims, err := pkgAuth.ParseAccessToken(cfg, token)
	if err != nil {
		return Identity{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
	}
	return Identity{
		UserID: claims.UserID(),
		Role:   claims.Role,
		Email:  strings.ToLower(strings.TrimSpace(claims.Email)),
	}, nil
}
