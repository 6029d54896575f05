package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/pricecircle-backend/api/responses"
	pkgAuth "github.com/angelmondragon/pricecircle-backend/pkg/auth"
	"github.com/angelmondragon/pricecircle-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
)

// streamTokenParam lets browser EventSource clients, which cannot set
// headers, authenticate the discussion stream.
const streamTokenParam = "access_token"

// Auth validates a bearer token and seeds the request context with the caller.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			userID := claims.UserID.String()
			ctx := WithUserID(r.Context(), userID)
			if logg != nil {
				ctx = logg.WithUserID(ctx, userID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads "Authorization: Bearer <token>". Event stream GETs may
// pass the token as a query parameter instead.
func bearerToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return strings.TrimSpace(r.URL.Query().Get(streamTokenParam))
	}
	return ""
}
