package server

import (
	"log/slog"
	"net/http"
	"strings"
)

// authMiddleware validates the bearer ID token on API requests. When no
// audience or allowed emails are configured the API runs open, which is
// only intended for local setups.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.bypassAuth {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeJSONError(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}
		if s.oidcVerifier == nil {
			writeJSONError(w, "authentication not configured", http.StatusUnauthorized)
			return
		}

		token, err := s.oidcVerifier(ctx, parts[1])
		if err != nil {
			slog.WarnContext(ctx, "failed to validate id token", slog.Any("error", err))
			writeJSONError(w, "invalid id token", http.StatusUnauthorized)
			return
		}

		var claims struct {
			Email string `json:"email"`
		}
		if err := token.Claims(&claims); err != nil || claims.Email == "" {
			slog.WarnContext(ctx, "invalid email in id token")
			writeJSONError(w, "invalid token claims", http.StatusForbidden)
			return
		}

		if len(s.allowedEmails) > 0 {
			var allowed bool
			for _, email := range s.allowedEmails {
				if claims.Email == email {
					allowed = true
					break
				}
			}
			if !allowed {
				slog.WarnContext(ctx, "unauthorized email", slog.String("email", claims.Email))
				writeJSONError(w, "unauthorized email", http.StatusForbidden)
				return
			}
		}

		slog.DebugContext(ctx, "api request authorized", slog.String("email", claims.Email))
		next.ServeHTTP(w, r)
	})
}
