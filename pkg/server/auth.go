package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/simpleelforbrug/elforbrug/pkg/log"
)

// tokenVerifier validates an ID token and returns the verified email.
type tokenVerifier func(ctx context.Context, rawIDToken string) (string, error)

func oidcVerifier(v *oidc.IDTokenVerifier) tokenVerifier {
	return func(ctx context.Context, rawIDToken string) (string, error) {
		idToken, err := v.Verify(ctx, rawIDToken)
		if err != nil {
			return "", err
		}
		var claims struct {
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return "", fmt.Errorf("failed to parse claims: %w", err)
		}
		if claims.Email == "" || !claims.EmailVerified {
			return "", errors.New("id token has no verified email")
		}
		return claims.Email, nil
	}
}

// authMiddleware requires a bearer ID token from an admin for any request
// that changes something. Reads are always allowed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if s.verifier == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}

		email, err := s.verifier(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		if !s.isAdmin(email) {
			log.Ctx(ctx).WarnContext(ctx, "email is not an admin", slog.String("email", email))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authEmail", email)))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) isAdmin(email string) bool {
	for _, adminEmail := range s.adminEmails {
		if email == adminEmail {
			return true
		}
	}
	return false
}
