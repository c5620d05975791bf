package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/folioforge/backend/internal/contextkeys"
	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/handler"
	"github.com/folioforge/backend/internal/logger"
	"go.uber.org/zap"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	VerifyToken(token string) (*domain.JWTClaims, error)
}

// Auth creates a JWT authentication middleware.
func Auth(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "no token provided"})
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization header"})
				return
			}

			claims, err := verifier.VerifyToken(parts[1])
			if err != nil {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// WithClaims stores the caller's identity in ctx and tags the request logger.
func WithClaims(ctx context.Context, claims *domain.JWTClaims) context.Context {
	ctx = context.WithValue(ctx, contextkeys.UserID, claims.Sub)
	ctx = context.WithValue(ctx, contextkeys.UserEmail, claims.Email)
	ctx = context.WithValue(ctx, contextkeys.UserRole, claims.Role)
	return logger.WithContext(ctx, logger.FromContext(ctx).With(zap.String("user_id", claims.Sub)))
}
