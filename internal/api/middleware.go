package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tink/internal/auth"
)

type contextKey string

const userIDKey contextKey = "userID"

type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
			unauthorized(w, "Invalid authorization header format")
			return
		}

		claims, err := m.verifier.VerifyAccessToken(strings.TrimSpace(parts[1]))
		if errors.Is(err, auth.ErrTokenExpired) {
			writeAuthError(w, true, "Access token has expired")
			return
		}
		if err != nil {
			writeAuthError(w, false, "Invalid access token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetUserID(r *http.Request) string {
	if v := r.Context().Value(userIDKey); v != nil {
		if userID, ok := v.(string); ok {
			return userID
		}
	}
	return ""
}
