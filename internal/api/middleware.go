package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const adminSubjectContextKey = contextKey("adminSubject")

// AdminAuthMiddleware accepts HS256 bearer tokens signed with secret whose role claim
// (top-level "role" or "app_metadata.role") is one of roles. With no secret configured
// every admin request is refused.
func AdminAuthMiddleware(secret string, roles []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[strings.ToLower(strings.TrimSpace(role))] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "admin_disabled", Message: "admin access is not configured"})
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "Authorization header required"})
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "invalid Authorization header format"})
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "invalid token"})
				return
			}

			if !allowed[strings.ToLower(roleClaim(claims))] {
				writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Message: "admin role required"})
				return
			}

			subject, _ := claims.GetSubject()
			ctx := context.WithValue(r.Context(), adminSubjectContextKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func roleClaim(claims jwt.MapClaims) string {
	if meta, ok := claims["app_metadata"].(map[string]interface{}); ok {
		if role, ok := meta["role"].(string); ok && role != "" {
			return role
		}
	}
	role, _ := claims["role"].(string)
	return role
}

// AdminFromContext returns the token subject of the admin making the request.
func AdminFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(adminSubjectContextKey).(string)
	return subject, ok
}
