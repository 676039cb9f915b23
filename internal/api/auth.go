package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/drive"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// Context key type for storing the authenticated user.
type contextKey string

const userContextKey contextKey = "user"

// Claims are the bearer-token claims the API verifies. Tokens are issued by
// an external identity provider; this layer only verifies them.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserFromContext retrieves the authenticated user from the request context.
// Returns nil outside routes wrapped by the Auth middleware.
func UserFromContext(ctx context.Context) *store.User {
	user, ok := ctx.Value(userContextKey).(*store.User)
	if !ok {
		return nil
	}
	return user
}

// extractBearerToken extracts the token from a Bearer Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	return parts[1], true
}

// Auth validates Bearer tokens and resolves the subject to a drive user,
// creating the account on first sight. Requests without a valid token get
// 401 Unauthorized.
func Auth(secret, issuer string, d *drive.Drive) func(http.Handler) http.Handler {
	parseOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(issuer))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r)
			if !ok {
				Unauthorized(w, "Authorization header required")
				return
			}

			claims := &Claims{}
			_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				return []byte(secret), nil
			}, parseOpts...)
			if err != nil {
				Unauthorized(w, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				Unauthorized(w, "Token has no subject")
				return
			}

			user, err := d.EnsureUser(r.Context(), claims.Subject, claims.Name)
			if err != nil {
				InternalServerError(w, "Failed to resolve user")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
