package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/jwt"
	"github.com/tokenbridge/settlement-api/internal/pkg/response"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RoleKey   contextKey = "role"
)

// Auth returns middleware that validates JWT
func Auth(jwtService *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateAccessToken(parts[1])
			if err != nil {
				if err == jwt.ErrExpiredToken {
					response.Unauthorized(w, "Token expired")
				} else {
					response.Unauthorized(w, "Invalid token")
				}
				return
			}

			role := actor.Role(claims.Role)
			if !role.Valid() {
				response.Forbidden(w, "Unknown role")
				return
			}
			if claims.Suspended {
				response.Forbidden(w, "Your account has been suspended")
				return
			}

			ctx := WithActor(r.Context(), actor.New(claims.UserID, role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithActor stores the caller identity in ctx.
func WithActor(ctx context.Context, a actor.Actor) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, a.UserID)
	return context.WithValue(ctx, RoleKey, a.Role)
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetRole extracts role from context
func GetRole(ctx context.Context) actor.Role {
	if role, ok := ctx.Value(RoleKey).(actor.Role); ok {
		return role
	}
	return ""
}

// GetActor returns the authenticated caller.
func GetActor(ctx context.Context) actor.Actor {
	return actor.New(GetUserID(ctx), GetRole(ctx))
}

// RequireRole returns middleware that checks user role
func RequireRole(roles ...actor.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userRole := GetRole(r.Context())

			for _, role := range roles {
				if userRole == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			response.Forbidden(w, "Insufficient permissions")
		})
	}
}

// RequireAdmin returns middleware that requires admin role
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(actor.RoleAdmin)
}
