package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/fleetops/driver-ledger/internal/pkg/jwt"
	"github.com/fleetops/driver-ledger/internal/pkg/logger"
	"github.com/fleetops/driver-ledger/internal/pkg/response"
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
			// Extract token from header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			// Check Bearer prefix
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			// Validate token
			claims, err := jwtService.ValidateAccessToken(parts[1])
			if err != nil {
				if errors.Is(err, jwt.ErrExpiredToken) {
					response.Unauthorized(w, "Token expired")
				} else {
					response.Unauthorized(w, "Invalid token")
				}
				return
			}

			// Add claims to context
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			ctx = logger.WithFields(ctx, map[string]string{
				"user_id": claims.UserID.String(),
				"role":    claims.Role,
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetRole extracts role from context
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}

// RequireRole returns middleware that checks user role
func RequireRole(roles ...string) func(http.Handler) http.Handler {
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

// RequireStaff allows admins and fleet managers.
func RequireStaff() func(http.Handler) http.Handler {
	return RequireRole(jwt.RoleAdmin, jwt.RoleFleetManager)
}

// IsStaff reports whether the caller may act on any driver.
func IsStaff(ctx context.Context) bool {
	role := GetRole(ctx)
	return role == jwt.RoleAdmin || role == jwt.RoleFleetManager
}

// CanAccessDriver reports whether the caller may read driverID's data:
// staff may read anyone, a driver only themselves.
func CanAccessDriver(ctx context.Context, driverID uuid.UUID) bool {
	if IsStaff(ctx) {
		return true
	}
	return GetRole(ctx) == jwt.RoleDriver && driverID != uuid.Nil && GetUserID(ctx) == driverID
}
