package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/core/services"
)

type contextKey string

const claimsKey contextKey = "slipway.claims"

// Claims extracts the authenticated user's claims from the request context.
func Claims(r *http.Request) *services.Claims {
	c, _ := r.Context().Value(claimsKey).(*services.Claims)
	return c
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// AuthMiddleware authenticates requests and throttles abusive clients.
type AuthMiddleware struct {
	Auth     *services.AuthService
	Users    domain.UserRepository
	Logger   *slog.Logger
	visitors sync.Map
}

func NewAuthMiddleware(auth *services.AuthService, users domain.UserRepository, logger *slog.Logger) *AuthMiddleware {
	m := &AuthMiddleware{Auth: auth, Users: users, Logger: logger}
	go m.cleanupVisitors()
	return m
}

// RequireAuthentication validates the bearer token and confirms the account
// is still active before admitting the request.
func (m *AuthMiddleware) RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			http.Error(w, `{"message": "Unauthorized"}`, http.StatusUnauthorized)
			return
		}

		claims, err := m.Auth.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, `{"message": "Invalid token"}`, http.StatusUnauthorized)
			return
		}

		user, err := m.Users.GetByID(r.Context(), claims.UserID)
		if err != nil || !user.Active {
			m.Logger.Warn("access attempt with stale token", "user_id", claims.UserID.String())
			http.Error(w, `{"message": "Account suspended"}`, http.StatusForbidden)
			return
		}
		// Role changes take effect immediately, not at token renewal.
		claims.Role = user.Role

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireOperator rejects requests from viewers; deployments and resource
// mutations need at least the operator role.
func (m *AuthMiddleware) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := Claims(r)
		if claims == nil || (claims.Role != domain.RoleAdmin && claims.Role != domain.RoleOperator) {
			http.Error(w, `{"message": "Forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin restricts user management to administrators.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := Claims(r)
		if claims == nil || claims.Role != domain.RoleAdmin {
			http.Error(w, `{"message": "Forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies a per-client token bucket.
func (m *AuthMiddleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("X-Real-IP")
		if ip == "" {
			ip = r.RemoteAddr
		}

		v, _ := m.visitors.LoadOrStore(ip, &visitor{
			limiter:  rate.NewLimiter(rate.Limit(10), 30),
			lastSeen: time.Now(),
		})
		vis := v.(*visitor)
		vis.lastSeen = time.Now()

		if !vis.limiter.Allow() {
			http.Error(w, `{"message": "Rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) cleanupVisitors() {
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		m.visitors.Range(func(key, value any) bool {
			if time.Since(value.(*visitor).lastSeen) > 3*time.Minute {
				m.visitors.Delete(key)
			}
			return true
		})
	}
}

func extractToken(r *http.Request) string {
	if cookie, err := r.Cookie("slipway_access_token"); err == nil {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	// EventSource cannot set headers; allow the token as a query parameter
	// on streaming endpoints.
	return r.URL.Query().Get("token")
}
