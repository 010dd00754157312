package middleware

import (
	"strings"

	"atome-store/auth"
	apierrors "atome-store/internal/errors"
	"atome-store/redis"

	"github.com/gin-gonic/gin"
)

// IdentityFallback resolves requests that carry no token. The session
// manager provides the device identity (anonymous or logged in).
type IdentityFallback interface {
	UserID() string
}

type Auth struct {
	Tokens   *auth.Tokens
	Cache    *redis.Cache
	Fallback IdentityFallback
}

// Middleware authenticates by bearer token or token query parameter.
func (m *Auth) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := extractToken(ctx)
		if token == "" {
			ctx.Error(apierrors.Unauthenticated("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		userID, err := m.Tokens.Verify(token)
		if err != nil {
			ctx.Error(apierrors.Unauthenticated("Invalid token!", err))
			ctx.Abort()
			return
		}
		if !m.Cache.TokenLive(ctx.Request.Context(), token) {
			ctx.Error(apierrors.Unauthenticated("Token revoked!", nil))
			ctx.Abort()
			return
		}

		ctx.Set("user_id", userID)
		ctx.Set("jwt_token", token)
		ctx.Next()
	}
}

// OptionalMiddleware resolves a token when present and otherwise falls
// back to the device session identity. Local-runtime clients work
// anonymously through this path before any login.
func (m *Auth) OptionalMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token := extractToken(ctx)
		if token != "" {
			userID, err := m.Tokens.Verify(token)
			if err == nil && m.Cache.TokenLive(ctx.Request.Context(), token) {
				ctx.Set("user_id", userID)
				ctx.Set("jwt_token", token)
				ctx.Next()
				return
			}
		}

		if m.Fallback != nil {
			if userID := m.Fallback.UserID(); userID != "" {
				ctx.Set("user_id", userID)
				ctx.Next()
				return
			}
		}

		ctx.Error(apierrors.Unauthenticated("No resolved identity", nil))
		ctx.Abort()
	}
}

func extractToken(ctx *gin.Context) string {
	if header := ctx.GetHeader("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ctx.Query("token")
}
