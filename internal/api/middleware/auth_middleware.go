package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hireTrack/internal/auth"
)

const (
	userIDKey  = "userID"
	isAdminKey = "isAdmin"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "UNAUTHORIZED",
		"message": "unauthorized",
	})
}

// AuthMiddleware 校验访问令牌并将 userID 与管理员标志注入上下文。
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c)
			return
		}

		rawToken := parts[1]
		if strings.TrimSpace(rawToken) == "" {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateToken(rawToken)
		if err != nil || claims.TokenType != "access" {
			abortUnauthorized(c)
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(isAdminKey, claims.IsAdmin)
		c.Next()
	}
}

// UserIDFromContext 返回认证中间件写入的用户 ID。
func UserIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}

// IsAdminFromContext 返回认证中间件写入的管理员标志。
func IsAdminFromContext(c *gin.Context) bool {
	value, ok := c.Get(isAdminKey)
	if !ok {
		return false
	}
	isAdmin, ok := value.(bool)
	return ok && isAdmin
}
