package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"hireTrack/internal/database"
	"hireTrack/internal/session"
)

const realUserIDKey = "realUserID"

// MasqueradeMiddleware 在认证之后解析伪装会话：
// 若当前用户正在伪装，则用目标身份覆盖 userID 与管理员标志，
// 并保留 realUserID 以便审计日志追溯到真实操作者。
func MasqueradeMiddleware(db *gorm.DB, sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		realUserID, ok := UserIDFromContext(c)
		if !ok {
			c.Next()
			return
		}
		c.Set(realUserIDKey, realUserID)

		stack, err := sessions.Current(c.Request.Context(), realUserID)
		if err != nil {
			LoggerFromContext(c).Error("masquerade lookup failed", slog.Any("error", err))
			c.Next()
			return
		}
		if !stack.Active {
			c.Next()
			return
		}

		var target database.User
		if err := db.WithContext(c.Request.Context()).First(&target, stack.UserID).Error; err != nil {
			LoggerFromContext(c).Warn("masquerade target missing",
				slog.Uint64("target_id", uint64(stack.UserID)),
				slog.Any("error", err),
			)
			c.Next()
			return
		}

		c.Set(userIDKey, target.ID)
		c.Set(isAdminKey, target.IsAdmin)
		c.Next()
	}
}

// RealUserIDFromContext 返回伪装前的真实用户 ID。
func RealUserIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get(realUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}
