package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"hireTrack/internal/api/middleware"
	"hireTrack/internal/database"
	"hireTrack/internal/permission"
	"hireTrack/internal/session"
)

// MasqueradeHandler 允许全局管理员临时以其他用户的身份操作。
type MasqueradeHandler struct {
	db        *gorm.DB
	evaluator *permission.Evaluator
	sessions  *session.Manager
}

// NewMasqueradeHandler 构造伪装处理器。
func NewMasqueradeHandler(db *gorm.DB, evaluator *permission.Evaluator, sessions *session.Manager) *MasqueradeHandler {
	return &MasqueradeHandler{db: db, evaluator: evaluator, sessions: sessions}
}

type startMasqueradeRequest struct {
	TargetUserID uint `json:"target_user_id" binding:"required"`
}

// Start 开始身份替换。鉴权针对真实用户：伪装中的非管理员不能再伪装。
func (h *MasqueradeHandler) Start(c *gin.Context) {
	var req startMasqueradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	realUserID, ok := middleware.RealUserIDFromContext(c)
	if !ok {
		realUserID, ok = middleware.UserIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}
	}
	ctx := c.Request.Context()

	var realUser database.User
	if err := h.db.WithContext(ctx).First(&realUser, realUserID).Error; err != nil {
		AbortUnauthorized(c)
		return
	}
	if err := h.evaluator.Authorize(ctx, realUser, permission.RequireGlobalAdmin, nil); err != nil {
		EngineError(c, err)
		return
	}

	var target database.User
	if err := h.db.WithContext(ctx).First(&target, req.TargetUserID).Error; err != nil {
		EngineError(c, err)
		return
	}

	accessLevel := "user"
	if target.IsAdmin {
		accessLevel = "admin"
	}
	stack, err := h.sessions.Start(ctx, realUserID, target.ID, accessLevel)
	if err != nil {
		middleware.LoggerFromContext(c).Error("start masquerade failed", slog.Any("error", err))
		EngineError(c, err)
		return
	}

	middleware.LoggerFromContext(c).Info("masquerade started",
		slog.Uint64("real_user_id", uint64(realUserID)),
		slog.Uint64("target_user_id", uint64(target.ID)),
	)
	OK(c, stack)
}

// Stop 结束身份替换，返回恢复后的用户。
func (h *MasqueradeHandler) Stop(c *gin.Context) {
	realUserID, ok := middleware.RealUserIDFromContext(c)
	if !ok {
		realUserID, ok = middleware.UserIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}
	}
	ctx := c.Request.Context()

	restored, err := h.sessions.Stop(ctx, realUserID)
	if err != nil {
		EngineError(c, err)
		return
	}

	middleware.LoggerFromContext(c).Info("masquerade stopped",
		slog.Uint64("real_user_id", uint64(realUserID)),
	)
	OK(c, gin.H{"restored_user_id": restored})
}

// Current 返回当前会话的伪装状态。
func (h *MasqueradeHandler) Current(c *gin.Context) {
	realUserID, ok := middleware.RealUserIDFromContext(c)
	if !ok {
		realUserID, ok = middleware.UserIDFromContext(c)
		if !ok {
			AbortUnauthorized(c)
			return
		}
	}

	stack, err := h.sessions.Current(c.Request.Context(), realUserID)
	if err != nil {
		EngineError(c, err)
		return
	}
	OK(c, stack)
}
