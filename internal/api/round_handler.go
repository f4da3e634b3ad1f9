package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"hireTrack/internal/cascade"
	"hireTrack/internal/database"
	"hireTrack/internal/permission"
)

// RoundHandler 管理职位下的面试轮次。
type RoundHandler struct {
	db        *gorm.DB
	evaluator *permission.Evaluator
	cascades  *cascade.Engine
}

// NewRoundHandler 构造轮次处理器。
func NewRoundHandler(db *gorm.DB, evaluator *permission.Evaluator, cascades *cascade.Engine) *RoundHandler {
	return &RoundHandler{db: db, evaluator: evaluator, cascades: cascades}
}

type createRoundRequest struct {
	Title string `json:"title" binding:"required,max=255"`
}

// Create 在职位下新建一个轮次（仅 SearchChair）。
func (h *RoundHandler) Create(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req createRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RoleSearchChair, &positionID); err != nil {
		EngineError(c, err)
		return
	}
	if err := h.db.WithContext(ctx).First(&database.Position{}, positionID).Error; err != nil {
		EngineError(c, err)
		return
	}

	round := database.Round{PositionID: positionID, Title: req.Title}
	if err := h.db.WithContext(ctx).Create(&round).Error; err != nil {
		EngineError(c, err)
		return
	}
	Created(c, gin.H{"id": round.ID})
}

// List 返回职位下的全部轮次。
func (h *RoundHandler) List(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RoleAny, &positionID); err != nil {
		EngineError(c, err)
		return
	}

	var rounds []database.Round
	if err := h.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("id ASC").
		Find(&rounds).Error; err != nil {
		EngineError(c, err)
		return
	}
	OK(c, rounds)
}

// Delete 删除轮次及其级联数据（评分、轮次笔记、关联）。
func (h *RoundHandler) Delete(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	roundID, ok := pathID(c, "roundID")
	if !ok {
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RoleSearchChair, &positionID); err != nil {
		EngineError(c, err)
		return
	}

	var round database.Round
	if err := h.db.WithContext(ctx).First(&round, roundID).Error; err != nil {
		EngineError(c, err)
		return
	}
	if round.PositionID != positionID {
		NotFound(c, "round not found in this position")
		return
	}

	if err := h.cascades.DeleteRound(ctx, roundID); err != nil {
		EngineError(c, err)
		return
	}
	OK(c, nil)
}
