package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"hireTrack/internal/cascade"
	"hireTrack/internal/database"
	"hireTrack/internal/permission"
	"hireTrack/internal/reconcile"
)

// QualificationHandler 管理职位的考察项及其与轮次的关联。
type QualificationHandler struct {
	db         *gorm.DB
	evaluator  *permission.Evaluator
	cascades   *cascade.Engine
	reconciler *reconcile.Reconciler
}

// NewQualificationHandler 构造考察项处理器。
func NewQualificationHandler(db *gorm.DB, evaluator *permission.Evaluator, cascades *cascade.Engine, reconciler *reconcile.Reconciler) *QualificationHandler {
	return &QualificationHandler{db: db, evaluator: evaluator, cascades: cascades, reconciler: reconciler}
}

type createQualificationRequest struct {
	Level        string `json:"level" binding:"required,oneof=minimum preferred"`
	Priority     int    `json:"priority"`
	Transferable bool   `json:"transferable"`
	Description  string `json:"description" binding:"required,max=1024"`
}

// Create 新建考察项（仅 SearchChair）。
func (h *QualificationHandler) Create(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req createQualificationRequest
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

	qualification := database.Qualification{
		PositionID:   positionID,
		Level:        req.Level,
		Priority:     req.Priority,
		Transferable: req.Transferable,
		Description:  req.Description,
	}
	if err := h.db.WithContext(ctx).Create(&qualification).Error; err != nil {
		EngineError(c, err)
		return
	}
	Created(c, gin.H{"id": qualification.ID})
}

// List 返回职位下的全部考察项。
func (h *QualificationHandler) List(c *gin.Context) {
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

	var qualifications []database.Qualification
	if err := h.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("priority ASC, id ASC").
		Find(&qualifications).Error; err != nil {
		EngineError(c, err)
		return
	}
	OK(c, qualifications)
}

// Delete 删除考察项及其级联数据（评分、关联）。
func (h *QualificationHandler) Delete(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	qualificationID, ok := pathID(c, "qualificationID")
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

	var qualification database.Qualification
	if err := h.db.WithContext(ctx).First(&qualification, qualificationID).Error; err != nil {
		EngineError(c, err)
		return
	}
	if qualification.PositionID != positionID {
		NotFound(c, "qualification not found in this position")
		return
	}

	if err := h.cascades.DeleteQualification(ctx, qualificationID); err != nil {
		EngineError(c, err)
		return
	}
	OK(c, nil)
}

type reconcileLinksRequest struct {
	Links []reconcile.Link `json:"links" binding:"required,dive"`
}

// ReconcileLinks 把考察项与轮次的关联调和到期望状态。
// 授权只在批次入口做一次，整批在单个事务内完成。
func (h *QualificationHandler) ReconcileLinks(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reconcileLinksRequest
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

	result, err := h.reconciler.Reconcile(ctx, positionID, req.Links)
	if err != nil {
		EngineError(c, err)
		return
	}
	OK(c, result)
}

// ListLinks 返回职位下现存的考察项-轮次关联。
func (h *QualificationHandler) ListLinks(c *gin.Context) {
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

	var links []database.QualificationForRound
	if err := h.db.WithContext(ctx).
		Joins("JOIN qualifications ON qualifications.id = qualification_for_rounds.qualification_id").
		Where("qualifications.position_id = ?", positionID).
		Find(&links).Error; err != nil {
		EngineError(c, err)
		return
	}
	OK(c, links)
}
