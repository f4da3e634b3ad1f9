package api

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hireTrack/internal/cascade"
	"hireTrack/internal/database"
	"hireTrack/internal/permission"
)

// CandidateHandler 管理候选人、最终处置与轮次笔记。
type CandidateHandler struct {
	db        *gorm.DB
	evaluator *permission.Evaluator
	cascades  *cascade.Engine
}

// NewCandidateHandler 构造候选人处理器。
func NewCandidateHandler(db *gorm.DB, evaluator *permission.Evaluator, cascades *cascade.Engine) *CandidateHandler {
	return &CandidateHandler{db: db, evaluator: evaluator, cascades: cascades}
}

// loadCandidateInPosition 校验候选人归属于路径中的职位。
func (h *CandidateHandler) loadCandidateInPosition(c *gin.Context, positionID, candidateID uint) (database.Candidate, bool) {
	var candidate database.Candidate
	if err := h.db.WithContext(c.Request.Context()).First(&candidate, candidateID).Error; err != nil {
		EngineError(c, err)
		return database.Candidate{}, false
	}
	if candidate.PositionID != positionID {
		NotFound(c, "candidate not found in this position")
		return database.Candidate{}, false
	}
	return candidate, true
}

type createCandidateRequest struct {
	Name    string         `json:"name" binding:"required,max=255"`
	Email   string         `json:"email" binding:"omitempty,email"`
	Contact map[string]any `json:"contact"`
}

// Create 新建候选人（仅 SearchChair）。
func (h *CandidateHandler) Create(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req createCandidateRequest
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

	candidate := database.Candidate{
		PositionID: positionID,
		Name:       req.Name,
		Email:      req.Email,
	}
	if req.Contact != nil {
		raw, err := json.Marshal(req.Contact)
		if err != nil {
			BadRequest(c, "invalid contact block")
			return
		}
		candidate.Contact = datatypes.JSON(raw)
	}
	if err := h.db.WithContext(ctx).Create(&candidate).Error; err != nil {
		EngineError(c, err)
		return
	}
	Created(c, gin.H{"id": candidate.ID})
}

// List 返回职位下的全部候选人。
func (h *CandidateHandler) List(c *gin.Context) {
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

	var candidates []database.Candidate
	if err := h.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("id ASC").
		Find(&candidates).Error; err != nil {
		EngineError(c, err)
		return
	}
	OK(c, candidates)
}

// Get 返回候选人详情，连同处置状态（若有）。
func (h *CandidateHandler) Get(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	candidateID, ok := pathID(c, "candidateID")
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
	candidate, ok := h.loadCandidateInPosition(c, positionID, candidateID)
	if !ok {
		return
	}

	var status database.CandidateStatus
	err := h.db.WithContext(ctx).Where("candidate_id = ?", candidateID).First(&status).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		EngineError(c, err)
		return
	}

	content := gin.H{"candidate": candidate}
	if err == nil {
		content["status"] = status
	}
	OK(c, content)
}

// Delete 删除候选人及其级联数据（反馈、评分、笔记、文件）。
func (h *CandidateHandler) Delete(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	candidateID, ok := pathID(c, "candidateID")
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
	if _, ok := h.loadCandidateInPosition(c, positionID, candidateID); !ok {
		return
	}

	if err := h.cascades.DeleteCandidate(ctx, candidateID); err != nil {
		EngineError(c, err)
		return
	}
	OK(c, nil)
}

type candidateStatusRequest struct {
	Decision string `json:"decision" binding:"required,max=64"`
	Comment  string `json:"comment" binding:"max=1024"`
}

// UpsertStatus 写入候选人的最终处置；每位候选人至多一条，重复写入即覆盖。
func (h *CandidateHandler) UpsertStatus(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	candidateID, ok := pathID(c, "candidateID")
	if !ok {
		return
	}
	var req candidateStatusRequest
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
	if _, ok := h.loadCandidateInPosition(c, positionID, candidateID); !ok {
		return
	}

	status := database.CandidateStatus{
		CandidateID: candidateID,
		Decision:    req.Decision,
		Comment:     req.Comment,
	}
	err := h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "candidate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"decision", "comment", "updated_at"}),
	}).Create(&status).Error
	if err != nil {
		EngineError(c, err)
		return
	}
	OK(c, status)
}

type roundNoteRequest struct {
	Note string `json:"note" binding:"required,max=2048"`
}

// UpsertRoundNote 写入候选人在某轮次下的备注。
func (h *CandidateHandler) UpsertRoundNote(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	candidateID, ok := pathID(c, "candidateID")
	if !ok {
		return
	}
	roundID, ok := pathID(c, "roundID")
	if !ok {
		return
	}
	var req roundNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
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
	if _, ok := h.loadCandidateInPosition(c, positionID, candidateID); !ok {
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

	var note database.CandidateRoundNote
	err := h.db.WithContext(ctx).
		Where("candidate_id = ? AND round_id = ?", candidateID, roundID).
		First(&note).Error
	switch {
	case err == nil:
		if err := h.db.WithContext(ctx).Model(&note).Update("note", req.Note).Error; err != nil {
			EngineError(c, err)
			return
		}
		OK(c, note)
	case errors.Is(err, gorm.ErrRecordNotFound):
		note = database.CandidateRoundNote{
			CandidateID: candidateID,
			RoundID:     roundID,
			Note:        req.Note,
		}
		if err := h.db.WithContext(ctx).Create(&note).Error; err != nil {
			EngineError(c, err)
			return
		}
		Created(c, note)
	default:
		EngineError(c, err)
	}
}
