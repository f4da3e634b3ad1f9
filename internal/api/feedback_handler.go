package api

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"

	"hireTrack/internal/database"
	"hireTrack/internal/permission"
)

// FeedbackHandler 管理评审反馈及其按考察项的评分。
type FeedbackHandler struct {
	db        *gorm.DB
	evaluator *permission.Evaluator
	sanitizer *bluemonday.Policy
}

// NewFeedbackHandler 构造反馈处理器。反馈正文经 bluemonday 清洗后入库。
func NewFeedbackHandler(db *gorm.DB, evaluator *permission.Evaluator) *FeedbackHandler {
	return &FeedbackHandler{
		db:        db,
		evaluator: evaluator,
		sanitizer: bluemonday.UGCPolicy(),
	}
}

type feedbackScoreRequest struct {
	QualificationID uint   `json:"qualification_id" binding:"required"`
	Score           int    `json:"score" binding:"min=0,max=5"`
	Comment         string `json:"comment" binding:"max=1024"`
}

type submitFeedbackRequest struct {
	Notes  string                 `json:"notes" binding:"max=65535"`
	Scores []feedbackScoreRequest `json:"scores" binding:"dive"`
}

// Submit 提交或覆盖一条反馈：(user, candidate, round) 至多一条。
// 评分只接受与该轮次关联的考察项；重复提交会替换此前的全部评分行。
func (h *FeedbackHandler) Submit(c *gin.Context) {
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
	var req submitFeedbackRequest
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

	var candidate database.Candidate
	if err := h.db.WithContext(ctx).First(&candidate, candidateID).Error; err != nil {
		EngineError(c, err)
		return
	}
	var round database.Round
	if err := h.db.WithContext(ctx).First(&round, roundID).Error; err != nil {
		EngineError(c, err)
		return
	}
	if candidate.PositionID != positionID || round.PositionID != positionID {
		NotFound(c, "candidate or round not found in this position")
		return
	}

	// 评分目标必须与该轮次关联。
	var linkedIDs []uint
	if err := h.db.WithContext(ctx).Model(&database.QualificationForRound{}).
		Where("round_id = ?", roundID).
		Pluck("qualification_id", &linkedIDs).Error; err != nil {
		EngineError(c, err)
		return
	}
	linked := make(map[uint]bool, len(linkedIDs))
	for _, id := range linkedIDs {
		linked[id] = true
	}
	for _, score := range req.Scores {
		if !linked[score.QualificationID] {
			BadRequest(c, fmt.Sprintf("qualification %d is not linked to this round", score.QualificationID))
			return
		}
	}

	notes := h.sanitizer.Sanitize(req.Notes)

	var feedback database.Feedback
	created := false
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND candidate_id = ? AND round_id = ?", user.ID, candidateID, roundID).
			First(&feedback).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			feedback = database.Feedback{
				UserID:      user.ID,
				CandidateID: candidateID,
				RoundID:     roundID,
				Notes:       notes,
			}
			if err := tx.Create(&feedback).Error; err != nil {
				return fmt.Errorf("create feedback: %w", err)
			}
			created = true
		case err != nil:
			return fmt.Errorf("lookup feedback: %w", err)
		default:
			if err := tx.Model(&feedback).Update("notes", notes).Error; err != nil {
				return fmt.Errorf("update feedback: %w", err)
			}
			if err := tx.Where("feedback_id = ?", feedback.ID).
				Delete(&database.FeedbackForQualification{}).Error; err != nil {
				return fmt.Errorf("clear scores: %w", err)
			}
		}

		for _, score := range req.Scores {
			row := database.FeedbackForQualification{
				FeedbackID:      feedback.ID,
				QualificationID: score.QualificationID,
				RoundID:         roundID,
				Score:           score.Score,
				Comment:         score.Comment,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create score: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		EngineError(c, err)
		return
	}

	if created {
		Created(c, gin.H{"id": feedback.ID})
		return
	}
	OK(c, gin.H{"id": feedback.ID})
}

type feedbackView struct {
	ID     uint                                `json:"id"`
	UserID uint                                `json:"user_id"`
	Notes  string                              `json:"notes"`
	Scores []database.FeedbackForQualification `json:"scores"`
}

// ListForCandidate 返回候选人在某轮次下收到的全部反馈。
func (h *FeedbackHandler) ListForCandidate(c *gin.Context) {
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
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RoleAny, &positionID); err != nil {
		EngineError(c, err)
		return
	}

	var candidate database.Candidate
	if err := h.db.WithContext(ctx).First(&candidate, candidateID).Error; err != nil {
		EngineError(c, err)
		return
	}
	if candidate.PositionID != positionID {
		NotFound(c, "candidate not found in this position")
		return
	}

	var feedbacks []database.Feedback
	if err := h.db.WithContext(ctx).
		Where("candidate_id = ? AND round_id = ?", candidateID, roundID).
		Order("id ASC").
		Find(&feedbacks).Error; err != nil {
		EngineError(c, err)
		return
	}

	views := make([]feedbackView, 0, len(feedbacks))
	for _, fb := range feedbacks {
		var scores []database.FeedbackForQualification
		if err := h.db.WithContext(ctx).
			Where("feedback_id = ?", fb.ID).
			Order("qualification_id ASC").
			Find(&scores).Error; err != nil {
			EngineError(c, err)
			return
		}
		views = append(views, feedbackView{
			ID:     fb.ID,
			UserID: fb.UserID,
			Notes:  fb.Notes,
			Scores: scores,
		})
	}
	OK(c, views)
}
