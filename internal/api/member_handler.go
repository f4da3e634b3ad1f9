package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"hireTrack/internal/database"
	"hireTrack/internal/permission"
)

// MemberHandler 管理职位内的委员会成员角色分配。
type MemberHandler struct {
	db        *gorm.DB
	evaluator *permission.Evaluator
}

// NewMemberHandler 构造成员处理器。
func NewMemberHandler(db *gorm.DB, evaluator *permission.Evaluator) *MemberHandler {
	return &MemberHandler{db: db, evaluator: evaluator}
}

type assignRoleRequest struct {
	UserID uint            `json:"user_id" binding:"required"`
	Role   permission.Role `json:"role" binding:"required"`
}

// Assign 给用户分配职位内角色（仅 SearchChair）。
// 已有分配时覆盖其角色；将角色设为 inactive 即把成员移出活跃委员会。
func (h *MemberHandler) Assign(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	roleID, ok := permission.IDFromRole(req.Role)
	if !ok {
		BadRequest(c, "unknown role")
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
	var target database.User
	if err := h.db.WithContext(ctx).First(&target, req.UserID).Error; err != nil {
		EngineError(c, err)
		return
	}
	if err := h.db.WithContext(ctx).First(&database.Position{}, positionID).Error; err != nil {
		EngineError(c, err)
		return
	}

	// 覆盖而非追加：重复分配的裁决规则已经存在，但这里尽量不制造重复行。
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND position_id = ?", req.UserID, positionID).
			Delete(&database.RoleAssignment{}).Error; err != nil {
			return err
		}
		return tx.Create(&database.RoleAssignment{
			UserID:     req.UserID,
			PositionID: positionID,
			RoleID:     roleID,
		}).Error
	})
	if err != nil {
		EngineError(c, err)
		return
	}
	Created(c, gin.H{"user_id": req.UserID, "role": req.Role})
}

type memberView struct {
	UserID   uint            `json:"user_id"`
	Username string          `json:"username"`
	Role     permission.Role `json:"role"`
}

// List 返回职位的委员会成员及其角色（包含 inactive）。
func (h *MemberHandler) List(c *gin.Context) {
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

	var assignments []database.RoleAssignment
	if err := h.db.WithContext(ctx).
		Where("position_id = ?", positionID).
		Order("role_id ASC, user_id ASC").
		Find(&assignments).Error; err != nil {
		EngineError(c, err)
		return
	}

	views := make([]memberView, 0, len(assignments))
	seen := make(map[uint]bool, len(assignments))
	for _, assignment := range assignments {
		// 每个用户只展示裁决后的角色（最小 role_id 获胜，结果已按序）。
		if seen[assignment.UserID] {
			continue
		}
		seen[assignment.UserID] = true

		role, ok := permission.RoleFromID(assignment.RoleID)
		if !ok {
			continue
		}
		var member database.User
		if err := h.db.WithContext(ctx).First(&member, assignment.UserID).Error; err != nil {
			continue
		}
		views = append(views, memberView{
			UserID:   member.ID,
			Username: member.Username,
			Role:     role,
		})
	}
	OK(c, views)
}
