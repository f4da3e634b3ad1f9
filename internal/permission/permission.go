package permission

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"hireTrack/internal/database"
)

// Role 是授权检查使用的角色名。
type Role string

const (
	RoleSearchChair    Role = "search_chair"
	RoleSearchAdvocate Role = "search_advocate"
	RoleMember         Role = "member"
	RoleInactive       Role = "inactive"

	// RoleAny 是通配要求：除 Inactive 外任意职位内角色均可。
	RoleAny Role = "any"

	// RequireGlobalAdmin 表示"只有全局管理员可以"。历史上该语义由字符串
	// "Admin" 同时承担两种用途（对其他角色是跳过检查的信号，对它自己是
	// 字面要求的角色）；此处收拢为唯一的具名哨兵，行为保持不变。
	RequireGlobalAdmin Role = "admin"
)

// ErrUnauthorized 表示授权失败；调用方必须视为当前操作的致命错误。
var ErrUnauthorized = errors.New("unauthorized")

// ErrNoAssignment 表示用户在该 Position 上没有任何角色分配。
var ErrNoAssignment = errors.New("no role assignment")

var roleByID = map[uint]Role{
	database.RoleIDSearchChair:    RoleSearchChair,
	database.RoleIDSearchAdvocate: RoleSearchAdvocate,
	database.RoleIDMember:         RoleMember,
	database.RoleIDInactive:       RoleInactive,
}

var idByRole = map[Role]uint{
	RoleSearchChair:    database.RoleIDSearchChair,
	RoleSearchAdvocate: database.RoleIDSearchAdvocate,
	RoleMember:         database.RoleIDMember,
	RoleInactive:       database.RoleIDInactive,
}

// RoleFromID 把角色 ID 翻译为角色名。
func RoleFromID(id uint) (Role, bool) {
	role, ok := roleByID[id]
	return role, ok
}

// IDFromRole 把角色名翻译为种子表中的角色 ID。
func IDFromRole(role Role) (uint, bool) {
	id, ok := idByRole[role]
	return id, ok
}

// Evaluator 决定某个用户是否可以对某个 Position 执行动作。
type Evaluator struct {
	db *gorm.DB
}

// NewEvaluator 构造 Evaluator。
func NewEvaluator(db *gorm.DB) *Evaluator {
	return &Evaluator{db: db}
}

// ResolveRole 返回用户在指定 Position 上的角色。
// 存储层不保证 (user, position) 唯一，裁决规则：最小角色 ID 获胜。
// 查询按 role_id ASC 排序，同时在内存中再取一次最小值，
// 使规则不依赖存储后端的排序行为。
func (e *Evaluator) ResolveRole(ctx context.Context, userID, positionID uint) (Role, error) {
	var assignments []database.RoleAssignment
	err := e.db.WithContext(ctx).
		Where("user_id = ? AND position_id = ?", userID, positionID).
		Order("role_id ASC").
		Find(&assignments).Error
	if err != nil {
		return "", fmt.Errorf("load role assignments: %w", err)
	}
	if len(assignments) == 0 {
		return "", ErrNoAssignment
	}

	winner := assignments[0]
	for _, a := range assignments[1:] {
		if a.RoleID < winner.RoleID {
			winner = a
		}
	}

	role, ok := RoleFromID(winner.RoleID)
	if !ok {
		return "", fmt.Errorf("unknown role id %d", winner.RoleID)
	}
	return role, nil
}

// Authorize 判定 user 是否满足 required 的角色要求。
// positionID 为 nil 表示动作不绑定具体 Position（仅对全局管理员检查有意义）。
// 返回 nil 表示放行；否则返回 ErrUnauthorized（可能包装查询错误）。
func (e *Evaluator) Authorize(ctx context.Context, user database.User, required Role, positionID *uint) error {
	if required == RequireGlobalAdmin {
		if user.IsAdmin {
			return nil
		}
		return ErrUnauthorized
	}

	// 全局管理员对所有普通角色要求直接放行。
	if user.IsAdmin {
		return nil
	}

	if positionID == nil {
		return ErrUnauthorized
	}

	role, err := e.ResolveRole(ctx, user.ID, *positionID)
	if err != nil {
		if errors.Is(err, ErrNoAssignment) {
			return ErrUnauthorized
		}
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	// Inactive 不满足任何要求，也被排除在 RoleAny 之外。
	if role == RoleInactive {
		return ErrUnauthorized
	}

	if required == RoleAny {
		return nil
	}

	if role == required {
		return nil
	}
	return ErrUnauthorized
}
