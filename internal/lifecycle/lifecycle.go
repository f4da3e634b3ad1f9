package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"hireTrack/internal/database"
	"hireTrack/internal/permission"
	"hireTrack/internal/tasks"
)

// Action 是驱动 Position 状态机的动作。
type Action string

const (
	ActionApprove           Action = "approve"
	ActionStartInterviewing Action = "start_interviewing"
	ActionMarkCompleted     Action = "mark_completed"
)

var (
	// ErrIllegalTransition 表示当前状态下不允许该动作（状态保持不变）。
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrUnknownAction 表示动作不在状态机定义中。
	ErrUnknownAction = errors.New("unknown lifecycle action")
	// ErrNotExample 表示试图以"示例删除"路径删除正式 Position。
	ErrNotExample = errors.New("position is not an example")
)

type transition struct {
	requiredRole permission.Role
	from         []string
	to           string
}

// 状态机定义：每个动作对应 {所需角色, 合法起始状态, 目标状态}。
// Completed → Interviewing 是唯一允许的回退（录用告吹后重启面试）。
var transitions = map[Action]transition{
	ActionApprove: {
		requiredRole: permission.RequireGlobalAdmin,
		from:         []string{database.PositionRequested},
		to:           database.PositionOpen,
	},
	ActionStartInterviewing: {
		requiredRole: permission.RoleSearchChair,
		from:         []string{database.PositionOpen, database.PositionCompleted},
		to:           database.PositionInterviewing,
	},
	ActionMarkCompleted: {
		requiredRole: permission.RoleSearchChair,
		from:         []string{database.PositionInterviewing},
		to:           database.PositionCompleted,
	},
}

// Next 返回 current 状态下执行 action 后的新状态。
func Next(current string, action Action) (string, error) {
	tr, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	for _, from := range tr.from {
		if current == from {
			return tr.to, nil
		}
	}
	return "", fmt.Errorf("%w: %s from %s", ErrIllegalTransition, action, current)
}

// RequiredRole 返回执行动作所需的角色要求。
func RequiredRole(action Action) (permission.Role, bool) {
	tr, ok := transitions[action]
	if !ok {
		return "", false
	}
	return tr.requiredRole, true
}

// LinkRemovalAllowed 判断当前状态是否允许解绑 Qualification 与 Round。
// 面试开始后解绑会使已收集的反馈失效，因此只有 Open/Requested 可解绑；
// 新建绑定不受此限制（沿用既有的不对称行为）。
func LinkRemovalAllowed(status string) bool {
	return status == database.PositionOpen || status == database.PositionRequested
}

// TaskEnqueuer 是出站任务入队的最小接口，asynq.Client 满足它。
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Machine 将状态机落到数据库，并在转移成功后触发外部副作用（邮件任务）。
type Machine struct {
	db    *gorm.DB
	queue TaskEnqueuer
}

// NewMachine 构造状态机；queue 可为 nil（测试时跳过副作用）。
func NewMachine(db *gorm.DB, queue TaskEnqueuer) *Machine {
	return &Machine{db: db, queue: queue}
}

// Request 创建一个新的 Position（状态 Requested），创建者成为 SearchChair，
// 并向全局管理员发出审批通知。
func (m *Machine) Request(ctx context.Context, title, committeeEmail string, creator database.User) (uint, error) {
	position := database.Position{
		Title:          title,
		Status:         database.PositionRequested,
		CommitteeEmail: committeeEmail,
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&position).Error; err != nil {
			return fmt.Errorf("create position: %w", err)
		}
		assignment := database.RoleAssignment{
			UserID:     creator.ID,
			PositionID: position.ID,
			RoleID:     database.RoleIDSearchChair,
		}
		if err := tx.Create(&assignment).Error; err != nil {
			return fmt.Errorf("assign search chair: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if m.queue != nil {
		task, err := tasks.NewAdminNotifyTask(position.ID, position.Title)
		if err != nil {
			return position.ID, fmt.Errorf("build admin notify task: %w", err)
		}
		if _, err := m.queue.Enqueue(task, asynq.MaxRetry(5)); err != nil {
			return position.ID, fmt.Errorf("enqueue admin notify: %w", err)
		}
	}

	return position.ID, nil
}

// Apply 在单个事务内执行一次状态转移（Position 行持锁）。
// 状态不合法时不产生任何变更。
func (m *Machine) Apply(ctx context.Context, positionID uint, action Action) error {
	var approved *database.Position

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		position, err := database.LockPosition(tx, positionID)
		if err != nil {
			return fmt.Errorf("load position %d: %w", positionID, err)
		}

		next, err := Next(position.Status, action)
		if err != nil {
			return err
		}

		if err := tx.Model(position).Update("status", next).Error; err != nil {
			return fmt.Errorf("update status: %w", err)
		}

		if action == ActionApprove {
			position.Status = next
			approved = position
		}
		return nil
	})
	if err != nil {
		return err
	}

	if approved != nil && m.queue != nil {
		task, err := tasks.NewApprovalMailTask(approved.ID, approved.Title, approved.CommitteeEmail)
		if err != nil {
			return fmt.Errorf("build approval mail task: %w", err)
		}
		if _, err := m.queue.Enqueue(task, asynq.MaxRetry(5)); err != nil {
			return fmt.Errorf("enqueue approval mail: %w", err)
		}
	}

	return nil
}

// EnsureExample 校验示例删除的前置条件：isExample 必须为 true。
func EnsureExample(position *database.Position) error {
	if !position.IsExample {
		return ErrNotExample
	}
	return nil
}
