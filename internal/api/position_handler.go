package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"hireTrack/internal/api/middleware"
	"hireTrack/internal/cascade"
	"hireTrack/internal/cloner"
	"hireTrack/internal/database"
	"hireTrack/internal/lifecycle"
	"hireTrack/internal/permission"
	"hireTrack/internal/tasks"
)

// PositionHandler 提供 Position 的增删查与生命周期操作。
type PositionHandler struct {
	db                  *gorm.DB
	evaluator           *permission.Evaluator
	machine             *lifecycle.Machine
	cloner              *cloner.Cloner
	cascades            *cascade.Engine
	queue               lifecycle.TaskEnqueuer
	redis               redisRateCounter
	reminderBatchPerDay int
}

// NewPositionHandler 构造 Position 处理器。
func NewPositionHandler(db *gorm.DB, evaluator *permission.Evaluator, machine *lifecycle.Machine, positionCloner *cloner.Cloner, cascades *cascade.Engine, queue lifecycle.TaskEnqueuer, redisClient redisRateCounter, reminderBatchPerDay int) *PositionHandler {
	return &PositionHandler{
		db:                  db,
		evaluator:           evaluator,
		machine:             machine,
		cloner:              positionCloner,
		cascades:            cascades,
		queue:               queue,
		redis:               redisClient,
		reminderBatchPerDay: reminderBatchPerDay,
	}
}

// currentUser 取出请求的有效用户（伪装时即为目标用户）。
func currentUser(c *gin.Context, db *gorm.DB) (database.User, bool) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return database.User{}, false
	}
	var user database.User
	if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		AbortUnauthorized(c)
		return database.User{}, false
	}
	return user, true
}

func pathID(c *gin.Context, name string) (uint, bool) {
	raw, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || raw == 0 {
		BadRequest(c, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return uint(raw), true
}

type createPositionRequest struct {
	Title          string `json:"title" binding:"required,max=255"`
	CommitteeEmail string `json:"committee_email" binding:"omitempty,email"`
}

// Create 提交新职位申请：初始状态 Requested，创建者成为 SearchChair。
func (h *PositionHandler) Create(c *gin.Context) {
	var req createPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}

	positionID, err := h.machine.Request(c.Request.Context(), req.Title, req.CommitteeEmail, user)
	if err != nil {
		middleware.LoggerFromContext(c).Error("create position failed", slog.Any("error", err))
		EngineError(c, err)
		return
	}

	Created(c, gin.H{"id": positionID})
}

type positionView struct {
	ID             uint   `json:"id"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	CommitteeEmail string `json:"committee_email"`
	IsExample      bool   `json:"is_example"`
}

func toPositionView(p database.Position) positionView {
	return positionView{
		ID:             p.ID,
		Title:          p.Title,
		Status:         p.Status,
		CommitteeEmail: p.CommitteeEmail,
		IsExample:      p.IsExample,
	}
}

// List 返回当前用户参与的职位；全局管理员看到全部。
// Inactive 分配不计入"参与"。
func (h *PositionHandler) List(c *gin.Context) {
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var positions []database.Position
	query := h.db.WithContext(ctx).Order("id ASC")
	if !user.IsAdmin {
		query = query.
			Joins("JOIN role_assignments ON role_assignments.position_id = positions.id").
			Where("role_assignments.user_id = ? AND role_assignments.role_id <> ?", user.ID, database.RoleIDInactive).
			Distinct("positions.*")
	}
	if err := query.Find(&positions).Error; err != nil {
		EngineError(c, err)
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, toPositionView(p))
	}
	OK(c, views)
}

// Get 返回单个职位详情。
func (h *PositionHandler) Get(c *gin.Context) {
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

	var position database.Position
	if err := h.db.WithContext(ctx).First(&position, positionID).Error; err != nil {
		EngineError(c, err)
		return
	}
	OK(c, toPositionView(position))
}

// Lifecycle 执行一次状态机动作（approve / start_interviewing / mark_completed）。
func (h *PositionHandler) Lifecycle(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	action := lifecycle.Action(c.Param("action"))
	required, ok := lifecycle.RequiredRole(action)
	if !ok {
		BadRequest(c, fmt.Sprintf("unknown action %q", action))
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, required, &positionID); err != nil {
		EngineError(c, err)
		return
	}

	if err := h.machine.Apply(ctx, positionID, action); err != nil {
		EngineError(c, err)
		return
	}

	var position database.Position
	if err := h.db.WithContext(ctx).First(&position, positionID).Error; err != nil {
		EngineError(c, err)
		return
	}
	OK(c, toPositionView(position))
}

// Clone 深拷贝职位为示例（请求者成为新职位的 SearchChair）。
func (h *PositionHandler) Clone(c *gin.Context) {
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

	cloneID, maps, err := h.cloner.Clone(ctx, positionID, user)
	if err != nil {
		middleware.LoggerFromContext(c).Error("clone position failed",
			slog.Uint64("position_id", uint64(positionID)),
			slog.Any("error", err),
		)
		EngineError(c, err)
		return
	}

	Created(c, gin.H{
		"id":             cloneID,
		"qualifications": maps.Qualifications,
		"rounds":         maps.Rounds,
		"candidates":     maps.Candidates,
	})
}

// DeleteExample 删除示例职位（仅 isExample=true 的职位可走此路径）。
func (h *PositionHandler) DeleteExample(c *gin.Context) {
	positionID, ok := pathID(c, "id")
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

	var position database.Position
	if err := h.db.WithContext(ctx).First(&position, positionID).Error; err != nil {
		EngineError(c, err)
		return
	}
	if err := lifecycle.EnsureExample(&position); err != nil {
		EngineError(c, err)
		return
	}

	if err := h.cascades.DeletePosition(ctx, positionID); err != nil {
		EngineError(c, err)
		return
	}
	OK(c, nil)
}

// Delete 删除任意职位及其整棵子树，仅全局管理员可用。
func (h *PositionHandler) Delete(c *gin.Context) {
	positionID, ok := pathID(c, "id")
	if !ok {
		return
	}
	user, ok := currentUser(c, h.db)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.evaluator.Authorize(ctx, user, permission.RequireGlobalAdmin, &positionID); err != nil {
		EngineError(c, err)
		return
	}

	if err := h.cascades.DeletePosition(ctx, positionID); err != nil {
		EngineError(c, err)
		return
	}
	OK(c, nil)
}

// Remind 触发一次反馈催办批处理（异步执行，完成后经 WebSocket 通知）。
// 每个职位每天的触发次数有限制。
func (h *PositionHandler) Remind(c *gin.Context) {
	positionID, ok := pathID(c, "id")
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

	// 计数器不可用时宁可拒绝：放行会绕过日配额。
	rateKey := fmt.Sprintf("rate:remind:%d:%s", positionID, time.Now().UTC().Format("20060102"))
	count, err := incrWithTTL(ctx, h.redis, rateKey, 24*time.Hour)
	if err != nil {
		middleware.LoggerFromContext(c).Error("reminder rate counter failed",
			slog.String("key", rateKey),
			slog.Any("error", err),
		)
		Internal(c, "internal error")
		return
	}
	if count > int64(h.reminderBatchPerDay) {
		c.JSON(http.StatusTooManyRequests, Result{Code: CodeBadRequest, Message: "daily reminder limit reached"})
		return
	}

	task, err := tasks.NewReminderBatchTask(positionID, user.ID, middleware.GetCorrelationID(c))
	if err != nil {
		EngineError(c, err)
		return
	}
	if _, err := h.queue.Enqueue(task, asynq.MaxRetry(3)); err != nil {
		middleware.LoggerFromContext(c).Error("enqueue reminder batch failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	OK(c, gin.H{"queued": true})
}
