package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"hireTrack/internal/database"
	"hireTrack/internal/errcode"
	"hireTrack/internal/tasks"
)

// MailSender 是邮件发送的最小接口，gomail.Dialer 满足它。
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailTaskHandler 消费出站邮件任务：审批通知、审批结果与反馈催办。
type MailTaskHandler struct {
	db          *gorm.DB
	sender      MailSender
	from        string
	adminAddr   string
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewMailTaskHandler 构造邮件任务处理器。
func NewMailTaskHandler(db *gorm.DB, sender MailSender, from, adminAddr string, redisClient *redis.Client, logger *slog.Logger) *MailTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailTaskHandler{
		db:          db,
		sender:      sender,
		from:        from,
		adminAddr:   adminAddr,
		redisClient: redisClient,
		logger:      logger,
	}
}

// HandleAdminNotify 向全局管理员发送"新职位待审批"通知。
func (h *MailTaskHandler) HandleAdminNotify(_ context.Context, task *asynq.Task) error {
	var payload tasks.AdminNotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode admin notify payload: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", h.from)
	m.SetHeader("To", h.adminAddr)
	m.SetHeader("Subject", fmt.Sprintf("Position approval requested: %s", payload.PositionTitle))
	m.SetBody("text/plain", fmt.Sprintf(
		"A new position (#%d, %q) is waiting for approval.",
		payload.PositionID, payload.PositionTitle,
	))

	if err := h.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send admin notify: %w", err)
	}
	h.logger.Info("admin notify sent", slog.Uint64("position_id", uint64(payload.PositionID)))
	return nil
}

// HandleApproval 向委员会邮箱发送审批通过邮件。
func (h *MailTaskHandler) HandleApproval(_ context.Context, task *asynq.Task) error {
	var payload tasks.ApprovalMailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode approval payload: %w", err)
	}
	if payload.CommitteeEmail == "" {
		h.logger.Warn("approval mail skipped: no committee email",
			slog.Uint64("position_id", uint64(payload.PositionID)))
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", h.from)
	m.SetHeader("To", payload.CommitteeEmail)
	m.SetHeader("Subject", fmt.Sprintf("Position approved: %s", payload.PositionTitle))
	m.SetBody("text/plain", fmt.Sprintf(
		"Position #%d (%q) has been approved and is now open.",
		payload.PositionID, payload.PositionTitle,
	))

	if err := h.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send approval mail: %w", err)
	}
	return nil
}

// HandleReminderBatch 给所有缺反馈的委员会成员各发一封催办邮件。
// 批量操作失败时错误信息携带已完成数量，调用方可据此判断进度。
func (h *MailTaskHandler) HandleReminderBatch(ctx context.Context, task *asynq.Task) error {
	var payload tasks.ReminderBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode reminder payload: %w", err)
	}

	sent, total, err := h.sendReminders(ctx, payload.PositionID)
	if err != nil {
		code := errcode.MailSendFailed
		if errors.Is(err, gorm.ErrRecordNotFound) {
			code = errcode.ResourceMissing
		}
		h.publishResult(ctx, payload, "failed", code,
			fmt.Sprintf("sent %d of %d reminders: %v", sent, total, err), sent)
		return fmt.Errorf("reminder batch: sent %d of %d: %w", sent, total, err)
	}

	h.publishResult(ctx, payload, "completed", errcode.OK, "", sent)
	return nil
}

func (h *MailTaskHandler) sendReminders(ctx context.Context, positionID uint) (sent, total int, err error) {
	var position database.Position
	if err := h.db.WithContext(ctx).First(&position, positionID).Error; err != nil {
		return 0, 0, fmt.Errorf("load position %d: %w", positionID, err)
	}

	var assignments []database.RoleAssignment
	if err := h.db.WithContext(ctx).
		Where("position_id = ? AND role_id <> ?", positionID, database.RoleIDInactive).
		Find(&assignments).Error; err != nil {
		return 0, 0, fmt.Errorf("list assignments: %w", err)
	}

	var candidateIDs []uint
	if err := h.db.WithContext(ctx).Model(&database.Candidate{}).
		Where("position_id = ?", positionID).
		Pluck("id", &candidateIDs).Error; err != nil {
		return 0, 0, fmt.Errorf("list candidates: %w", err)
	}
	var roundIDs []uint
	if err := h.db.WithContext(ctx).Model(&database.Round{}).
		Where("position_id = ?", positionID).
		Pluck("id", &roundIDs).Error; err != nil {
		return 0, 0, fmt.Errorf("list rounds: %w", err)
	}

	expected := int64(len(candidateIDs) * len(roundIDs))
	if expected == 0 {
		return 0, 0, nil
	}

	type pending struct {
		user    database.User
		missing int64
	}
	var work []pending
	for _, assignment := range assignments {
		var user database.User
		if err := h.db.WithContext(ctx).First(&user, assignment.UserID).Error; err != nil {
			return 0, 0, fmt.Errorf("load user %d: %w", assignment.UserID, err)
		}
		if user.Email == "" {
			continue
		}

		var submitted int64
		if err := h.db.WithContext(ctx).Model(&database.Feedback{}).
			Where("user_id = ? AND candidate_id IN ? AND round_id IN ?", user.ID, candidateIDs, roundIDs).
			Count(&submitted).Error; err != nil {
			return 0, 0, fmt.Errorf("count feedback: %w", err)
		}
		if submitted < expected {
			work = append(work, pending{user: user, missing: expected - submitted})
		}
	}

	total = len(work)
	for _, p := range work {
		m := gomail.NewMessage()
		m.SetHeader("From", h.from)
		m.SetHeader("To", p.user.Email)
		m.SetHeader("Subject", fmt.Sprintf("Feedback reminder: %s", position.Title))
		m.SetBody("text/plain", fmt.Sprintf(
			"You have %d pending feedback entries for position %q.",
			p.missing, position.Title,
		))
		if err := h.sender.DialAndSend(m); err != nil {
			return sent, total, fmt.Errorf("send reminder to %s: %w", p.user.Email, err)
		}
		sent++
	}
	return sent, total, nil
}

func (h *MailTaskHandler) publishResult(ctx context.Context, payload tasks.ReminderBatchPayload, status string, code int, message string, sent int) {
	if h.redisClient == nil {
		return
	}

	notify := ReminderBatchNotifyMessage{
		Status:        status,
		PositionID:    payload.PositionID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     code,
		ErrorMessage:  message,
		SentCount:     sent,
	}
	raw, err := json.Marshal(notify)
	if err != nil {
		h.logger.Error("encode notify message", slog.Any("error", err))
		return
	}

	channel := fmt.Sprintf("user_notify:%d", payload.RequestedBy)
	if err := h.redisClient.Publish(ctx, channel, raw).Err(); err != nil {
		h.logger.Error("publish notify message",
			slog.String("channel", channel),
			slog.Any("error", err),
		)
	}
}
