package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeMailAdminNotify = "mail:admin_notify"
	TypeMailApproval    = "mail:approval"
	TypeMailReminder    = "mail:reminder_batch"
)

// AdminNotifyPayload 描述"新职位待审批"通知所需的最小信息。
type AdminNotifyPayload struct {
	PositionID    uint   `json:"position_id"`
	PositionTitle string `json:"position_title"`
}

// ApprovalMailPayload 描述审批通过邮件所需的信息。
type ApprovalMailPayload struct {
	PositionID     uint   `json:"position_id"`
	PositionTitle  string `json:"position_title"`
	CommitteeEmail string `json:"committee_email"`
}

// ReminderBatchPayload 描述反馈催办批量任务。
type ReminderBatchPayload struct {
	PositionID    uint   `json:"position_id"`
	RequestedBy   uint   `json:"requested_by"`
	CorrelationID string `json:"correlation_id"`
}

// NewAdminNotifyTask 构造新职位审批通知任务。
func NewAdminNotifyTask(positionID uint, title string) (*asynq.Task, error) {
	payload, err := json.Marshal(AdminNotifyPayload{
		PositionID:    positionID,
		PositionTitle: title,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMailAdminNotify, payload), nil
}

// NewApprovalMailTask 构造审批通过邮件任务。
func NewApprovalMailTask(positionID uint, title, committeeEmail string) (*asynq.Task, error) {
	payload, err := json.Marshal(ApprovalMailPayload{
		PositionID:     positionID,
		PositionTitle:  title,
		CommitteeEmail: committeeEmail,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMailApproval, payload), nil
}

// NewReminderBatchTask 构造反馈催办批量任务。
func NewReminderBatchTask(positionID, requestedBy uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ReminderBatchPayload{
		PositionID:    positionID,
		RequestedBy:   requestedBy,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMailReminder, payload), nil
}
