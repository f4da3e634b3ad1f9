package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Position 状态机的合法状态。
// 流转：Requested → Open → Interviewing → Completed，
// 另允许 Completed → Interviewing（候选人放弃 offer 后重启面试）。
const (
	PositionRequested    = "requested"
	PositionOpen         = "open"
	PositionInterviewing = "interviewing"
	PositionCompleted    = "completed"
)

// 角色 ID 是有序的：数值越小优先级越高。
// 同一 (user, position) 若存在重复分配，取最小角色 ID（见 permission 包）。
const (
	RoleIDSearchChair    uint = 1
	RoleIDSearchAdvocate uint = 2
	RoleIDMember         uint = 3
	RoleIDInactive       uint = 4
)

// Qualification 等级。
const (
	QualificationMinimum   = "minimum"
	QualificationPreferred = "preferred"
)

// User 表示系统中的账号信息。IsAdmin 是全局标志，独立于任何 Position 角色。
type User struct {
	gorm.Model
	Username     string `gorm:"uniqueIndex;size:64"`
	Email        string `gorm:"size:255"`
	PasswordHash string `gorm:"size:255"`
	IsAdmin      bool   `gorm:"default:false"`
}

// Role 是固定种子表，ID 即优先级。
type Role struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:64"`
}

// RoleAssignment 将用户与某个 Position 上的角色绑定。
// 存储层不约束唯一性；重复行的裁决规则在 permission 包。
type RoleAssignment struct {
	gorm.Model
	UserID     uint `gorm:"index"`
	PositionID uint `gorm:"index"`
	RoleID     uint `gorm:"index"`
}

// Position 是根聚合：职位及其完整的招聘委员会工作区。
type Position struct {
	gorm.Model
	Title          string `gorm:"size:255"`
	Status         string `gorm:"size:32"`
	CommitteeEmail string `gorm:"size:255"`
	IsExample      bool   `gorm:"default:false"`
}

// Round 表示 Position 下的一个面试/评估阶段，按创建时间排序。
type Round struct {
	gorm.Model
	PositionID uint   `gorm:"index"`
	Title      string `gorm:"size:255"`
}

// Qualification 是候选人被评估的一项标准。
type Qualification struct {
	gorm.Model
	PositionID   uint   `gorm:"index"`
	Level        string `gorm:"size:32"`
	Priority     int
	Transferable bool
	Description  string `gorm:"size:1024"`
}

// QualificationForRound 是 Qualification 与 Round 的多对多关联。
// 两侧必须属于同一 Position；该不变量由 reconcile 包负责检查。
type QualificationForRound struct {
	gorm.Model
	QualificationID uint `gorm:"index"`
	RoundID         uint `gorm:"index"`
}

// Candidate 表示某个 Position 的候选人。Contact 为 jsonb 联系信息块。
type Candidate struct {
	gorm.Model
	PositionID uint           `gorm:"index"`
	Name       string         `gorm:"size:255"`
	Email      string         `gorm:"size:255"`
	Contact    datatypes.JSON `gorm:"type:jsonb"`
}

// CandidateStatus 记录候选人的最终处置（录用/拒绝）。
type CandidateStatus struct {
	gorm.Model
	CandidateID uint   `gorm:"uniqueIndex"`
	Decision    string `gorm:"size:64"`
	Comment     string `gorm:"size:1024"`
}

// CandidateRoundNote 是候选人在某一轮次下的备注。
type CandidateRoundNote struct {
	gorm.Model
	CandidateID uint   `gorm:"index"`
	RoundID     uint   `gorm:"index"`
	Note        string `gorm:"size:2048"`
}

// Feedback 是一位评审者对一位候选人在一轮面试中的反馈。
// (user, candidate, round) 三元组最多一条。
type Feedback struct {
	gorm.Model
	UserID      uint   `gorm:"index;uniqueIndex:idx_feedback_owner"`
	CandidateID uint   `gorm:"index;uniqueIndex:idx_feedback_owner"`
	RoundID     uint   `gorm:"index;uniqueIndex:idx_feedback_owner"`
	Notes       string `gorm:"type:text"`
}

// FeedbackForQualification 是反馈针对某项 Qualification 的评分行。
// RoundID 冗余存储，使得按 (qualification, round) 维度的级联删除无需 join。
type FeedbackForQualification struct {
	gorm.Model
	FeedbackID      uint `gorm:"index"`
	QualificationID uint `gorm:"index"`
	RoundID         uint `gorm:"index"`
	Score           int
	Comment         string `gorm:"size:1024"`
}

// CandidateFile 是候选人材料；ObjectKey 同时对应对象存储中的路径。
type CandidateFile struct {
	gorm.Model
	CandidateID uint   `gorm:"index"`
	Name        string `gorm:"size:255"`
	ObjectKey   string `gorm:"size:512"`
}

// FeedbackFile 是附在反馈上的文件。
type FeedbackFile struct {
	gorm.Model
	FeedbackID uint   `gorm:"index"`
	Name       string `gorm:"size:255"`
	ObjectKey  string `gorm:"size:512"`
}

// AllModels 返回需要迁移的全部模型，供 AutoMigrate 使用。
func AllModels() []any {
	return []any{
		&User{},
		&Role{},
		&RoleAssignment{},
		&Position{},
		&Round{},
		&Qualification{},
		&QualificationForRound{},
		&Candidate{},
		&CandidateStatus{},
		&CandidateRoundNote{},
		&Feedback{},
		&FeedbackForQualification{},
		&CandidateFile{},
		&FeedbackFile{},
	}
}

// SeedRoles 确保四个固定角色存在且 ID 稳定。
func SeedRoles(db *gorm.DB) error {
	roles := []Role{
		{ID: RoleIDSearchChair, Name: "search_chair"},
		{ID: RoleIDSearchAdvocate, Name: "search_advocate"},
		{ID: RoleIDMember, Name: "member"},
		{ID: RoleIDInactive, Name: "inactive"},
	}
	for _, role := range roles {
		if err := db.Where(Role{ID: role.ID}).FirstOrCreate(&role).Error; err != nil {
			return err
		}
	}
	return nil
}
