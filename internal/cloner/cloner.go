package cloner

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"hireTrack/internal/database"
)

// Cloner 以全新身份深拷贝一个 Position 子树，用于生成可随手丢弃的示例职位。
type Cloner struct {
	db *gorm.DB
}

// NewCloner 构造 Cloner。
func NewCloner(db *gorm.DB) *Cloner {
	return &Cloner{db: db}
}

// CloneMaps 记录每个实体类的旧 ID → 新 ID 映射，供调用方核对拷贝结果。
type CloneMaps struct {
	Qualifications map[uint]uint
	Rounds         map[uint]uint
	Candidates     map[uint]uint
}

// Clone 拷贝 sourcePositionID 的 Position、Qualification、Round、Candidate
// 与 (Qualification, Round) 关联；requester 成为克隆的 SearchChair，克隆
// 标记为 isExample。不复制任何文件：克隆从零开始收集材料。
func (c *Cloner) Clone(ctx context.Context, sourcePositionID uint, requester database.User) (uint, CloneMaps, error) {
	maps := CloneMaps{
		Qualifications: map[uint]uint{},
		Rounds:         map[uint]uint{},
		Candidates:     map[uint]uint{},
	}
	var cloneID uint

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		source, err := database.LockPosition(tx, sourcePositionID)
		if err != nil {
			return fmt.Errorf("load source position %d: %w", sourcePositionID, err)
		}

		clone := database.Position{
			Title:          source.Title,
			Status:         source.Status,
			CommitteeEmail: source.CommitteeEmail,
			IsExample:      true,
		}
		if err := tx.Create(&clone).Error; err != nil {
			return fmt.Errorf("create clone position: %w", err)
		}
		cloneID = clone.ID

		assignment := database.RoleAssignment{
			UserID:     requester.ID,
			PositionID: clone.ID,
			RoleID:     database.RoleIDSearchChair,
		}
		if err := tx.Create(&assignment).Error; err != nil {
			return fmt.Errorf("assign clone search chair: %w", err)
		}

		var qualifications []database.Qualification
		if err := tx.Where("position_id = ?", source.ID).Find(&qualifications).Error; err != nil {
			return fmt.Errorf("list qualifications: %w", err)
		}
		for _, q := range qualifications {
			copied := database.Qualification{
				PositionID:   clone.ID,
				Level:        q.Level,
				Priority:     q.Priority,
				Transferable: q.Transferable,
				Description:  q.Description,
			}
			if err := tx.Create(&copied).Error; err != nil {
				return fmt.Errorf("copy qualification %d: %w", q.ID, err)
			}
			maps.Qualifications[q.ID] = copied.ID
		}

		var rounds []database.Round
		if err := tx.Where("position_id = ?", source.ID).
			Order("created_at ASC").Find(&rounds).Error; err != nil {
			return fmt.Errorf("list rounds: %w", err)
		}
		for _, r := range rounds {
			copied := database.Round{PositionID: clone.ID, Title: r.Title}
			if err := tx.Create(&copied).Error; err != nil {
				return fmt.Errorf("copy round %d: %w", r.ID, err)
			}
			maps.Rounds[r.ID] = copied.ID
		}

		var candidates []database.Candidate
		if err := tx.Where("position_id = ?", source.ID).Find(&candidates).Error; err != nil {
			return fmt.Errorf("list candidates: %w", err)
		}
		for _, cand := range candidates {
			copied := database.Candidate{
				PositionID: clone.ID,
				Name:       cand.Name,
				Email:      cand.Email,
				Contact:    cand.Contact,
			}
			if err := tx.Create(&copied).Error; err != nil {
				return fmt.Errorf("copy candidate %d: %w", cand.ID, err)
			}
			maps.Candidates[cand.ID] = copied.ID
		}

		// 最后用映射表重建 (Qualification, Round) 关联。
		var links []database.QualificationForRound
		if err := tx.
			Joins("JOIN qualifications ON qualifications.id = qualification_for_rounds.qualification_id").
			Where("qualifications.position_id = ?", source.ID).
			Find(&links).Error; err != nil {
			return fmt.Errorf("list links: %w", err)
		}
		for _, link := range links {
			newQual, okQ := maps.Qualifications[link.QualificationID]
			newRound, okR := maps.Rounds[link.RoundID]
			if !okQ || !okR {
				// 悬挂关联（跨 Position 的脏数据）不带入克隆。
				continue
			}
			copied := database.QualificationForRound{
				QualificationID: newQual,
				RoundID:         newRound,
			}
			if err := tx.Create(&copied).Error; err != nil {
				return fmt.Errorf("copy link: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, CloneMaps{}, err
	}

	return cloneID, maps, nil
}
