package reconcile

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"hireTrack/internal/database"
	"hireTrack/internal/lifecycle"
)

var (
	// ErrCrossPosition 表示某个元组引用了不属于目标 Position 的实体。
	ErrCrossPosition = errors.New("link references another position")
	// ErrRemovalLocked 表示面试已开始，禁止解绑（新建绑定不受限）。
	ErrRemovalLocked = errors.New("link removal locked after interviewing started")
)

// Link 描述一条期望的 (Qualification, Round) 关联状态。
type Link struct {
	QualificationID uint `json:"qualification_id" binding:"required"`
	RoundID         uint `json:"round_id" binding:"required"`
	Present         bool `json:"present"`
}

// Result 汇总一次调和的写入情况；幂等性检验依赖 Skipped 计数。
type Result struct {
	Created int `json:"created"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
}

// Reconciler 将期望的关联集合与当前状态做差并施加最小变更。
type Reconciler struct {
	db *gorm.DB
}

// NewReconciler 构造 Reconciler。
func NewReconciler(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db}
}

// Reconcile 对 positionID 应用期望的关联集合。
// 整批在一个持有 Position 行锁的事务内执行；任一元组失败即中止，
// 错误信息携带已完成的元组数量。解绑会级联删除按 (qualification, round)
// 维度的 FeedbackForQualification 行，防止评分成为孤儿。
func (r *Reconciler) Reconcile(ctx context.Context, positionID uint, desired []Link) (Result, error) {
	var result Result

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		position, err := database.LockPosition(tx, positionID)
		if err != nil {
			return fmt.Errorf("load position %d: %w", positionID, err)
		}

		for i, link := range desired {
			if err := r.applyOne(tx, position, link, &result); err != nil {
				return fmt.Errorf("reconcile links: %d of %d applied: %w", i, len(desired), err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (r *Reconciler) applyOne(tx *gorm.DB, position *database.Position, link Link, result *Result) error {
	var qualification database.Qualification
	if err := tx.First(&qualification, link.QualificationID).Error; err != nil {
		return fmt.Errorf("load qualification %d: %w", link.QualificationID, err)
	}
	var round database.Round
	if err := tx.First(&round, link.RoundID).Error; err != nil {
		return fmt.Errorf("load round %d: %w", link.RoundID, err)
	}

	// 两侧必须属于同一 Position；存储层不保证该不变量。
	if qualification.PositionID != position.ID || round.PositionID != position.ID {
		return ErrCrossPosition
	}

	var existing database.QualificationForRound
	err := tx.Where("qualification_id = ? AND round_id = ?", link.QualificationID, link.RoundID).
		First(&existing).Error
	exists := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup link: %w", err)
	}

	switch {
	case link.Present && !exists:
		created := database.QualificationForRound{
			QualificationID: link.QualificationID,
			RoundID:         link.RoundID,
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("create link: %w", err)
		}
		result.Created++

	case !link.Present && exists:
		if !lifecycle.LinkRemovalAllowed(position.Status) {
			return ErrRemovalLocked
		}
		if err := tx.Delete(&database.QualificationForRound{}, existing.ID).Error; err != nil {
			return fmt.Errorf("remove link: %w", err)
		}
		// 针对已切断关联的评分行一并删除。
		if err := tx.Where("qualification_id = ? AND round_id = ?", link.QualificationID, link.RoundID).
			Delete(&database.FeedbackForQualification{}).Error; err != nil {
			return fmt.Errorf("remove orphaned scores: %w", err)
		}
		result.Removed++

	default:
		// 期望与现状一致：不产生任何写入（幂等）。
		result.Skipped++
	}

	return nil
}
