package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"hireTrack/internal/database"
)

// ObjectRemover 是对象存储删除操作的最小接口，storage.Client 满足它。
type ObjectRemover interface {
	DeleteObject(ctx context.Context, objectKey string) error
}

// ErrCascadeFailed 表示数据库行已删除，但部分物理文件解链失败。
// 行删除在单个事务内提交，文件只在提交之后解链（两阶段删除），
// 因此失败不会留下悬挂外键，只可能留下孤儿对象，可安全重试。
var ErrCascadeFailed = errors.New("cascade file removal failed")

// Engine 负责按依赖安全的顺序级联删除实体图中的节点。
// 每个删除方法都在一个持有 Position 行锁的事务内执行。
type Engine struct {
	db     *gorm.DB
	store  ObjectRemover
	logger *slog.Logger
}

// NewEngine 构造级联删除引擎。
func NewEngine(db *gorm.DB, store ObjectRemover, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, store: store, logger: logger}
}

// DeleteCandidate 删除候选人及其全部从属数据：
// 文件行、反馈、反馈评分行、处置状态、轮次备注，最后是候选人本身。
func (e *Engine) DeleteCandidate(ctx context.Context, candidateID uint) error {
	var keys []string

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidate database.Candidate
		if err := tx.First(&candidate, candidateID).Error; err != nil {
			return fmt.Errorf("load candidate %d: %w", candidateID, err)
		}
		if _, err := database.LockPosition(tx, candidate.PositionID); err != nil {
			return fmt.Errorf("lock position %d: %w", candidate.PositionID, err)
		}

		collected, err := deleteCandidateTx(tx, candidate.ID)
		if err != nil {
			return err
		}
		keys = collected

		if err := tx.Delete(&database.Candidate{}, candidate.ID).Error; err != nil {
			return fmt.Errorf("delete candidate row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return e.unlinkObjects(ctx, keys)
}

// DeleteRound 删除轮次及其从属数据：反馈附件、绑定关系、反馈、
// 评分行与轮次备注，最后是轮次本身。同一 Position 其余轮次不受影响。
func (e *Engine) DeleteRound(ctx context.Context, roundID uint) error {
	var keys []string

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var round database.Round
		if err := tx.First(&round, roundID).Error; err != nil {
			return fmt.Errorf("load round %d: %w", roundID, err)
		}
		if _, err := database.LockPosition(tx, round.PositionID); err != nil {
			return fmt.Errorf("lock position %d: %w", round.PositionID, err)
		}

		collected, err := deleteRoundTx(tx, round.ID)
		if err != nil {
			return err
		}
		keys = collected

		if err := tx.Delete(&database.Round{}, round.ID).Error; err != nil {
			return fmt.Errorf("delete round row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return e.unlinkObjects(ctx, keys)
}

// DeleteQualification 删除 Qualification 及其绑定关系与评分行。
// 没有文件从属，故无需解链对象。
func (e *Engine) DeleteQualification(ctx context.Context, qualificationID uint) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var qualification database.Qualification
		if err := tx.First(&qualification, qualificationID).Error; err != nil {
			return fmt.Errorf("load qualification %d: %w", qualificationID, err)
		}
		if _, err := database.LockPosition(tx, qualification.PositionID); err != nil {
			return fmt.Errorf("lock position %d: %w", qualification.PositionID, err)
		}

		if err := deleteQualificationTx(tx, qualification.ID); err != nil {
			return err
		}
		return tx.Delete(&database.Qualification{}, qualification.ID).Error
	})
}

// DeletePosition 级联删除整个 Position 子树：所有候选人、Qualification、
// 轮次、角色分配，最后是 Position 行。全部行删除在一个事务内提交。
func (e *Engine) DeletePosition(ctx context.Context, positionID uint) error {
	var keys []string

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		position, err := database.LockPosition(tx, positionID)
		if err != nil {
			return fmt.Errorf("load position %d: %w", positionID, err)
		}

		var candidates []database.Candidate
		if err := tx.Where("position_id = ?", position.ID).Find(&candidates).Error; err != nil {
			return fmt.Errorf("list candidates: %w", err)
		}
		for _, candidate := range candidates {
			collected, err := deleteCandidateTx(tx, candidate.ID)
			if err != nil {
				return err
			}
			keys = append(keys, collected...)
			if err := tx.Delete(&database.Candidate{}, candidate.ID).Error; err != nil {
				return fmt.Errorf("delete candidate row: %w", err)
			}
		}

		var qualifications []database.Qualification
		if err := tx.Where("position_id = ?", position.ID).Find(&qualifications).Error; err != nil {
			return fmt.Errorf("list qualifications: %w", err)
		}
		for _, qualification := range qualifications {
			if err := deleteQualificationTx(tx, qualification.ID); err != nil {
				return err
			}
			if err := tx.Delete(&database.Qualification{}, qualification.ID).Error; err != nil {
				return fmt.Errorf("delete qualification row: %w", err)
			}
		}

		var rounds []database.Round
		if err := tx.Where("position_id = ?", position.ID).Find(&rounds).Error; err != nil {
			return fmt.Errorf("list rounds: %w", err)
		}
		for _, round := range rounds {
			collected, err := deleteRoundTx(tx, round.ID)
			if err != nil {
				return err
			}
			keys = append(keys, collected...)
			if err := tx.Delete(&database.Round{}, round.ID).Error; err != nil {
				return fmt.Errorf("delete round row: %w", err)
			}
		}

		if err := tx.Where("position_id = ?", position.ID).
			Delete(&database.RoleAssignment{}).Error; err != nil {
			return fmt.Errorf("delete role assignments: %w", err)
		}

		if err := tx.Delete(&database.Position{}, position.ID).Error; err != nil {
			return fmt.Errorf("delete position row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return e.unlinkObjects(ctx, keys)
}

// deleteCandidateTx 删除候选人的全部从属行（候选人行本身除外），
// 返回需要在提交后解链的对象 key。
func deleteCandidateTx(tx *gorm.DB, candidateID uint) ([]string, error) {
	var keys []string

	var candidateFiles []database.CandidateFile
	if err := tx.Where("candidate_id = ?", candidateID).Find(&candidateFiles).Error; err != nil {
		return nil, fmt.Errorf("list candidate files: %w", err)
	}
	for _, f := range candidateFiles {
		keys = append(keys, f.ObjectKey)
	}

	var feedbackIDs []uint
	if err := tx.Model(&database.Feedback{}).
		Where("candidate_id = ?", candidateID).
		Pluck("id", &feedbackIDs).Error; err != nil {
		return nil, fmt.Errorf("list feedback ids: %w", err)
	}

	if len(feedbackIDs) > 0 {
		var feedbackFiles []database.FeedbackFile
		if err := tx.Where("feedback_id IN ?", feedbackIDs).Find(&feedbackFiles).Error; err != nil {
			return nil, fmt.Errorf("list feedback files: %w", err)
		}
		for _, f := range feedbackFiles {
			keys = append(keys, f.ObjectKey)
		}

		if err := tx.Where("feedback_id IN ?", feedbackIDs).
			Delete(&database.FeedbackForQualification{}).Error; err != nil {
			return nil, fmt.Errorf("delete feedback scores: %w", err)
		}
		if err := tx.Where("feedback_id IN ?", feedbackIDs).
			Delete(&database.FeedbackFile{}).Error; err != nil {
			return nil, fmt.Errorf("delete feedback file rows: %w", err)
		}
		if err := tx.Where("id IN ?", feedbackIDs).
			Delete(&database.Feedback{}).Error; err != nil {
			return nil, fmt.Errorf("delete feedback rows: %w", err)
		}
	}

	if err := tx.Where("candidate_id = ?", candidateID).
		Delete(&database.CandidateStatus{}).Error; err != nil {
		return nil, fmt.Errorf("delete candidate status: %w", err)
	}
	if err := tx.Where("candidate_id = ?", candidateID).
		Delete(&database.CandidateRoundNote{}).Error; err != nil {
		return nil, fmt.Errorf("delete candidate round notes: %w", err)
	}
	if err := tx.Where("candidate_id = ?", candidateID).
		Delete(&database.CandidateFile{}).Error; err != nil {
		return nil, fmt.Errorf("delete candidate file rows: %w", err)
	}

	return keys, nil
}

// deleteRoundTx 删除轮次范围内的全部从属行（轮次行本身除外），
// 返回需要解链的反馈附件 key。
func deleteRoundTx(tx *gorm.DB, roundID uint) ([]string, error) {
	var keys []string

	var feedbackIDs []uint
	if err := tx.Model(&database.Feedback{}).
		Where("round_id = ?", roundID).
		Pluck("id", &feedbackIDs).Error; err != nil {
		return nil, fmt.Errorf("list feedback ids: %w", err)
	}

	if len(feedbackIDs) > 0 {
		var feedbackFiles []database.FeedbackFile
		if err := tx.Where("feedback_id IN ?", feedbackIDs).Find(&feedbackFiles).Error; err != nil {
			return nil, fmt.Errorf("list feedback files: %w", err)
		}
		for _, f := range feedbackFiles {
			keys = append(keys, f.ObjectKey)
		}
		if err := tx.Where("feedback_id IN ?", feedbackIDs).
			Delete(&database.FeedbackFile{}).Error; err != nil {
			return nil, fmt.Errorf("delete feedback file rows: %w", err)
		}
	}

	if err := tx.Where("round_id = ?", roundID).
		Delete(&database.QualificationForRound{}).Error; err != nil {
		return nil, fmt.Errorf("delete qualification links: %w", err)
	}
	if err := tx.Where("round_id = ?", roundID).
		Delete(&database.FeedbackForQualification{}).Error; err != nil {
		return nil, fmt.Errorf("delete feedback scores: %w", err)
	}
	if err := tx.Where("round_id = ?", roundID).
		Delete(&database.Feedback{}).Error; err != nil {
		return nil, fmt.Errorf("delete feedback rows: %w", err)
	}
	if err := tx.Where("round_id = ?", roundID).
		Delete(&database.CandidateRoundNote{}).Error; err != nil {
		return nil, fmt.Errorf("delete candidate round notes: %w", err)
	}

	return keys, nil
}

// deleteQualificationTx 删除 Qualification 范围内的绑定与评分行。
func deleteQualificationTx(tx *gorm.DB, qualificationID uint) error {
	if err := tx.Where("qualification_id = ?", qualificationID).
		Delete(&database.QualificationForRound{}).Error; err != nil {
		return fmt.Errorf("delete qualification links: %w", err)
	}
	if err := tx.Where("qualification_id = ?", qualificationID).
		Delete(&database.FeedbackForQualification{}).Error; err != nil {
		return fmt.Errorf("delete feedback scores: %w", err)
	}
	return nil
}

// unlinkObjects 在事务提交后删除物理对象。
// 单个 key 失败不阻断其余 key；任何失败都以 ErrCascadeFailed 上报。
func (e *Engine) unlinkObjects(ctx context.Context, keys []string) error {
	if e.store == nil || len(keys) == 0 {
		return nil
	}

	failed := 0
	for _, key := range keys {
		if err := e.store.DeleteObject(ctx, key); err != nil {
			failed++
			e.logger.Error("unlink object failed",
				slog.String("object_key", key),
				slog.Any("error", err),
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d objects", ErrCascadeFailed, failed, len(keys))
	}
	return nil
}
