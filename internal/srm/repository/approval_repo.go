package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"gorm.io/gorm"
)

// ApprovalRepository 审批运行仓库
type ApprovalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// FindRunByID 根据ID查找审批运行
func (r *ApprovalRepository) FindRunByID(ctx context.Context, id string) (*entity.ApprovalRun, error) {
	var run entity.ApprovalRun
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC, created_at ASC")
		}).
		Preload("BRFQ").
		Where("id = ?", id).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// FindRunByBRFQ 查找BRFQ对应的审批运行，tx 为 nil 时走默认连接
func (r *ApprovalRepository) FindRunByBRFQ(ctx context.Context, tx *gorm.DB, brfqID string) (*entity.ApprovalRun, error) {
	if tx == nil {
		tx = r.db
	}
	var run entity.ApprovalRun
	err := tx.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC, created_at ASC")
		}).
		Where("brfq_id = ?", brfqID).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// CreateRun 创建审批运行（含步骤实例）
func (r *ApprovalRepository) CreateRun(ctx context.Context, run *entity.ApprovalRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// FindStepByID 根据ID查找步骤实例
func (r *ApprovalRepository) FindStepByID(ctx context.Context, id string) (*entity.ApprovalStep, error) {
	var step entity.ApprovalStep
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&step).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &step, nil
}

// ListSteps 获取运行的全部步骤
func (r *ApprovalRepository) ListSteps(ctx context.Context, runID string) ([]entity.ApprovalStep, error) {
	var steps []entity.ApprovalStep
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_order ASC, created_at ASC").
		Find(&steps).Error
	return steps, err
}

// DecideStep 步骤决策的CAS更新：仅当步骤仍为 pending 时生效。
// 并发的重复决策只有一次能成功，其余返回 ErrConflict。
func (r *ApprovalRepository) DecideStep(ctx context.Context, tx *gorm.DB, stepID, status, comment string) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	now := time.Now()
	result := db.WithContext(ctx).
		Model(&entity.ApprovalStep{}).
		Where("id = ? AND status = ?", stepID, entity.ApprovalStatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"comment":    comment,
			"decided_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// SkipPendingSteps 将运行内全部 pending 步骤置为 skipped
func (r *ApprovalRepository) SkipPendingSteps(ctx context.Context, tx *gorm.DB, runID string) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).
		Model(&entity.ApprovalStep{}).
		Where("run_id = ? AND status = ?", runID, entity.ApprovalStatusPending).
		Updates(map[string]interface{}{
			"status":     entity.ApprovalStatusSkipped,
			"updated_at": time.Now(),
		}).Error
}

// CountPendingRequired 统计运行内未通过的必审步骤数
func (r *ApprovalRepository) CountPendingRequired(ctx context.Context, tx *gorm.DB, runID string) (int64, error) {
	db := r.db
	if tx != nil {
		db = tx
	}
	var count int64
	err := db.WithContext(ctx).
		Model(&entity.ApprovalStep{}).
		Where("run_id = ? AND is_required = ? AND status = ?", runID, true, entity.ApprovalStatusPending).
		Count(&count).Error
	return count, err
}

// FinalizeRun 更新运行终态
func (r *ApprovalRepository) FinalizeRun(ctx context.Context, tx *gorm.DB, runID, status string) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	now := time.Now()
	return db.WithContext(ctx).
		Model(&entity.ApprovalRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":       status,
			"finalized_at": now,
			"updated_at":   now,
		}).Error
}

// SaveNotifyResults 记录发布通知的逐收件人结果
func (r *ApprovalRepository) SaveNotifyResults(ctx context.Context, runID string, results entity.JSONBArray) error {
	return r.db.WithContext(ctx).
		Model(&entity.ApprovalRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"notify_results": results,
			"updated_at":     time.Now(),
		}).Error
}

// ListMyPending 获取待某审批人处理的运行列表
func (r *ApprovalRepository) ListMyPending(ctx context.Context, approverID string) ([]entity.ApprovalRun, error) {
	var runIDs []string
	err := r.db.WithContext(ctx).
		Model(&entity.ApprovalStep{}).
		Select("run_id").
		Where("approver_id = ? AND status = ?", approverID, entity.ApprovalStatusPending).
		Find(&runIDs).Error
	if err != nil {
		return nil, err
	}
	if len(runIDs) == 0 {
		return []entity.ApprovalRun{}, nil
	}

	var runs []entity.ApprovalRun
	err = r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		Preload("BRFQ").
		Where("id IN ? AND status = ?", runIDs, entity.ApprovalStatusPending).
		Order("created_at DESC").
		Find(&runs).Error
	return runs, err
}

// ListRuns 审批运行列表（可按状态筛选）
func (r *ApprovalRepository) ListRuns(ctx context.Context, status string, page, pageSize int) ([]entity.ApprovalRun, int64, error) {
	var runs []entity.ApprovalRun
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ApprovalRun{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		Preload("BRFQ").
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&runs).Error
	return runs, total, err
}

// ListOverduePending 查找超过SLA仍未处理的步骤（提醒任务用）
func (r *ApprovalRepository) ListOverduePending(ctx context.Context, now time.Time) ([]entity.ApprovalStep, error) {
	var steps []entity.ApprovalStep
	err := r.db.WithContext(ctx).
		Joins("JOIN srm_approval_runs ON srm_approval_runs.id = srm_approval_steps.run_id").
		Where("srm_approval_steps.status = ? AND srm_approval_runs.status = ?",
			entity.ApprovalStatusPending, entity.ApprovalStatusPending).
		Where("srm_approval_steps.reminded_at IS NULL").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}

	overdue := make([]entity.ApprovalStep, 0, len(steps))
	for _, s := range steps {
		deadline := s.CreatedAt.Add(time.Duration(s.SLAHours) * time.Hour)
		if s.SLAHours > 0 && now.After(deadline) {
			overdue = append(overdue, s)
		}
	}
	return overdue, nil
}

// MarkReminded 标记步骤已发送提醒
func (r *ApprovalRepository) MarkReminded(ctx context.Context, stepID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.ApprovalStep{}).
		Where("id = ?", stepID).
		Updates(map[string]interface{}{
			"reminded_at": at,
			"updated_at":  at,
		}).Error
}

// DeleteRun 删除审批运行及其全部步骤（用于终态后重新提交审批）
func (r *ApprovalRepository) DeleteRun(ctx context.Context, tx *gorm.DB, runID string) error {
	if tx == nil {
		tx = r.db
	}
	if err := tx.WithContext(ctx).Where("run_id = ?", runID).Delete(&entity.ApprovalStep{}).Error; err != nil {
		return err
	}
	return tx.WithContext(ctx).Where("id = ?", runID).Delete(&entity.ApprovalRun{}).Error
}

// Transaction 在事务中执行
func (r *ApprovalRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
