package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"gorm.io/gorm"
)

// ModificationRepository 字段规则与修改申请仓库
type ModificationRepository struct {
	db *gorm.DB
}

func NewModificationRepository(db *gorm.DB) *ModificationRepository {
	return &ModificationRepository{db: db}
}

// ListRules 获取全部字段规则
func (r *ModificationRepository) ListRules(ctx context.Context) ([]entity.FieldRule, error) {
	var rules []entity.FieldRule
	err := r.db.WithContext(ctx).
		Order("sort_order ASC, field_key ASC").
		Find(&rules).Error
	return rules, err
}

// FindRuleByKey 按字段键查找规则
func (r *ModificationRepository) FindRuleByKey(ctx context.Context, fieldKey string) (*entity.FieldRule, error) {
	var rule entity.FieldRule
	err := r.db.WithContext(ctx).Where("field_key = ?", fieldKey).First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// SaveRules 整体替换字段规则集与全局策略
func (r *ModificationRepository) SaveRules(ctx context.Context, rules []entity.FieldRule, notifyAll bool, updatedBy string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Where("1 = 1").Delete(&entity.FieldRule{}).Error; err != nil {
			return err
		}
		for i := range rules {
			rules[i].CreatedAt = now
			rules[i].UpdatedAt = now
			if err := tx.Create(&rules[i]).Error; err != nil {
				return err
			}
		}

		policy := entity.ModificationPolicy{
			ID:                            entity.DefaultPolicyID,
			NotifyAllSuppliersOnAnyChange: notifyAll,
			UpdatedBy:                     updatedBy,
			UpdatedAt:                     now,
		}
		return tx.Save(&policy).Error
	})
}

// LoadPolicy 读取全局修改策略（不存在时返回默认值）
func (r *ModificationRepository) LoadPolicy(ctx context.Context) (*entity.ModificationPolicy, error) {
	var policy entity.ModificationPolicy
	err := r.db.WithContext(ctx).Where("id = ?", entity.DefaultPolicyID).First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &entity.ModificationPolicy{ID: entity.DefaultPolicyID}, nil
		}
		return nil, err
	}
	return &policy, nil
}

// FindRequestByID 查找修改申请
func (r *ModificationRepository) FindRequestByID(ctx context.Context, id string) (*entity.ModificationRequest, error) {
	var req entity.ModificationRequest
	err := r.db.WithContext(ctx).
		Preload("BRFQ").
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// CreateRequest 创建修改申请
func (r *ModificationRepository) CreateRequest(ctx context.Context, req *entity.ModificationRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// ListRequests 修改申请列表
func (r *ModificationRepository) ListRequests(ctx context.Context, brfqID, status string, page, pageSize int) ([]entity.ModificationRequest, int64, error) {
	var reqs []entity.ModificationRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ModificationRequest{})
	if brfqID != "" {
		query = query.Where("brfq_id = ?", brfqID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("BRFQ").
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&reqs).Error
	return reqs, total, err
}

// DecideRequest 修改申请决策的CAS更新：仅当仍为 pending 时生效
func (r *ModificationRepository) DecideRequest(ctx context.Context, tx *gorm.DB, id, status, decidedBy, note string) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	now := time.Now()
	result := db.WithContext(ctx).
		Model(&entity.ModificationRequest{}).
		Where("id = ? AND status = ?", id, entity.ModificationStatusPending).
		Updates(map[string]interface{}{
			"status":        status,
			"decided_by":    decidedBy,
			"decided_at":    now,
			"decision_note": note,
			"updated_at":    now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// Transaction 在事务中执行
func (r *ModificationRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}
