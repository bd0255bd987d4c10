package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"gorm.io/gorm"
)

// ApproverRepository 审批人仓库
type ApproverRepository struct {
	db *gorm.DB
}

func NewApproverRepository(db *gorm.DB) *ApproverRepository {
	return &ApproverRepository{db: db}
}

// FindByID 根据ID查找审批人
func (r *ApproverRepository) FindByID(ctx context.Context, id string) (*entity.Approver, error) {
	var approver entity.Approver
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&approver).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &approver, nil
}

// FindByIDs 批量查找审批人
func (r *ApproverRepository) FindByIDs(ctx context.Context, ids []string) ([]entity.Approver, error) {
	var approvers []entity.Approver
	if len(ids) == 0 {
		return approvers, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&approvers).Error
	return approvers, err
}

// List 审批人列表
func (r *ApproverRepository) List(ctx context.Context, keyword string) ([]entity.Approver, error) {
	var approvers []entity.Approver
	query := r.db.WithContext(ctx).Model(&entity.Approver{})
	if keyword != "" {
		like := "%" + keyword + "%"
		query = query.Where("name LIKE ? OR email LIKE ? OR role LIKE ?", like, like, like)
	}
	err := query.Order("created_at ASC").Find(&approvers).Error
	return approvers, err
}

// Create 创建审批人
func (r *ApproverRepository) Create(ctx context.Context, approver *entity.Approver) error {
	return r.db.WithContext(ctx).Create(approver).Error
}

// Update 更新审批人
func (r *ApproverRepository) Update(ctx context.Context, approver *entity.Approver) error {
	return r.db.WithContext(ctx).Save(approver).Error
}

// Delete 删除审批人
func (r *ApproverRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&entity.Approver{}, "id = ?", id).Error
}

// CountStepRefs 统计模板步骤对审批人的引用数（删除前校验用）
func (r *ApproverRepository) CountStepRefs(ctx context.Context, approverID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.ApprovalStepDef{}).
		Where("approver_id = ?", approverID).
		Count(&count).Error
	return count, err
}
