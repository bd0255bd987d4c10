package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"gorm.io/gorm"
)

// SupplierRepository 供应商仓库
type SupplierRepository struct {
	db *gorm.DB
}

func NewSupplierRepository(db *gorm.DB) *SupplierRepository {
	return &SupplierRepository{db: db}
}

// FindByID 根据ID查找供应商
func (r *SupplierRepository) FindByID(ctx context.Context, id string) (*entity.Supplier, error) {
	var supplier entity.Supplier
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&supplier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &supplier, nil
}

// FindByIDs 批量查找供应商
func (r *SupplierRepository) FindByIDs(ctx context.Context, ids []string) ([]entity.Supplier, error) {
	var suppliers []entity.Supplier
	if len(ids) == 0 {
		return suppliers, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&suppliers).Error
	return suppliers, err
}

// List 供应商列表
func (r *SupplierRepository) List(ctx context.Context, page, pageSize int, keyword string) ([]entity.Supplier, int64, error) {
	var suppliers []entity.Supplier
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Supplier{})
	if keyword != "" {
		like := "%" + keyword + "%"
		query = query.Where("name LIKE ? OR code LIKE ?", like, like)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&suppliers).Error
	return suppliers, total, err
}

// Create 创建供应商
func (r *SupplierRepository) Create(ctx context.Context, supplier *entity.Supplier) error {
	return r.db.WithContext(ctx).Create(supplier).Error
}

// Update 更新供应商
func (r *SupplierRepository) Update(ctx context.Context, supplier *entity.Supplier) error {
	return r.db.WithContext(ctx).Save(supplier).Error
}

// GenerateCode 生成供应商编码
func (r *SupplierRepository) GenerateCode(ctx context.Context) (string, error) {
	var maxCode string
	err := r.db.WithContext(ctx).Model(&entity.Supplier{}).
		Select("code").
		Where("code LIKE ?", "SUP-%").
		Order("code DESC").
		Limit(1).
		Scan(&maxCode).Error
	if err != nil {
		return "", err
	}

	seq := 0
	if maxCode != "" {
		if n, err := strconv.Atoi(strings.TrimPrefix(maxCode, "SUP-")); err == nil {
			seq = n
		}
	}
	return fmt.Sprintf("SUP-%05d", seq+1), nil
}
