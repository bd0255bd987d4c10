package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"gorm.io/gorm"
)

// BRFQRepository 询价单仓库
type BRFQRepository struct {
	db *gorm.DB
}

func NewBRFQRepository(db *gorm.DB) *BRFQRepository {
	return &BRFQRepository{db: db}
}

// FindByID 根据ID查找BRFQ
func (r *BRFQRepository) FindByID(ctx context.Context, id string) (*entity.BRFQ, error) {
	var brfq entity.BRFQ
	err := r.db.WithContext(ctx).
		Preload("Suppliers").
		Where("id = ?", id).
		First(&brfq).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &brfq, nil
}

// Create 创建BRFQ
func (r *BRFQRepository) Create(ctx context.Context, brfq *entity.BRFQ) error {
	return r.db.WithContext(ctx).Create(brfq).Error
}

// Update 更新BRFQ
func (r *BRFQRepository) Update(ctx context.Context, brfq *entity.BRFQ) error {
	return r.db.WithContext(ctx).Save(brfq).Error
}

// UpdateColumns 按列更新BRFQ
func (r *BRFQRepository) UpdateColumns(ctx context.Context, tx *gorm.DB, id string, values map[string]interface{}) error {
	db := r.db
	if tx != nil {
		db = tx
	}
	values["updated_at"] = time.Now()
	return db.WithContext(ctx).
		Model(&entity.BRFQ{}).
		Where("id = ?", id).
		Updates(values).Error
}

// List 获取BRFQ列表
func (r *BRFQRepository) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.BRFQ, int64, error) {
	var brfqs []entity.BRFQ
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.BRFQ{})
	if v := filters["approval_status"]; v != "" {
		query = query.Where("approval_status = ?", v)
	}
	if v := filters["category"]; v != "" {
		query = query.Where("category = ?", v)
	}
	if v := filters["published"]; v != "" {
		query = query.Where("published = ?", v == "true")
	}
	if v := filters["search"]; v != "" {
		like := "%" + v + "%"
		query = query.Where("title LIKE ? OR code LIKE ?", like, like)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("Suppliers").
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&brfqs).Error
	return brfqs, total, err
}

// GenerateCode 生成BRFQ编码，按当年已有最大序号递增，删除记录后不会复用编号
func (r *BRFQRepository) GenerateCode(ctx context.Context) (string, error) {
	year := time.Now().Year()
	prefix := fmt.Sprintf("BRFQ-%d-", year)

	var maxCode string
	err := r.db.WithContext(ctx).Model(&entity.BRFQ{}).
		Select("code").
		Where("code LIKE ?", prefix+"%").
		Order("code DESC").
		Limit(1).
		Scan(&maxCode).Error
	if err != nil {
		return "", err
	}

	seq := 0
	if maxCode != "" {
		if n, err := strconv.Atoi(strings.TrimPrefix(maxCode, prefix)); err == nil {
			seq = n
		}
	}
	return fmt.Sprintf("%s%04d", prefix, seq+1), nil
}

// ReplaceSuppliers 整体替换BRFQ的供应商选择
func (r *BRFQRepository) ReplaceSuppliers(ctx context.Context, brfqID string, suppliers []entity.RFQSupplier) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("brfq_id = ?", brfqID).Delete(&entity.RFQSupplier{}).Error; err != nil {
			return err
		}
		for i := range suppliers {
			suppliers[i].BRFQID = brfqID
			if err := tx.Create(&suppliers[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSuppliers 获取BRFQ选定的供应商
func (r *BRFQRepository) ListSuppliers(ctx context.Context, brfqID string) ([]entity.RFQSupplier, error) {
	var suppliers []entity.RFQSupplier
	err := r.db.WithContext(ctx).
		Where("brfq_id = ?", brfqID).
		Order("created_at ASC").
		Find(&suppliers).Error
	return suppliers, err
}
