package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"gorm.io/gorm"
)

// WorkflowRepository 工作流模板仓库
type WorkflowRepository struct {
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Load 读取全局模板（含按 step_order 排序的步骤）
func (r *WorkflowRepository) Load(ctx context.Context) (*entity.WorkflowTemplate, error) {
	var tpl entity.WorkflowTemplate
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		Preload("Steps.Approver").
		Where("id = ?", entity.DefaultTemplateID).
		First(&tpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tpl, nil
}

// Save 整体替换模板步骤与设置，config_version 自增。
// 管理端低并发配置对象，最后写入者胜出。
func (r *WorkflowRepository) Save(ctx context.Context, tpl *entity.WorkflowTemplate, steps []entity.ApprovalStepDef) (*entity.WorkflowTemplate, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		var current entity.WorkflowTemplate
		err := tx.Where("id = ?", entity.DefaultTemplateID).First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			current = entity.WorkflowTemplate{
				ID:            entity.DefaultTemplateID,
				Name:          "default",
				ConfigVersion: 0,
				CreatedAt:     now,
			}
			if err := tx.Create(&current).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if err := tx.Model(&entity.WorkflowTemplate{}).
			Where("id = ?", entity.DefaultTemplateID).
			Updates(map[string]interface{}{
				"config_version":    current.ConfigVersion + 1,
				"name":              tpl.Name,
				"default_sla_hours": tpl.DefaultSLA,
				"allow_parallel":    tpl.AllowParallel,
				"send_reminders":    tpl.SendReminders,
				"updated_by":        tpl.UpdatedBy,
				"updated_at":        now,
			}).Error; err != nil {
			return err
		}

		// 步骤整体替换
		if err := tx.Where("template_id = ?", entity.DefaultTemplateID).
			Delete(&entity.ApprovalStepDef{}).Error; err != nil {
			return err
		}
		for i := range steps {
			steps[i].TemplateID = entity.DefaultTemplateID
			steps[i].CreatedAt = now
			if err := tx.Create(&steps[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Load(ctx)
}
