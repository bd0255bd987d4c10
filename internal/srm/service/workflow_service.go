package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
)

// 模板缓存
const (
	workflowCacheKey = "srm:workflow:template"
	workflowCacheTTL = 10 * time.Minute
)

// WorkflowService 审批工作流模板服务
type WorkflowService struct {
	repo         *repository.WorkflowRepository
	approverRepo *repository.ApproverRepository
	rdb          *redis.Client // 可为nil，降级为直接读库
}

func NewWorkflowService(repo *repository.WorkflowRepository, approverRepo *repository.ApproverRepository, rdb *redis.Client) *WorkflowService {
	return &WorkflowService{repo: repo, approverRepo: approverRepo, rdb: rdb}
}

// StepDefInput 模板步骤输入
type StepDefInput struct {
	Role       string `json:"role" binding:"required"`
	ApproverID string `json:"approver_id" binding:"required"`
	SLAHours   int    `json:"sla_hours"`
	IsRequired *bool  `json:"is_required"`

	ConditionField    string  `json:"condition_field"`
	ConditionOperator string  `json:"condition_operator"`
	ConditionValue    float64 `json:"condition_value"`
}

// SaveTemplateRequest 保存模板请求（整体替换）
type SaveTemplateRequest struct {
	Name          string         `json:"name"`
	DefaultSLA    int            `json:"default_sla_hours"`
	AllowParallel bool           `json:"allow_parallel"`
	SendReminders bool           `json:"send_reminders"`
	Steps         []StepDefInput `json:"steps" binding:"required"`
}

// Load 获取当前模板（含步骤），优先走缓存
func (s *WorkflowService) Load(ctx context.Context) (*entity.WorkflowTemplate, error) {
	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, workflowCacheKey).Bytes(); err == nil {
			var tpl entity.WorkflowTemplate
			if json.Unmarshal(cached, &tpl) == nil {
				return &tpl, nil
			}
		}
	}

	tpl, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}

	if s.rdb != nil {
		if data, err := json.Marshal(tpl); err == nil {
			s.rdb.Set(ctx, workflowCacheKey, data, workflowCacheTTL)
		}
	}
	return tpl, nil
}

// Save 整体替换保存模板，config_version 自增
// 校验：步骤审批人ID必须解析到现存且启用的审批人；条件运算符合法
func (s *WorkflowService) Save(ctx context.Context, userID string, req *SaveTemplateRequest) (*entity.WorkflowTemplate, error) {
	if len(req.Steps) == 0 {
		return nil, fmt.Errorf("模板至少需要一个审批步骤")
	}

	ids := make([]string, 0, len(req.Steps))
	for _, step := range req.Steps {
		ids = append(ids, step.ApproverID)
	}
	approvers, err := s.approverRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*entity.Approver, len(approvers))
	for i := range approvers {
		byID[approvers[i].ID] = &approvers[i]
	}

	steps := make([]entity.ApprovalStepDef, 0, len(req.Steps))
	for i, input := range req.Steps {
		approver, ok := byID[input.ApproverID]
		if !ok {
			return nil, fmt.Errorf("步骤 %d 引用的审批人不存在: %s", i+1, input.ApproverID)
		}
		if approver.Status != entity.ApproverStatusActive {
			return nil, fmt.Errorf("步骤 %d 引用的审批人已停用: %s", i+1, approver.Name)
		}
		if input.ConditionField != "" {
			switch input.ConditionOperator {
			case entity.ConditionOpGreater, entity.ConditionOpLess, entity.ConditionOpEqual:
			default:
				return nil, fmt.Errorf("步骤 %d 的条件运算符无效: %s", i+1, input.ConditionOperator)
			}
		}

		required := true
		if input.IsRequired != nil {
			required = *input.IsRequired
		}
		steps = append(steps, entity.ApprovalStepDef{
			ID:                uuid.New().String()[:32],
			StepOrder:         i + 1,
			Role:              input.Role,
			ApproverID:        input.ApproverID,
			SLAHours:          input.SLAHours,
			IsRequired:        required,
			ConditionField:    input.ConditionField,
			ConditionOperator: input.ConditionOperator,
			ConditionValue:    input.ConditionValue,
		})
	}

	name := req.Name
	if name == "" {
		name = "default"
	}
	defaultSLA := req.DefaultSLA
	if defaultSLA <= 0 {
		defaultSLA = 24
	}
	tpl := &entity.WorkflowTemplate{
		ID:            entity.DefaultTemplateID,
		Name:          name,
		DefaultSLA:    defaultSLA,
		AllowParallel: req.AllowParallel,
		SendReminders: req.SendReminders,
		UpdatedBy:     userID,
	}

	saved, err := s.repo.Save(ctx, tpl, steps)
	if err != nil {
		return nil, fmt.Errorf("保存审批模板失败: %w", err)
	}

	if s.rdb != nil {
		s.rdb.Del(ctx, workflowCacheKey)
	}
	return saved, nil
}
