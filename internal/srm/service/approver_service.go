package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
)

// ApproverService 审批人服务
type ApproverService struct {
	repo *repository.ApproverRepository
}

func NewApproverService(repo *repository.ApproverRepository) *ApproverService {
	return &ApproverService{repo: repo}
}

// CreateApproverRequest 创建审批人请求
type CreateApproverRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required"`
}

// UpdateApproverRequest 更新审批人请求
type UpdateApproverRequest struct {
	Name   *string `json:"name"`
	Email  *string `json:"email"`
	Role   *string `json:"role"`
	Status *string `json:"status"`
}

// List 获取审批人列表
func (s *ApproverService) List(ctx context.Context, keyword string) ([]entity.Approver, error) {
	return s.repo.List(ctx, keyword)
}

// Get 获取审批人详情
func (s *ApproverService) Get(ctx context.Context, id string) (*entity.Approver, error) {
	return s.repo.FindByID(ctx, id)
}

// Create 创建审批人
func (s *ApproverService) Create(ctx context.Context, userID string, req *CreateApproverRequest) (*entity.Approver, error) {
	approver := &entity.Approver{
		ID:        uuid.New().String()[:32],
		Name:      req.Name,
		Email:     req.Email,
		Role:      req.Role,
		Status:    entity.ApproverStatusActive,
		CreatedBy: userID,
	}
	if err := s.repo.Create(ctx, approver); err != nil {
		return nil, fmt.Errorf("创建审批人失败: %w", err)
	}
	return approver, nil
}

// Update 更新审批人
func (s *ApproverService) Update(ctx context.Context, id string, req *UpdateApproverRequest) (*entity.Approver, error) {
	approver, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		approver.Name = *req.Name
	}
	if req.Email != nil {
		approver.Email = *req.Email
	}
	if req.Role != nil {
		approver.Role = *req.Role
	}
	if req.Status != nil {
		approver.Status = *req.Status
	}

	if err := s.repo.Update(ctx, approver); err != nil {
		return nil, fmt.Errorf("更新审批人失败: %w", err)
	}
	return approver, nil
}

// Delete 删除审批人
// 被工作流步骤引用的审批人不可删除，保证步骤引用始终可解析
func (s *ApproverService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}
	refs, err := s.repo.CountStepRefs(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("该审批人被 %d 个工作流步骤引用，无法删除", refs)
	}
	return s.repo.Delete(ctx, id)
}
