package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
)

// SupplierService 供应商服务
type SupplierService struct {
	repo *repository.SupplierRepository
}

func NewSupplierService(repo *repository.SupplierRepository) *SupplierService {
	return &SupplierService{repo: repo}
}

// CreateSupplierRequest 创建供应商请求
type CreateSupplierRequest struct {
	Name        string `json:"name" binding:"required"`
	Category    string `json:"category"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email" binding:"required,email"`
	Phone       string `json:"phone"`
	Notes       string `json:"notes"`
}

// UpdateSupplierRequest 更新供应商请求
type UpdateSupplierRequest struct {
	Name        *string `json:"name"`
	Category    *string `json:"category"`
	ContactName *string `json:"contact_name"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Status      *string `json:"status"`
	Notes       *string `json:"notes"`
}

// List 分页获取供应商
func (s *SupplierService) List(ctx context.Context, page, pageSize int, keyword string) ([]entity.Supplier, int64, error) {
	return s.repo.List(ctx, page, pageSize, keyword)
}

// Get 获取供应商详情
func (s *SupplierService) Get(ctx context.Context, id string) (*entity.Supplier, error) {
	return s.repo.FindByID(ctx, id)
}

// Create 创建供应商
func (s *SupplierService) Create(ctx context.Context, userID string, req *CreateSupplierRequest) (*entity.Supplier, error) {
	code, err := s.repo.GenerateCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("生成供应商编码失败: %w", err)
	}
	supplier := &entity.Supplier{
		ID:          uuid.New().String()[:32],
		Code:        code,
		Name:        req.Name,
		Category:    req.Category,
		ContactName: req.ContactName,
		Email:       req.Email,
		Phone:       req.Phone,
		Status:      entity.SupplierStatusActive,
		CreatedBy:   userID,
		Notes:       req.Notes,
	}
	if err := s.repo.Create(ctx, supplier); err != nil {
		return nil, fmt.Errorf("创建供应商失败: %w", err)
	}
	return supplier, nil
}

// Update 更新供应商
func (s *SupplierService) Update(ctx context.Context, id string, req *UpdateSupplierRequest) (*entity.Supplier, error) {
	supplier, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		supplier.Name = *req.Name
	}
	if req.Category != nil {
		supplier.Category = *req.Category
	}
	if req.ContactName != nil {
		supplier.ContactName = *req.ContactName
	}
	if req.Email != nil {
		supplier.Email = *req.Email
	}
	if req.Phone != nil {
		supplier.Phone = *req.Phone
	}
	if req.Status != nil {
		supplier.Status = *req.Status
	}
	if req.Notes != nil {
		supplier.Notes = *req.Notes
	}
	if err := s.repo.Update(ctx, supplier); err != nil {
		return nil, fmt.Errorf("更新供应商失败: %w", err)
	}
	return supplier, nil
}
