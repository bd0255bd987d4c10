package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
)

// BRFQService 买方询价单服务
type BRFQService struct {
	repo         *repository.BRFQRepository
	supplierRepo *repository.SupplierRepository
	activityLog  *repository.ActivityLogRepository
}

func NewBRFQService(repo *repository.BRFQRepository, supplierRepo *repository.SupplierRepository, activityLog *repository.ActivityLogRepository) *BRFQService {
	return &BRFQService{repo: repo, supplierRepo: supplierRepo, activityLog: activityLog}
}

// SupplierRef 供应商引用，JSON里既可以是ID字符串也可以是内联对象
// 反序列化时归一，后续流程只处理归一后的形态
type SupplierRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (r *SupplierRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		r.ID = id
		return nil
	}
	type inline SupplierRef
	var obj inline
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("供应商引用必须是ID字符串或对象: %w", err)
	}
	*r = SupplierRef(obj)
	return nil
}

// CreateBRFQRequest 创建询价单请求
type CreateBRFQRequest struct {
	Title             string        `json:"title" binding:"required"`
	Description       string        `json:"description"`
	Category          string        `json:"category"`
	Budget            float64       `json:"budget"`
	Currency          string        `json:"currency"`
	Quantity          float64       `json:"quantity"`
	DeliveryDue       *time.Time    `json:"delivery_due"`
	PublishOnApproval *bool         `json:"publish_on_approval"`
	Suppliers         []SupplierRef `json:"suppliers"`
}

// UpdateBRFQRequest 更新询价单请求（仅限未发布）
type UpdateBRFQRequest struct {
	Title             *string       `json:"title"`
	Description       *string       `json:"description"`
	Category          *string       `json:"category"`
	Budget            *float64      `json:"budget"`
	Currency          *string       `json:"currency"`
	Quantity          *float64      `json:"quantity"`
	DeliveryDue       *time.Time    `json:"delivery_due"`
	PublishOnApproval *bool         `json:"publish_on_approval"`
	Suppliers         []SupplierRef `json:"suppliers"`
}

// List 分页获取询价单
func (s *BRFQService) List(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.BRFQ, int64, error) {
	return s.repo.List(ctx, page, pageSize, filters)
}

// Get 获取询价单详情
func (s *BRFQService) Get(ctx context.Context, id string) (*entity.BRFQ, error) {
	return s.repo.FindByID(ctx, id)
}

// Create 创建询价单
func (s *BRFQService) Create(ctx context.Context, userID string, req *CreateBRFQRequest) (*entity.BRFQ, error) {
	code, err := s.repo.GenerateCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("生成询价单编号失败: %w", err)
	}

	currency := req.Currency
	if currency == "" {
		currency = "CNY"
	}
	publishOnApproval := true
	if req.PublishOnApproval != nil {
		publishOnApproval = *req.PublishOnApproval
	}
	brfq := &entity.BRFQ{
		ID:                uuid.New().String()[:32],
		Code:              code,
		Title:             req.Title,
		Description:       req.Description,
		Category:          req.Category,
		Budget:            req.Budget,
		Currency:          currency,
		Quantity:          req.Quantity,
		DeliveryDue:       req.DeliveryDue,
		ApprovalStatus:    entity.BRFQApprovalNone,
		PublishOnApproval: publishOnApproval,
		CreatedBy:         userID,
	}
	if err := s.repo.Create(ctx, brfq); err != nil {
		return nil, fmt.Errorf("创建询价单失败: %w", err)
	}

	if len(req.Suppliers) > 0 {
		if err := s.SetSuppliers(ctx, brfq.ID, req.Suppliers); err != nil {
			return nil, err
		}
	}

	s.activityLog.LogActivity(ctx, "brfq", brfq.ID, brfq.Code,
		"create", "", "", "创建询价单", userID, "")
	return s.repo.FindByID(ctx, brfq.ID)
}

// Update 更新询价单
// 已发布的询价单必须走修改策略引擎，此处只允许未发布编辑
func (s *BRFQService) Update(ctx context.Context, userID, id string, req *UpdateBRFQRequest) (*entity.BRFQ, error) {
	brfq, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if brfq.Published {
		return nil, fmt.Errorf("询价单已发布，请通过修改申请变更")
	}
	if brfq.ApprovalStatus == entity.BRFQApprovalPending {
		return nil, fmt.Errorf("询价单审批中，不可编辑: %w", repository.ErrConflict)
	}

	if req.Title != nil {
		brfq.Title = *req.Title
	}
	if req.Description != nil {
		brfq.Description = *req.Description
	}
	if req.Category != nil {
		brfq.Category = *req.Category
	}
	if req.Budget != nil {
		brfq.Budget = *req.Budget
	}
	if req.Currency != nil {
		brfq.Currency = *req.Currency
	}
	if req.Quantity != nil {
		brfq.Quantity = *req.Quantity
	}
	if req.DeliveryDue != nil {
		brfq.DeliveryDue = req.DeliveryDue
	}
	if req.PublishOnApproval != nil {
		brfq.PublishOnApproval = *req.PublishOnApproval
	}

	// 编辑使先前的审批结论失效
	if brfq.ApprovalStatus == entity.BRFQApprovalRejected {
		brfq.ApprovalStatus = entity.BRFQApprovalNone
		brfq.ApprovalNote = ""
	}

	if err := s.repo.Update(ctx, brfq); err != nil {
		return nil, fmt.Errorf("更新询价单失败: %w", err)
	}
	if req.Suppliers != nil {
		if err := s.SetSuppliers(ctx, brfq.ID, req.Suppliers); err != nil {
			return nil, err
		}
	}
	return s.repo.FindByID(ctx, brfq.ID)
}

// SetSuppliers 整体替换询价单的供应商选择
// ID引用从供应商登记表解析，内联引用直接采用，缺失ID报错
func (s *BRFQService) SetSuppliers(ctx context.Context, brfqID string, refs []SupplierRef) error {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ID != "" && ref.Name == "" {
			ids = append(ids, ref.ID)
		}
	}
	registered := map[string]*entity.Supplier{}
	if len(ids) > 0 {
		found, err := s.supplierRepo.FindByIDs(ctx, ids)
		if err != nil {
			return err
		}
		for i := range found {
			registered[found[i].ID] = &found[i]
		}
	}

	rows := make([]entity.RFQSupplier, 0, len(refs))
	for _, ref := range refs {
		row := entity.RFQSupplier{
			ID:           uuid.New().String()[:32],
			BRFQID:       brfqID,
			SupplierID:   ref.ID,
			SupplierName: ref.Name,
			Email:        ref.Email,
		}
		if ref.ID != "" && ref.Name == "" {
			sup, ok := registered[ref.ID]
			if !ok {
				return fmt.Errorf("供应商不存在: %s", ref.ID)
			}
			row.SupplierName = sup.Name
			row.Email = sup.Email
		}
		if row.SupplierName == "" {
			return fmt.Errorf("供应商引用缺少名称")
		}
		rows = append(rows, row)
	}

	return s.repo.ReplaceSuppliers(ctx, brfqID, rows)
}

// ExportExcel 导出询价单列表为Excel
func (s *BRFQService) ExportExcel(ctx context.Context, filters map[string]string) (*bytes.Buffer, error) {
	brfqs, _, err := s.repo.List(ctx, 1, 10000, filters)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "询价单"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"编号", "标题", "品类", "预算", "币种", "数量", "交期", "审批状态", "已发布", "创建时间"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for row, brfq := range brfqs {
		due := ""
		if brfq.DeliveryDue != nil {
			due = brfq.DeliveryDue.Format("2006-01-02")
		}
		published := "否"
		if brfq.Published {
			published = "是"
		}
		values := []interface{}{
			brfq.Code, brfq.Title, brfq.Category, brfq.Budget, brfq.Currency,
			brfq.Quantity, due, brfq.ApprovalStatus, published,
			brfq.CreatedAt.Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("生成Excel失败: %w", err)
	}
	return buf, nil
}
