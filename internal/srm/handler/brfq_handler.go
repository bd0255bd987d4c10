package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-srm/internal/srm/service"
)

// BRFQHandler 询价单处理器
type BRFQHandler struct {
	svc         *service.BRFQService
	approvalSvc *service.ApprovalService
}

func NewBRFQHandler(svc *service.BRFQService, approvalSvc *service.ApprovalService) *BRFQHandler {
	return &BRFQHandler{svc: svc, approvalSvc: approvalSvc}
}

// List 询价单列表
// GET /api/v1/srm/brfqs?approval_status=xxx&category=xxx&published=xxx&search=xxx
func (h *BRFQHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"approval_status": c.Query("approval_status"),
		"category":        c.Query("category"),
		"published":       c.Query("published"),
		"search":          c.Query("search"),
	}
	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		InternalError(c, "获取询价单列表失败: "+err.Error())
		return
	}
	ListResult(c, items, total, page, pageSize)
}

// Get 询价单详情
// GET /api/v1/srm/brfqs/:id
func (h *BRFQHandler) Get(c *gin.Context) {
	brfq, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		NotFound(c, "询价单不存在")
		return
	}
	Success(c, brfq)
}

// Create 创建询价单
// POST /api/v1/srm/brfqs
func (h *BRFQHandler) Create(c *gin.Context) {
	var req service.CreateBRFQRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	brfq, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, brfq)
}

// Update 更新询价单（未发布）
// PUT /api/v1/srm/brfqs/:id
func (h *BRFQHandler) Update(c *gin.Context) {
	var req service.UpdateBRFQRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	brfq, err := h.svc.Update(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, brfq)
}

// Submit 提交审批
// POST /api/v1/srm/brfqs/:id/submit
func (h *BRFQHandler) Submit(c *gin.Context) {
	run, err := h.approvalSvc.Submit(c.Request.Context(), GetUserID(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, run)
}

// GetApproval 获取询价单当前审批运行
// GET /api/v1/srm/brfqs/:id/approval
func (h *BRFQHandler) GetApproval(c *gin.Context) {
	run, err := h.approvalSvc.GetByBRFQ(c.Request.Context(), c.Param("id"))
	if err != nil {
		NotFound(c, "审批运行不存在")
		return
	}
	Success(c, run)
}

// Export 导出询价单列表为Excel
// GET /api/v1/srm/brfqs/export
func (h *BRFQHandler) Export(c *gin.Context) {
	filters := map[string]string{
		"approval_status": c.Query("approval_status"),
		"category":        c.Query("category"),
		"published":       c.Query("published"),
		"search":          c.Query("search"),
	}
	buf, err := h.svc.ExportExcel(c.Request.Context(), filters)
	if err != nil {
		InternalError(c, "导出失败: "+err.Error())
		return
	}

	filename := fmt.Sprintf("brfqs-%s.xlsx", time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(200, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
