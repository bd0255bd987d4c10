package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-srm/internal/srm/service"
)

// ApproverHandler 审批人处理器
type ApproverHandler struct {
	svc *service.ApproverService
}

func NewApproverHandler(svc *service.ApproverService) *ApproverHandler {
	return &ApproverHandler{svc: svc}
}

// List 审批人列表
// GET /api/v1/srm/approvers?search=xxx
func (h *ApproverHandler) List(c *gin.Context) {
	approvers, err := h.svc.List(c.Request.Context(), c.Query("search"))
	if err != nil {
		InternalError(c, "获取审批人列表失败: "+err.Error())
		return
	}
	Success(c, approvers)
}

// Get 审批人详情
// GET /api/v1/srm/approvers/:id
func (h *ApproverHandler) Get(c *gin.Context) {
	approver, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		NotFound(c, "审批人不存在")
		return
	}
	Success(c, approver)
}

// Create 创建审批人
// POST /api/v1/srm/approvers
func (h *ApproverHandler) Create(c *gin.Context) {
	var req service.CreateApproverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	approver, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, approver)
}

// Update 更新审批人
// PUT /api/v1/srm/approvers/:id
func (h *ApproverHandler) Update(c *gin.Context) {
	var req service.UpdateApproverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	approver, err := h.svc.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, approver)
}

// Delete 删除审批人
// DELETE /api/v1/srm/approvers/:id
func (h *ApproverHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, nil)
}
