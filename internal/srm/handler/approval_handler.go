package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-srm/internal/srm/service"
)

// ApprovalHandler 审批运行处理器
type ApprovalHandler struct {
	svc *service.ApprovalService
}

func NewApprovalHandler(svc *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{svc: svc}
}

// List 审批运行列表
// GET /api/v1/srm/approval-runs?status=xxx
func (h *ApprovalHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	runs, total, err := h.svc.List(c.Request.Context(), c.Query("status"), page, pageSize)
	if err != nil {
		InternalError(c, "获取审批列表失败: "+err.Error())
		return
	}
	ListResult(c, runs, total, page, pageSize)
}

// Get 审批运行详情
// GET /api/v1/srm/approval-runs/:id
func (h *ApprovalHandler) Get(c *gin.Context) {
	run, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		NotFound(c, "审批运行不存在")
		return
	}
	Success(c, run)
}

// Decide 审批人对步骤做出决定
// POST /api/v1/srm/approval-steps/:id/decide
func (h *ApprovalHandler) Decide(c *gin.Context) {
	var req service.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	run, err := h.svc.Decide(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, run)
}

// Withdraw 撤回进行中的审批
// POST /api/v1/srm/approval-runs/:id/withdraw
func (h *ApprovalHandler) Withdraw(c *gin.Context) {
	run, err := h.svc.Withdraw(c.Request.Context(), GetUserID(c), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, run)
}

// MyPending 我的待办审批
// GET /api/v1/srm/approval-runs/my-pending?approver_id=xxx
func (h *ApprovalHandler) MyPending(c *gin.Context) {
	approverID := c.Query("approver_id")
	if approverID == "" {
		approverID = GetUserID(c)
	}
	runs, err := h.svc.ListMyPending(c.Request.Context(), approverID)
	if err != nil {
		InternalError(c, "获取待办审批失败: "+err.Error())
		return
	}
	Success(c, runs)
}
