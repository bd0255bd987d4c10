package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-srm/internal/srm/service"
)

// ModificationHandler 字段修改策略与修改申请处理器
type ModificationHandler struct {
	svc *service.ModificationService
}

func NewModificationHandler(svc *service.ModificationService) *ModificationHandler {
	return &ModificationHandler{svc: svc}
}

// GetRules 获取字段规则与全局策略
// GET /api/v1/srm/modification-rules
func (h *ModificationHandler) GetRules(c *gin.Context) {
	rules, policy, err := h.svc.ListRules(c.Request.Context())
	if err != nil {
		InternalError(c, "获取字段规则失败: "+err.Error())
		return
	}
	Success(c, gin.H{
		"fields":                             rules,
		"notify_all_suppliers_on_any_change": policy.NotifyAllSuppliersOnAnyChange,
	})
}

// SaveRules 整体替换保存字段规则
// PUT /api/v1/srm/modification-rules
func (h *ModificationHandler) SaveRules(c *gin.Context) {
	var req service.SaveRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	rules, err := h.svc.SaveRules(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, rules)
}

// ProposeEdit 对已发布询价单提交字段编辑
// POST /api/v1/srm/brfqs/:id/edits
func (h *ModificationHandler) ProposeEdit(c *gin.Context) {
	var req service.ProposeEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	outcome, err := h.svc.ProposeEdit(c.Request.Context(), GetUserID(c), c.Param("id"), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, outcome)
}

// List 修改申请列表
// GET /api/v1/srm/modification-requests?brfq_id=xxx&status=xxx
func (h *ModificationHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.List(c.Request.Context(), c.Query("brfq_id"), c.Query("status"), page, pageSize)
	if err != nil {
		InternalError(c, "获取修改申请列表失败: "+err.Error())
		return
	}
	ListResult(c, items, total, page, pageSize)
}

// Get 修改申请详情
// GET /api/v1/srm/modification-requests/:id
func (h *ModificationHandler) Get(c *gin.Context) {
	mod, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		NotFound(c, "修改申请不存在")
		return
	}
	Success(c, mod)
}

// decideModificationRequest 修改申请决定请求
type decideModificationRequest struct {
	Action string `json:"action" binding:"required,oneof=approve reject"`
	Note   string `json:"note"`
}

// Decide 批准或拒绝修改申请
// POST /api/v1/srm/modification-requests/:id/decide
func (h *ModificationHandler) Decide(c *gin.Context) {
	var req decideModificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	var err error
	var result interface{}
	if req.Action == "approve" {
		result, err = h.svc.Approve(c.Request.Context(), GetUserID(c), c.Param("id"), req.Note)
	} else {
		result, err = h.svc.Reject(c.Request.Context(), GetUserID(c), c.Param("id"), req.Note)
	}
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, result)
}
