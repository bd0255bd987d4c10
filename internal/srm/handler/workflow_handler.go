package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-srm/internal/srm/service"
)

// WorkflowHandler 审批工作流模板处理器
type WorkflowHandler struct {
	svc *service.WorkflowService
}

func NewWorkflowHandler(svc *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{svc: svc}
}

// Get 获取当前审批模板
// GET /api/v1/srm/workflow-template
func (h *WorkflowHandler) Get(c *gin.Context) {
	tpl, err := h.svc.Load(c.Request.Context())
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, tpl)
}

// Save 整体替换保存审批模板
// PUT /api/v1/srm/workflow-template
func (h *WorkflowHandler) Save(c *gin.Context) {
	var req service.SaveTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	tpl, err := h.svc.Save(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, tpl)
}
