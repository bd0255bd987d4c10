package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/bitfantasy/nimo-srm/internal/srm/service"
)

// SupplierHandler 供应商处理器
type SupplierHandler struct {
	svc *service.SupplierService
}

func NewSupplierHandler(svc *service.SupplierService) *SupplierHandler {
	return &SupplierHandler{svc: svc}
}

// List 供应商列表
// GET /api/v1/srm/suppliers?search=xxx
func (h *SupplierHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, c.Query("search"))
	if err != nil {
		InternalError(c, "获取供应商列表失败: "+err.Error())
		return
	}
	ListResult(c, items, total, page, pageSize)
}

// Get 供应商详情
// GET /api/v1/srm/suppliers/:id
func (h *SupplierHandler) Get(c *gin.Context) {
	supplier, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		NotFound(c, "供应商不存在")
		return
	}
	Success(c, supplier)
}

// Create 创建供应商
// POST /api/v1/srm/suppliers
func (h *SupplierHandler) Create(c *gin.Context) {
	var req service.CreateSupplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	supplier, err := h.svc.Create(c.Request.Context(), GetUserID(c), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, supplier)
}

// Update 更新供应商
// PUT /api/v1/srm/suppliers/:id
func (h *SupplierHandler) Update(c *gin.Context) {
	var req service.UpdateSupplierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	supplier, err := h.svc.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, supplier)
}
