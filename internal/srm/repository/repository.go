package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict 记录已被并发决策或重复创建
	ErrConflict = errors.New("record state conflict")
)

// Repositories SRM仓库集合
type Repositories struct {
	Approver     *ApproverRepository
	Workflow     *WorkflowRepository
	Approval     *ApprovalRepository
	BRFQ         *BRFQRepository
	Modification *ModificationRepository
	Supplier     *SupplierRepository
	ActivityLog  *ActivityLogRepository
}

// NewRepositories 创建SRM仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Approver:     NewApproverRepository(db),
		Workflow:     NewWorkflowRepository(db),
		Approval:     NewApprovalRepository(db),
		BRFQ:         NewBRFQRepository(db),
		Modification: NewModificationRepository(db),
		Supplier:     NewSupplierRepository(db),
		ActivityLog:  NewActivityLogRepository(db),
	}
}
