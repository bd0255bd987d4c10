package service

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-srm/internal/config"
	"github.com/bitfantasy/nimo-srm/internal/shared/mailer"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
)

// Services 服务集合
type Services struct {
	Approver     *ApproverService
	Workflow     *WorkflowService
	Approval     *ApprovalService
	Modification *ModificationService
	BRFQ         *BRFQService
	Supplier     *SupplierService
	Reminder     *ReminderService
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, rdb *redis.Client, sender mailer.Sender, cfg *config.Config, logger *zap.Logger) *Services {
	workflowSvc := NewWorkflowService(repos.Workflow, repos.Approver, rdb)
	brfqSvc := NewBRFQService(repos.BRFQ, repos.Supplier, repos.ActivityLog)
	approvalSvc := NewApprovalService(repos, workflowSvc, sender, cfg, logger)
	modificationSvc := NewModificationService(repos, sender, cfg, logger)

	return &Services{
		Approver:     NewApproverService(repos.Approver),
		Workflow:     workflowSvc,
		Approval:     approvalSvc,
		Modification: modificationSvc,
		BRFQ:         brfqSvc,
		Supplier:     NewSupplierService(repos.Supplier),
		Reminder:     NewReminderService(repos.Approval, repos.Workflow, sender, logger),
	}
}
