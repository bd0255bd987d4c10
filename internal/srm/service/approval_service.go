package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bitfantasy/nimo-srm/internal/config"
	"github.com/bitfantasy/nimo-srm/internal/shared/mailer"
	"github.com/bitfantasy/nimo-srm/internal/shared/token"
	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
)

// ApprovalService BRFQ审批运行引擎
// 实例化时快照模板，审批过程中的模板修改不影响进行中的运行
type ApprovalService struct {
	repos       *repository.Repositories
	workflowSvc *WorkflowService
	sender      mailer.Sender
	cfg         *config.Config
	logger      *zap.Logger
}

func NewApprovalService(repos *repository.Repositories, workflowSvc *WorkflowService, sender mailer.Sender, cfg *config.Config, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		repos:       repos,
		workflowSvc: workflowSvc,
		sender:      sender,
		cfg:         cfg,
		logger:      logger,
	}
}

// DecideRequest 审批决定请求
type DecideRequest struct {
	Action          string `json:"action" binding:"required,oneof=approve reject"`
	Comment         string `json:"comment"`
	PublishOverride *bool  `json:"publish_override"`
}

// Submit 提交BRFQ进入审批，按模板快照实例化审批运行
func (s *ApprovalService) Submit(ctx context.Context, userID, brfqID string) (*entity.ApprovalRun, error) {
	brfq, err := s.repos.BRFQ.FindByID(ctx, brfqID)
	if err != nil {
		return nil, err
	}
	if brfq.ApprovalStatus == entity.BRFQApprovalPending {
		return nil, fmt.Errorf("该询价单已在审批中: %w", repository.ErrConflict)
	}
	if brfq.ApprovalStatus == entity.BRFQApprovalApproved {
		return nil, fmt.Errorf("该询价单已审批通过: %w", repository.ErrConflict)
	}

	tpl, err := s.workflowSvc.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载审批模板失败: %w", err)
	}
	if len(tpl.Steps) == 0 {
		return nil, fmt.Errorf("审批模板未配置步骤")
	}

	// 按条件筛选适用步骤
	applicable := make([]entity.ApprovalStepDef, 0, len(tpl.Steps))
	for _, def := range tpl.Steps {
		if conditionMatches(&def, brfq) {
			applicable = append(applicable, def)
		}
	}
	if len(applicable) == 0 {
		return nil, fmt.Errorf("没有适用于该询价单的审批步骤")
	}

	snapshot, err := json.Marshal(entity.FlowSnapshotData{
		ConfigVersion: tpl.ConfigVersion,
		DefaultSLA:    tpl.DefaultSLA,
		AllowParallel: tpl.AllowParallel,
		SendReminders: tpl.SendReminders,
		Steps:         tpl.Steps,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化模板快照失败: %w", err)
	}

	run := &entity.ApprovalRun{
		ID:            uuid.New().String()[:32],
		BRFQID:        brfq.ID,
		Status:        entity.ApprovalStatusPending,
		ConfigVersion: tpl.ConfigVersion,
		AllowParallel: tpl.AllowParallel,
		FlowSnapshot:  snapshot,
		RequestedBy:   userID,
	}
	for _, def := range applicable {
		sla := def.SLAHours
		if sla <= 0 {
			sla = tpl.DefaultSLA
		}
		step := entity.ApprovalStep{
			ID:         uuid.New().String()[:32],
			RunID:      run.ID,
			StepOrder:  def.StepOrder,
			Role:       def.Role,
			ApproverID: def.ApproverID,
			IsRequired: def.IsRequired,
			SLAHours:   sla,
			Status:     entity.ApprovalStatusPending,
		}
		// 审批人信息快照，后续删除审批人不影响进行中的步骤
		if def.Approver != nil {
			step.ApproverName = def.Approver.Name
			step.ApproverEmail = def.Approver.Email
		}
		run.Steps = append(run.Steps, step)
	}

	err = s.repos.Approval.Transaction(ctx, func(tx *gorm.DB) error {
		// 终态旧运行允许重新提交，进行中的运行冲突
		if old, err := s.repos.Approval.FindRunByBRFQ(ctx, tx, brfq.ID); err == nil {
			if old.Status == entity.ApprovalStatusPending {
				return fmt.Errorf("该询价单已有进行中的审批: %w", repository.ErrConflict)
			}
			if err := s.repos.Approval.DeleteRun(ctx, tx, old.ID); err != nil {
				return err
			}
		} else if err != repository.ErrNotFound {
			return err
		}
		if err := tx.WithContext(ctx).Create(run).Error; err != nil {
			return err
		}
		return s.repos.BRFQ.UpdateColumns(ctx, tx, brfq.ID, map[string]interface{}{
			"approval_status": entity.BRFQApprovalPending,
		})
	})
	if err != nil {
		return nil, err
	}

	s.repos.ActivityLog.LogActivity(ctx, "approval_run", run.ID, brfq.Code,
		"submit", "", entity.ApprovalStatusPending,
		fmt.Sprintf("提交审批，模板版本 v%d，共 %d 个步骤", run.ConfigVersion, len(run.Steps)),
		userID, "")

	return run, nil
}

// conditionMatches 对BRFQ求值步骤条件，无条件视为匹配
// 未知条件字段视为不匹配，步骤跳过
func conditionMatches(def *entity.ApprovalStepDef, brfq *entity.BRFQ) bool {
	if def.ConditionField == "" {
		return true
	}

	var actual float64
	switch def.ConditionField {
	case "budget", "Budget":
		actual = brfq.Budget
	case "quantity", "Quantity":
		actual = brfq.Quantity
	default:
		return false
	}

	switch def.ConditionOperator {
	case entity.ConditionOpGreater:
		return actual > def.ConditionValue
	case entity.ConditionOpLess:
		return actual < def.ConditionValue
	case entity.ConditionOpEqual:
		return actual == def.ConditionValue
	default:
		return false
	}
}

// Decide 审批人对一个步骤做出决定
// 步骤状态变更用条件更新实现，并发重复决定只有一次生效，其余返回冲突
func (s *ApprovalService) Decide(ctx context.Context, userID, stepID string, req *DecideRequest) (*entity.ApprovalRun, error) {
	step, err := s.repos.Approval.FindStepByID(ctx, stepID)
	if err != nil {
		return nil, err
	}
	run, err := s.repos.Approval.FindRunByID(ctx, step.RunID)
	if err != nil {
		return nil, err
	}
	if run.Status != entity.ApprovalStatusPending {
		return nil, fmt.Errorf("审批运行已结束: %w", repository.ErrConflict)
	}

	// 串行模式下前序步骤必须全部通过，决定时校验避免乱序
	if !run.AllowParallel {
		for _, sibling := range run.Steps {
			if sibling.StepOrder < step.StepOrder && sibling.Status == entity.ApprovalStatusPending {
				return nil, fmt.Errorf("前序步骤（第 %d 步）尚未完成", sibling.StepOrder)
			}
		}
	}

	newStatus := entity.ApprovalStatusApproved
	if req.Action == entity.ApprovalActionReject {
		newStatus = entity.ApprovalStatusRejected
	}

	var finalized string
	var published bool
	err = s.repos.Approval.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.repos.Approval.DecideStep(ctx, tx, stepID, newStatus, req.Comment); err != nil {
			return err
		}

		if newStatus == entity.ApprovalStatusRejected && step.IsRequired {
			// 必需步骤被拒绝：短路整个运行，兄弟步骤置为跳过
			if err := s.repos.Approval.SkipPendingSteps(ctx, tx, run.ID); err != nil {
				return err
			}
			if err := s.repos.Approval.FinalizeRun(ctx, tx, run.ID, entity.ApprovalStatusRejected); err != nil {
				return err
			}
			finalized = entity.ApprovalStatusRejected
			return s.repos.BRFQ.UpdateColumns(ctx, tx, run.BRFQID, map[string]interface{}{
				"approval_status": entity.BRFQApprovalRejected,
				"published":       false,
				"approval_note":   req.Comment,
			})
		}

		remaining, err := s.repos.Approval.CountPendingRequired(ctx, tx, run.ID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}

		// 全部必需步骤通过：运行终态，按覆盖或BRFQ配置决定是否发布
		if err := s.repos.Approval.FinalizeRun(ctx, tx, run.ID, entity.ApprovalStatusApproved); err != nil {
			return err
		}
		finalized = entity.ApprovalStatusApproved
		published = run.BRFQ != nil && run.BRFQ.PublishOnApproval
		if req.PublishOverride != nil {
			published = *req.PublishOverride
		}
		now := time.Now()
		return s.repos.BRFQ.UpdateColumns(ctx, tx, run.BRFQID, map[string]interface{}{
			"approval_status": entity.BRFQApprovalApproved,
			"published":       published,
			"approved_by":     userID,
			"approved_at":     now,
			"approval_note":   req.Comment,
		})
	})
	if err != nil {
		return nil, err
	}

	brfqCode := ""
	if run.BRFQ != nil {
		brfqCode = run.BRFQ.Code
	}
	s.repos.ActivityLog.LogActivity(ctx, "approval_run", run.ID, brfqCode,
		req.Action, entity.ApprovalStatusPending, newStatus,
		fmt.Sprintf("%s 第 %d 步（%s）", req.Action, step.StepOrder, step.Role), userID, "")

	// 审批通过且发布：通知选中供应商，发送失败不影响审批结果
	if finalized == entity.ApprovalStatusApproved && published {
		s.notifySuppliers(ctx, run)
	}

	return s.repos.Approval.FindRunByID(ctx, run.ID)
}

// notifySuppliers 给BRFQ选中的供应商逐个发送报价邀请邮件
// 每个供应商携带独立的报价链接令牌；结果逐收件人记录在运行上
func (s *ApprovalService) notifySuppliers(ctx context.Context, run *entity.ApprovalRun) {
	brfq := run.BRFQ
	if brfq == nil {
		var err error
		brfq, err = s.repos.BRFQ.FindByID(ctx, run.BRFQID)
		if err != nil {
			s.logger.Warn("加载询价单失败，跳过供应商通知",
				zap.String("run_id", run.ID), zap.Error(err))
			return
		}
	}

	suppliers, err := s.repos.BRFQ.ListSuppliers(ctx, brfq.ID)
	if err != nil {
		s.logger.Warn("加载供应商列表失败，跳过供应商通知",
			zap.String("brfq_id", brfq.ID), zap.Error(err))
		return
	}

	results := make(entity.JSONBArray, 0, len(suppliers))
	for _, sup := range suppliers {
		if sup.Email == "" {
			results = append(results, map[string]interface{}{
				"email": "", "supplier_id": sup.SupplierID,
				"ok": false, "error": "供应商无邮箱",
			})
			continue
		}
		quoteToken, err := token.IssueQuoteToken(s.cfg.Quote.TokenSecret, brfq.ID, sup.SupplierID)
		if err != nil {
			results = append(results, map[string]interface{}{
				"email": sup.Email, "supplier_id": sup.SupplierID,
				"ok": false, "error": err.Error(),
			})
			continue
		}
		subject := fmt.Sprintf("报价邀请：%s（%s）", brfq.Title, brfq.Code)
		body := s.buildQuoteInviteBody(brfq, &sup, quoteToken)
		for _, r := range s.sender.Send(ctx, []string{sup.Email}, subject, body) {
			results = append(results, map[string]interface{}{
				"email": r.Email, "supplier_id": sup.SupplierID,
				"ok": r.OK, "error": r.Error,
			})
		}
	}

	if err := s.repos.Approval.SaveNotifyResults(ctx, run.ID, results); err != nil {
		s.logger.Warn("保存通知结果失败", zap.String("run_id", run.ID), zap.Error(err))
	}
	s.repos.ActivityLog.LogActivity(ctx, "brfq", brfq.ID, brfq.Code,
		"notify", "", "", fmt.Sprintf("已向 %d 家供应商发送报价邀请", len(suppliers)), "", "system")
}

func (s *ApprovalService) buildQuoteInviteBody(brfq *entity.BRFQ, sup *entity.RFQSupplier, quoteToken string) string {
	link := fmt.Sprintf("%s?token=%s", s.cfg.Quote.BaseURL, quoteToken)
	due := ""
	if brfq.DeliveryDue != nil {
		due = brfq.DeliveryDue.Format("2006-01-02")
	}
	return fmt.Sprintf(
		`<p>%s 您好：</p>
<p>诚邀贵司对以下询价单报价：</p>
<ul>
<li>单号：%s</li>
<li>标题：%s</li>
<li>品类：%s</li>
<li>数量：%.0f</li>
<li>交期：%s</li>
</ul>
<p><a href="%s">点击提交报价</a>（链接 14 天内有效）</p>`,
		sup.SupplierName, brfq.Code, brfq.Title, brfq.Category, brfq.Quantity, due, link)
}

// Withdraw 撤回进行中的审批，未决步骤置为跳过
func (s *ApprovalService) Withdraw(ctx context.Context, userID, runID string) (*entity.ApprovalRun, error) {
	run, err := s.repos.Approval.FindRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != entity.ApprovalStatusPending {
		return nil, fmt.Errorf("审批运行已结束，无法撤回: %w", repository.ErrConflict)
	}

	err = s.repos.Approval.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.repos.Approval.SkipPendingSteps(ctx, tx, run.ID); err != nil {
			return err
		}
		if err := s.repos.Approval.FinalizeRun(ctx, tx, run.ID, entity.ApprovalStatusCanceled); err != nil {
			return err
		}
		return s.repos.BRFQ.UpdateColumns(ctx, tx, run.BRFQID, map[string]interface{}{
			"approval_status": entity.BRFQApprovalNone,
		})
	})
	if err != nil {
		return nil, err
	}

	brfqCode := ""
	if run.BRFQ != nil {
		brfqCode = run.BRFQ.Code
	}
	s.repos.ActivityLog.LogActivity(ctx, "approval_run", run.ID, brfqCode,
		"withdraw", entity.ApprovalStatusPending, entity.ApprovalStatusCanceled, "撤回审批", userID, "")

	return s.repos.Approval.FindRunByID(ctx, run.ID)
}

// Get 获取审批运行详情
func (s *ApprovalService) Get(ctx context.Context, runID string) (*entity.ApprovalRun, error) {
	return s.repos.Approval.FindRunByID(ctx, runID)
}

// GetByBRFQ 获取BRFQ当前的审批运行
func (s *ApprovalService) GetByBRFQ(ctx context.Context, brfqID string) (*entity.ApprovalRun, error) {
	return s.repos.Approval.FindRunByBRFQ(ctx, nil, brfqID)
}

// ListMyPending 获取审批人的待办步骤所在的运行列表
func (s *ApprovalService) ListMyPending(ctx context.Context, approverID string) ([]entity.ApprovalRun, error) {
	return s.repos.Approval.ListMyPending(ctx, approverID)
}

// List 分页获取审批运行
func (s *ApprovalService) List(ctx context.Context, status string, page, pageSize int) ([]entity.ApprovalRun, int64, error) {
	return s.repos.Approval.ListRuns(ctx, status, page, pageSize)
}
