package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-srm/internal/shared/mailer"
	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
)

// ReminderService SLA到期提醒
// 定时扫描超过SLA仍未决的审批步骤，给审批人发送提醒邮件
// 每个步骤只提醒一次，不做自动升级
type ReminderService struct {
	approvalRepo *repository.ApprovalRepository
	workflowRepo *repository.WorkflowRepository
	sender       mailer.Sender
	logger       *zap.Logger
}

func NewReminderService(approvalRepo *repository.ApprovalRepository, workflowRepo *repository.WorkflowRepository, sender mailer.Sender, logger *zap.Logger) *ReminderService {
	return &ReminderService{
		approvalRepo: approvalRepo,
		workflowRepo: workflowRepo,
		sender:       sender,
		logger:       logger,
	}
}

// RunOnce 执行一轮提醒扫描，返回发送的提醒数量
func (s *ReminderService) RunOnce(ctx context.Context) (int, error) {
	now := time.Now()
	overdue, err := s.approvalRepo.ListOverduePending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("扫描超期步骤失败: %w", err)
	}

	sent := 0
	runCache := map[string]*entity.ApprovalRun{}
	for _, step := range overdue {
		run, ok := runCache[step.RunID]
		if !ok {
			run, err = s.approvalRepo.FindRunByID(ctx, step.RunID)
			if err != nil {
				s.logger.Warn("加载审批运行失败，跳过提醒",
					zap.String("step_id", step.ID), zap.Error(err))
				continue
			}
			runCache[step.RunID] = run
		}

		// 提醒开关以运行实例化时的快照为准
		var snapshot entity.FlowSnapshotData
		if err := json.Unmarshal(run.FlowSnapshot, &snapshot); err != nil || !snapshot.SendReminders {
			continue
		}
		if step.ApproverEmail == "" {
			continue
		}

		title, code := "", ""
		if run.BRFQ != nil {
			title, code = run.BRFQ.Title, run.BRFQ.Code
		}
		subject := fmt.Sprintf("审批超期提醒：%s（%s）", title, code)
		body := fmt.Sprintf(
			`<p>%s 您好：</p>
<p>询价单 %s（%s）的审批步骤「%s」已超过 %d 小时未处理，请尽快审批。</p>`,
			step.ApproverName, title, code, step.Role, step.SLAHours)

		results := s.sender.Send(ctx, []string{step.ApproverEmail}, subject, body)
		ok = len(results) > 0 && results[0].OK
		if !ok {
			s.logger.Warn("提醒邮件发送失败",
				zap.String("step_id", step.ID), zap.String("email", step.ApproverEmail))
			continue
		}
		if err := s.approvalRepo.MarkReminded(ctx, step.ID, now); err != nil {
			s.logger.Warn("标记提醒状态失败", zap.String("step_id", step.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}
