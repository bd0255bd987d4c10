package service

import (
	"context"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/testutil"
)

// 超过SLA的待决步骤提醒一次，之后不再重复提醒
func TestReminderSendsOncePerStep(t *testing.T) {
	svc, repos, db, sender := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		DefaultSLA:    24,
		SendReminders: true,
		Steps: []StepDefInput{
			{Role: "采购经理", ApproverID: "apv-rem-1"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-rem", "BRFQ-2026-0201", "测试询价", 60000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// 回拨步骤创建时间到48小时前，超出24小时SLA
	if err := db.Model(&entity.ApprovalStep{}).
		Where("run_id = ?", run.ID).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error; err != nil {
		t.Fatalf("Failed to backdate step: %v", err)
	}

	sent, err := svc.Reminder.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 reminder, sent %d", sent)
	}
	if sender.sentCount() != 1 {
		t.Fatalf("expected 1 mail, sent %d", sender.sentCount())
	}

	fresh, err := repos.Approval.FindRunByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("FindRunByID failed: %v", err)
	}
	if fresh.Steps[0].RemindedAt == nil {
		t.Fatal("expected reminded_at to be set")
	}

	// 第二轮扫描不再提醒同一步骤
	sent, err = svc.Reminder.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	if sent != 0 {
		t.Fatalf("expected 0 reminders on second pass, sent %d", sent)
	}
}

// 运行快照里关闭提醒时，即使超期也不发送
func TestReminderRespectsSnapshotFlag(t *testing.T) {
	svc, _, db, sender := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		DefaultSLA:    24,
		SendReminders: false,
		Steps: []StepDefInput{
			{Role: "采购经理", ApproverID: "apv-rem-2"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-rem2", "BRFQ-2026-0202", "测试询价", 60000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := db.Model(&entity.ApprovalStep{}).
		Where("run_id = ?", run.ID).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error; err != nil {
		t.Fatalf("Failed to backdate step: %v", err)
	}

	sent, err := svc.Reminder.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if sent != 0 {
		t.Fatalf("reminders disabled in snapshot, sent %d", sent)
	}
	if sender.sentCount() != 0 {
		t.Fatalf("expected no mail, sent %d", sender.sentCount())
	}
}
