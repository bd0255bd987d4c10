package service

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
	"github.com/bitfantasy/nimo-srm/internal/srm/testutil"
)

func seedPublishedBRFQ(t *testing.T, db *gorm.DB, id, code, title string) *entity.BRFQ {
	t.Helper()
	brfq := testutil.SeedBRFQ(t, db, id, code, title, 80000)
	brfq.ApprovalStatus = entity.BRFQApprovalApproved
	brfq.Published = true
	if err := db.Save(brfq).Error; err != nil {
		t.Fatalf("Failed to publish BRFQ: %v", err)
	}
	return brfq
}

func seedFieldRules(t *testing.T, svc *Services, notifyAll bool, rules ...FieldRuleInput) {
	t.Helper()
	if _, err := svc.Modification.SaveRules(context.Background(), "admin-001", &SaveRulesRequest{
		Fields:                        rules,
		NotifyAllSuppliersOnAnyChange: notifyAll,
	}); err != nil {
		t.Fatalf("Failed to save field rules: %v", err)
	}
}

// 不可编辑字段的修改整体拒绝，目标实体不发生任何变化
func TestNonEditableFieldNeverMutates(t *testing.T) {
	svc, repos, db, _ := setupEngineTest(t)
	ctx := context.Background()

	brfq := seedPublishedBRFQ(t, db, "brfq-ne", "BRFQ-2026-0101", "原标题")
	seedFieldRules(t, svc, false,
		FieldRuleInput{FieldKey: "title", Label: "标题", Editable: false},
		FieldRuleInput{FieldKey: "budget", Label: "预算", Editable: true},
	)

	_, err := svc.Modification.ProposeEdit(ctx, "buyer-001", brfq.ID, &ProposeEditRequest{
		Fields: map[string]interface{}{
			"title":  "新标题",
			"budget": float64(90000),
		},
	})
	if err == nil {
		t.Fatal("expected error editing a non-editable field")
	}

	after, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if after.Title != "原标题" {
		t.Fatalf("title must not change, got %s", after.Title)
	}
	if after.Budget != 80000 {
		t.Fatalf("budget must not change when any field is rejected, got %v", after.Budget)
	}
}

// 需审批字段使整个补丁转为待审批的修改申请，不立即生效
func TestRequiresApprovalQueuesRequest(t *testing.T) {
	svc, repos, db, _ := setupEngineTest(t)
	ctx := context.Background()

	brfq := seedPublishedBRFQ(t, db, "brfq-ra", "BRFQ-2026-0102", "A")
	seedFieldRules(t, svc, false,
		FieldRuleInput{FieldKey: "title", Label: "标题", Editable: true, RequiresApproval: true, NotifySuppliers: true},
	)

	outcome, err := svc.Modification.ProposeEdit(ctx, "buyer-001", brfq.ID, &ProposeEditRequest{
		Fields: map[string]interface{}{"title": "B"},
		Note:   "改个标题",
	})
	if err != nil {
		t.Fatalf("ProposeEdit failed: %v", err)
	}
	if outcome.Applied {
		t.Fatal("requires-approval edit must not apply immediately")
	}
	if outcome.Request == nil || outcome.Request.Status != entity.ModificationStatusPending {
		t.Fatalf("expected pending modification request, got %+v", outcome.Request)
	}

	after, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if after.Title != "A" {
		t.Fatalf("title must stay A until approval, got %s", after.Title)
	}
}

// 批准修改申请后摘要合并进BRFQ，每个选中供应商恰好收到一次变更通知
func TestApproveModificationMergesAndNotifies(t *testing.T) {
	svc, repos, db, sender := setupEngineTest(t)
	ctx := context.Background()

	brfq := seedPublishedBRFQ(t, db, "brfq-am", "BRFQ-2026-0103", "A")
	seedSelectedSuppliers(t, repos, brfq.ID, "supa@test.com", "supb@test.com")
	seedFieldRules(t, svc, false,
		FieldRuleInput{FieldKey: "title", Label: "标题", Editable: true, RequiresApproval: true, NotifySuppliers: true},
	)

	outcome, err := svc.Modification.ProposeEdit(ctx, "buyer-001", brfq.ID, &ProposeEditRequest{
		Fields: map[string]interface{}{"title": "B"},
	})
	if err != nil {
		t.Fatalf("ProposeEdit failed: %v", err)
	}

	mod, err := svc.Modification.Approve(ctx, "admin-001", outcome.Request.ID, "同意")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if mod.Status != entity.ModificationStatusApproved {
		t.Fatalf("expected approved, got %s", mod.Status)
	}

	after, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if after.Title != "B" {
		t.Fatalf("expected title merged to B, got %s", after.Title)
	}
	if sender.sentCount() != 2 {
		t.Fatalf("expected one change notice per supplier, sent %d", sender.sentCount())
	}
}

// 拒绝修改申请是终态，目标BRFQ保持不变
func TestRejectModificationNoMutation(t *testing.T) {
	svc, repos, db, _ := setupEngineTest(t)
	ctx := context.Background()

	brfq := seedPublishedBRFQ(t, db, "brfq-rm", "BRFQ-2026-0104", "A")
	seedFieldRules(t, svc, false,
		FieldRuleInput{FieldKey: "title", Label: "标题", Editable: true, RequiresApproval: true},
	)

	outcome, err := svc.Modification.ProposeEdit(ctx, "buyer-001", brfq.ID, &ProposeEditRequest{
		Fields: map[string]interface{}{"title": "B"},
	})
	if err != nil {
		t.Fatalf("ProposeEdit failed: %v", err)
	}

	mod, err := svc.Modification.Reject(ctx, "admin-001", outcome.Request.ID, "不同意")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if mod.Status != entity.ModificationStatusRejected {
		t.Fatalf("expected rejected, got %s", mod.Status)
	}

	after, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if after.Title != "A" {
		t.Fatalf("rejected modification must not mutate target, got %s", after.Title)
	}

	// 终态申请不可再决定
	if _, err := svc.Modification.Approve(ctx, "admin-001", outcome.Request.ID, ""); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict deciding a terminal request, got %v", err)
	}
}

// 未配置规则的字段按需审批处理（收紧的默认策略）
func TestUnknownFieldFailsClosed(t *testing.T) {
	svc, repos, db, _ := setupEngineTest(t)
	ctx := context.Background()

	brfq := seedPublishedBRFQ(t, db, "brfq-uk", "BRFQ-2026-0105", "A")
	seedFieldRules(t, svc, false,
		FieldRuleInput{FieldKey: "title", Label: "标题", Editable: true},
	)

	// description 没有规则，补丁必须进审批
	outcome, err := svc.Modification.ProposeEdit(ctx, "buyer-001", brfq.ID, &ProposeEditRequest{
		Fields: map[string]interface{}{"description": "新描述"},
	})
	if err != nil {
		t.Fatalf("ProposeEdit failed: %v", err)
	}
	if outcome.Applied {
		t.Fatal("unknown field must fail closed into approval")
	}

	after, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if after.Description != "" {
		t.Fatalf("description must not change, got %s", after.Description)
	}
}

// 可编辑且无需审批的字段立即生效，按规则通知供应商
func TestImmediateApplyWithNotify(t *testing.T) {
	svc, repos, db, sender := setupEngineTest(t)
	ctx := context.Background()

	brfq := seedPublishedBRFQ(t, db, "brfq-ia", "BRFQ-2026-0106", "A")
	seedSelectedSuppliers(t, repos, brfq.ID, "supa@test.com")
	seedFieldRules(t, svc, false,
		FieldRuleInput{FieldKey: "budget", Label: "预算", Editable: true, NotifySuppliers: true},
	)

	outcome, err := svc.Modification.ProposeEdit(ctx, "buyer-001", brfq.ID, &ProposeEditRequest{
		Fields: map[string]interface{}{"budget": float64(95000)},
	})
	if err != nil {
		t.Fatalf("ProposeEdit failed: %v", err)
	}
	if !outcome.Applied {
		t.Fatal("no-approval edit must apply immediately")
	}
	if outcome.BRFQ.Budget != 95000 {
		t.Fatalf("expected budget 95000, got %v", outcome.BRFQ.Budget)
	}
	if sender.sentCount() != 1 {
		t.Fatalf("expected 1 change notice, sent %d", sender.sentCount())
	}

	after, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if after.Budget != 95000 {
		t.Fatalf("budget not persisted, got %v", after.Budget)
	}
}

// 全局 notify_all 开关优先于单字段通知配置
func TestGlobalNotifyAllFlag(t *testing.T) {
	svc, repos, db, sender := setupEngineTest(t)
	ctx := context.Background()

	brfq := seedPublishedBRFQ(t, db, "brfq-na", "BRFQ-2026-0107", "A")
	seedSelectedSuppliers(t, repos, brfq.ID, "supa@test.com")
	seedFieldRules(t, svc, true,
		FieldRuleInput{FieldKey: "budget", Label: "预算", Editable: true},
	)

	if _, err := svc.Modification.ProposeEdit(ctx, "buyer-001", brfq.ID, &ProposeEditRequest{
		Fields: map[string]interface{}{"budget": float64(81000)},
	}); err != nil {
		t.Fatalf("ProposeEdit failed: %v", err)
	}
	if sender.sentCount() != 1 {
		t.Fatalf("global notify-all must trigger change notice, sent %d", sender.sentCount())
	}
}

// editable=false 与 requires_approval 标志必须按保存值持久化
func TestFieldRulePersistsFalseFlags(t *testing.T) {
	svc, _, _, _ := setupEngineTest(t)
	ctx := context.Background()

	seedFieldRules(t, svc, false,
		FieldRuleInput{FieldKey: "title", Label: "标题", Editable: false},
		FieldRuleInput{FieldKey: "budget", Label: "预算", Editable: true, RequiresApproval: true},
	)

	rules, _, err := svc.Modification.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	byKey := map[string]bool{}
	for _, r := range rules {
		byKey[r.FieldKey] = r.Editable
	}
	if byKey["title"] {
		t.Fatal("editable=false was not persisted for title")
	}
	if !byKey["budget"] {
		t.Fatal("editable=true lost for budget")
	}
}
