package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bitfantasy/nimo-srm/internal/config"
	"github.com/bitfantasy/nimo-srm/internal/shared/mailer"
	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
	"github.com/bitfantasy/nimo-srm/internal/srm/testutil"
)

// fakeSender 记录发送调用的测试用Sender
type fakeSender struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]bool
}

func (f *fakeSender) Send(ctx context.Context, to []string, subject, htmlBody string) []mailer.RecipientResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, to)
	results := make([]mailer.RecipientResult, 0, len(to))
	for _, email := range to {
		r := mailer.RecipientResult{Email: email, OK: true}
		if f.fail[email] {
			r.OK = false
			r.Error = "gateway unavailable"
		}
		results = append(results, r)
	}
	return results
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		n += len(call)
	}
	return n
}

func setupEngineTest(t *testing.T) (*Services, *repository.Repositories, *gorm.DB, *fakeSender) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	sender := &fakeSender{fail: map[string]bool{}}
	cfg := &config.Config{
		Quote: config.QuoteConfig{
			BaseURL:     "https://srm.example.com/quote",
			TokenSecret: "test-quote-secret",
		},
	}
	services := NewServices(repos, nil, sender, cfg, zap.NewNop())
	return services, repos, db, sender
}

func seedTemplate(t *testing.T, svc *Services, db *gorm.DB, req *SaveTemplateRequest) *entity.WorkflowTemplate {
	t.Helper()
	ctx := context.Background()
	seen := map[string]bool{}
	for _, step := range req.Steps {
		if seen[step.ApproverID] {
			continue
		}
		seen[step.ApproverID] = true
		testutil.SeedApprover(t, db, step.ApproverID,
			"审批人-"+step.ApproverID, step.ApproverID+"@test.com", step.Role)
	}
	tpl, err := svc.Workflow.Save(ctx, "admin-001", req)
	if err != nil {
		t.Fatalf("Failed to save template: %v", err)
	}
	return tpl
}

func seedSelectedSuppliers(t *testing.T, repos *repository.Repositories, brfqID string, emails ...string) {
	t.Helper()
	rows := make([]entity.RFQSupplier, 0, len(emails))
	for i, email := range emails {
		rows = append(rows, entity.RFQSupplier{
			ID:           brfqID + "-sup-" + email,
			BRFQID:       brfqID,
			SupplierID:   brfqID + "-supplier-" + email,
			SupplierName: "供应商" + string(rune('A'+i)),
			Email:        email,
		})
	}
	if err := repos.BRFQ.ReplaceSuppliers(context.Background(), brfqID, rows); err != nil {
		t.Fatalf("Failed to seed suppliers: %v", err)
	}
}

// 条件不满足的步骤在实例化时被跳过，Budget=50000 时 Finance 步骤不创建
func TestInstantiateConditionFiltering(t *testing.T) {
	svc, repos, db, _ := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		DefaultSLA: 24,
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
			{Role: "Finance Head", ApproverID: "appr-2",
				ConditionField: "budget", ConditionOperator: ">", ConditionValue: 100000},
		},
	})

	brfq := testutil.SeedBRFQ(t, db, "brfq-001", "BRFQ-2026-0001", "测试采购", 50000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(run.Steps) != 1 {
		t.Fatalf("expected 1 instantiated step (Finance skipped), got %d", len(run.Steps))
	}
	if run.Steps[0].Role != "Procurement Head" {
		t.Fatalf("expected Procurement Head step, got %s", run.Steps[0].Role)
	}
	if run.ConfigVersion != 1 {
		t.Fatalf("expected snapshot config version 1, got %d", run.ConfigVersion)
	}

	// 唯一的必审步骤通过即完成整个运行
	final, err := svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID, &DecideRequest{Action: "approve"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if final.Status != entity.ApprovalStatusApproved {
		t.Fatalf("expected run approved, got %s", final.Status)
	}

	updated, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if updated.ApprovalStatus != entity.BRFQApprovalApproved {
		t.Fatalf("expected brfq approved, got %s", updated.ApprovalStatus)
	}
	if !updated.Published {
		t.Fatal("expected brfq published (publish_on_approval=true)")
	}
}

// 步骤按条件全量实例化时保持升序
func TestInstantiateAscendingOrder(t *testing.T) {
	svc, _, db, _ := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
			{Role: "Finance Head", ApproverID: "appr-2",
				ConditionField: "budget", ConditionOperator: ">", ConditionValue: 100000},
			{Role: "CEO", ApproverID: "appr-3"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-ord", "BRFQ-2026-0002", "大额采购", 200000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(run.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(run.Steps))
	}
	for i := 1; i < len(run.Steps); i++ {
		if run.Steps[i].StepOrder <= run.Steps[i-1].StepOrder {
			t.Fatalf("steps out of order at index %d", i)
		}
	}
}

// 必审步骤被拒绝后整个运行短路，兄弟步骤置为跳过，BRFQ置为已拒绝且不发布
func TestRequiredRejectShortCircuit(t *testing.T) {
	svc, repos, db, _ := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
			{Role: "Finance Head", ApproverID: "appr-2"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-rej", "BRFQ-2026-0003", "被拒采购", 80000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	final, err := svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID,
		&DecideRequest{Action: "reject", Comment: "预算不合理"})
	if err != nil {
		t.Fatalf("Decide reject failed: %v", err)
	}
	if final.Status != entity.ApprovalStatusRejected {
		t.Fatalf("expected run rejected, got %s", final.Status)
	}
	if final.Steps[1].Status != entity.ApprovalStatusSkipped {
		t.Fatalf("expected sibling step skipped, got %s", final.Steps[1].Status)
	}

	updated, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if updated.ApprovalStatus != entity.BRFQApprovalRejected {
		t.Fatalf("expected brfq rejected, got %s", updated.ApprovalStatus)
	}
	if updated.Published {
		t.Fatal("rejected brfq must not be published")
	}
}

// 同一步骤的第二次决定必须返回冲突，状态只迁移一次
func TestDoubleDecideConflict(t *testing.T) {
	svc, _, db, _ := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
			{Role: "Finance Head", ApproverID: "appr-2"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-dup", "BRFQ-2026-0004", "重复决定", 80000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID, &DecideRequest{Action: "approve"}); err != nil {
		t.Fatalf("first Decide failed: %v", err)
	}
	_, err = svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID, &DecideRequest{Action: "reject"})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict on second decide, got %v", err)
	}

	// 第一次决定的结果保持不变
	after, _ := svc.Approval.Get(ctx, run.ID)
	if after.Steps[0].Status != entity.ApprovalStatusApproved {
		t.Fatalf("expected step still approved, got %s", after.Steps[0].Status)
	}
}

// 串行模式下前序步骤未完成时不允许决定后序步骤
func TestSequentialOrderEnforced(t *testing.T) {
	svc, _, db, _ := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
			{Role: "Finance Head", ApproverID: "appr-2"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-seq", "BRFQ-2026-0005", "顺序校验", 80000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := svc.Approval.Decide(ctx, "appr-2", run.Steps[1].ID, &DecideRequest{Action: "approve"}); err == nil {
		t.Fatal("expected error deciding step 2 before step 1")
	}
}

// 并行模式下步骤可以任意顺序决定
func TestParallelModeAnyOrder(t *testing.T) {
	svc, _, db, _ := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		AllowParallel: true,
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
			{Role: "Finance Head", ApproverID: "appr-2"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-par", "BRFQ-2026-0006", "并行审批", 80000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := svc.Approval.Decide(ctx, "appr-2", run.Steps[1].ID, &DecideRequest{Action: "approve"}); err != nil {
		t.Fatalf("parallel decide on step 2 failed: %v", err)
	}
	final, err := svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID, &DecideRequest{Action: "approve"})
	if err != nil {
		t.Fatalf("parallel decide on step 1 failed: %v", err)
	}
	if final.Status != entity.ApprovalStatusApproved {
		t.Fatalf("expected run approved, got %s", final.Status)
	}
}

// publish_override 优先于 BRFQ 的 publish_on_approval
func TestPublishOverride(t *testing.T) {
	svc, repos, db, sender := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-ovr", "BRFQ-2026-0007", "覆盖发布", 80000)
	seedSelectedSuppliers(t, repos, brfq.ID, "supa@test.com")

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	noPublish := false
	if _, err := svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID,
		&DecideRequest{Action: "approve", PublishOverride: &noPublish}); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	updated, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if updated.ApprovalStatus != entity.BRFQApprovalApproved {
		t.Fatalf("expected brfq approved, got %s", updated.ApprovalStatus)
	}
	if updated.Published {
		t.Fatal("publish override false must win over publish_on_approval")
	}
	if sender.sentCount() != 0 {
		t.Fatalf("unpublished approval must not notify suppliers, sent %d", sender.sentCount())
	}
}

// 审批通过并发布后，每个选中供应商恰好收到一次通知，单个失败不影响审批结果
func TestSupplierNotificationOnPublish(t *testing.T) {
	svc, repos, db, sender := setupEngineTest(t)
	ctx := context.Background()
	sender.fail["supb@test.com"] = true

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-ntf", "BRFQ-2026-0008", "通知供应商", 80000)
	seedSelectedSuppliers(t, repos, brfq.ID, "supa@test.com", "supb@test.com")

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	final, err := svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID, &DecideRequest{Action: "approve"})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if final.Status != entity.ApprovalStatusApproved {
		t.Fatalf("notification failure must not block approval, got %s", final.Status)
	}
	if sender.sentCount() != 2 {
		t.Fatalf("expected exactly one notification per supplier, sent %d", sender.sentCount())
	}
	if len(final.NotifyResults) != 2 {
		t.Fatalf("expected 2 recorded notify results, got %d", len(final.NotifyResults))
	}

	okCount := 0
	for _, raw := range final.NotifyResults {
		r, ok := raw.(map[string]interface{})
		if !ok {
			t.Fatalf("unexpected notify result shape: %v", raw)
		}
		if r["ok"] == true {
			okCount++
		}
	}
	if okCount != 1 {
		t.Fatalf("expected 1 successful recipient, got %d", okCount)
	}
}

// 撤回进行中的审批：运行取消，未决步骤跳过，BRFQ回到未审批状态
func TestWithdraw(t *testing.T) {
	svc, repos, db, _ := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
			{Role: "Finance Head", ApproverID: "appr-2"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-wdr", "BRFQ-2026-0009", "撤回审批", 80000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	canceled, err := svc.Approval.Withdraw(ctx, "buyer-001", run.ID)
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if canceled.Status != entity.ApprovalStatusCanceled {
		t.Fatalf("expected run canceled, got %s", canceled.Status)
	}
	for _, step := range canceled.Steps {
		if step.Status != entity.ApprovalStatusSkipped {
			t.Fatalf("expected all steps skipped after withdraw, got %s", step.Status)
		}
	}

	updated, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if updated.ApprovalStatus != entity.BRFQApprovalNone {
		t.Fatalf("expected brfq back to none, got %s", updated.ApprovalStatus)
	}

	// 撤回后不可再决定
	if _, err := svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID, &DecideRequest{Action: "approve"}); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict deciding a withdrawn run, got %v", err)
	}
}

// 进行中的审批不允许重复提交；终态后允许重新提交并产生新运行
func TestResubmitSemantics(t *testing.T) {
	svc, _, db, _ := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-rsb", "BRFQ-2026-0010", "重新提交", 80000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate submit, got %v", err)
	}

	if _, err := svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID,
		&DecideRequest{Action: "reject", Comment: "再议"}); err != nil {
		t.Fatalf("Decide reject failed: %v", err)
	}

	second, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("resubmit after rejection failed: %v", err)
	}
	if second.ID == run.ID {
		t.Fatal("resubmit must create a new run")
	}
	if second.Status != entity.ApprovalStatusPending {
		t.Fatalf("expected new run pending, got %s", second.Status)
	}
}

// 实例化后的运行不受模板后续修改影响（快照语义）
func TestTemplateSnapshotIsolation(t *testing.T) {
	svc, _, db, _ := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
			{Role: "Finance Head", ApproverID: "appr-2"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-snp", "BRFQ-2026-0011", "快照隔离", 80000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if run.ConfigVersion != 1 {
		t.Fatalf("expected config version 1, got %d", run.ConfigVersion)
	}

	// 模板改为单步骤，版本升到2；进行中的运行仍是两步
	if _, err := svc.Workflow.Save(ctx, "admin-001", &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "CEO", ApproverID: "appr-1"},
		},
	}); err != nil {
		t.Fatalf("template re-save failed: %v", err)
	}

	reloaded, _ := svc.Approval.Get(ctx, run.ID)
	if len(reloaded.Steps) != 2 {
		t.Fatalf("in-flight run must keep its 2 snapshot steps, got %d", len(reloaded.Steps))
	}
	if reloaded.ConfigVersion != 1 {
		t.Fatalf("in-flight run must keep snapshot version 1, got %d", reloaded.ConfigVersion)
	}
}

// 可选步骤的 is_required=false 必须持久化，拒绝可选步骤不短路运行
func TestOptionalStepRejectDoesNotShortCircuit(t *testing.T) {
	svc, repos, db, _ := setupEngineTest(t)
	ctx := context.Background()

	optional := false
	seedTemplate(t, svc, db, &SaveTemplateRequest{
		AllowParallel: true,
		Steps: []StepDefInput{
			{Role: "Advisor", ApproverID: "appr-1", IsRequired: &optional},
			{Role: "Procurement Head", ApproverID: "appr-2"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-opt", "BRFQ-2026-0012", "可选步骤", 80000)

	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if run.Steps[0].IsRequired {
		t.Fatal("optional step stored as required")
	}

	after, err := svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID, &DecideRequest{Action: "reject"})
	if err != nil {
		t.Fatalf("reject optional step failed: %v", err)
	}
	if after.Status != entity.ApprovalStatusPending {
		t.Fatalf("optional reject must not finalize the run, got %s", after.Status)
	}

	final, err := svc.Approval.Decide(ctx, "appr-2", run.Steps[1].ID, &DecideRequest{Action: "approve"})
	if err != nil {
		t.Fatalf("approve required step failed: %v", err)
	}
	if final.Status != entity.ApprovalStatusApproved {
		t.Fatalf("expected run approved, got %s", final.Status)
	}

	updated, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if updated.ApprovalStatus != entity.BRFQApprovalApproved {
		t.Fatalf("expected brfq approved, got %s", updated.ApprovalStatus)
	}
}

// publish_on_approval=false 必须持久化，审批通过后不发布也不通知
func TestPublishOnApprovalFalsePersists(t *testing.T) {
	svc, repos, db, sender := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "Procurement Head", ApproverID: "appr-1"},
		},
	})

	noPublish := false
	brfq, err := svc.BRFQ.Create(ctx, "buyer-001", &CreateBRFQRequest{
		Title:             "仅审批不发布",
		Budget:            80000,
		PublishOnApproval: &noPublish,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stored, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if stored.PublishOnApproval {
		t.Fatal("publish_on_approval=false was not persisted")
	}

	seedSelectedSuppliers(t, repos, brfq.ID, "supa@test.com")
	run, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := svc.Approval.Decide(ctx, "appr-1", run.Steps[0].ID, &DecideRequest{Action: "approve"}); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	updated, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if updated.ApprovalStatus != entity.BRFQApprovalApproved {
		t.Fatalf("expected brfq approved, got %s", updated.ApprovalStatus)
	}
	if updated.Published {
		t.Fatal("brfq with publish_on_approval=false must not publish")
	}
	if sender.sentCount() != 0 {
		t.Fatalf("unpublished approval must not notify suppliers, sent %d", sender.sentCount())
	}
}
