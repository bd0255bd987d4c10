package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
	"github.com/bitfantasy/nimo-srm/internal/srm/testutil"
)

func TestSupplierRefAcceptsStringOrObject(t *testing.T) {
	var refs []SupplierRef
	payload := `["sup-001", {"name": "新供应商", "email": "new@vendor.com"}]`
	if err := json.Unmarshal([]byte(payload), &refs); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	if refs[0].ID != "sup-001" || refs[0].Name != "" {
		t.Fatalf("string form should set ID only, got %+v", refs[0])
	}
	if refs[1].Name != "新供应商" || refs[1].Email != "new@vendor.com" {
		t.Fatalf("object form mismatch: %+v", refs[1])
	}
}

func TestCreateBRFQDefaults(t *testing.T) {
	svc, _, _, _ := setupEngineTest(t)
	ctx := context.Background()

	brfq, err := svc.BRFQ.Create(ctx, "buyer-001", &CreateBRFQRequest{
		Title:  "螺丝采购",
		Budget: 12000,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(brfq.Code, "BRFQ-") {
		t.Fatalf("unexpected code format: %s", brfq.Code)
	}
	if brfq.Currency != "CNY" {
		t.Fatalf("expected default currency CNY, got %s", brfq.Currency)
	}
	if !brfq.PublishOnApproval {
		t.Fatal("publish_on_approval should default to true")
	}
	if brfq.ApprovalStatus != entity.BRFQApprovalNone {
		t.Fatalf("expected approval_status none, got %s", brfq.ApprovalStatus)
	}
}

// 已发布的询价单禁止直接编辑，需走修改申请
func TestUpdatePublishedRejected(t *testing.T) {
	svc, _, db, _ := setupEngineTest(t)
	ctx := context.Background()

	brfq := testutil.SeedBRFQ(t, db, "brfq-pub", "BRFQ-2026-0301", "已发布询价", 50000)
	if err := db.Model(&entity.BRFQ{}).Where("id = ?", brfq.ID).
		Updates(map[string]interface{}{"published": true, "approval_status": entity.BRFQApprovalApproved}).Error; err != nil {
		t.Fatalf("Failed to publish: %v", err)
	}

	title := "改标题"
	if _, err := svc.BRFQ.Update(ctx, "buyer-001", brfq.ID, &UpdateBRFQRequest{Title: &title}); err == nil {
		t.Fatal("expected error updating a published BRFQ")
	}
}

// 审批中的询价单编辑冲突
func TestUpdatePendingApprovalConflict(t *testing.T) {
	svc, _, db, _ := setupEngineTest(t)
	ctx := context.Background()

	seedTemplate(t, svc, db, &SaveTemplateRequest{
		Steps: []StepDefInput{
			{Role: "采购经理", ApproverID: "apv-brfq-1"},
		},
	})
	brfq := testutil.SeedBRFQ(t, db, "brfq-pend", "BRFQ-2026-0302", "审批中询价", 50000)
	if _, err := svc.Approval.Submit(ctx, "buyer-001", brfq.ID); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	title := "改标题"
	_, err := svc.BRFQ.Update(ctx, "buyer-001", brfq.ID, &UpdateBRFQRequest{Title: &title})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

// 被拒绝的询价单编辑后审批状态复位，可重新提交
func TestRejectedResetsOnEdit(t *testing.T) {
	svc, repos, db, _ := setupEngineTest(t)
	ctx := context.Background()

	brfq := testutil.SeedBRFQ(t, db, "brfq-rej", "BRFQ-2026-0303", "被拒询价", 50000)
	if err := db.Model(&entity.BRFQ{}).Where("id = ?", brfq.ID).
		Update("approval_status", entity.BRFQApprovalRejected).Error; err != nil {
		t.Fatalf("Failed to mark rejected: %v", err)
	}

	title := "修订后的标题"
	updated, err := svc.BRFQ.Update(ctx, "buyer-001", brfq.ID, &UpdateBRFQRequest{Title: &title})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.ApprovalStatus != entity.BRFQApprovalNone {
		t.Fatalf("expected approval_status reset to none, got %s", updated.ApprovalStatus)
	}

	after, _ := repos.BRFQ.FindByID(ctx, brfq.ID)
	if after.Title != "修订后的标题" {
		t.Fatalf("title not updated: %s", after.Title)
	}
}

// 按ID引用的供应商必须存在，找不到则整体失败
func TestSetSuppliersUnknownIDRejected(t *testing.T) {
	svc, repos, db, _ := setupEngineTest(t)
	ctx := context.Background()

	brfq := testutil.SeedBRFQ(t, db, "brfq-sup", "BRFQ-2026-0304", "供应商选择", 50000)
	if err := db.Create(&entity.Supplier{
		ID: "sup-known", Code: "SUP-00001", Name: "已有供应商", Email: "known@vendor.com",
	}).Error; err != nil {
		t.Fatalf("Failed to seed supplier: %v", err)
	}

	if err := svc.BRFQ.SetSuppliers(ctx, brfq.ID, []SupplierRef{{ID: "sup-missing"}}); err == nil {
		t.Fatal("expected error for unknown supplier ID")
	}

	if err := svc.BRFQ.SetSuppliers(ctx, brfq.ID, []SupplierRef{{ID: "sup-known"}}); err != nil {
		t.Fatalf("SetSuppliers failed: %v", err)
	}
	rows, err := repos.BRFQ.ListSuppliers(ctx, brfq.ID)
	if err != nil {
		t.Fatalf("ListSuppliers failed: %v", err)
	}
	if len(rows) != 1 || rows[0].SupplierID != "sup-known" {
		t.Fatalf("expected the known supplier selected, got %+v", rows)
	}
}

// 删除记录后再创建不得复用编码
func TestGenerateCodeNoReuseAfterDelete(t *testing.T) {
	svc, _, db, _ := setupEngineTest(t)
	ctx := context.Background()

	first, err := svc.BRFQ.Create(ctx, "buyer-001", &CreateBRFQRequest{Title: "第一单"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := svc.BRFQ.Create(ctx, "buyer-001", &CreateBRFQRequest{Title: "第二单"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if first.Code == second.Code {
		t.Fatalf("duplicate code: %s", first.Code)
	}

	if err := db.Delete(&entity.BRFQ{}, "id = ?", first.ID).Error; err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	third, err := svc.BRFQ.Create(ctx, "buyer-001", &CreateBRFQRequest{Title: "第三单"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if third.Code == second.Code {
		t.Fatalf("code reused after delete: %s", third.Code)
	}
}
