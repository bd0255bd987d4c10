package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bitfantasy/nimo-srm/internal/config"
	"github.com/bitfantasy/nimo-srm/internal/shared/mailer"
	"github.com/bitfantasy/nimo-srm/internal/srm/entity"
	"github.com/bitfantasy/nimo-srm/internal/srm/repository"
)

// ModificationService 发布后字段修改策略引擎
// 按字段规则判定编辑是否放行、进审批、通知供应商
type ModificationService struct {
	repos  *repository.Repositories
	sender mailer.Sender
	cfg    *config.Config
	logger *zap.Logger
}

func NewModificationService(repos *repository.Repositories, sender mailer.Sender, cfg *config.Config, logger *zap.Logger) *ModificationService {
	return &ModificationService{repos: repos, sender: sender, cfg: cfg, logger: logger}
}

// 可受字段规则约束的BRFQ字段
var governedFields = map[string]bool{
	"title":        true,
	"description":  true,
	"category":     true,
	"budget":       true,
	"currency":     true,
	"quantity":     true,
	"delivery_due": true,
}

// FieldRuleInput 字段规则输入
type FieldRuleInput struct {
	FieldKey         string `json:"field_key" binding:"required"`
	Label            string `json:"label"`
	Editable         bool   `json:"editable"`
	RequiresApproval bool   `json:"requires_approval"`
	NotifySuppliers  bool   `json:"notify_suppliers"`
}

// SaveRulesRequest 保存字段规则请求（整体替换）
type SaveRulesRequest struct {
	Fields                        []FieldRuleInput `json:"fields" binding:"required"`
	NotifyAllSuppliersOnAnyChange bool             `json:"notify_all_suppliers_on_any_change"`
}

// ProposeEditRequest 发布后编辑请求
type ProposeEditRequest struct {
	Fields map[string]interface{} `json:"fields" binding:"required"`
	Note   string                 `json:"note"`
}

// EditOutcome 编辑评估结果
type EditOutcome struct {
	Applied bool                        `json:"applied"`
	Request *entity.ModificationRequest `json:"request,omitempty"`
	BRFQ    *entity.BRFQ                `json:"brfq,omitempty"`
}

// ListRules 获取字段规则与全局策略
func (s *ModificationService) ListRules(ctx context.Context) ([]entity.FieldRule, *entity.ModificationPolicy, error) {
	rules, err := s.repos.Modification.ListRules(ctx)
	if err != nil {
		return nil, nil, err
	}
	policy, err := s.repos.Modification.LoadPolicy(ctx)
	if err != nil {
		return nil, nil, err
	}
	return rules, policy, nil
}

// SaveRules 整体替换保存字段规则
func (s *ModificationService) SaveRules(ctx context.Context, userID string, req *SaveRulesRequest) ([]entity.FieldRule, error) {
	seen := make(map[string]bool, len(req.Fields))
	rules := make([]entity.FieldRule, 0, len(req.Fields))
	for i, input := range req.Fields {
		key := strings.TrimSpace(input.FieldKey)
		if key == "" {
			return nil, fmt.Errorf("第 %d 条规则缺少字段名", i+1)
		}
		if seen[key] {
			return nil, fmt.Errorf("字段规则重复: %s", key)
		}
		seen[key] = true
		rules = append(rules, entity.FieldRule{
			ID:               uuid.New().String()[:32],
			FieldKey:         key,
			Label:            input.Label,
			Editable:         input.Editable,
			RequiresApproval: input.RequiresApproval,
			NotifySuppliers:  input.NotifySuppliers,
			SortOrder:        i + 1,
		})
	}
	if err := s.repos.Modification.SaveRules(ctx, rules, req.NotifyAllSuppliersOnAnyChange, userID); err != nil {
		return nil, fmt.Errorf("保存字段规则失败: %w", err)
	}
	return s.repos.Modification.ListRules(ctx)
}

// ProposeEdit 评估已发布BRFQ的多字段编辑
// 任一字段不可编辑则整体拒绝且不落任何变更；
// 任一字段需审批则整个补丁转为待审批的修改申请；
// 否则立即生效，按规则通知供应商。
// 未配置规则的字段按需审批处理（收紧默认策略）。
func (s *ModificationService) ProposeEdit(ctx context.Context, userID, brfqID string, req *ProposeEditRequest) (*EditOutcome, error) {
	if len(req.Fields) == 0 {
		return nil, fmt.Errorf("没有要修改的字段")
	}

	brfq, err := s.repos.BRFQ.FindByID(ctx, brfqID)
	if err != nil {
		return nil, err
	}
	if !brfq.Published {
		return nil, fmt.Errorf("询价单未发布，直接编辑即可")
	}

	ruleList, err := s.repos.Modification.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	ruleByKey := make(map[string]*entity.FieldRule, len(ruleList))
	for i := range ruleList {
		ruleByKey[ruleList[i].FieldKey] = &ruleList[i]
	}
	policy, err := s.repos.Modification.LoadPolicy(ctx)
	if err != nil {
		return nil, err
	}

	// 先整体校验，任何字段不合法都不落库
	needsApproval := false
	notify := policy.NotifyAllSuppliersOnAnyChange
	summary := entity.JSONB{}
	updates := map[string]interface{}{}
	fieldKeys := entity.JSONBArray{}
	for key, raw := range req.Fields {
		if !governedFields[key] {
			return nil, fmt.Errorf("不支持修改的字段: %s", key)
		}
		value, err := normalizeFieldValue(key, raw)
		if err != nil {
			return nil, err
		}

		rule, known := ruleByKey[key]
		switch {
		case !known:
			needsApproval = true
		case !rule.Editable:
			return nil, fmt.Errorf("字段 %s 不允许修改", fieldLabel(rule, key))
		case rule.RequiresApproval:
			needsApproval = true
		}
		if known && rule.NotifySuppliers {
			notify = true
		}

		summary[key] = map[string]interface{}{
			"from": brfqFieldValue(brfq, key),
			"to":   value,
		}
		updates[key] = value
		fieldKeys = append(fieldKeys, key)
	}

	if needsApproval {
		mod := &entity.ModificationRequest{
			ID:              uuid.New().String()[:32],
			BRFQID:          brfq.ID,
			RequestedBy:     userID,
			RequestedFields: fieldKeys,
			Summary:         summary,
			Note:            req.Note,
			Status:          entity.ModificationStatusPending,
		}
		if err := s.repos.Modification.CreateRequest(ctx, mod); err != nil {
			return nil, fmt.Errorf("创建修改申请失败: %w", err)
		}
		s.repos.ActivityLog.LogActivity(ctx, "modification", mod.ID, brfq.Code,
			"create", "", entity.ModificationStatusPending,
			fmt.Sprintf("申请修改字段: %s", joinKeys(fieldKeys)), userID, "")
		return &EditOutcome{Applied: false, Request: mod}, nil
	}

	if err := s.repos.BRFQ.UpdateColumns(ctx, nil, brfq.ID, updates); err != nil {
		return nil, fmt.Errorf("更新询价单失败: %w", err)
	}
	s.repos.ActivityLog.LogActivity(ctx, "brfq", brfq.ID, brfq.Code,
		"update", "", "", fmt.Sprintf("修改字段: %s", joinKeys(fieldKeys)), userID, "")

	if notify {
		s.notifyChange(ctx, brfq, summary)
	}

	updated, err := s.repos.BRFQ.FindByID(ctx, brfq.ID)
	if err != nil {
		return nil, err
	}
	return &EditOutcome{Applied: true, BRFQ: updated}, nil
}

// Approve 批准修改申请，合并摘要中的目标值到BRFQ
func (s *ModificationService) Approve(ctx context.Context, userID, modID, note string) (*entity.ModificationRequest, error) {
	mod, err := s.repos.Modification.FindRequestByID(ctx, modID)
	if err != nil {
		return nil, err
	}
	brfq, err := s.repos.BRFQ.FindByID(ctx, mod.BRFQID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	for key, diff := range mod.Summary {
		change, ok := diff.(map[string]interface{})
		if !ok {
			continue
		}
		value, err := normalizeFieldValue(key, change["to"])
		if err != nil {
			return nil, fmt.Errorf("修改摘要字段 %s 无效: %w", key, err)
		}
		updates[key] = value
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("修改申请没有可合并的变更")
	}

	err = s.repos.Modification.Transaction(ctx, func(tx *gorm.DB) error {
		if err := s.repos.Modification.DecideRequest(ctx, tx, modID, entity.ModificationStatusApproved, userID, note); err != nil {
			return err
		}
		return s.repos.BRFQ.UpdateColumns(ctx, tx, mod.BRFQID, updates)
	})
	if err != nil {
		return nil, err
	}

	s.repos.ActivityLog.LogActivity(ctx, "modification", mod.ID, brfq.Code,
		"approve", entity.ModificationStatusPending, entity.ModificationStatusApproved,
		fmt.Sprintf("批准修改字段: %s", joinKeys(mod.RequestedFields)), userID, "")

	// 任一字段配置了供应商通知，或全局开关开启，则发送变更通知
	if s.shouldNotify(ctx, mod.RequestedFields) {
		s.notifyChange(ctx, brfq, mod.Summary)
	}

	return s.repos.Modification.FindRequestByID(ctx, modID)
}

// Reject 拒绝修改申请，不改动目标BRFQ
func (s *ModificationService) Reject(ctx context.Context, userID, modID, note string) (*entity.ModificationRequest, error) {
	mod, err := s.repos.Modification.FindRequestByID(ctx, modID)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Modification.DecideRequest(ctx, nil, modID, entity.ModificationStatusRejected, userID, note); err != nil {
		return nil, err
	}
	code := ""
	if mod.BRFQ != nil {
		code = mod.BRFQ.Code
	}
	s.repos.ActivityLog.LogActivity(ctx, "modification", mod.ID, code,
		"reject", entity.ModificationStatusPending, entity.ModificationStatusRejected, note, userID, "")
	return s.repos.Modification.FindRequestByID(ctx, modID)
}

// Get 获取修改申请详情
func (s *ModificationService) Get(ctx context.Context, id string) (*entity.ModificationRequest, error) {
	return s.repos.Modification.FindRequestByID(ctx, id)
}

// List 分页获取修改申请
func (s *ModificationService) List(ctx context.Context, brfqID, status string, page, pageSize int) ([]entity.ModificationRequest, int64, error) {
	return s.repos.Modification.ListRequests(ctx, brfqID, status, page, pageSize)
}

func (s *ModificationService) shouldNotify(ctx context.Context, fieldKeys entity.JSONBArray) bool {
	policy, err := s.repos.Modification.LoadPolicy(ctx)
	if err == nil && policy.NotifyAllSuppliersOnAnyChange {
		return true
	}
	for _, raw := range fieldKeys {
		key, ok := raw.(string)
		if !ok {
			continue
		}
		rule, err := s.repos.Modification.FindRuleByKey(ctx, key)
		if err == nil && rule.NotifySuppliers {
			return true
		}
	}
	return false
}

// notifyChange 给BRFQ当前选中的供应商发送变更通知，失败只记日志
func (s *ModificationService) notifyChange(ctx context.Context, brfq *entity.BRFQ, summary entity.JSONB) {
	suppliers, err := s.repos.BRFQ.ListSuppliers(ctx, brfq.ID)
	if err != nil {
		s.logger.Warn("加载供应商列表失败，跳过变更通知",
			zap.String("brfq_id", brfq.ID), zap.Error(err))
		return
	}
	emails := make([]string, 0, len(suppliers))
	for _, sup := range suppliers {
		if sup.Email != "" {
			emails = append(emails, sup.Email)
		}
	}
	if len(emails) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<p>询价单 %s（%s）的以下内容已更新：</p><ul>", brfq.Title, brfq.Code)
	for key, diff := range summary {
		change, ok := diff.(map[string]interface{})
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "<li>%s：%v → %v</li>", key, change["from"], change["to"])
	}
	b.WriteString("</ul><p>如已提交报价，请确认是否需要更新。</p>")

	subject := fmt.Sprintf("询价单变更通知：%s（%s）", brfq.Title, brfq.Code)
	results := s.sender.Send(ctx, emails, subject, b.String())
	for _, r := range results {
		if !r.OK {
			s.logger.Warn("供应商变更通知发送失败",
				zap.String("email", r.Email), zap.String("error", r.Error))
		}
	}
	s.repos.ActivityLog.LogActivity(ctx, "brfq", brfq.ID, brfq.Code,
		"notify", "", "", fmt.Sprintf("已向 %d 家供应商发送变更通知", len(emails)), "", "system")
}

// brfqFieldValue 按字段名读取BRFQ当前值
func brfqFieldValue(brfq *entity.BRFQ, key string) interface{} {
	switch key {
	case "title":
		return brfq.Title
	case "description":
		return brfq.Description
	case "category":
		return brfq.Category
	case "budget":
		return brfq.Budget
	case "currency":
		return brfq.Currency
	case "quantity":
		return brfq.Quantity
	case "delivery_due":
		if brfq.DeliveryDue == nil {
			return nil
		}
		return brfq.DeliveryDue.Format(time.RFC3339)
	}
	return nil
}

// normalizeFieldValue 把JSON补丁值规整为列值
func normalizeFieldValue(key string, raw interface{}) (interface{}, error) {
	switch key {
	case "budget", "quantity":
		num, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("字段 %s 需要数字", key)
		}
		if num < 0 {
			return nil, fmt.Errorf("字段 %s 不能为负", key)
		}
		return num, nil
	case "delivery_due":
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("字段 %s 需要日期字符串", key)
		}
		t, err := time.Parse(time.RFC3339, str)
		if err != nil {
			t, err = time.Parse("2006-01-02", str)
		}
		if err != nil {
			return nil, fmt.Errorf("字段 %s 日期格式无效: %s", key, str)
		}
		return t, nil
	default:
		str, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("字段 %s 需要字符串", key)
		}
		return str, nil
	}
}

func fieldLabel(rule *entity.FieldRule, key string) string {
	if rule != nil && rule.Label != "" {
		return rule.Label
	}
	return key
}

func joinKeys(keys entity.JSONBArray) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := k.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}
