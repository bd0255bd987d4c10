package entity

import "time"

// FieldRule 字段修改策略：发布后BRFQ的单个字段是否可编辑、
// 是否需要审批、修改后是否通知供应商。field_key 全局唯一。
type FieldRule struct {
	ID               string    `json:"id" gorm:"primaryKey;size:32"`
	FieldKey         string    `json:"field_key" gorm:"size:50;uniqueIndex;not null"`
	Label            string    `json:"label" gorm:"size:100"`
	Editable         bool      `json:"editable"`
	RequiresApproval bool      `json:"requires_approval" gorm:"default:false"`
	NotifySuppliers  bool      `json:"notify_suppliers" gorm:"default:false"`
	IsSystem         bool      `json:"is_system" gorm:"default:false"`
	SortOrder        int       `json:"sort_order" gorm:"default:0"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (FieldRule) TableName() string {
	return "srm_field_rules"
}

// ModificationPolicy 修改策略全局设置（单例）
type ModificationPolicy struct {
	ID                        string    `json:"id" gorm:"primaryKey;size:32"`
	NotifyAllSuppliersOnAnyChange bool  `json:"notify_all_suppliers_on_any_change" gorm:"default:false"`
	UpdatedBy                 string    `json:"updated_by" gorm:"size:32"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

func (ModificationPolicy) TableName() string {
	return "srm_modification_policies"
}

// DefaultPolicyID 全局修改策略固定ID
const DefaultPolicyID = "default"

// ModificationRequest 发布后字段修改申请
// summary 记录每个字段的 {from, to}，审批通过时合并进BRFQ。
type ModificationRequest struct {
	ID              string     `json:"id" gorm:"primaryKey;size:32"`
	BRFQID          string     `json:"brfq_id" gorm:"size:32;not null;index"`
	RequestedBy     string     `json:"requested_by" gorm:"size:32;not null"`
	RequestedFields JSONBArray `json:"requested_fields" gorm:"type:jsonb"`
	Summary         JSONB      `json:"summary" gorm:"type:jsonb"`
	Note            string     `json:"note" gorm:"type:text"`
	Status          string     `json:"status" gorm:"size:20;not null;default:'pending'"`
	DecidedBy       *string    `json:"decided_by" gorm:"size:32"`
	DecidedAt       *time.Time `json:"decided_at"`
	DecisionNote    string     `json:"decision_note" gorm:"type:text"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// 关联
	BRFQ *BRFQ `json:"brfq,omitempty" gorm:"foreignKey:BRFQID"`
}

func (ModificationRequest) TableName() string {
	return "srm_modification_requests"
}

// 修改申请状态（pending → approved | rejected，终态）
const (
	ModificationStatusPending  = "pending"
	ModificationStatusApproved = "approved"
	ModificationStatusRejected = "rejected"
)
