package entity

import (
	"encoding/json"
	"time"
)

// 审批状态常量（运行与步骤共用）
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
	ApprovalStatusSkipped  = "skipped"
	ApprovalStatusCanceled = "canceled"
)

// 审批动作
const (
	ApprovalActionApprove = "approve"
	ApprovalActionReject  = "reject"
)

// ApprovalRun 一次BRFQ的审批运行实例
// flow_snapshot 保存实例化时的模板快照，模板后续编辑不回溯影响本次运行。
type ApprovalRun struct {
	ID            string          `json:"id" gorm:"primaryKey;size:32"`
	BRFQID        string          `json:"brfq_id" gorm:"size:32;not null;uniqueIndex"`
	Status        string          `json:"status" gorm:"size:20;not null;default:'pending'"`
	ConfigVersion int             `json:"config_version" gorm:"not null;default:0"`
	AllowParallel bool            `json:"allow_parallel" gorm:"default:false"`
	FlowSnapshot  json.RawMessage `json:"flow_snapshot" gorm:"type:jsonb"`
	NotifyResults JSONBArray      `json:"notify_results" gorm:"type:jsonb"`
	RequestedBy   string          `json:"requested_by" gorm:"size:32;not null"`
	FinalizedAt   *time.Time      `json:"finalized_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	// 关联
	Steps []ApprovalStep `json:"steps,omitempty" gorm:"foreignKey:RunID"`
	BRFQ  *BRFQ          `json:"brfq,omitempty" gorm:"foreignKey:BRFQID"`
}

func (ApprovalRun) TableName() string {
	return "srm_approval_runs"
}

// ApprovalStep 审批步骤实例
// 审批人信息在实例化时从审批人登记表快照，删除审批人不影响进行中的步骤。
type ApprovalStep struct {
	ID            string     `json:"id" gorm:"primaryKey;size:32"`
	RunID         string     `json:"run_id" gorm:"size:32;not null;index"`
	StepOrder     int        `json:"step_order" gorm:"not null"`
	Role          string     `json:"role" gorm:"size:100;not null"`
	ApproverID    string     `json:"approver_id" gorm:"size:32;not null"`
	ApproverName  string     `json:"approver_name" gorm:"size:100"`
	ApproverEmail string     `json:"approver_email" gorm:"size:200"`
	IsRequired    bool       `json:"is_required"`
	SLAHours      int        `json:"sla_hours" gorm:"default:24"`
	Status        string     `json:"status" gorm:"size:20;not null;default:'pending'"`
	Comment       string     `json:"comment" gorm:"type:text"`
	DecidedAt     *time.Time `json:"decided_at"`
	RemindedAt    *time.Time `json:"reminded_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (ApprovalStep) TableName() string {
	return "srm_approval_steps"
}

// FlowSnapshotData 审批运行的模板快照内容
type FlowSnapshotData struct {
	ConfigVersion int               `json:"config_version"`
	DefaultSLA    int               `json:"default_sla_hours"`
	AllowParallel bool              `json:"allow_parallel"`
	SendReminders bool              `json:"send_reminders"`
	Steps         []ApprovalStepDef `json:"steps"`
}
