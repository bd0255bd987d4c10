package entity

import "time"

// WorkflowTemplate 审批工作流模板（全局单例，整体替换式保存）
// 每次保存 config_version 自增，审批运行实例在创建时快照所用版本，
// 模板后续修改不影响进行中的审批。
type WorkflowTemplate struct {
	ID            string    `json:"id" gorm:"primaryKey;size:32"`
	Name          string    `json:"name" gorm:"size:100;not null;default:'default'"`
	ConfigVersion int       `json:"config_version" gorm:"not null"`
	DefaultSLA    int       `json:"default_sla_hours" gorm:"column:default_sla_hours;default:24"`
	AllowParallel bool      `json:"allow_parallel" gorm:"default:false"`
	SendReminders bool      `json:"send_reminders" gorm:"default:false"`
	UpdatedBy     string    `json:"updated_by" gorm:"size:32"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// 关联
	Steps []ApprovalStepDef `json:"steps,omitempty" gorm:"foreignKey:TemplateID"`
}

func (WorkflowTemplate) TableName() string {
	return "srm_workflow_templates"
}

// DefaultTemplateID 全局模板固定ID
const DefaultTemplateID = "default"

// ApprovalStepDef 模板级审批步骤定义
// 条件三元组（field/operator/value）在实例化时对BRFQ求值，
// 不满足的步骤直接跳过（不创建实例）。
type ApprovalStepDef struct {
	ID         string `json:"id" gorm:"primaryKey;size:32"`
	TemplateID string `json:"template_id" gorm:"size:32;not null;index"`
	StepOrder  int    `json:"step_order" gorm:"not null"`
	Role       string `json:"role" gorm:"size:100;not null"`
	ApproverID string `json:"approver_id" gorm:"size:32;not null"`
	SLAHours   int    `json:"sla_hours" gorm:"default:0"` // 0 表示使用模板默认SLA
	IsRequired bool   `json:"is_required"`

	// 条件（可选）：如 Budget > 100000
	ConditionField    string  `json:"condition_field" gorm:"size:50"`
	ConditionOperator string  `json:"condition_operator" gorm:"size:10"`
	ConditionValue    float64 `json:"condition_value"`

	CreatedAt time.Time `json:"created_at"`

	// 关联
	Approver *Approver `json:"approver,omitempty" gorm:"foreignKey:ApproverID"`
}

func (ApprovalStepDef) TableName() string {
	return "srm_workflow_steps"
}

// 条件运算符
const (
	ConditionOpGreater = ">"
	ConditionOpLess    = "<"
	ConditionOpEqual   = "="
)
