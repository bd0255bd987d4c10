package entity

import "time"

// Approver 审批人（由管理员维护，工作流步骤通过ID引用）
type Approver struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	Email     string    `json:"email" gorm:"size:200;not null"`
	Role      string    `json:"role" gorm:"size:100;not null"`
	Status    string    `json:"status" gorm:"size:20;default:active"`
	CreatedBy string    `json:"created_by" gorm:"size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Approver) TableName() string {
	return "srm_approvers"
}

// 审批人状态
const (
	ApproverStatusActive   = "active"
	ApproverStatusDisabled = "disabled"
)
