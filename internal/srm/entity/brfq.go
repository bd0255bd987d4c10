package entity

import "time"

// BRFQ 买方询价单（RFQ），审批工作流的宿主实体
type BRFQ struct {
	ID          string     `json:"id" gorm:"primaryKey;size:32"`
	Code        string     `json:"code" gorm:"size:32;uniqueIndex;not null"`
	Title       string     `json:"title" gorm:"size:200;not null"`
	Description string     `json:"description" gorm:"type:text"`
	Category    string     `json:"category" gorm:"size:100"`
	Budget      float64    `json:"budget" gorm:"type:decimal(15,2);default:0"`
	Currency    string     `json:"currency" gorm:"size:10;default:CNY"`
	Quantity    float64    `json:"quantity" gorm:"type:decimal(12,2);default:0"`
	DeliveryDue *time.Time `json:"delivery_due"`

	// 审批与发布状态
	ApprovalStatus    string     `json:"approval_status" gorm:"size:20;default:none"`
	PublishOnApproval bool       `json:"publish_on_approval"`
	Published         bool       `json:"published" gorm:"default:false"`
	ApprovedBy        *string    `json:"approved_by" gorm:"size:32"`
	ApprovedAt        *time.Time `json:"approved_at"`
	ApprovalNote      string     `json:"approval_note" gorm:"type:text"`

	CreatedBy string    `json:"created_by" gorm:"size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	Suppliers []RFQSupplier `json:"suppliers,omitempty" gorm:"foreignKey:BRFQID"`
}

func (BRFQ) TableName() string {
	return "srm_brfqs"
}

// BRFQ审批状态
const (
	BRFQApprovalNone     = "none"
	BRFQApprovalPending  = "pending"
	BRFQApprovalApproved = "approved"
	BRFQApprovalRejected = "rejected"
)

// RFQSupplier BRFQ选定的供应商（边界归一化后的引用）
type RFQSupplier struct {
	ID           string    `json:"id" gorm:"primaryKey;size:32"`
	BRFQID       string    `json:"brfq_id" gorm:"size:32;not null;index"`
	SupplierID   string    `json:"supplier_id" gorm:"size:32;not null"`
	SupplierName string    `json:"supplier_name" gorm:"size:200"`
	Email        string    `json:"email" gorm:"size:200"`
	CreatedAt    time.Time `json:"created_at"`
}

func (RFQSupplier) TableName() string {
	return "srm_rfq_suppliers"
}

// Supplier 供应商
type Supplier struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	Code        string    `json:"code" gorm:"size:32;uniqueIndex;not null"`
	Name        string    `json:"name" gorm:"size:200;not null"`
	Category    string    `json:"category" gorm:"size:50"`
	ContactName string    `json:"contact_name" gorm:"size:100"`
	Email       string    `json:"email" gorm:"size:200"`
	Phone       string    `json:"phone" gorm:"size:50"`
	Status      string    `json:"status" gorm:"size:20;default:active"`
	CreatedBy   string    `json:"created_by" gorm:"size:32"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Notes       string    `json:"notes" gorm:"type:text"`
}

func (Supplier) TableName() string {
	return "srm_suppliers"
}

// 供应商状态
const (
	SupplierStatusActive    = "active"
	SupplierStatusSuspended = "suspended"
)
