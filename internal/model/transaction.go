package model

import (
	"time"
)

const (
	TransactionTypeDeposit    = "DEPOSIT"
	TransactionTypeWithdrawal = "WITHDRAWAL"
)

const (
	TransactionStatusPending  = "PENDING"
	TransactionStatusApproved = "APPROVED"
	TransactionStatusRejected = "REJECTED"
)

// Transaction 充值/提现申请表
//
// 状态机：PENDING → APPROVED | REJECTED，单向且只流转一次。
// 余额变动当且仅当流转到 APPROVED，且与状态写入在同一事务内。
//
// 【两段式编号】transaction_id 依赖行的自增ID，插入时为 NULL，
// 同一事务内回填 TXN+9位编号。唯一索引允许多个 NULL，
// 占位窗口不会在唯一索引上碰撞。
type Transaction struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID *string    `gorm:"type:varchar(16);uniqueIndex" json:"transaction_id"`
	AccountID     int64      `gorm:"index;not null" json:"account_id"`
	Type          string     `gorm:"type:varchar(20);not null" json:"type"`
	Amount        float64    `gorm:"type:decimal(15,2);not null" json:"amount"`
	Status        string     `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	ProofImageURL string     `gorm:"type:varchar(256)" json:"proof_image_url,omitempty"` // 仅充值
	AdminNote     string     `gorm:"type:varchar(256)" json:"admin_note,omitempty"`
	ProcessedBy   *int64     `json:"processed_by,omitempty"` // 审批管理员ID
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}
