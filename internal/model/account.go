package model

import (
	"time"
)

const (
	AccountStatusActive = "ACTIVE"
	AccountStatusFrozen = "FROZEN"
)

// Account 客户账户表
//
// 【重要】balance 只允许三种写入方式：
//  1. 充值审批通过（+amount）
//  2. 提现审批通过（-amount）
//  3. 订单完成佣金入账（+commission，同时 profit 累加）
//
// 除 TransactionService 和 OrderService 外，任何代码不得直接改 balance。
type Account struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID  string    `gorm:"type:varchar(16);uniqueIndex" json:"account_id"` // A + 7位序列号
	CustomerID int64     `gorm:"index;not null" json:"customer_id"`
	Balance    float64   `gorm:"type:decimal(15,2);not null;default:0" json:"balance"`
	Profit     float64   `gorm:"type:decimal(15,2);not null;default:0" json:"profit"` // 累计佣金收益
	Currency   string    `gorm:"type:varchar(8);not null;default:USD" json:"currency"`
	Status     string    `gorm:"type:varchar(20);not null;default:ACTIVE" json:"status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
