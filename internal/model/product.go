package model

import (
	"time"
)

const (
	ProductStatusActive   = "ACTIVE"
	ProductStatusInactive = "INACTIVE"
)

// Product 产品目录表
// 只有 ACTIVE 状态的产品会参与订单计划抽取；
// 订单创建时会快照 price/commission，之后修改产品不影响已生成的订单
type Product struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID  string    `gorm:"type:varchar(32);uniqueIndex" json:"product_id"`
	Name       string    `gorm:"type:varchar(128);not null" json:"name"`
	ImageURL   string    `gorm:"type:varchar(256)" json:"image_url"`
	Price      float64   `gorm:"type:decimal(15,2);not null" json:"price"`
	Commission float64   `gorm:"type:decimal(5,2);not null" json:"commission"` // 佣金率，价格的百分比
	Rating     float64   `gorm:"type:decimal(3,1);not null;default:5.0" json:"rating"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:ACTIVE" json:"status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}

// Level 会员等级表
// 对核心流程是只读输入，影响佣金率/提现限额/推荐返佣
type Level struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	CommissionRate    float64   `gorm:"type:decimal(5,2);not null;default:0" json:"commission_rate"`
	WithdrawalFeeRate float64   `gorm:"type:decimal(5,2);not null;default:0" json:"withdrawal_fee_rate"`
	MinWithdrawal     float64   `gorm:"type:decimal(15,2);not null;default:0" json:"min_withdrawal"`
	MaxWithdrawal     float64   `gorm:"type:decimal(15,2);not null;default:0" json:"max_withdrawal"` // 0 表示不限
	ReferralRate      float64   `gorm:"type:decimal(5,2);not null;default:0" json:"referral_rate"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Level) TableName() string {
	return "level"
}
