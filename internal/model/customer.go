package model

import (
	"time"
)

const (
	CustomerStatusActive    = "ACTIVE"
	CustomerStatusSuspended = "SUSPENDED"
)

// Customer 客户表
// user_id 在行插入后由自增ID派生（1000000+ID），refer_code 随机生成并探测唯一
type Customer struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string     `gorm:"type:varchar(16);uniqueIndex" json:"user_id"`
	Name             string     `gorm:"type:varchar(64);not null" json:"name"`
	Email            string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	PasswordHash     string     `gorm:"type:varchar(128);not null" json:"-"`
	FundPasswordHash string     `gorm:"type:varchar(128)" json:"-"`
	PhoneNumber      string     `gorm:"type:varchar(32)" json:"phone_number"`
	ReferCode        string     `gorm:"type:varchar(16);uniqueIndex" json:"refer_code"`
	ReferredBy       *int64     `gorm:"index" json:"referred_by,omitempty"` // 推荐人客户ID
	LevelID          *int64     `gorm:"index" json:"level_id,omitempty"`    // 会员等级，迁移期间可为空
	Status           string     `gorm:"type:varchar(20);not null;default:ACTIVE" json:"status"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Level    *Level    `gorm:"foreignKey:LevelID" json:"level,omitempty"`
	Accounts []Account `gorm:"foreignKey:CustomerID" json:"accounts,omitempty"`
}

func (Customer) TableName() string {
	return "customer"
}

// Admin 管理员表
type Admin struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"type:varchar(64);not null" json:"name"`
	Email        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(128);not null" json:"-"`
	Role         string    `gorm:"type:varchar(20);not null;default:ADMIN" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Admin) TableName() string {
	return "admin"
}
