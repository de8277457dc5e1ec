package model

import (
	"time"
)

// ============================================================================
// 订单状态机
// ============================================================================
//
// NOT_START → PENDING → COMPLETED
//         \        \
//          +--------+→ SKIPPED（仅管理员，终态）
//
// 只允许向前流转，COMPLETED / SKIPPED 是终态，不存在回退。
//
// ============================================================================

const (
	OrderStatusNotStart  = "NOT_START"
	OrderStatusPending   = "PENDING"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusSkipped   = "SKIPPED"
)

var ValidOrderTransitions = map[string][]string{
	OrderStatusNotStart: {OrderStatusPending, OrderStatusSkipped},
	OrderStatusPending:  {OrderStatusCompleted, OrderStatusSkipped},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidOrderTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	PlanStatusActive    = "ACTIVE"
	PlanStatusCompleted = "COMPLETED"
)

// OrderPlan 订单计划表，一个客户一轮买单周期
//
// 不变量：
//  1. 同一客户任意时刻至多一个 ACTIVE 计划
//  2. completed_orders 恒等于其 COMPLETED 订单数（事务内维护，不靠重算）
//  3. completed_orders >= total_orders 时且仅在此时流转为 COMPLETED，单向
//
// 不变量 1 由 active_customer_id 的唯一索引在存储层兜底：
// 计划 ACTIVE 时该列等于 customer_id，收尾时置 NULL（NULL 不参与唯一约束），
// 锁失效的并发开通会在第二条 INSERT 上撞唯一索引而不是落库两个活跃计划。
type OrderPlan struct {
	ID               int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PlanID           string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"plan_id"`
	CustomerID       int64      `gorm:"index;not null" json:"customer_id"`
	ActiveCustomerID *int64     `gorm:"uniqueIndex" json:"-"`
	TotalOrders      int        `gorm:"not null" json:"total_orders"`
	CompletedOrders  int        `gorm:"not null;default:0" json:"completed_orders"`
	Status           string     `gorm:"type:varchar(20);index;not null;default:ACTIVE" json:"status"`
	StartedAt        time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Orders []Order `gorm:"foreignKey:PlanID;references:ID" json:"orders,omitempty"`
}

func (OrderPlan) TableName() string {
	return "order_plan"
}

// Order 计划内的单个订单
// amount/commission 是创建时从产品快照的值，与之后的目录编辑解耦
type Order struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     string     `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_id"`
	PlanID      int64      `gorm:"index;not null" json:"plan_id"`
	ProductID   int64      `gorm:"index;not null" json:"product_id"`
	OrderNumber int        `gorm:"not null" json:"order_number"` // 计划内 1 起始的序号
	Amount      float64    `gorm:"type:decimal(15,2);not null" json:"amount"`
	Commission  float64    `gorm:"type:decimal(5,2);not null" json:"commission"` // 百分比快照
	Status      string     `gorm:"type:varchar(20);index;not null;default:NOT_START" json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

func (Order) TableName() string {
	return "plan_order"
}

// CommissionAmount 订单完成时的佣金额：快照价格 × 快照佣金率 / 100
func (o *Order) CommissionAmount() float64 {
	return o.Amount * o.Commission / 100
}
