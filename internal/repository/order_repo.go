package repository

import (
	"context"
	"errors"
	"time"

	"trademall/internal/model"
	"trademall/pkg/apperr"

	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// ============================================================
// 计划
// ============================================================

func (r *OrderRepository) CreatePlan(ctx context.Context, tx *gorm.DB, plan *model.OrderPlan) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(plan).Error
}

func (r *OrderRepository) GetPlanByID(ctx context.Context, tx *gorm.DB, id int64) (*model.OrderPlan, error) {
	if tx == nil {
		tx = r.db
	}
	var plan model.OrderPlan
	err := tx.WithContext(ctx).Where("id = ?", id).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "订单计划不存在")
		}
		return nil, err
	}
	return &plan, nil
}

// GetPlanWithOrders 取计划及其全部订单（含产品），响应载荷用
func (r *OrderRepository) GetPlanWithOrders(ctx context.Context, id int64) (*model.OrderPlan, error) {
	var plan model.OrderPlan
	err := r.db.WithContext(ctx).
		Preload("Orders", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_number ASC")
		}).
		Preload("Orders.Product").
		Where("id = ?", id).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "订单计划不存在")
		}
		return nil, err
	}
	return &plan, nil
}

// GetActivePlanByCustomer 客户当前的 ACTIVE 计划，没有时返回 nil
// 开通事务内用 tx 再查一次，事务内的这次检查才是权威的
func (r *OrderRepository) GetActivePlanByCustomer(ctx context.Context, tx *gorm.DB, customerID int64) (*model.OrderPlan, error) {
	if tx == nil {
		tx = r.db
	}
	var plan model.OrderPlan
	err := tx.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, model.PlanStatusActive).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// GetLatestPlanByCustomer 客户最近一个计划（不限状态），没有时返回 nil
func (r *OrderRepository) GetLatestPlanByCustomer(ctx context.Context, customerID int64) (*model.OrderPlan, error) {
	var plan model.OrderPlan
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("started_at DESC").
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *OrderRepository) HasActivePlan(ctx context.Context, customerID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.OrderPlan{}).
		Where("customer_id = ? AND status = ?", customerID, model.PlanStatusActive).
		Count(&count).Error
	return count > 0, err
}

func (r *OrderRepository) ExistsPlanID(ctx context.Context, planID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.OrderPlan{}).
		Where("plan_id = ?", planID).
		Count(&count).Error
	return count > 0, err
}

// IncrementCompleted 计划完成数 +1（只在订单完成事务内调用）
func (r *OrderRepository) IncrementCompleted(ctx context.Context, tx *gorm.DB, planID int64) error {
	result := tx.WithContext(ctx).
		Model(&model.OrderPlan{}).
		Where("id = ?", planID).
		Update("completed_orders", gorm.Expr("completed_orders + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "订单计划不存在")
	}
	return nil
}

// AdjustTotal 计划总单数增减（管理员加单/删单）
//
// WHERE 里带 status = ACTIVE：服务层的预检查和这里的提交之间，
// 客户可能刚好完成最后一单把计划收了尾，守卫不中让整个事务回滚，
// 避免 COMPLETED 计划里多出一条 NOT_START 订单。
func (r *OrderRepository) AdjustTotal(ctx context.Context, tx *gorm.DB, planID int64, delta int) error {
	result := tx.WithContext(ctx).
		Model(&model.OrderPlan{}).
		Where("id = ? AND status = ?", planID, model.PlanStatusActive).
		Update("total_orders", gorm.Expr("total_orders + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrInvalidState, "只能调整进行中计划的总单数")
	}
	return nil
}

// CompletePlanIfDone 完成数达到总数时把计划流转为 COMPLETED
//
// WHERE 里带 status = ACTIVE 和 completed_orders >= total_orders，
// 流转条件和写入是一条语句，单向且幂等。返回是否发生了流转。
// 收尾时同时清掉 active_customer_id，释放"每客户一个活跃计划"的唯一槽位。
func (r *OrderRepository) CompletePlanIfDone(ctx context.Context, tx *gorm.DB, planID int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.OrderPlan{}).
		Where("id = ? AND status = ? AND completed_orders >= total_orders",
			planID, model.PlanStatusActive).
		Updates(map[string]interface{}{
			"status":             model.PlanStatusCompleted,
			"completed_at":       &now,
			"active_customer_id": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SetCompletedOrders 对账任务修复完成数偏差时使用
func (r *OrderRepository) SetCompletedOrders(ctx context.Context, tx *gorm.DB, planID int64, n int) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.OrderPlan{}).
		Where("id = ?", planID).
		Update("completed_orders", n).Error
}

func (r *OrderRepository) ListActivePlans(ctx context.Context, limit int) ([]*model.OrderPlan, error) {
	var plans []*model.OrderPlan
	err := r.db.WithContext(ctx).
		Where("status = ?", model.PlanStatusActive).
		Limit(limit).
		Find(&plans).Error
	return plans, err
}

// ============================================================
// 订单
// ============================================================

func (r *OrderRepository) BulkCreateOrders(ctx context.Context, tx *gorm.DB, orders []*model.Order) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(orders).Error
}

func (r *OrderRepository) GetOrderByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	if tx == nil {
		tx = r.db
	}
	var order model.Order
	err := tx.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "订单不存在")
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) ExistsOrderID(ctx context.Context, orderID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	return count > 0, err
}

// UpdateOrderStatus 带状态机校验的守卫式流转
//
// 【关键点】WHERE 里带 fromStatus，并发下只有一个调用方能改成功；
// RowsAffected == 0 说明状态已被别人改走，由调用方重读后决定是否幂等返回。
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, tx *gorm.DB, orderID string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return apperr.Wrap(apperr.ErrInvalidState, "订单不能从 %s 流转到 %s", fromStatus, toStatus)
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.OrderStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ? AND status = ?", orderID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrInvalidState, "订单状态已变更")
	}
	return nil
}

// ReplaceOrderProduct 未开始的订单替换产品并重新快照价格/佣金
func (r *OrderRepository) ReplaceOrderProduct(ctx context.Context, tx *gorm.DB, orderID string, product *model.Product) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("order_id = ? AND status = ?", orderID, model.OrderStatusNotStart).
		Updates(map[string]interface{}{
			"product_id": product.ID,
			"amount":     product.Price,
			"commission": product.Commission,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrInvalidState, "只有未开始的订单可以替换产品")
	}
	return nil
}

// DeleteOrder 删除未开始的订单（守卫式，只删 NOT_START）
func (r *OrderRepository) DeleteOrder(ctx context.Context, tx *gorm.DB, orderID string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, model.OrderStatusNotStart).
		Delete(&model.Order{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrInvalidState, "只有未开始的订单可以删除")
	}
	return nil
}

func (r *OrderRepository) MaxOrderNumber(ctx context.Context, tx *gorm.DB, planID int64) (int, error) {
	if tx == nil {
		tx = r.db
	}
	var maxNumber int
	err := tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("plan_id = ?", planID).
		Select("COALESCE(MAX(order_number), 0)").
		Scan(&maxNumber).Error
	return maxNumber, err
}

// CountCompletedOrders 重算计划内 COMPLETED 订单数，对账任务用
func (r *OrderRepository) CountCompletedOrders(ctx context.Context, planID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("plan_id = ? AND status = ?", planID, model.OrderStatusCompleted).
		Count(&count).Error
	return count, err
}

func (r *OrderRepository) CreateOrder(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}
