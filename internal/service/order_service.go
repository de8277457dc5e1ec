package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trademall/internal/config"
	"trademall/internal/infrastructure/lock"
	"trademall/internal/model"
	"trademall/internal/repository"
	"trademall/pkg/apperr"
	"trademall/pkg/idgen"

	"gorm.io/gorm"
)

// OrderService 订单生命周期引擎
//
// NOT_START → PENDING → COMPLETED（SKIPPED 为管理员分支终态）
//
// 【关键点】完成是全系统唯一的佣金入账咽喉：
//  1. 佣金 = 快照价格 × 快照佣金率 / 100
//  2. 账户 balance 和 profit 同步增加
//  3. 订单置 COMPLETED + completed_at
//  4. 计划 completed_orders + 1
//  5. 完成数达到总数时计划流转 COMPLETED
//
// 五个效果在一个事务内提交或全部回滚。任何入账路径都必须走这里，
// 绝不允许单独改 balance。并发重复提交靠状态守卫式 UPDATE 保证恰好
// 入账一次：后来的事务守卫不中，重读发现 COMPLETED 后幂等返回。
type OrderService struct {
	db          *gorm.DB
	cfg         *config.Config
	lockMgr     lock.Manager
	orderRepo   *repository.OrderRepository
	accountRepo *repository.AccountRepository
	productRepo *repository.ProductRepository
	outboxRepo  *repository.OutboxRepository
}

func NewOrderService(db *gorm.DB, cfg *config.Config, lockMgr lock.Manager) *OrderService {
	return &OrderService{
		db:          db,
		cfg:         cfg,
		lockMgr:     lockMgr,
		orderRepo:   repository.NewOrderRepository(db),
		accountRepo: repository.NewAccountRepository(db),
		productRepo: repository.NewProductRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// loadOwnedOrder 读订单并校验归属：订单 → 计划 → 客户
func (s *OrderService) loadOwnedOrder(ctx context.Context, tx *gorm.DB, orderID string, customerID int64) (*model.Order, *model.OrderPlan, error) {
	order, err := s.orderRepo.GetOrderByOrderID(ctx, tx, orderID)
	if err != nil {
		return nil, nil, err
	}
	plan, err := s.orderRepo.GetPlanByID(ctx, tx, order.PlanID)
	if err != nil {
		return nil, nil, err
	}
	if plan.CustomerID != customerID {
		return nil, nil, apperr.Wrap(apperr.ErrForbidden, "订单不属于当前客户")
	}
	return order, plan, nil
}

// StartOrder 开始订单：NOT_START → PENDING
// 已是 PENDING/COMPLETED/SKIPPED 时原样返回当前状态，不报错（重试安全）
func (s *OrderService) StartOrder(ctx context.Context, orderID string, customerID int64) (*model.Order, error) {
	order, _, err := s.loadOwnedOrder(ctx, nil, orderID, customerID)
	if err != nil {
		return nil, err
	}

	if order.Status != model.OrderStatusNotStart {
		return order, nil
	}

	err = s.orderRepo.UpdateOrderStatus(ctx, nil, orderID, model.OrderStatusNotStart, model.OrderStatusPending)
	if err != nil {
		// 守卫不中说明状态已被并发改走，重读后按当前状态幂等返回
		if errors.Is(err, apperr.ErrInvalidState) {
			return s.orderRepo.GetOrderByOrderID(ctx, nil, orderID)
		}
		return nil, err
	}

	return s.orderRepo.GetOrderByOrderID(ctx, nil, orderID)
}

// ConfirmOrder 确认完成订单（严格入口）
// 要求 PENDING 且账户余额不低于订单金额；已 COMPLETED 幂等返回
func (s *OrderService) ConfirmOrder(ctx context.Context, orderID string, customerID int64) (*model.Order, error) {
	return s.complete(ctx, orderID, customerID, true)
}

// CompleteOrder 完成订单
// 与 ConfirmOrder 同一套 PENDING-only 策略，只是不做余额门槛检查
func (s *OrderService) CompleteOrder(ctx context.Context, orderID string, customerID int64) (*model.Order, error) {
	return s.complete(ctx, orderID, customerID, false)
}

func (s *OrderService) complete(ctx context.Context, orderID string, customerID int64, requireBalance bool) (*model.Order, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.Business.TxTimeout())
	defer cancel()

	var result *model.Order
	err := s.lockMgr.WithLock(txCtx, lock.OrderCompletionKey(orderID), idgen.RandomID("L", 32), func() error {
		return s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
			order, plan, err := s.loadOwnedOrder(txCtx, tx, orderID, customerID)
			if err != nil {
				return err
			}

			// 幂等：已完成直接返回当前状态，绝不二次入账
			if order.Status == model.OrderStatusCompleted {
				result = order
				return nil
			}
			if order.Status != model.OrderStatusPending {
				return apperr.Wrap(apperr.ErrInvalidState, "订单当前是 %s，只有 PENDING 可以完成", order.Status)
			}

			account, err := s.accountRepo.GetPrimaryByCustomer(txCtx, tx, plan.CustomerID)
			if err != nil {
				return err
			}
			if requireBalance && account.Balance < order.Amount {
				return apperr.Wrap(apperr.ErrInsufficientBalance, "余额 %.2f 低于订单金额 %.2f", account.Balance, order.Amount)
			}

			// (c) 订单置 COMPLETED —— 守卫式流转，并发下只有一个赢家
			err = s.orderRepo.UpdateOrderStatus(txCtx, tx, orderID, model.OrderStatusPending, model.OrderStatusCompleted)
			if err != nil {
				if errors.Is(err, apperr.ErrInvalidState) {
					// 别的事务先完成了，重读幂等返回
					current, rerr := s.orderRepo.GetOrderByOrderID(txCtx, tx, orderID)
					if rerr != nil {
						return rerr
					}
					if current.Status == model.OrderStatusCompleted {
						result = current
						return nil
					}
				}
				return err
			}

			// (a)(b) 佣金入账：balance 和 profit 同步增加
			commission := order.CommissionAmount()
			if err := s.accountRepo.CreditCommission(txCtx, tx, account.ID, commission); err != nil {
				return fmt.Errorf("佣金入账失败: %w", err)
			}

			// (d) 计划完成数 +1
			if err := s.orderRepo.IncrementCompleted(txCtx, tx, plan.ID); err != nil {
				return fmt.Errorf("更新计划完成数失败: %w", err)
			}

			// (e) 完成数达到总数时计划收尾
			done, err := s.orderRepo.CompletePlanIfDone(txCtx, tx, plan.ID)
			if err != nil {
				return fmt.Errorf("计划收尾失败: %w", err)
			}
			if done {
				if err := s.writePlanCompletedMessage(txCtx, tx, plan, customerID); err != nil {
					return err
				}
			}

			result, err = s.orderRepo.GetOrderByOrderID(txCtx, tx, orderID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *OrderService) writePlanCompletedMessage(ctx context.Context, tx *gorm.DB, plan *model.OrderPlan, customerID int64) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"plan_id":      plan.PlanID,
		"customer_id":  customerID,
		"total_orders": plan.TotalOrders,
		"completed_at": time.Now().Format(time.RFC3339),
	})
	msg := &model.OutboxMessage{
		MessageKey: plan.PlanID,
		Topic:      s.cfg.Kafka.Topic.PlanCompleted,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入计划完成消息失败: %w", err)
	}
	return nil
}

// ============================================================
// 管理员操作
// ============================================================

// SkipOrder 跳过订单（终态）
// 跳过不计入 completed_orders，而是把 total_orders 减一，
// 保持 completed == |COMPLETED| 的不变量，计划仍可正常收尾
func (s *OrderService) SkipOrder(ctx context.Context, orderID string, adminID int64) (*model.Order, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.Business.TxTimeout())
	defer cancel()

	var result *model.Order
	err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.GetOrderByOrderID(txCtx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusSkipped {
			result = order
			return nil
		}
		if order.Status == model.OrderStatusCompleted {
			return apperr.Wrap(apperr.ErrInvalidState, "已完成的订单不能跳过")
		}

		if err := s.orderRepo.UpdateOrderStatus(txCtx, tx, orderID, order.Status, model.OrderStatusSkipped); err != nil {
			return err
		}
		if err := s.orderRepo.AdjustTotal(txCtx, tx, order.PlanID, -1); err != nil {
			return err
		}
		if _, err := s.orderRepo.CompletePlanIfDone(txCtx, tx, order.PlanID); err != nil {
			return err
		}

		result, err = s.orderRepo.GetOrderByOrderID(txCtx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReplaceOrderProduct 未开始的订单替换产品，重新快照价格/佣金
func (s *OrderService) ReplaceOrderProduct(ctx context.Context, orderID string, productID int64, adminID int64) (*model.Order, error) {
	product, err := s.productRepo.GetByID(ctx, nil, productID)
	if err != nil {
		return nil, err
	}
	if product.Status != model.ProductStatusActive {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "只能替换为上架产品")
	}
	if err := s.orderRepo.ReplaceOrderProduct(ctx, nil, orderID, product); err != nil {
		return nil, err
	}
	return s.orderRepo.GetOrderByOrderID(ctx, nil, orderID)
}

// AddOrderToPlan 给进行中的计划追加一单，total_orders + 1
func (s *OrderService) AddOrderToPlan(ctx context.Context, planID string, productID int64, adminID int64) (*model.Order, error) {
	product, err := s.productRepo.GetByID(ctx, nil, productID)
	if err != nil {
		return nil, err
	}
	if product.Status != model.ProductStatusActive {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "只能追加上架产品")
	}

	var plan *model.OrderPlan
	{
		var p model.OrderPlan
		err := s.db.WithContext(ctx).Where("plan_id = ?", planID).First(&p).Error
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrNotFound, "订单计划不存在")
		}
		plan = &p
	}
	if plan.Status != model.PlanStatusActive {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "只能给进行中的计划追加订单")
	}

	orderID, err := s.generateOrderID(ctx)
	if err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithTimeout(ctx, s.cfg.Business.TxTimeout())
	defer cancel()

	var result *model.Order
	err = s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		maxNumber, err := s.orderRepo.MaxOrderNumber(txCtx, tx, plan.ID)
		if err != nil {
			return err
		}
		order := &model.Order{
			OrderID:     orderID,
			PlanID:      plan.ID,
			ProductID:   product.ID,
			OrderNumber: maxNumber + 1,
			Amount:      product.Price,
			Commission:  product.Commission,
			Status:      model.OrderStatusNotStart,
		}
		if err := s.orderRepo.CreateOrder(txCtx, tx, order); err != nil {
			return err
		}
		if err := s.orderRepo.AdjustTotal(txCtx, tx, plan.ID, 1); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteOrder 删除未开始的订单，total_orders 减一后重新检查计划收尾
func (s *OrderService) DeleteOrder(ctx context.Context, orderID string, adminID int64) error {
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.Business.TxTimeout())
	defer cancel()

	return s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		order, err := s.orderRepo.GetOrderByOrderID(txCtx, tx, orderID)
		if err != nil {
			return err
		}
		if err := s.orderRepo.DeleteOrder(txCtx, tx, orderID); err != nil {
			return err
		}
		if err := s.orderRepo.AdjustTotal(txCtx, tx, order.PlanID, -1); err != nil {
			return err
		}
		if _, err := s.orderRepo.CompletePlanIfDone(txCtx, tx, order.PlanID); err != nil {
			return err
		}
		return nil
	})
}

func (s *OrderService) generateOrderID(ctx context.Context) (string, error) {
	for {
		id := idgen.RandomID("OD", 32)
		exists, err := s.orderRepo.ExistsOrderID(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
}
