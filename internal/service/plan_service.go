package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"trademall/internal/config"
	"trademall/internal/infrastructure/lock"
	"trademall/internal/model"
	"trademall/internal/repository"
	"trademall/pkg/apperr"
	"trademall/pkg/idgen"

	"gorm.io/gorm"
)

// PlanService 订单计划开通
//
// 【关键点】开通是多行写入（1条计划 + N条订单），必须保证：
// 1. 同一客户任意时刻至多一个 ACTIVE 计划
// 2. 计划和订单要么全部落库要么一行不留，不能出现残缺计划
// 3. plan_id / order_id 随机生成，靠探测+唯一索引保证全局唯一
type PlanService struct {
	db           *gorm.DB
	cfg          *config.Config
	lockMgr      lock.Manager
	customerRepo *repository.CustomerRepository
	productRepo  *repository.ProductRepository
	orderRepo    *repository.OrderRepository

	// 随机源可注入，测试里用固定种子断言抽取结果
	mu  sync.Mutex
	rng *rand.Rand
}

func NewPlanService(db *gorm.DB, cfg *config.Config, lockMgr lock.Manager) *PlanService {
	return &PlanService{
		db:           db,
		cfg:          cfg,
		lockMgr:      lockMgr,
		customerRepo: repository.NewCustomerRepository(db),
		productRepo:  repository.NewProductRepository(db),
		orderRepo:    repository.NewOrderRepository(db),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ActivatePlan 为客户开通一个新的订单计划
func (s *PlanService) ActivatePlan(ctx context.Context, customerID int64) (*model.OrderPlan, error) {
	if _, err := s.customerRepo.GetByID(ctx, customerID); err != nil {
		return nil, err
	}

	var plan *model.OrderPlan
	err := s.lockMgr.WithLock(ctx, lock.PlanActivationKey(customerID), idgen.RandomID("L", 32), func() error {
		var err error
		plan, err = s.activateLocked(ctx, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *PlanService) activateLocked(ctx context.Context, customerID int64) (*model.OrderPlan, error) {
	// 冲突快检：把已有计划的编号带回去，调用方可以直接跳转而不是重试。
	// 权威检查在写入事务内还会再做一次。
	existing, err := s.orderRepo.GetActivePlanByCustomer(ctx, nil, customerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Wrap(apperr.ErrConflict, "已有进行中的订单计划 %s", existing.PlanID)
	}

	products, err := s.productRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	planSize := s.cfg.Business.PlanSize
	if len(products) < planSize {
		return nil, apperr.Wrap(apperr.ErrInsufficientCatalog, "需要 %d 个上架产品，当前只有 %d 个", planSize, len(products))
	}

	// 均匀洗牌后取前 N 个，不按评分/价格加权
	s.shuffle(products)
	selected := products[:planSize]

	planID, err := s.generatePlanID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	plan := &model.OrderPlan{
		PlanID:          planID,
		CustomerID:      customerID,
		TotalOrders:     planSize,
		CompletedOrders: 0,
		Status:          model.PlanStatusActive,
		StartedAt:       now,
		// 占住"每客户一个活跃计划"的唯一槽位，收尾时由 CompletePlanIfDone 清掉
		ActiveCustomerID: &customerID,
	}

	orders := make([]*model.Order, 0, planSize)
	seen := make(map[string]bool, planSize)
	for i, product := range selected {
		orderID, err := s.generateOrderID(ctx, seen)
		if err != nil {
			return nil, err
		}
		seen[orderID] = true

		// 价格/佣金率在抽取时快照到订单上，之后的目录编辑不影响
		orders = append(orders, &model.Order{
			OrderID:     orderID,
			ProductID:   product.ID,
			OrderNumber: i + 1,
			Amount:      product.Price,
			Commission:  product.Commission,
			Status:      model.OrderStatusNotStart,
		})
	}

	// 多行写入带超时预算：唯一性探测可能已经消耗了若干轮 RTT
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.Business.TxTimeout())
	defer cancel()

	err = s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		// 【关键点】权威的冲突检查在事务内：锁可能在长临界区里过期失效，
		// 事务外的快检挡不住那种并发。就算这次检查也被绕过，
		// active_customer_id 的唯一索引会让 INSERT 直接失败。
		existing, err := s.orderRepo.GetActivePlanByCustomer(txCtx, tx, customerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Wrap(apperr.ErrConflict, "已有进行中的订单计划 %s", existing.PlanID)
		}

		if err := s.orderRepo.CreatePlan(txCtx, tx, plan); err != nil {
			return fmt.Errorf("创建计划失败: %w", err)
		}
		for _, order := range orders {
			order.PlanID = plan.ID
		}
		if err := s.orderRepo.BulkCreateOrders(txCtx, tx, orders); err != nil {
			return fmt.Errorf("批量创建订单失败: %w", err)
		}
		return nil
	})
	if err != nil {
		// 唯一索引兜底挡下来的并发开通，对外统一报冲突
		if !errors.Is(err, apperr.ErrConflict) {
			if winner, rerr := s.orderRepo.GetActivePlanByCustomer(ctx, nil, customerID); rerr == nil && winner != nil {
				return nil, apperr.Wrap(apperr.ErrConflict, "已有进行中的订单计划 %s", winner.PlanID)
			}
		}
		return nil, err
	}

	// 提交后重读一次拼响应：全新计划不存在并发修改，单独读是安全的
	return s.orderRepo.GetPlanWithOrders(ctx, plan.ID)
}

// shuffle Fisher–Yates 均匀洗牌
func (s *PlanService) shuffle(products []*model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(products) - 1; i > 0; i-- {
		j := s.rng.Intn(i + 1)
		products[i], products[j] = products[j], products[i]
	}
}

func (s *PlanService) generatePlanID(ctx context.Context) (string, error) {
	for {
		id := idgen.RandomID("PL", 32)
		exists, err := s.orderRepo.ExistsPlanID(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
}

func (s *PlanService) generateOrderID(ctx context.Context, seen map[string]bool) (string, error) {
	for {
		id := idgen.RandomID("OD", 32)
		if seen[id] {
			continue
		}
		exists, err := s.orderRepo.ExistsOrderID(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
}

// GetCurrentPlan 客户当前计划：优先 ACTIVE，其次最近完成的
func (s *PlanService) GetCurrentPlan(ctx context.Context, customerID int64) (*model.OrderPlan, error) {
	plan, err := s.orderRepo.GetActivePlanByCustomer(ctx, nil, customerID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		plan, err = s.orderRepo.GetLatestPlanByCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
	}
	if plan == nil {
		return nil, apperr.Wrap(apperr.ErrNotFound, "没有订单计划")
	}
	return s.orderRepo.GetPlanWithOrders(ctx, plan.ID)
}
