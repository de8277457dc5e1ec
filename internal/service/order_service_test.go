package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"trademall/internal/infrastructure/lock"
	"trademall/internal/model"
	"trademall/internal/repository"
	"trademall/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// activatePlanFor 开通计划并返回按序号排列的订单
func activatePlanFor(t *testing.T, db *gorm.DB, planSize int, customerID int64) *model.OrderPlan {
	t.Helper()
	svc := NewPlanService(db, testConfig(planSize), lock.Nop{})
	plan, err := svc.ActivatePlan(context.Background(), customerID)
	require.NoError(t, err)
	require.Len(t, plan.Orders, planSize)
	return plan
}

func reloadAccount(t *testing.T, db *gorm.DB, id int64) *model.Account {
	t.Helper()
	account := &model.Account{}
	require.NoError(t, db.First(account, id).Error)
	return account
}

func reloadPlan(t *testing.T, db *gorm.DB, id int64) *model.OrderPlan {
	t.Helper()
	plan := &model.OrderPlan{}
	require.NoError(t, db.First(plan, id).Error)
	return plan
}

func TestCompleteOrderCreditsCommission(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(3)
	svc := NewOrderService(db, cfg, lock.Nop{})
	ctx := context.Background()

	customer, account := seedCustomer(t, db, 0)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 3, customer.ID)
	first := plan.Orders[0]

	started, err := svc.StartOrder(ctx, first.OrderID, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, started.Status)

	completed, err := svc.CompleteOrder(ctx, first.OrderID, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	// 佣金 = 快照价格 × 快照佣金率 / 100，balance 和 profit 同步增加
	commission := first.Amount * first.Commission / 100
	after := reloadAccount(t, db, account.ID)
	assert.InDelta(t, commission, after.Balance, 0.001)
	assert.InDelta(t, commission, after.Profit, 0.001)

	p := reloadPlan(t, db, plan.ID)
	assert.Equal(t, 1, p.CompletedOrders)
	assert.Equal(t, model.PlanStatusActive, p.Status)
}

func TestCompleteLastOrderCompletesPlan(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(3)
	svc := NewOrderService(db, cfg, lock.Nop{})
	ctx := context.Background()

	customer, _ := seedCustomer(t, db, 0)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 3, customer.ID)

	for _, order := range plan.Orders {
		_, err := svc.StartOrder(ctx, order.OrderID, customer.ID)
		require.NoError(t, err)
		_, err = svc.CompleteOrder(ctx, order.OrderID, customer.ID)
		require.NoError(t, err)
	}

	p := reloadPlan(t, db, plan.ID)
	assert.Equal(t, model.PlanStatusCompleted, p.Status)
	assert.Equal(t, 3, p.CompletedOrders)
	require.NotNil(t, p.CompletedAt)

	// 计划收尾写入一条完成通知
	assert.EqualValues(t, 1, countOutbox(t, db, cfg.Kafka.Topic.PlanCompleted))
}

func TestCompleteOrderIdempotent(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOrderService(db, testConfig(3), lock.Nop{})
	ctx := context.Background()

	customer, account := seedCustomer(t, db, 0)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 3, customer.ID)
	first := plan.Orders[0]

	_, err := svc.StartOrder(ctx, first.OrderID, customer.ID)
	require.NoError(t, err)
	_, err = svc.CompleteOrder(ctx, first.OrderID, customer.ID)
	require.NoError(t, err)

	balanceAfterFirst := reloadAccount(t, db, account.ID).Balance

	// 重复完成：不报错，但绝不二次入账、不重复计数
	again, err := svc.CompleteOrder(ctx, first.OrderID, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, again.Status)

	assert.Equal(t, balanceAfterFirst, reloadAccount(t, db, account.ID).Balance)
	assert.Equal(t, 1, reloadPlan(t, db, plan.ID).CompletedOrders)
}

func TestCompleteOrderRequiresPending(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOrderService(db, testConfig(3), lock.Nop{})
	ctx := context.Background()

	customer, _ := seedCustomer(t, db, 0)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 3, customer.ID)

	// 未开始的订单不能直接完成
	_, err := svc.CompleteOrder(ctx, plan.Orders[0].OrderID, customer.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestConfirmOrderBalanceGate(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOrderService(db, testConfig(3), lock.Nop{})
	ctx := context.Background()

	// 余额 5，订单金额至少 10，确认被余额门槛拦下
	customer, account := seedCustomer(t, db, 5)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 3, customer.ID)
	first := plan.Orders[0]

	_, err := svc.StartOrder(ctx, first.OrderID, customer.ID)
	require.NoError(t, err)

	_, err = svc.ConfirmOrder(ctx, first.OrderID, customer.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientBalance))

	// 失败不产生任何账变
	assert.Equal(t, float64(5), reloadAccount(t, db, account.ID).Balance)
	assert.Equal(t, 0, reloadPlan(t, db, plan.ID).CompletedOrders)

	// 充到够了就能确认
	require.NoError(t, db.Model(&model.Account{}).Where("id = ?", account.ID).
		Update("balance", first.Amount).Error)
	confirmed, err := svc.ConfirmOrder(ctx, first.OrderID, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, confirmed.Status)
}

func TestOrderOwnership(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOrderService(db, testConfig(3), lock.Nop{})
	ctx := context.Background()

	owner, _ := seedCustomer(t, db, 0)
	other, _ := seedCustomer(t, db, 0)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 3, owner.ID)

	_, err := svc.StartOrder(ctx, plan.Orders[0].OrderID, other.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = svc.CompleteOrder(ctx, plan.Orders[0].OrderID, other.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
}

func TestStartOrderIdempotent(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOrderService(db, testConfig(3), lock.Nop{})
	ctx := context.Background()

	customer, _ := seedCustomer(t, db, 0)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 3, customer.ID)

	first, err := svc.StartOrder(ctx, plan.Orders[0].OrderID, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, first.Status)

	second, err := svc.StartOrder(ctx, plan.Orders[0].OrderID, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, second.Status)
}

func TestSkipOrder(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOrderService(db, testConfig(3), lock.Nop{})
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, _ := seedCustomer(t, db, 0)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 3, customer.ID)

	skipped, err := svc.SkipOrder(ctx, plan.Orders[0].OrderID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusSkipped, skipped.Status)

	// 跳过不计入完成数，总数减一
	p := reloadPlan(t, db, plan.ID)
	assert.Equal(t, 2, p.TotalOrders)
	assert.Equal(t, 0, p.CompletedOrders)
	assert.Equal(t, model.PlanStatusActive, p.Status)

	// 重复跳过幂等
	_, err = svc.SkipOrder(ctx, plan.Orders[0].OrderID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloadPlan(t, db, plan.ID).TotalOrders)
}

func TestSkipCompletedOrderRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOrderService(db, testConfig(3), lock.Nop{})
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, _ := seedCustomer(t, db, 0)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 3, customer.ID)
	first := plan.Orders[0]

	_, err := svc.StartOrder(ctx, first.OrderID, customer.ID)
	require.NoError(t, err)
	_, err = svc.CompleteOrder(ctx, first.OrderID, customer.ID)
	require.NoError(t, err)

	_, err = svc.SkipOrder(ctx, first.OrderID, admin.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestSkipLastRemainingOrderCompletesPlan(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(2)
	svc := NewOrderService(db, cfg, lock.Nop{})
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, _ := seedCustomer(t, db, 0)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 2, customer.ID)

	_, err := svc.StartOrder(ctx, plan.Orders[0].OrderID, customer.ID)
	require.NoError(t, err)
	_, err = svc.CompleteOrder(ctx, plan.Orders[0].OrderID, customer.ID)
	require.NoError(t, err)

	// 剩下唯一一单被跳过，完成数(1) >= 总数(1)，计划收尾
	_, err = svc.SkipOrder(ctx, plan.Orders[1].OrderID, admin.ID)
	require.NoError(t, err)

	p := reloadPlan(t, db, plan.ID)
	assert.Equal(t, model.PlanStatusCompleted, p.Status)
}

func TestReplaceOrderProduct(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOrderService(db, testConfig(2), lock.Nop{})
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, _ := seedCustomer(t, db, 0)
	products := seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 2, customer.ID)
	target := plan.Orders[0]

	// 找一个不在计划里的产品
	inPlan := map[int64]bool{}
	for _, o := range plan.Orders {
		inPlan[o.ProductID] = true
	}
	var replacement *model.Product
	for _, p := range products {
		if !inPlan[p.ID] {
			replacement = p
			break
		}
	}
	require.NotNil(t, replacement)

	replaced, err := svc.ReplaceOrderProduct(ctx, target.OrderID, replacement.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, replacement.Price, replaced.Amount)
	assert.Equal(t, replacement.Commission, replaced.Commission)

	// 已开始的订单不能替换
	_, err = svc.StartOrder(ctx, target.OrderID, customer.ID)
	require.NoError(t, err)
	_, err = svc.ReplaceOrderProduct(ctx, target.OrderID, replacement.ID, admin.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestAddAndDeleteOrder(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOrderService(db, testConfig(2), lock.Nop{})
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, _ := seedCustomer(t, db, 0)
	products := seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 2, customer.ID)

	added, err := svc.AddOrderToPlan(ctx, plan.PlanID, products[0].ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, added.OrderNumber)
	assert.Equal(t, 3, reloadPlan(t, db, plan.ID).TotalOrders)

	require.NoError(t, svc.DeleteOrder(ctx, added.OrderID, admin.ID))
	assert.Equal(t, 2, reloadPlan(t, db, plan.ID).TotalOrders)

	var count int64
	require.NoError(t, db.Model(&model.Order{}).Where("order_id = ?", added.OrderID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAddOrderToCompletedPlanRejected(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(1)
	svc := NewOrderService(db, cfg, lock.Nop{})
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, _ := seedCustomer(t, db, 0)
	products := seedProducts(t, db, 3)
	plan := activatePlanFor(t, db, 1, customer.ID)

	_, err := svc.StartOrder(ctx, plan.Orders[0].OrderID, customer.ID)
	require.NoError(t, err)
	_, err = svc.CompleteOrder(ctx, plan.Orders[0].OrderID, customer.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanStatusCompleted, reloadPlan(t, db, plan.ID).Status)

	_, err = svc.AddOrderToPlan(ctx, plan.PlanID, products[1].ID, admin.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	// 预检查和提交之间计划刚好收尾的窗口，由总数 UPDATE 上的状态守卫兜底
	repo := repository.NewOrderRepository(db)
	err = repo.AdjustTotal(ctx, db, plan.ID, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	// 收尾后的计划没有被追加任何订单，总数不变
	p := reloadPlan(t, db, plan.ID)
	assert.Equal(t, 1, p.TotalOrders)
	var count int64
	require.NoError(t, db.Model(&model.Order{}).Where("plan_id = ?", plan.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestConcurrentCompleteCreditsOnce(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(3)
	svc := NewOrderService(db, cfg, lock.Nop{})
	ctx := context.Background()

	customer, account := seedCustomer(t, db, 0)
	seedProducts(t, db, 5)
	plan := activatePlanFor(t, db, 3, customer.ID)
	first := plan.Orders[0]

	_, err := svc.StartOrder(ctx, first.OrderID, customer.ID)
	require.NoError(t, err)

	// 并发重复提交完成：守卫式流转保证恰好入账一次，输家重读后幂等返回
	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CompleteOrder(ctx, first.OrderID, customer.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	commission := first.Amount * first.Commission / 100
	after := reloadAccount(t, db, account.ID)
	assert.InDelta(t, commission, after.Balance, 0.001)
	assert.InDelta(t, commission, after.Profit, 0.001)
	assert.Equal(t, 1, reloadPlan(t, db, plan.ID).CompletedOrders)
}
