package job

import (
	"context"
	"log"
	"time"

	"trademall/internal/config"
	"trademall/internal/repository"

	"gorm.io/gorm"
)

// PlanReconcileJob 计划账目对账任务
//
// 正常路径下 completed_orders 在订单完成事务内同步维护，和 COMPLETED
// 订单数恒等。这个任务兜底处理异常残留（比如手工改库、历史缺陷），
// 周期性重算进行中计划的完成数，不一致时修正并补做收尾检查。
type PlanReconcileJob struct {
	db        *gorm.DB
	orderRepo *repository.OrderRepository
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewPlanReconcileJob(db *gorm.DB, cfg *config.Config) *PlanReconcileJob {
	return &PlanReconcileJob{
		db:        db,
		orderRepo: repository.NewOrderRepository(db),
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  30 * time.Second,
		batchSize: 50,
	}
}

func (j *PlanReconcileJob) Start(ctx context.Context) {
	log.Println("[PlanReconcileJob] 计划对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PlanReconcileJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[PlanReconcileJob] 任务停止")
			return
		case <-ticker.C:
			j.reconcileActivePlans(ctx)
		}
	}
}

func (j *PlanReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *PlanReconcileJob) reconcileActivePlans(ctx context.Context) {
	plans, err := j.orderRepo.ListActivePlans(ctx, j.batchSize)
	if err != nil {
		log.Printf("[PlanReconcileJob] 查询进行中计划失败: %v", err)
		return
	}

	for _, plan := range plans {
		actual, err := j.orderRepo.CountCompletedOrders(ctx, plan.ID)
		if err != nil {
			log.Printf("[PlanReconcileJob] 统计完成订单失败: planID=%s, err=%v", plan.PlanID, err)
			continue
		}

		if int(actual) != plan.CompletedOrders {
			log.Printf("[PlanReconcileJob] 发现完成数不一致: planID=%s, 记录=%d, 实际=%d",
				plan.PlanID, plan.CompletedOrders, actual)

			err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := j.orderRepo.SetCompletedOrders(ctx, tx, plan.ID, int(actual)); err != nil {
					return err
				}
				_, err := j.orderRepo.CompletePlanIfDone(ctx, tx, plan.ID)
				return err
			})
			if err != nil {
				log.Printf("[PlanReconcileJob] 修正失败: planID=%s, err=%v", plan.PlanID, err)
				continue
			}
			log.Printf("[PlanReconcileJob] 已修正: planID=%s, completed_orders=%d", plan.PlanID, actual)
			continue
		}

		// 完成数一致但可能漏掉了收尾（比如总数被调小后没有触发检查）
		if plan.CompletedOrders >= plan.TotalOrders {
			done, err := j.orderRepo.CompletePlanIfDone(ctx, nil, plan.ID)
			if err != nil {
				log.Printf("[PlanReconcileJob] 补做收尾失败: planID=%s, err=%v", plan.PlanID, err)
				continue
			}
			if done {
				log.Printf("[PlanReconcileJob] 补做收尾成功: planID=%s", plan.PlanID)
			}
		}
	}
}
