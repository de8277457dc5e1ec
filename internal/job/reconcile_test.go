package job

import (
	"context"
	"testing"
	"time"

	"trademall/internal/config"
	"trademall/internal/infrastructure/database"
	"trademall/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupJobDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func seedDriftedPlan(t *testing.T, db *gorm.DB, total, recorded, actualCompleted int) *model.OrderPlan {
	t.Helper()

	plan := &model.OrderPlan{
		PlanID:          "PL-TEST-0001",
		CustomerID:      1,
		TotalOrders:     total,
		CompletedOrders: recorded,
		Status:          model.PlanStatusActive,
		StartedAt:       time.Now(),
	}
	require.NoError(t, db.Create(plan).Error)

	for i := 0; i < total; i++ {
		status := model.OrderStatusNotStart
		if i < actualCompleted {
			status = model.OrderStatusCompleted
		}
		require.NoError(t, db.Create(&model.Order{
			OrderID:     plan.PlanID + "-" + string(rune('A'+i)),
			PlanID:      plan.ID,
			ProductID:   1,
			OrderNumber: i + 1,
			Amount:      10,
			Commission:  10,
			Status:      status,
		}).Error)
	}
	return plan
}

func TestReconcileRepairsCompletedOrdersDrift(t *testing.T) {
	db := setupJobDB(t)
	cfg := &config.Config{}
	job := NewPlanReconcileJob(db, cfg)

	// 记录的完成数(1)落后于实际 COMPLETED 数(2)
	plan := seedDriftedPlan(t, db, 3, 1, 2)

	job.reconcileActivePlans(context.Background())

	reloaded := &model.OrderPlan{}
	require.NoError(t, db.First(reloaded, plan.ID).Error)
	assert.Equal(t, 2, reloaded.CompletedOrders)
	assert.Equal(t, model.PlanStatusActive, reloaded.Status)
}

func TestReconcileAppliesMissedRollup(t *testing.T) {
	db := setupJobDB(t)
	job := NewPlanReconcileJob(db, &config.Config{})

	// 全部订单已完成但计划漏了收尾
	plan := seedDriftedPlan(t, db, 2, 2, 2)

	job.reconcileActivePlans(context.Background())

	reloaded := &model.OrderPlan{}
	require.NoError(t, db.First(reloaded, plan.ID).Error)
	assert.Equal(t, model.PlanStatusCompleted, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)
}

func TestReconcileLeavesConsistentPlansAlone(t *testing.T) {
	db := setupJobDB(t)
	job := NewPlanReconcileJob(db, &config.Config{})

	plan := seedDriftedPlan(t, db, 3, 1, 1)

	job.reconcileActivePlans(context.Background())

	reloaded := &model.OrderPlan{}
	require.NoError(t, db.First(reloaded, plan.ID).Error)
	assert.Equal(t, 1, reloaded.CompletedOrders)
	assert.Equal(t, model.PlanStatusActive, reloaded.Status)
}
