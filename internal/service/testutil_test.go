package service

import (
	"fmt"
	"testing"

	"trademall/internal/config"
	"trademall/internal/infrastructure/database"
	"trademall/internal/model"
	"trademall/pkg/idgen"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	idgen.Init(1)
}

// setupTestDB 内存 SQLite + 全量迁移
// 守卫式 UPDATE 不依赖 FOR UPDATE，SQLite 上行为与 MySQL 一致
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库随连接销毁，收敛到单连接
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func testConfig(planSize int) *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				TransactionResult: "transaction-result",
				PlanCompleted:     "plan-completed",
			},
		},
		Auth: config.AuthConfig{
			JWTSecret:     "test-secret",
			TokenTTLHours: 1,
		},
		Business: config.BusinessConfig{
			PlanSize:         planSize,
			MinAmount:        1,
			TxTimeoutSeconds: 5,
			MaxRetryCount:    3,
		},
	}
}

// seedCustomer 直接落库一个客户 + 主账户
func seedCustomer(t *testing.T, db *gorm.DB, balance float64) (*model.Customer, *model.Account) {
	t.Helper()

	customer := &model.Customer{
		Name:         "测试客户",
		Email:        fmt.Sprintf("c%d@test.local", idgen.NextID()),
		PasswordHash: "x",
		ReferCode:    idgen.RandomReferCode(),
		Status:       model.CustomerStatusActive,
	}
	require.NoError(t, db.Create(customer).Error)
	customer.UserID = idgen.FormatUserID(customer.ID)
	require.NoError(t, db.Model(customer).Update("user_id", customer.UserID).Error)

	account := &model.Account{
		CustomerID: customer.ID,
		Balance:    balance,
		Currency:   "USD",
		Status:     model.AccountStatusActive,
	}
	require.NoError(t, db.Create(account).Error)
	account.AccountID = idgen.FormatAccountID(account.ID)
	require.NoError(t, db.Model(account).Update("account_id", account.AccountID).Error)

	return customer, account
}

// seedProducts 上架 n 个产品，价格和佣金率逐个递增便于区分
func seedProducts(t *testing.T, db *gorm.DB, n int) []*model.Product {
	t.Helper()

	products := make([]*model.Product, 0, n)
	for i := 0; i < n; i++ {
		p := &model.Product{
			ProductID:  fmt.Sprintf("PRD%06d", i+1),
			Name:       fmt.Sprintf("产品%d", i+1),
			Price:      float64(10 * (i + 1)),
			Commission: 10,
			Rating:     5,
			Status:     model.ProductStatusActive,
		}
		require.NoError(t, db.Create(p).Error)
		products = append(products, p)
	}
	return products
}

func seedAdmin(t *testing.T, db *gorm.DB) *model.Admin {
	t.Helper()

	hash, err := HashPassword("admin-pass")
	require.NoError(t, err)
	admin := &model.Admin{
		Name:         "测试管理员",
		Email:        fmt.Sprintf("a%d@test.local", idgen.NextID()),
		PasswordHash: hash,
	}
	require.NoError(t, db.Create(admin).Error)
	return admin
}

func countOutbox(t *testing.T, db *gorm.DB, topic string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Where("topic = ?", topic).Count(&count).Error)
	return count
}
