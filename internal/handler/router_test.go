package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"trademall/internal/config"
	"trademall/internal/infrastructure/database"
	"trademall/internal/infrastructure/lock"
	"trademall/internal/infrastructure/storage"
	"trademall/internal/model"
	"trademall/internal/service"
	"trademall/pkg/idgen"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	idgen.Init(1)
}

func setupRouter(t *testing.T, planSize int) (*gin.Engine, *gorm.DB, *config.Config) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	uploadDir := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{Port: 0, AllowedOrigins: []string{"*"}},
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				TransactionResult: "transaction-result",
				PlanCompleted:     "plan-completed",
			},
		},
		Auth:    config.AuthConfig{JWTSecret: "test-secret", TokenTTLHours: 1},
		Storage: config.StorageConfig{UploadDir: uploadDir, BaseURL: "/uploads"},
		Business: config.BusinessConfig{
			PlanSize:         planSize,
			MinAmount:        1,
			TxTimeoutSeconds: 5,
			MaxRetryCount:    3,
		},
	}

	blobStore, err := storage.NewLocalStore(uploadDir, cfg.Storage.BaseURL)
	require.NoError(t, err)

	return SetupRouter(db, cfg, lock.Nop{}, blobStore), db, cfg
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) (*httptest.ResponseRecorder, *envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	env := &envelope{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), env))
	}
	return w, env
}

// doDeposit 发起 multipart 充值申请，附带一张凭证图片
func doDeposit(t *testing.T, r *gin.Engine, token, amount string) (*httptest.ResponseRecorder, *envelope) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("amount", amount))
	part, err := mw.CreateFormFile("proof_image", "proof.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-png"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/customer/deposit", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	env := &envelope{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), env))
	}
	return w, env
}

func seedRouterProducts(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, db.Create(&model.Product{
			ProductID:  fmt.Sprintf("PRD%06d", i+1),
			Name:       fmt.Sprintf("产品%d", i+1),
			Price:      float64(10 * (i + 1)),
			Commission: 10,
			Rating:     5,
			Status:     model.ProductStatusActive,
		}).Error)
	}
}

func seedRouterAdmin(t *testing.T, db *gorm.DB) {
	t.Helper()
	hash, err := service.HashPassword("admin-pass")
	require.NoError(t, err)
	require.NoError(t, db.Create(&model.Admin{
		Name:         "管理员",
		Email:        "admin@test.local",
		PasswordHash: hash,
	}).Error)
}

func TestHealthCheck(t *testing.T) {
	r, _, _ := setupRouter(t, 3)
	w, _ := doJSON(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	r, _, _ := setupRouter(t, 3)

	w, _ := doJSON(t, r, http.MethodGet, "/api/v1/customer/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/admin/customers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCustomerLifecycleOverHTTP(t *testing.T) {
	r, db, _ := setupRouter(t, 3)
	seedRouterProducts(t, db, 5)
	seedRouterAdmin(t, db)

	// 注册
	w, env := doJSON(t, r, http.MethodPost, "/api/v1/customer/signup", "", gin.H{
		"name":     "张三",
		"email":    "c@test.local",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// 登录拿 token
	w, env = doJSON(t, r, http.MethodPost, "/api/v1/customer/signin", "", gin.H{
		"email":    "c@test.local",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var signin struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &signin))
	require.NotEmpty(t, signin.Token)
	token := signin.Token

	// 客户 token 不能访问管理端
	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/admin/customers", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 管理员登录
	w, env = doJSON(t, r, http.MethodPost, "/api/v1/admin/signin", "", gin.H{
		"email":    "admin@test.local",
		"password": "admin-pass",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &signin))
	adminToken := signin.Token

	// 开通计划
	w, env = doJSON(t, r, http.MethodPost, "/api/v1/customer/plan/activate", token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var plan struct {
		PlanID string `json:"plan_id"`
		Orders []struct {
			OrderID string  `json:"order_id"`
			Amount  float64 `json:"amount"`
			Status  string  `json:"status"`
		} `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &plan))
	require.Len(t, plan.Orders, 3)

	// 重复开通冲突
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/customer/plan/activate", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// 充值申请（multipart 带凭证）+ 管理员审批
	w, env = doDeposit(t, r, token, "500")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var deposit struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &deposit))

	w, _ = doJSON(t, r, http.MethodPost,
		fmt.Sprintf("/api/v1/admin/transactions/%d/approve", deposit.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 余额到账
	w, env = doJSON(t, r, http.MethodGet, "/api/v1/customer/profile", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile struct {
		Account struct {
			Balance float64 `json:"balance"`
		} `json:"account"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, float64(500), profile.Account.Balance)

	// 走一单：开始 + 确认
	orderID := plan.Orders[0].OrderID
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/customer/order/"+orderID+"/start", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = doJSON(t, r, http.MethodPost, "/api/v1/customer/order/"+orderID+"/confirm", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var confirmed struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &confirmed))
	assert.Equal(t, model.OrderStatusCompleted, confirmed.Status)

	// 佣金入账后的余额 = 500 + amount * 10%
	w, env = doJSON(t, r, http.MethodGet, "/api/v1/customer/profile", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	expected := 500 + plan.Orders[0].Amount*0.1
	assert.InDelta(t, expected, profile.Account.Balance, 0.001)

	// 提现超余额直接失败
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/customer/withdrawal", token, gin.H{
		"amount": 100000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRejectedDepositLeavesNoProofFile(t *testing.T) {
	r, _, cfg := setupRouter(t, 3)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/customer/signup", "", gin.H{
		"name":     "李四",
		"email":    "d@test.local",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, env = doJSON(t, r, http.MethodPost, "/api/v1/customer/signin", "", gin.H{
		"email":    "d@test.local",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var signin struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &signin))

	// 金额低于最低限额：请求被拒，凭证文件不落盘
	w, _ = doDeposit(t, r, signin.Token, "0.5")
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	entries, err := os.ReadDir(cfg.Storage.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "被拒绝的充值申请不应留下孤儿凭证文件")
}

func TestAdminProductCRUDOverHTTP(t *testing.T) {
	r, db, _ := setupRouter(t, 3)
	seedRouterAdmin(t, db)

	w, env := doJSON(t, r, http.MethodPost, "/api/v1/admin/signin", "", gin.H{
		"email":    "admin@test.local",
		"password": "admin-pass",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var signin struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &signin))
	adminToken := signin.Token

	w, env = doJSON(t, r, http.MethodPost, "/api/v1/admin/products", adminToken, gin.H{
		"name":       "测试产品",
		"price":      99.5,
		"commission": 12.5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var product model.Product
	require.NoError(t, json.Unmarshal(env.Data, &product))
	assert.NotEmpty(t, product.ProductID)
	assert.Equal(t, 99.5, product.Price)

	w, _ = doJSON(t, r, http.MethodPut,
		fmt.Sprintf("/api/v1/admin/products/%d", product.ID), adminToken, gin.H{
			"price": 120.0,
		})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = doJSON(t, r, http.MethodDelete,
		fmt.Sprintf("/api/v1/admin/products/%d", product.ID), adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	reloaded := &model.Product{}
	require.NoError(t, db.First(reloaded, product.ID).Error)
	assert.Equal(t, model.ProductStatusInactive, reloaded.Status)
	assert.Equal(t, 120.0, reloaded.Price)
}
