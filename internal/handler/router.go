package handler

import (
	"trademall/internal/config"
	"trademall/internal/infrastructure/lock"
	"trademall/internal/infrastructure/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, cfg *config.Config, lockMgr lock.Manager, blobStore storage.BlobStore) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	h := NewHandler(db, cfg, lockMgr, blobStore)

	api := r.Group("/api/v1")

	// 客户侧
	customer := api.Group("/customer")
	{
		customer.POST("/signup", h.Signup)
		customer.POST("/signin", h.Signin)

		authed := customer.Group("", AuthMiddleware(cfg, RoleCustomer))
		{
			authed.GET("/profile", h.GetProfile)
			authed.POST("/password", h.ChangePassword)

			authed.POST("/plan/activate", h.ActivatePlan)
			authed.GET("/plan", h.GetCurrentPlan)

			authed.POST("/order/:order_id/start", h.StartOrder)
			authed.POST("/order/:order_id/confirm", h.ConfirmOrder)
			authed.POST("/order/:order_id/complete", h.CompleteOrder)

			authed.GET("/products", h.ListActiveProducts)
			authed.GET("/account", h.GetAccount)

			authed.POST("/deposit", h.CreateDeposit)
			authed.POST("/withdrawal", h.CreateWithdrawal)
			authed.GET("/transactions", h.ListTransactions)
			authed.POST("/upload", h.UploadFile)
		}
	}

	// 管理侧
	admin := api.Group("/admin")
	{
		admin.POST("/signin", h.AdminSignin)

		authed := admin.Group("", AuthMiddleware(cfg, RoleAdmin))
		{
			authed.GET("/customers", h.ListCustomers)
			authed.PUT("/customers/:id", h.UpdateCustomer)
			authed.DELETE("/customers/:id", h.DeleteCustomer)
			authed.GET("/customers/:id/plan", h.GetCustomerPlan)

			authed.POST("/products", h.CreateProduct)
			authed.GET("/products", h.ListProducts)
			authed.PUT("/products/:id", h.UpdateProduct)
			authed.DELETE("/products/:id", h.DeactivateProduct)

			authed.POST("/levels", h.CreateLevel)
			authed.GET("/levels", h.ListLevels)

			authed.GET("/transactions", h.ListPendingTransactions)
			authed.POST("/transactions/:id/approve", h.ApproveTransaction)
			authed.POST("/transactions/:id/reject", h.RejectTransaction)

			authed.POST("/orders/:order_id/skip", h.SkipOrder)
			authed.POST("/orders/:order_id/replace", h.ReplaceOrderProduct)
			authed.DELETE("/orders/:order_id", h.DeleteOrder)
			authed.POST("/plans/:plan_id/orders", h.AddOrderToPlan)

			authed.POST("/upload", h.UploadFile)
		}
	}

	// 上传文件静态访问
	r.Static("/uploads", cfg.Storage.UploadDir)

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
