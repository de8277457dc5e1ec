package handler

import (
	"strconv"

	"trademall/internal/config"
	"trademall/internal/infrastructure/lock"
	"trademall/internal/infrastructure/storage"
	"trademall/internal/model"
	"trademall/internal/service"
	"trademall/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg                *config.Config
	customerService    *service.CustomerService
	planService        *service.PlanService
	orderService       *service.OrderService
	transactionService *service.TransactionService
	productService     *service.ProductService
	blobStore          storage.BlobStore
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, cfg *config.Config, lockMgr lock.Manager, blobStore storage.BlobStore) *Handler {
	return &Handler{
		cfg:                cfg,
		customerService:    service.NewCustomerService(db, cfg),
		planService:        service.NewPlanService(db, cfg, lockMgr),
		orderService:       service.NewOrderService(db, cfg, lockMgr),
		transactionService: service.NewTransactionService(db, cfg),
		productService:     service.NewProductService(db, cfg),
		blobStore:          blobStore,
	}
}

// ============================================================
// 客户认证
// ============================================================

// SignupRequest 注册请求
type SignupRequest struct {
	Name         string `json:"name" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Password     string `json:"password" binding:"required,min=6"`
	FundPassword string `json:"fund_password"`
	PhoneNumber  string `json:"phone_number"`
	ReferCode    string `json:"refer_code"`
}

// Signup 客户注册
// POST /api/v1/customer/signup
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	customer, err := h.customerService.Signup(c.Request.Context(), &service.SignupRequest{
		Name:         req.Name,
		Email:        req.Email,
		Password:     req.Password,
		FundPassword: req.FundPassword,
		PhoneNumber:  req.PhoneNumber,
		ReferCode:    req.ReferCode,
	})
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Created(c, gin.H{
		"user_id":    customer.UserID,
		"email":      customer.Email,
		"refer_code": customer.ReferCode,
	})
}

// SigninRequest 登录请求
type SigninRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Signin 客户登录，返回 Bearer Token
// POST /api/v1/customer/signin
func (h *Handler) Signin(c *gin.Context) {
	var req SigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	customer, err := h.customerService.Signin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	token, err := IssueToken(h.cfg, customer.ID, RoleCustomer)
	if err != nil {
		response.ServerError(c, "签发令牌失败")
		return
	}

	response.Success(c, gin.H{
		"token":   token,
		"user_id": customer.UserID,
		"name":    customer.Name,
	})
}

// GetProfile 客户资料 + 账户余额
// GET /api/v1/customer/profile
func (h *Handler) GetProfile(c *gin.Context) {
	customer, account, err := h.customerService.GetProfile(c.Request.Context(), customerID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id":      customer.UserID,
		"name":         customer.Name,
		"email":        customer.Email,
		"phone_number": customer.PhoneNumber,
		"refer_code":   customer.ReferCode,
		"level_id":     customer.LevelID,
		"status":       customer.Status,
		"account": gin.H{
			"account_id": account.AccountID,
			"balance":    account.Balance,
			"profit":     account.Profit,
			"currency":   account.Currency,
		},
	})
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// ChangePassword 修改登录密码
// POST /api/v1/customer/password
func (h *Handler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	err := h.customerService.ChangePassword(c.Request.Context(), customerID(c), req.OldPassword, req.NewPassword)
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "密码已修改"})
}

// ============================================================
// 订单计划
// ============================================================

// ActivatePlan 开通订单计划
// POST /api/v1/customer/plan/activate
func (h *Handler) ActivatePlan(c *gin.Context) {
	plan, err := h.planService.ActivatePlan(c.Request.Context(), customerID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Created(c, planView(plan))
}

// GetCurrentPlan 当前计划（优先进行中，其次最近完成）
// GET /api/v1/customer/plan
func (h *Handler) GetCurrentPlan(c *gin.Context) {
	plan, err := h.planService.GetCurrentPlan(c.Request.Context(), customerID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, planView(plan))
}

// planView 计划响应视图：计划头 + 按序号排列的订单
func planView(plan *model.OrderPlan) gin.H {
	orders := make([]gin.H, 0, len(plan.Orders))
	for _, order := range plan.Orders {
		item := gin.H{
			"order_id":     order.OrderID,
			"order_number": order.OrderNumber,
			"amount":       order.Amount,
			"commission":   order.Commission,
			"status":       order.Status,
			"completed_at": order.CompletedAt,
		}
		if order.Product != nil {
			item["product"] = gin.H{
				"product_id": order.Product.ProductID,
				"name":       order.Product.Name,
				"image_url":  order.Product.ImageURL,
				"rating":     order.Product.Rating,
			}
		}
		orders = append(orders, item)
	}
	return gin.H{
		"plan_id":          plan.PlanID,
		"total_orders":     plan.TotalOrders,
		"completed_orders": plan.CompletedOrders,
		"status":           plan.Status,
		"started_at":       plan.StartedAt,
		"completed_at":     plan.CompletedAt,
		"orders":           orders,
	}
}

// ============================================================
// 订单操作
// ============================================================

// StartOrder 开始订单
// POST /api/v1/customer/order/:order_id/start
func (h *Handler) StartOrder(c *gin.Context) {
	order, err := h.orderService.StartOrder(c.Request.Context(), c.Param("order_id"), customerID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, orderView(order))
}

// ConfirmOrder 确认完成订单（需要余额不低于订单金额）
// POST /api/v1/customer/order/:order_id/confirm
func (h *Handler) ConfirmOrder(c *gin.Context) {
	order, err := h.orderService.ConfirmOrder(c.Request.Context(), c.Param("order_id"), customerID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, orderView(order))
}

// CompleteOrder 完成订单（无余额门槛的宽松入口）
// POST /api/v1/customer/order/:order_id/complete
func (h *Handler) CompleteOrder(c *gin.Context) {
	order, err := h.orderService.CompleteOrder(c.Request.Context(), c.Param("order_id"), customerID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, orderView(order))
}

func orderView(order *model.Order) gin.H {
	return gin.H{
		"order_id":     order.OrderID,
		"order_number": order.OrderNumber,
		"amount":       order.Amount,
		"commission":   order.Commission,
		"status":       order.Status,
		"completed_at": order.CompletedAt,
	}
}

// ListActiveProducts 客户浏览上架产品目录
// GET /api/v1/customer/products
func (h *Handler) ListActiveProducts(c *gin.Context) {
	products, err := h.productService.ListActiveProducts(c.Request.Context())
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"list": products})
}

// GetAccount 账户余额快照
// GET /api/v1/customer/account
func (h *Handler) GetAccount(c *gin.Context) {
	_, account, err := h.customerService.GetProfile(c.Request.Context(), customerID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, gin.H{
		"account_id": account.AccountID,
		"balance":    account.Balance,
		"profit":     account.Profit,
		"currency":   account.Currency,
		"status":     account.Status,
	})
}

// ============================================================
// 充值 / 提现
// ============================================================

// CreateDeposit 发起充值申请
// POST /api/v1/customer/deposit （multipart/form-data: amount, proof_image）
//
// 付款凭证随申请一并上传，先落盘拿到 URL 再创建 PENDING 交易
func (h *Handler) CreateDeposit(c *gin.Context) {
	amount, err := strconv.ParseFloat(c.PostForm("amount"), 64)
	if err != nil || amount <= 0 {
		response.ParamError(c, "amount 参数错误")
		return
	}

	fileHeader, err := c.FormFile("proof_image")
	if err != nil {
		response.ParamError(c, "缺少付款凭证")
		return
	}
	// 先做账户归属和金额校验，校验不过不落盘，凭证文件不留孤儿
	_, account, err := h.customerService.GetProfile(c.Request.Context(), customerID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	if amount < h.cfg.Business.MinAmount {
		response.ParamError(c, "充值金额低于最低限额")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.ServerError(c, "读取付款凭证失败")
		return
	}
	defer f.Close()

	proofURL, err := h.blobStore.Save(c.Request.Context(), fileHeader.Filename, f)
	if err != nil {
		response.ServerError(c, "保存付款凭证失败")
		return
	}

	trans, err := h.transactionService.CreateDeposit(c.Request.Context(), customerID(c), account.ID, amount, proofURL)
	if err != nil {
		// 交易没建成，已落盘的凭证跟着清掉
		_ = h.blobStore.Delete(c.Request.Context(), proofURL)
		response.BusinessError(c, err)
		return
	}
	response.Created(c, transactionView(trans))
}

// CreateWithdrawalRequest 提现申请
type CreateWithdrawalRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

// CreateWithdrawal 发起提现申请
// POST /api/v1/customer/withdrawal
func (h *Handler) CreateWithdrawal(c *gin.Context) {
	var req CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	_, account, err := h.customerService.GetProfile(c.Request.Context(), customerID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	trans, err := h.transactionService.CreateWithdrawal(c.Request.Context(), customerID(c), account.ID, req.Amount)
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Created(c, transactionView(trans))
}

// ListTransactions 客户交易流水
// GET /api/v1/customer/transactions?page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := pagination(c)
	transactions, total, err := h.transactionService.ListByCustomer(c.Request.Context(), customerID(c), page, pageSize)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	list := make([]gin.H, 0, len(transactions))
	for _, trans := range transactions {
		list = append(list, transactionView(trans))
	}
	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func transactionView(trans *model.Transaction) gin.H {
	view := gin.H{
		"id":           trans.ID,
		"type":         trans.Type,
		"amount":       trans.Amount,
		"status":       trans.Status,
		"admin_note":   trans.AdminNote,
		"created_at":   trans.CreatedAt,
		"processed_at": trans.ProcessedAt,
	}
	if trans.TransactionID != nil {
		view["transaction_id"] = *trans.TransactionID
	}
	return view
}

// UploadFile 上传文件（充值凭证截图等），返回可引用 URL
// POST /api/v1/customer/upload （multipart/form-data，字段名 file）
func (h *Handler) UploadFile(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.ParamError(c, "缺少上传文件")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		response.ServerError(c, "读取上传文件失败")
		return
	}
	defer f.Close()

	url, err := h.blobStore.Save(c.Request.Context(), fileHeader.Filename, f)
	if err != nil {
		response.ServerError(c, "保存文件失败")
		return
	}
	response.Created(c, gin.H{"url": url})
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}
