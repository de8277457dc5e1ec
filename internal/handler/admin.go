package handler

import (
	"strconv"

	"trademall/internal/model"
	"trademall/internal/service"
	"trademall/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// 管理员认证
// ============================================================

// AdminSignin 管理员登录
// POST /api/v1/admin/signin
func (h *Handler) AdminSignin(c *gin.Context) {
	var req SigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	admin, err := h.customerService.AdminSignin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	token, err := IssueToken(h.cfg, admin.ID, RoleAdmin)
	if err != nil {
		response.ServerError(c, "签发令牌失败")
		return
	}

	response.Success(c, gin.H{
		"token": token,
		"name":  admin.Name,
	})
}

// ============================================================
// 客户管理
// ============================================================

// ListCustomers 客户列表
// GET /api/v1/admin/customers?page=1&page_size=10
func (h *Handler) ListCustomers(c *gin.Context) {
	page, pageSize := pagination(c)
	customers, total, err := h.customerService.ListCustomers(c.Request.Context(), page, pageSize)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	list := make([]gin.H, 0, len(customers))
	for _, customer := range customers {
		list = append(list, gin.H{
			"id":           customer.ID,
			"user_id":      customer.UserID,
			"name":         customer.Name,
			"email":        customer.Email,
			"phone_number": customer.PhoneNumber,
			"refer_code":   customer.ReferCode,
			"level_id":     customer.LevelID,
			"status":       customer.Status,
			"created_at":   customer.CreatedAt,
		})
	}
	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// UpdateCustomerRequest 客户编辑请求，零值字段不修改
type UpdateCustomerRequest struct {
	Name        *string `json:"name"`
	PhoneNumber *string `json:"phone_number"`
	LevelID     *int64  `json:"level_id"`
	Status      *string `json:"status"`
}

// UpdateCustomer 编辑客户
// PUT /api/v1/admin/customers/:id
func (h *Handler) UpdateCustomer(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	var req UpdateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	err = h.customerService.UpdateCustomer(c.Request.Context(), id, &service.UpdateCustomerRequest{
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		LevelID:     req.LevelID,
		Status:      req.Status,
	})
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "客户已更新"})
}

// DeleteCustomer 删除客户（有进行中计划的客户会被拒绝）
// DELETE /api/v1/admin/customers/:id
func (h *Handler) DeleteCustomer(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	if err := h.customerService.DeleteCustomer(c.Request.Context(), id); err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "客户已删除"})
}

// GetCustomerPlan 查看客户当前计划
// GET /api/v1/admin/customers/:id/plan
func (h *Handler) GetCustomerPlan(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	plan, err := h.planService.GetCurrentPlan(c.Request.Context(), id)
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, planView(plan))
}

// ============================================================
// 产品管理
// ============================================================

// CreateProductRequest 新建产品请求
type CreateProductRequest struct {
	Name       string  `json:"name" binding:"required"`
	ImageURL   string  `json:"image_url"`
	Price      float64 `json:"price" binding:"required,gt=0"`
	Commission float64 `json:"commission" binding:"gte=0,lte=100"`
	Rating     float64 `json:"rating"`
}

// CreateProduct 新建产品
// POST /api/v1/admin/products
func (h *Handler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	product, err := h.productService.CreateProduct(c.Request.Context(), &service.CreateProductRequest{
		Name:       req.Name,
		ImageURL:   req.ImageURL,
		Price:      req.Price,
		Commission: req.Commission,
		Rating:     req.Rating,
	})
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Created(c, product)
}

// ListProducts 产品列表
// GET /api/v1/admin/products?page=1&page_size=10
func (h *Handler) ListProducts(c *gin.Context) {
	page, pageSize := pagination(c)
	products, total, err := h.productService.ListProducts(c.Request.Context(), page, pageSize)
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      products,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// UpdateProductRequest 产品编辑请求
type UpdateProductRequest struct {
	Name       *string  `json:"name"`
	ImageURL   *string  `json:"image_url"`
	Price      *float64 `json:"price"`
	Commission *float64 `json:"commission"`
	Rating     *float64 `json:"rating"`
	Status     *string  `json:"status"`
}

// UpdateProduct 编辑产品（已生成的订单持有快照，不受影响）
// PUT /api/v1/admin/products/:id
func (h *Handler) UpdateProduct(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	var req UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	err = h.productService.UpdateProduct(c.Request.Context(), id, &service.UpdateProductRequest{
		Name:       req.Name,
		ImageURL:   req.ImageURL,
		Price:      req.Price,
		Commission: req.Commission,
		Rating:     req.Rating,
		Status:     req.Status,
	})
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "产品已更新"})
}

// DeactivateProduct 下架产品
// DELETE /api/v1/admin/products/:id
func (h *Handler) DeactivateProduct(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	if err := h.productService.DeactivateProduct(c.Request.Context(), id); err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "产品已下架"})
}

// ============================================================
// 会员等级管理
// ============================================================

// LevelRequest 等级创建请求
type LevelRequest struct {
	Name              string  `json:"name" binding:"required"`
	CommissionRate    float64 `json:"commission_rate"`
	WithdrawalFeeRate float64 `json:"withdrawal_fee_rate"`
	MinWithdrawal     float64 `json:"min_withdrawal"`
	MaxWithdrawal     float64 `json:"max_withdrawal"`
	ReferralRate      float64 `json:"referral_rate"`
}

// CreateLevel 新建会员等级
// POST /api/v1/admin/levels
func (h *Handler) CreateLevel(c *gin.Context) {
	var req LevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	level, err := h.productService.CreateLevel(c.Request.Context(), &service.LevelRequest{
		Name:              req.Name,
		CommissionRate:    req.CommissionRate,
		WithdrawalFeeRate: req.WithdrawalFeeRate,
		MinWithdrawal:     req.MinWithdrawal,
		MaxWithdrawal:     req.MaxWithdrawal,
		ReferralRate:      req.ReferralRate,
	})
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Created(c, level)
}

// ListLevels 等级列表
// GET /api/v1/admin/levels
func (h *Handler) ListLevels(c *gin.Context) {
	levels, err := h.productService.ListLevels(c.Request.Context())
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"list": levels})
}

// ============================================================
// 交易审批
// ============================================================

// ListPendingTransactions 待审批交易
// GET /api/v1/admin/transactions?status=PENDING&page=1&page_size=10
func (h *Handler) ListPendingTransactions(c *gin.Context) {
	status := c.DefaultQuery("status", model.TransactionStatusPending)
	page, pageSize := pagination(c)

	transactions, total, err := h.transactionService.ListByStatus(c.Request.Context(), status, page, pageSize)
	if err != nil {
		response.BusinessError(c, err)
		return
	}

	list := make([]gin.H, 0, len(transactions))
	for _, trans := range transactions {
		view := transactionView(trans)
		view["account_id"] = trans.AccountID
		view["proof_image_url"] = trans.ProofImageURL
		list = append(list, view)
	}
	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ApproveTransaction 审批通过
// POST /api/v1/admin/transactions/:id/approve
func (h *Handler) ApproveTransaction(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	trans, err := h.transactionService.Approve(c.Request.Context(), id, adminID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, transactionView(trans))
}

// RejectTransactionRequest 拒绝请求
type RejectTransactionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectTransaction 审批拒绝
// POST /api/v1/admin/transactions/:id/reject
func (h *Handler) RejectTransaction(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	var req RejectTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	trans, err := h.transactionService.Reject(c.Request.Context(), id, adminID(c), req.Reason)
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, transactionView(trans))
}

// ============================================================
// 订单干预
// ============================================================

// SkipOrder 跳过订单
// POST /api/v1/admin/orders/:order_id/skip
func (h *Handler) SkipOrder(c *gin.Context) {
	order, err := h.orderService.SkipOrder(c.Request.Context(), c.Param("order_id"), adminID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, orderView(order))
}

// ReplaceOrderRequest 替换订单产品请求
type ReplaceOrderRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
}

// ReplaceOrderProduct 未开始的订单替换产品
// POST /api/v1/admin/orders/:order_id/replace
func (h *Handler) ReplaceOrderProduct(c *gin.Context) {
	var req ReplaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	order, err := h.orderService.ReplaceOrderProduct(c.Request.Context(), c.Param("order_id"), req.ProductID, adminID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, orderView(order))
}

// AddOrderRequest 追加订单请求
type AddOrderRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
}

// AddOrderToPlan 给进行中的计划追加订单
// POST /api/v1/admin/plans/:plan_id/orders
func (h *Handler) AddOrderToPlan(c *gin.Context) {
	var req AddOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	order, err := h.orderService.AddOrderToPlan(c.Request.Context(), c.Param("plan_id"), req.ProductID, adminID(c))
	if err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Created(c, orderView(order))
}

// DeleteOrder 删除未开始的订单
// DELETE /api/v1/admin/orders/:order_id
func (h *Handler) DeleteOrder(c *gin.Context) {
	if err := h.orderService.DeleteOrder(c.Request.Context(), c.Param("order_id"), adminID(c)); err != nil {
		response.BusinessError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "订单已删除"})
}

func pathID(c *gin.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}
