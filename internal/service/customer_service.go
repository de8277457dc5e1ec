package service

import (
	"context"
	"fmt"

	"trademall/internal/config"
	"trademall/internal/model"
	"trademall/internal/repository"
	"trademall/pkg/apperr"
	"trademall/pkg/idgen"

	"gorm.io/gorm"
)

type CustomerService struct {
	db           *gorm.DB
	cfg          *config.Config
	customerRepo *repository.CustomerRepository
	accountRepo  *repository.AccountRepository
	adminRepo    *repository.AdminRepository
	levelRepo    *repository.LevelRepository
	orderRepo    *repository.OrderRepository
}

func NewCustomerService(db *gorm.DB, cfg *config.Config) *CustomerService {
	return &CustomerService{
		db:           db,
		cfg:          cfg,
		customerRepo: repository.NewCustomerRepository(db),
		accountRepo:  repository.NewAccountRepository(db),
		adminRepo:    repository.NewAdminRepository(db),
		levelRepo:    repository.NewLevelRepository(db),
		orderRepo:    repository.NewOrderRepository(db),
	}
}

type SignupRequest struct {
	Name         string
	Email        string
	Password     string
	FundPassword string
	PhoneNumber  string
	ReferCode    string
}

// Signup 注册客户并开主账户
//
// user_id / account_id 依赖行的自增ID，插入后在同一事务内回填，
// 两段式编号的占位列允许 NULL，不会在唯一索引上碰撞。
func (s *CustomerService) Signup(ctx context.Context, req *SignupRequest) (*model.Customer, error) {
	exists, err := s.customerRepo.ExistsEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Wrap(apperr.ErrConflict, "邮箱已被注册")
	}

	// 推荐码校验：传了就必须有效
	var referredBy *int64
	if req.ReferCode != "" {
		referrer, err := s.customerRepo.GetByReferCode(ctx, req.ReferCode)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrInvalidState, "推荐码无效")
		}
		referredBy = &referrer.ID
	}

	passwordHash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	var fundPasswordHash string
	if req.FundPassword != "" {
		fundPasswordHash, err = HashPassword(req.FundPassword)
		if err != nil {
			return nil, err
		}
	}

	// 自己的推荐码随机生成，探测到冲突就重新生成
	referCode, err := s.generateReferCode(ctx)
	if err != nil {
		return nil, err
	}

	// 默认落在最低会员等级（如果已配置等级）
	var levelID *int64
	levels, err := s.levelRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(levels) > 0 {
		levelID = &levels[0].ID
	}

	customer := &model.Customer{
		Name:             req.Name,
		Email:            req.Email,
		PasswordHash:     passwordHash,
		FundPasswordHash: fundPasswordHash,
		PhoneNumber:      req.PhoneNumber,
		ReferCode:        referCode,
		ReferredBy:       referredBy,
		LevelID:          levelID,
		Status:           model.CustomerStatusActive,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.customerRepo.Create(ctx, tx, customer); err != nil {
			return fmt.Errorf("创建客户失败: %w", err)
		}
		customer.UserID = idgen.FormatUserID(customer.ID)
		if err := s.customerRepo.AssignUserID(ctx, tx, customer.ID, customer.UserID); err != nil {
			return fmt.Errorf("回填用户编号失败: %w", err)
		}

		account := &model.Account{
			CustomerID: customer.ID,
			Currency:   "USD",
			Status:     model.AccountStatusActive,
		}
		if err := s.accountRepo.Create(ctx, tx, account); err != nil {
			return fmt.Errorf("创建账户失败: %w", err)
		}
		account.AccountID = idgen.FormatAccountID(account.ID)
		if err := s.accountRepo.AssignAccountID(ctx, tx, account.ID, account.AccountID); err != nil {
			return fmt.Errorf("回填账户编号失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return customer, nil
}

func (s *CustomerService) generateReferCode(ctx context.Context) (string, error) {
	for {
		code := idgen.RandomReferCode()
		exists, err := s.customerRepo.ExistsReferCode(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
}

// Signin 客户登录，凭证错误和状态异常统一返回 InvalidCredentials，不区分细节
func (s *CustomerService) Signin(ctx context.Context, email, password string) (*model.Customer, error) {
	customer, err := s.customerRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	if !CheckPassword(customer.PasswordHash, password) {
		return nil, apperr.ErrInvalidCredentials
	}
	if customer.Status != model.CustomerStatusActive {
		return nil, apperr.ErrInvalidCredentials
	}
	return customer, nil
}

func (s *CustomerService) GetProfile(ctx context.Context, customerID int64) (*model.Customer, *model.Account, error) {
	customer, err := s.customerRepo.GetByID(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	account, err := s.accountRepo.GetPrimaryByCustomer(ctx, nil, customerID)
	if err != nil {
		return nil, nil, err
	}
	return customer, account, nil
}

func (s *CustomerService) ChangePassword(ctx context.Context, customerID int64, oldPassword, newPassword string) error {
	customer, err := s.customerRepo.GetByID(ctx, customerID)
	if err != nil {
		return err
	}
	if !CheckPassword(customer.PasswordHash, oldPassword) {
		return apperr.ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.customerRepo.Updates(ctx, customerID, map[string]interface{}{
		"password_hash": hash,
	})
}

// ============================================================
// 管理员侧
// ============================================================

func (s *CustomerService) AdminSignin(ctx context.Context, email, password string) (*model.Admin, error) {
	admin, err := s.adminRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	if !CheckPassword(admin.PasswordHash, password) {
		return nil, apperr.ErrInvalidCredentials
	}
	return admin, nil
}

func (s *CustomerService) ListCustomers(ctx context.Context, page, pageSize int) ([]*model.Customer, int64, error) {
	return s.customerRepo.List(ctx, page, pageSize)
}

type UpdateCustomerRequest struct {
	Name        *string
	PhoneNumber *string
	LevelID     *int64
	Status      *string
}

func (s *CustomerService) UpdateCustomer(ctx context.Context, customerID int64, req *UpdateCustomerRequest) error {
	fields := map[string]interface{}{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.PhoneNumber != nil {
		fields["phone_number"] = *req.PhoneNumber
	}
	if req.LevelID != nil {
		if _, err := s.levelRepo.GetByID(ctx, *req.LevelID); err != nil {
			return err
		}
		fields["level_id"] = *req.LevelID
	}
	if req.Status != nil {
		if *req.Status != model.CustomerStatusActive && *req.Status != model.CustomerStatusSuspended {
			return apperr.Wrap(apperr.ErrInvalidState, "未知的客户状态: %s", *req.Status)
		}
		fields["status"] = *req.Status
	}
	if len(fields) == 0 {
		return nil
	}
	return s.customerRepo.Updates(ctx, customerID, fields)
}

// DeleteCustomer 删除客户
// 有进行中计划的客户不允许删除，避免账本悬空
func (s *CustomerService) DeleteCustomer(ctx context.Context, customerID int64) error {
	if _, err := s.customerRepo.GetByID(ctx, customerID); err != nil {
		return err
	}
	hasActive, err := s.orderRepo.HasActivePlan(ctx, customerID)
	if err != nil {
		return err
	}
	if hasActive {
		return apperr.Wrap(apperr.ErrConflict, "客户存在进行中的订单计划，不能删除")
	}
	return s.customerRepo.Delete(ctx, nil, customerID)
}
