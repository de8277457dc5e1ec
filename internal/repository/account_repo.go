package repository

import (
	"context"
	"errors"

	"trademall/internal/model"
	"trademall/pkg/apperr"

	"gorm.io/gorm"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(account).Error
}

// AssignAccountID 回填由自增ID派生的 account_id（两段式编号，同一事务内执行）
func (r *AccountRepository) AssignAccountID(ctx context.Context, tx *gorm.DB, id int64, accountID string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update("account_id", accountID).Error
}

func (r *AccountRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.Account
	err := tx.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "账户不存在")
		}
		return nil, err
	}
	return &account, nil
}

// GetPrimaryByCustomer 取客户的主账户（当前业务一个客户一个账户）
func (r *AccountRepository) GetPrimaryByCustomer(ctx context.Context, tx *gorm.DB, customerID int64) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.Account
	err := tx.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("id ASC").
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "账户不存在")
		}
		return nil, err
	}
	return &account, nil
}

// CreditCommission 佣金入账：balance 和 profit 同步增加
// 这是订单完成路径唯一允许的余额写入方式
func (r *AccountRepository) CreditCommission(ctx context.Context, tx *gorm.DB, accountID int64, amount float64) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"profit":  gorm.Expr("profit + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "账户不存在")
	}
	return nil
}

// Deposit 充值入账（仅审批通过路径调用）
func (r *AccountRepository) Deposit(ctx context.Context, tx *gorm.DB, accountID int64, amount float64) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", accountID).
		Update("balance", gorm.Expr("balance + ?", amount))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "账户不存在")
	}
	return nil
}

// Withdraw 提现出账（仅审批通过路径调用）
//
// 【关键点】WHERE 条件里带 balance >= amount，和扣减在同一条 UPDATE 里，
// 审批时余额可能已低于申请时的余额，这里的守卫是权威判定。
// RowsAffected == 0 时回查区分"账户不存在"和"余额不足"。
func (r *AccountRepository) Withdraw(ctx context.Context, tx *gorm.DB, accountID int64, amount float64) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND balance >= ?", accountID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account.Balance < amount {
			return apperr.Wrap(apperr.ErrInsufficientBalance, "余额 %.2f 低于提现金额 %.2f", account.Balance, amount)
		}
		return apperr.ErrInternal
	}

	return nil
}
